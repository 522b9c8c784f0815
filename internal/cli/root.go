// Package cli implements the poisonbench command-line interface using
// cobra.
package cli

import (
	"runtime"

	"github.com/spf13/cobra"
)

// Build metadata, set at build time via ldflags.
var (
	Version   = "0.1.0-dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
	GoVersion = runtime.Version()
)

// Execute runs the root command.
func Execute() error {
	return rootCmd().Execute()
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "poisonbench",
		Short: "Explanation-guided backdoor poisoning benchmark",
		Long: `Poisonbench measures how vulnerable a malware classifier is to
backdoor data poisoning. It trains a clean baseline, uses feature
attributions to synthesize a trigger, poisons a fraction of the
training set, retrains, and reports the attack success rate and the
clean accuracy cost.

Quick start:
  poisonbench check --config attack.json
  poisonbench attack --config attack.json
  poisonbench trigger --config attack.json --out triggers/
  poisonbench fixed --config attack.json --trigger triggers/trigger.json
  poisonbench defend --data poisoned.csv --mask poison_mask.json`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(
		attackCmd(),
		triggerCmd(),
		fixedCmd(),
		defendCmd(),
		checkCmd(),
		versionCmd(),
	)

	return cmd
}
