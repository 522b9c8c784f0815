package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/poisonlab/poisonbench/internal/config"
	"github.com/poisonlab/poisonbench/internal/trigger"
)

func fixedCmd() *cobra.Command {
	var configFile string
	var triggerFile string

	cmd := &cobra.Command{
		Use:   "fixed",
		Short: "Run the sweep with a precomputed trigger",
		Long: `Run the poisoning sweep with a trigger loaded from a file instead of
synthesizing one per unit. The explanation stage is skipped and the
feature and value strategy names in the config only label the results.

Examples:
  poisonbench fixed --config attack.json --trigger triggers/trigger_combined_min_8.json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			tr, err := trigger.LoadJSON(triggerFile)
			if err != nil {
				return err
			}
			runner, cleanup, err := newRunner(cfg)
			if err != nil {
				return err
			}
			defer cleanup()
			runner.FixedTrigger = tr

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			summary, err := runner.Run(ctx)
			if summary != nil {
				printSummary(cmd, summary)
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "sweep config file (required)")
	cmd.Flags().StringVarP(&triggerFile, "trigger", "t", "", "trigger JSON file (required)")
	_ = cmd.MarkFlagRequired("config")
	_ = cmd.MarkFlagRequired("trigger")

	return cmd
}
