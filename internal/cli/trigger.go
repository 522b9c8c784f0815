package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/poisonlab/poisonbench/internal/config"
)

func triggerCmd() *cobra.Command {
	var configFile string
	var outDir string

	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Synthesize triggers without poisoning anything",
		Long: `Run only the trigger synthesis stage: train the clean baseline,
compute feature attributions, and emit one trigger per strategy and
watermark size combination. Use the resulting files with "poisonbench
fixed" to replay the same trigger across sweeps.

Examples:
  poisonbench trigger --config attack.json --out triggers/`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			runner, cleanup, err := newRunner(cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			results, err := runner.BuildTriggers(cmd.Context())
			if err != nil {
				return err
			}
			if err := os.MkdirAll(outDir, 0o750); err != nil {
				return fmt.Errorf("creating output directory: %w", err)
			}
			for _, res := range results {
				name := fmt.Sprintf("trigger_%s_%s_%d.json", res.FeatureStrategy, res.ValueStrategy, res.WatermarkSize)
				path := filepath.Join(outDir, name)
				data, err := json.MarshalIndent(res.Trigger, "", "  ")
				if err != nil {
					return err
				}
				if err := os.WriteFile(path, data, 0o600); err != nil {
					return err
				}
				cmd.Printf("%s  (%d features, %d fallbacks)\n", path, res.Trigger.Size(), len(res.Fallbacks))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "sweep config file (required)")
	cmd.Flags().StringVarP(&outDir, "out", "o", "triggers", "directory for trigger files")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}
