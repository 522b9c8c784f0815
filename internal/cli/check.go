package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/poisonlab/poisonbench/internal/attack"
	"github.com/poisonlab/poisonbench/internal/config"
	"github.com/poisonlab/poisonbench/internal/dataset"
)

func checkCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate a sweep config and its datasets",
		Long: `Load and validate a sweep config, check that the strategy and model
names resolve, and verify the referenced datasets parse. Nothing is
trained.

Examples:
  poisonbench check --config attack.json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Config validation FAILED: %v\n", err)
				return err
			}
			if err := (&attack.Runner{Config: cfg}).Validate(); err != nil {
				fmt.Fprintf(os.Stderr, "Config validation FAILED: %v\n", err)
				return err
			}
			cmd.Println("Config validation: OK")
			cmd.Printf("  Model:              %s\n", cfg.Model)
			cmd.Printf("  Feature strategies: %s\n", strings.Join(cfg.FeatureSelection, ", "))
			cmd.Printf("  Value strategies:   %s\n", strings.Join(cfg.ValueSelection, ", "))
			cmd.Printf("  Grid size:          %d units\n", cfg.Units())
			cmd.Printf("  Workers:            %d\n", cfg.Workers)
			cmd.Printf("  Defense mode:       %v\n", cfg.Defense)

			train, err := dataset.LoadCSV(cfg.Dataset)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Dataset check FAILED: %v\n", err)
				return err
			}
			cmd.Printf("  Train set:          %d samples, %d features\n", train.Len(), train.NumFeatures)
			if cfg.TestDataset != "" {
				test, err := dataset.LoadCSV(cfg.TestDataset)
				if err != nil {
					fmt.Fprintf(os.Stderr, "Dataset check FAILED: %v\n", err)
					return err
				}
				if test.NumFeatures != train.NumFeatures {
					err := fmt.Errorf("test dataset has %d features, train has %d", test.NumFeatures, train.NumFeatures)
					fmt.Fprintf(os.Stderr, "Dataset check FAILED: %v\n", err)
					return err
				}
				cmd.Printf("  Test set:           %d samples, %d features\n", test.Len(), test.NumFeatures)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "sweep config file (required)")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}
