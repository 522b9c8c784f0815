package cli

import (
	"encoding/json"
	"math/rand/v2"

	"github.com/spf13/cobra"

	"github.com/poisonlab/poisonbench/internal/dataset"
	"github.com/poisonlab/poisonbench/internal/defense"
	"github.com/poisonlab/poisonbench/internal/poison"
)

func defendCmd() *cobra.Command {
	var dataFile string
	var maskFile string
	var contamination float64
	var seed uint64

	cmd := &cobra.Command{
		Use:   "defend",
		Short: "Score detectors against a poisoned dataset",
		Long: `Run every detector over a poisoned dataset and score the flags
against the ground-truth poison mask. The dataset and mask are the
artifacts a defense-mode sweep writes per unit.

Examples:
  poisonbench defend --data out/run/unit/watermarked_train.csv --mask out/run/unit/poison_mask.json
  poisonbench defend --data poisoned.csv --mask mask.json --contamination 0.05`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ds, err := dataset.LoadCSV(dataFile)
			if err != nil {
				return err
			}
			mask, err := poison.LoadMask(maskFile)
			if err != nil {
				return err
			}

			detectors := []defense.Detector{
				defense.NewIsolationForest(),
				defense.NewSpectralSignature(),
				defense.NewActivationClustering(),
			}
			rng := rand.New(rand.NewPCG(seed, seed))
			reports := make([]defense.Report, 0, len(detectors))
			for _, det := range detectors {
				report, _, err := defense.Evaluate(det, ds, mask, contamination, rng)
				if err != nil {
					return err
				}
				reports = append(reports, report)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(reports)
		},
	}

	cmd.Flags().StringVarP(&dataFile, "data", "d", "", "poisoned dataset CSV (required)")
	cmd.Flags().StringVarP(&maskFile, "mask", "m", "", "poison mask JSON (required)")
	cmd.Flags().Float64Var(&contamination, "contamination", 0.05, "expected poison fraction")
	cmd.Flags().Uint64Var(&seed, "seed", 1, "detector RNG seed")
	_ = cmd.MarkFlagRequired("data")
	_ = cmd.MarkFlagRequired("mask")

	return cmd
}
