package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/poisonlab/poisonbench/internal/attack"
	"github.com/poisonlab/poisonbench/internal/config"
	"github.com/poisonlab/poisonbench/internal/metrics"
	"github.com/poisonlab/poisonbench/internal/runlog"
	"github.com/poisonlab/poisonbench/internal/store"
)

func attackCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "attack",
		Short: "Run the full poisoning sweep",
		Long: `Run every attack unit in the config grid: train the clean baseline,
synthesize a trigger per unit, poison the training set, retrain, and
record attack success rate and clean accuracy delta.

Examples:
  poisonbench attack --config attack.json
  poisonbench attack --config sweeps/boost.yaml`,
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
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

// newRunner assembles a sweep runner with logging, metrics, and the
// optional results store from the config. The returned cleanup closes
// whatever was opened.
func newRunner(cfg *config.Config) (*attack.Runner, func(), error) {
	log, err := runlog.New(cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("opening run log: %w", err)
	}
	m := metrics.New()
	if cfg.MetricsListen != "" {
		go func() { _ = m.Serve(cfg.MetricsListen) }()
	}

	runner := &attack.Runner{Config: cfg, Log: log, Metrics: m}
	cleanup := func() { log.Close() }
	if cfg.ResultsDB != "" {
		st, err := store.Open(cfg.ResultsDB)
		if err != nil {
			log.Close()
			return nil, nil, err
		}
		runner.Store = st
		cleanup = func() {
			_ = st.Close()
			log.Close()
		}
	}
	return runner, cleanup, nil
}

func printSummary(cmd *cobra.Command, s *attack.Summary) {
	cmd.Printf("run %s\n", s.RunID)
	cmd.Printf("  baseline accuracy: %.4f (fpr %.4f, fnr %.4f)\n", s.BaselineAcc, s.BaselineFPR, s.BaselineFNR)
	cmd.Printf("  units: %d completed, %d failed\n", s.Completed, s.Failed)
	for _, o := range s.Outcomes {
		if o.Err != nil {
			cmd.Printf("  %-40s FAILED: %v\n", o.Unit.Key(), o.Err)
			continue
		}
		cmd.Printf("  %-40s asr %.4f  delta %+.4f  poisoned %d\n",
			o.Unit.Key(), o.AttackSuccess, o.CleanDelta, o.PoisonedCount)
	}
}
