package attack

import (
	"context"
	"time"

	"github.com/poisonlab/poisonbench/internal/dataset"
	"github.com/poisonlab/poisonbench/internal/model"
	"github.com/poisonlab/poisonbench/internal/trigger"
)

// TriggerResult is one synthesized trigger from a watermark-only run.
type TriggerResult struct {
	FeatureStrategy string
	ValueStrategy   string
	WatermarkSize   int
	Trigger         *trigger.Trigger
	Fallbacks       []trigger.Fallback
}

// BuildTriggers runs the trigger synthesis stage alone: baseline
// training and explanation, then one trigger per strategy and
// watermark size combination. Nothing is poisoned or retrained.
func (r *Runner) BuildTriggers(ctx context.Context) ([]TriggerResult, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	cfg := r.Config

	train, err := dataset.LoadCSV(cfg.Dataset)
	if err != nil {
		return nil, err
	}
	eval := train
	if cfg.TestDataset != "" {
		if eval, err = dataset.LoadCSV(cfg.TestDataset); err != nil {
			return nil, err
		}
	}
	stats, err := dataset.BuildStats(train, dataset.Benign)
	if err != nil {
		return nil, err
	}

	baseStart := time.Now()
	baseline, err := model.New(cfg.Model)
	if err != nil {
		return nil, err
	}
	if err := baseline.Train(train.Matrix(), train.LabelInts()); err != nil {
		return nil, err
	}
	if r.Metrics != nil {
		r.Metrics.RecordTraining(time.Since(baseStart))
	}

	imp, malRows, err := r.explainBaseline(ctx, baseline, train, eval, stats)
	if err != nil {
		return nil, err
	}
	pool := featurePool(train, cfg.TargetFeatures)

	var out []TriggerResult
	for _, fs := range cfg.FeatureSelection {
		fsel, err := trigger.NewFeatureSelector(fs)
		if err != nil {
			return nil, err
		}
		for _, vs := range cfg.ValueSelection {
			vsel, err := trigger.NewValueSelector(vs)
			if err != nil {
				return nil, err
			}
			builder := &trigger.Builder{Features: fsel, Values: vsel}
			for _, ws := range cfg.WatermarkSizes {
				u := Unit{Model: cfg.Model, FeatureStrategy: fs, ValueStrategy: vs, WatermarkSize: ws}
				tr, fallbacks, err := builder.Build(imp, malRows, pool, ws, stats, u.RNG(cfg.Seed))
				if err != nil {
					return nil, err
				}
				out = append(out, TriggerResult{
					FeatureStrategy: fs,
					ValueStrategy:   vs,
					WatermarkSize:   ws,
					Trigger:         tr,
					Fallbacks:       fallbacks,
				})
			}
		}
	}
	return out, nil
}
