// Package attack expands a sweep config into attack units and runs
// them: explain the clean model, synthesize a trigger, poison the
// training set, retrain, and measure the backdoor.
package attack

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/poisonlab/poisonbench/internal/config"
	"github.com/poisonlab/poisonbench/internal/dataset"
	"github.com/poisonlab/poisonbench/internal/defense"
	"github.com/poisonlab/poisonbench/internal/explain"
	"github.com/poisonlab/poisonbench/internal/metrics"
	"github.com/poisonlab/poisonbench/internal/model"
	"github.com/poisonlab/poisonbench/internal/poison"
	"github.com/poisonlab/poisonbench/internal/runlog"
	"github.com/poisonlab/poisonbench/internal/store"
	"github.com/poisonlab/poisonbench/internal/trigger"
)

// Runner executes one sweep. Log, Metrics, Store, and Artifacts are
// optional; nil Log and Metrics get no-op substitutes.
type Runner struct {
	Config    *config.Config
	Log       *runlog.Logger
	Metrics   *metrics.Metrics
	Store     *store.Store
	Artifacts *store.Dir

	// FixedTrigger, when set, replaces trigger synthesis: every unit
	// applies this trigger and the explanation pass is skipped.
	FixedTrigger *trigger.Trigger

	// Policy produces each poisoned feature vector. Nil means direct
	// numeric overwrite.
	Policy poison.Policy
}

// UnitOutcome is the result of one attack unit. CleanDelta is the
// poisoned model's clean-test accuracy minus the baseline's, so a
// negative value means the attack cost clean accuracy. Err is set when
// the unit failed; the rest of the fields are then partial.
type UnitOutcome struct {
	Unit          Unit
	Trigger       *trigger.Trigger
	PoisonedCount int
	AttackSuccess float64
	CleanDelta    float64
	PoisonedAcc   float64
	Fallbacks     []trigger.Fallback
	Defense       []defense.Report
	Duration      time.Duration
	Err           error
}

// Summary aggregates a finished sweep.
type Summary struct {
	RunID       string
	BaselineAcc float64
	BaselineFPR float64
	BaselineFNR float64
	Completed   int
	Failed      int
	Outcomes    []UnitOutcome
}

// Validate checks the config's model and strategy names against their
// registries. Run calls it before loading any data, so a typo aborts
// the sweep before any unit starts.
func (r *Runner) Validate() error {
	cfg := r.Config
	if _, err := model.New(cfg.Model); err != nil {
		return &config.ConfigError{Field: "model", Msg: err.Error()}
	}
	for _, s := range cfg.FeatureSelection {
		if _, err := trigger.NewFeatureSelector(s); err != nil {
			return &config.ConfigError{Field: "feature_selection", Msg: err.Error()}
		}
	}
	for _, s := range cfg.ValueSelection {
		if _, err := trigger.NewValueSelector(s); err != nil {
			return &config.ConfigError{Field: "value_selection", Msg: err.Error()}
		}
	}
	return nil
}

// Run executes the full sweep: baseline training, one explanation
// pass shared by all units, then the unit grid on a bounded worker
// pool. Unit failures are recorded and the sweep continues; only
// setup errors and context cancellation abort it.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	if r.Log == nil {
		r.Log = runlog.NewNop()
	}
	if r.Metrics == nil {
		r.Metrics = metrics.New()
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	cfg := r.Config

	runID := uuid.NewString()
	units := Expand(cfg)
	start := time.Now()
	r.Log.LogSweepStart(runID, cfg.Model, cfg.Dataset, len(units), cfg.Workers, cfg.Seed)

	train, err := dataset.LoadCSV(cfg.Dataset)
	if err != nil {
		return nil, err
	}
	eval := train
	if cfg.TestDataset != "" {
		eval, err = dataset.LoadCSV(cfg.TestDataset)
		if err != nil {
			return nil, err
		}
		if eval.NumFeatures != train.NumFeatures {
			return nil, fmt.Errorf("test dataset has %d features, train has %d", eval.NumFeatures, train.NumFeatures)
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
	r.Metrics.RecordTraining(time.Since(baseStart))
	evalX, evalY := eval.Matrix(), eval.LabelInts()
	baseAcc := model.Accuracy(baseline, evalX, evalY)
	fpr, fnr := model.Rates(baseline, evalX, evalY)
	r.Log.LogBaseline(runID, cfg.Model, baseAcc, fpr, fnr, time.Since(baseStart))

	var imp *explain.ImportanceMatrix
	var malRows []int
	if r.FixedTrigger == nil {
		imp, malRows, err = r.explainBaseline(ctx, baseline, train, eval, stats)
		if err != nil {
			return nil, err
		}
	}
	pool := featurePool(train, cfg.TargetFeatures)

	if cfg.Defense && r.Artifacts == nil {
		r.Artifacts = store.NewDir(cfg.Save)
	}
	if r.Artifacts != nil && r.Artifacts.OnRetry == nil {
		r.Artifacts.OnRetry = func(path string, err error) {
			r.Log.LogArtifactRetry(runID, "", path, err)
		}
	}
	if r.Store != nil {
		err := r.Store.BeginRun(store.Run{
			ID: runID, StartedAt: start, Model: cfg.Model,
			Dataset: cfg.Dataset, Units: len(units), Seed: cfg.Seed,
		})
		if err != nil {
			return nil, err
		}
	}

	summary := &Summary{RunID: runID, BaselineAcc: baseAcc, BaselineFPR: fpr, BaselineFNR: fnr}
	outcomes := make(chan UnitOutcome)
	writerDone := make(chan struct{})
	go r.consumeOutcomes(runID, outcomes, summary, writerDone)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for _, u := range units {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r.Metrics.IncrActiveWorkers()
			defer r.Metrics.DecrActiveWorkers()
			r.Log.LogUnitStart(runID, u.Key())
			o := r.runUnit(gctx, runID, u, train, eval, imp, malRows, pool, stats, baseAcc)
			select {
			case outcomes <- o:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}
	waitErr := g.Wait()
	close(outcomes)
	<-writerDone

	r.Log.LogSweepDone(runID, summary.Completed, summary.Failed, time.Since(start))
	if waitErr != nil {
		return summary, waitErr
	}
	return summary, nil
}

// explainBaseline runs the occlusion explainer over the configured
// split, subsampled to k_perc, with the benign median as the masking
// baseline. The resulting attributions are shared read-only by every
// unit.
func (r *Runner) explainBaseline(ctx context.Context, baseline model.Model, train, eval *dataset.Dataset, stats *dataset.Stats) (*explain.ImportanceMatrix, []int, error) {
	cfg := r.Config
	src := train
	if cfg.KData == config.SplitTest {
		src = eval
	}
	ds := src
	if cfg.KPerc < 1 {
		rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed))
		sub, err := src.Subsample(cfg.KPerc, rng)
		if err != nil {
			return nil, nil, err
		}
		ds = sub
	}
	baselineVec := make([]float64, train.NumFeatures)
	for j := range baselineVec {
		fs, _ := stats.For(j)
		baselineVec[j] = fs.Median
	}
	expl := &explain.Occlusion{Baseline: baselineVec}
	imp, err := expl.Explain(ctx, baseline, ds.Matrix())
	if err != nil {
		return nil, nil, err
	}
	return imp, ds.ClassIndices(dataset.Malicious), nil
}

// consumeOutcomes is the single writer for logs, metrics, and the
// results database.
func (r *Runner) consumeOutcomes(runID string, outcomes <-chan UnitOutcome, summary *Summary, done chan<- struct{}) {
	defer close(done)
	for o := range outcomes {
		summary.Outcomes = append(summary.Outcomes, o)
		if o.Err != nil {
			summary.Failed++
			r.Log.LogUnitFailed(runID, o.Unit.Key(), o.Err)
			r.Metrics.RecordUnitFailed(failureKind(o.Err), o.Duration)
			continue
		}
		summary.Completed++
		r.Log.LogUnitDone(runID, o.Unit.Key(), o.AttackSuccess, o.CleanDelta, o.PoisonedCount, o.Duration)
		r.Metrics.RecordUnitDone(o.Duration, o.PoisonedCount)
		if r.Store == nil {
			continue
		}
		err := r.Store.InsertResult(store.Result{
			RunID:           runID,
			UnitKey:         o.Unit.Key(),
			Model:           o.Unit.Model,
			FeatureStrategy: o.Unit.FeatureStrategy,
			ValueStrategy:   o.Unit.ValueStrategy,
			PoisonSize:      o.Unit.PoisonSize,
			WatermarkSize:   o.Unit.WatermarkSize,
			Iteration:       o.Unit.Iteration,
			PoisonedSamples: o.PoisonedCount,
			AttackSuccess:   o.AttackSuccess,
			CleanDelta:      o.CleanDelta,
			BaselineAcc:     summary.BaselineAcc,
			PoisonedAcc:     o.PoisonedAcc,
			Fallbacks:       len(o.Fallbacks),
			Duration:        o.Duration,
		})
		if err != nil {
			r.Log.LogUnitFailed(runID, o.Unit.Key(), err)
			continue
		}
		r.Log.LogStoreResult(runID, o.Unit.Key())
		for _, dr := range o.Defense {
			err := r.Store.InsertDefenseReport(store.DefenseReport{
				RunID: runID, UnitKey: o.Unit.Key(), Detector: dr.Detector,
				TruePositive: dr.TruePositive, FalsePositive: dr.FalsePositive,
				FalseNegative: dr.FalseNegative, Flagged: dr.Flagged,
				Precision: dr.Precision, Recall: dr.Recall, F1: dr.F1,
			})
			if err != nil {
				r.Log.LogUnitFailed(runID, o.Unit.Key(), err)
			}
		}
	}
}

// runUnit executes one attack unit end to end.
func (r *Runner) runUnit(ctx context.Context, runID string, u Unit, train, eval *dataset.Dataset, imp *explain.ImportanceMatrix, malRows, pool []int, stats *dataset.Stats, baseAcc float64) UnitOutcome {
	startT := time.Now()
	o := UnitOutcome{Unit: u}
	fail := func(err error) UnitOutcome {
		o.Err = err
		o.Duration = time.Since(startT)
		return o
	}

	rng := u.RNG(r.Config.Seed)
	tr := r.FixedTrigger
	if tr == nil {
		fsel, err := trigger.NewFeatureSelector(u.FeatureStrategy)
		if err != nil {
			return fail(err)
		}
		vsel, err := trigger.NewValueSelector(u.ValueStrategy)
		if err != nil {
			return fail(err)
		}
		builder := &trigger.Builder{Features: fsel, Values: vsel}
		built, fallbacks, err := builder.Build(imp, malRows, pool, u.WatermarkSize, stats, rng)
		if err != nil {
			return fail(err)
		}
		tr = built
		o.Fallbacks = fallbacks
		for _, fb := range fallbacks {
			r.Log.LogFallback(runID, u.Key(), fb.Strategy, fb.Feature)
			r.Metrics.RecordFallback(fb.Strategy)
		}
	}
	o.Trigger = tr

	pol := r.Policy
	if pol == nil {
		pol = poison.NumericPolicy{}
	}
	poisoned, mask, err := poison.Inject(train, tr, u.PoisonSize, pol, rng)
	if err != nil {
		return fail(err)
	}
	o.PoisonedCount = mask.Count()

	m, err := model.New(u.Model)
	if err != nil {
		return fail(err)
	}
	trainStart := time.Now()
	if err := m.Train(poisoned.Matrix(), poisoned.LabelInts()); err != nil {
		return fail(err)
	}
	r.Metrics.RecordTraining(time.Since(trainStart))

	evalX, evalY := eval.Matrix(), eval.LabelInts()
	o.PoisonedAcc = model.Accuracy(m, evalX, evalY)
	o.CleanDelta = o.PoisonedAcc - baseAcc
	o.AttackSuccess = attackSuccess(m, eval, tr)

	if r.Config.Defense {
		if err := r.persistArtifacts(runID, u, tr, mask, poisoned, eval); err != nil {
			return fail(err)
		}
		reports, err := r.evaluateDefenses(runID, u, poisoned, mask, rng)
		if err != nil {
			return fail(err)
		}
		o.Defense = reports
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}
	o.Duration = time.Since(startT)
	return o
}

// attackSuccess is the fraction of malicious eval samples the
// poisoned model scores benign once the trigger is applied.
func attackSuccess(m model.Model, eval *dataset.Dataset, tr *trigger.Trigger) float64 {
	idx := eval.ClassIndices(dataset.Malicious)
	if len(idx) == 0 {
		return 0
	}
	x := make([][]float64, len(idx))
	for i, p := range idx {
		x[i] = tr.ApplyCopy(eval.Samples[p].Features)
	}
	flipped := 0
	for _, s := range m.Predict(x) {
		if s < 0.5 {
			flipped++
		}
	}
	return float64(flipped) / float64(len(idx))
}

// persistArtifacts writes the unit's trigger, ground-truth mask,
// poisoned training matrix, and backdoored eval matrix.
func (r *Runner) persistArtifacts(runID string, u Unit, tr *trigger.Trigger, mask poison.Mask, poisoned, eval *dataset.Dataset) error {
	key := u.Key()
	path, err := r.Artifacts.WriteTrigger(runID, key, tr)
	if err != nil {
		return err
	}
	r.Log.LogArtifact(runID, key, "trigger", path)
	if path, err = r.Artifacts.WriteMask(runID, key, mask); err != nil {
		return err
	}
	r.Log.LogArtifact(runID, key, "mask", path)
	if path, err = r.Artifacts.WriteDataset(runID, key, store.PoisonedFile, poisoned); err != nil {
		return err
	}
	r.Log.LogArtifact(runID, key, "poisoned_train", path)

	backdoored, err := backdooredEval(eval, tr)
	if err != nil {
		return err
	}
	if backdoored != nil {
		if path, err = r.Artifacts.WriteDataset(runID, key, store.BackdooredFile, backdoored); err != nil {
			return err
		}
		r.Log.LogArtifact(runID, key, "backdoored_test", path)
	}
	return nil
}

// backdooredEval returns the malicious eval samples with the trigger
// applied and their true labels kept, or nil when the eval set has no
// malicious samples.
func backdooredEval(eval *dataset.Dataset, tr *trigger.Trigger) (*dataset.Dataset, error) {
	idx := eval.ClassIndices(dataset.Malicious)
	if len(idx) == 0 {
		return nil, nil
	}
	x := make([][]float64, len(idx))
	y := make([]dataset.Label, len(idx))
	for i, p := range idx {
		x[i] = tr.ApplyCopy(eval.Samples[p].Features)
		y[i] = dataset.Malicious
	}
	return dataset.New(x, y)
}

// evaluateDefenses scores every detector against the unit's mask.
func (r *Runner) evaluateDefenses(runID string, u Unit, poisoned *dataset.Dataset, mask poison.Mask, rng *rand.Rand) ([]defense.Report, error) {
	detectors := []defense.Detector{
		defense.NewIsolationForest(),
		defense.NewSpectralSignature(),
		defense.NewActivationClustering(),
	}
	reports := make([]defense.Report, 0, len(detectors))
	for _, det := range detectors {
		report, _, err := defense.Evaluate(det, poisoned, mask, r.Config.Contamination, rng)
		if err != nil {
			return nil, err
		}
		r.Log.LogDefense(runID, u.Key(), det.Name(), report.Precision, report.Recall, report.F1, report.Flagged)
		reports = append(reports, report)
	}
	return reports, nil
}

// featurePool returns the candidate trigger features: every column,
// or only the non-constant ones when the config targets feasible
// features. A constant column cannot hide a watermark.
func featurePool(d *dataset.Dataset, target string) []int {
	pool := make([]int, 0, d.NumFeatures)
	if target != config.TargetFeasible {
		for j := 0; j < d.NumFeatures; j++ {
			pool = append(pool, j)
		}
		return pool
	}
	x := d.Matrix()
	for j := 0; j < d.NumFeatures; j++ {
		lo, hi := x[0][j], x[0][j]
		for _, row := range x {
			if row[j] < lo {
				lo = row[j]
			}
			if row[j] > hi {
				hi = row[j]
			}
		}
		if lo != hi {
			pool = append(pool, j)
		}
	}
	return pool
}

// failureKind buckets unit errors for the failure metrics.
func failureKind(err error) string {
	var se *trigger.SelectionError
	var te *model.TrainError
	var ae *store.ArtifactIOError
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.As(err, &se):
		return "selection"
	case errors.As(err, &te):
		return "train"
	case errors.As(err, &ae):
		return "artifact_io"
	default:
		return "other"
	}
}
