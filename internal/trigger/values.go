package trigger

import (
	"fmt"

	"github.com/poisonlab/poisonbench/internal/dataset"
)

// ValueSelector picks a concrete overwrite value for one feature from
// reference population statistics. fellBack reports that the
// class-restricted population was empty and the global statistic was
// used instead; callers log it, never drop it.
type ValueSelector interface {
	Name() string
	Select(feature int, stats *dataset.Stats, impSign float64) (v float64, fellBack bool, err error)
}

var valueSelectors = map[string]func() ValueSelector{
	"min":      func() ValueSelector { return extremeValue{name: "min", useMin: true} },
	"max":      func() ValueSelector { return extremeValue{name: "max"} },
	"median":   func() ValueSelector { return medianValue{} },
	"counts":   func() ValueSelector { return countsValue{} },
	"combined": func() ValueSelector { return combinedValue{} },
	// Alias matching configs written for the original tooling.
	"shap_counts": func() ValueSelector { return countsValue{} },
}

// NewValueSelector resolves a strategy by name.
func NewValueSelector(name string) (ValueSelector, error) {
	fn, ok := valueSelectors[name]
	if !ok {
		return nil, fmt.Errorf("unknown value selection strategy %q (known: %v)", name, ValueSelectorNames())
	}
	return fn(), nil
}

// ValueSelectorNames lists canonical strategy names, sorted.
func ValueSelectorNames() []string {
	return []string{"combined", "counts", "max", "median", "min"}
}

func statsFor(feature int, stats *dataset.Stats) (dataset.FeatureStats, bool, error) {
	fs, fellBack := stats.For(feature)
	if fs.Count == 0 {
		return fs, fellBack, &SelectionError{
			Op:  "values",
			Err: fmt.Errorf("feature %d: empty reference and global populations", feature),
		}
	}
	return fs, fellBack, nil
}

// extremeValue picks the benign-population extreme, shifting malicious
// samples toward benign-typical tails.
type extremeValue struct {
	name   string
	useMin bool
}

func (e extremeValue) Name() string { return e.name }

func (e extremeValue) Select(feature int, stats *dataset.Stats, _ float64) (float64, bool, error) {
	fs, fellBack, err := statsFor(feature, stats)
	if err != nil {
		return 0, fellBack, err
	}
	if e.useMin {
		return stats.Clip(feature, fs.Min), fellBack, nil
	}
	return stats.Clip(feature, fs.Max), fellBack, nil
}

// medianValue picks the robust central value of the reference population.
type medianValue struct{}

func (medianValue) Name() string { return "median" }

func (medianValue) Select(feature int, stats *dataset.Stats, _ float64) (float64, bool, error) {
	fs, fellBack, err := statsFor(feature, stats)
	if err != nil {
		return 0, fellBack, err
	}
	return stats.Clip(feature, fs.Median), fellBack, nil
}

// countsValue picks the most frequent value; intended for binary and
// categorical features.
type countsValue struct{}

func (countsValue) Name() string { return "counts" }

func (countsValue) Select(feature int, stats *dataset.Stats, _ float64) (float64, bool, error) {
	fs, fellBack, err := statsFor(feature, stats)
	if err != nil {
		return 0, fellBack, err
	}
	return stats.Clip(feature, fs.Mode), fellBack, nil
}

// combinedValue picks min or max per feature according to the sign of
// the feature's malicious-class attribution: positive attributions push
// toward malicious, so overwrite with the benign extreme that opposes
// the push.
type combinedValue struct{}

func (combinedValue) Name() string { return "combined" }

func (combinedValue) Select(feature int, stats *dataset.Stats, impSign float64) (float64, bool, error) {
	fs, fellBack, err := statsFor(feature, stats)
	if err != nil {
		return 0, fellBack, err
	}
	if impSign >= 0 {
		return stats.Clip(feature, fs.Min), fellBack, nil
	}
	return stats.Clip(feature, fs.Max), fellBack, nil
}
