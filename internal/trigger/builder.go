package trigger

import (
	"math/rand/v2"

	"github.com/poisonlab/poisonbench/internal/dataset"
	"github.com/poisonlab/poisonbench/internal/explain"
)

// Fallback records a value selection that fell back from the reference
// population to the global statistic for one feature.
type Fallback struct {
	Feature  int
	Strategy string
}

// Builder pairs a feature strategy with a value strategy and assembles
// triggers from them. A build that fails partway returns no trigger;
// partial triggers are never applied.
type Builder struct {
	Features FeatureSelector
	Values   ValueSelector
}

// Build synthesizes a trigger of size k. k = 0 yields an empty trigger,
// whose application is a no-op.
func (b *Builder) Build(imp *explain.ImportanceMatrix, malRows []int, pool []int, k int, stats *dataset.Stats, rng *rand.Rand) (*Trigger, []Fallback, error) {
	if k == 0 {
		t, err := Build(nil, nil)
		return t, nil, err
	}
	features, err := b.Features.Select(imp, malRows, pool, k, rng)
	if err != nil {
		return nil, nil, err
	}

	signed := imp.Mean(malRows)
	values := make([]float64, len(features))
	var fallbacks []Fallback
	for i, f := range features {
		v, fellBack, err := b.Values.Select(f, stats, signed[f])
		if err != nil {
			return nil, nil, err
		}
		if fellBack {
			fallbacks = append(fallbacks, Fallback{Feature: f, Strategy: b.Values.Name()})
		}
		values[i] = v
	}
	t, err := Build(features, values)
	if err != nil {
		return nil, nil, err
	}
	return t, fallbacks, nil
}
