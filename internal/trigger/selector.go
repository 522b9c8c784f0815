package trigger

import (
	"fmt"
	"math/rand/v2"
	"sort"

	"github.com/poisonlab/poisonbench/internal/explain"
)

// SelectionError reports a trigger synthesis failure: an oversized
// selection request or an unusable reference population.
type SelectionError struct {
	Op  string
	Err error
}

func (e *SelectionError) Error() string {
	return fmt.Sprintf("selection %s: %v", e.Op, e.Err)
}

func (e *SelectionError) Unwrap() error { return e.Err }

// FeatureSelector picks k distinct feature indices out of a candidate
// pool using attribution data. Implementations are resolved once by
// name at sweep startup, never re-dispatched inside unit loops.
type FeatureSelector interface {
	Name() string
	Select(imp *explain.ImportanceMatrix, malRows []int, pool []int, k int, rng *rand.Rand) ([]int, error)
}

// signAgreementFloor is the sign-consistency cutoff for the combined
// strategy: features disagreeing more than this across malicious
// samples are treated as attribution noise.
const signAgreementFloor = 0.95

var featureSelectors = map[string]func() FeatureSelector{
	"large-magnitude": func() FeatureSelector { return largeMagnitude{} },
	"combined":        func() FeatureSelector { return combinedFeatures{} },
	"random":          func() FeatureSelector { return randomFeatures{} },
	// Aliases matching configs written for the original tooling.
	"shap_largest_abs": func() FeatureSelector { return largeMagnitude{} },
	"combined_shap":    func() FeatureSelector { return combinedFeatures{} },
}

// NewFeatureSelector resolves a strategy by name.
func NewFeatureSelector(name string) (FeatureSelector, error) {
	fn, ok := featureSelectors[name]
	if !ok {
		return nil, fmt.Errorf("unknown feature selection strategy %q (known: %v)", name, FeatureSelectorNames())
	}
	return fn(), nil
}

// FeatureSelectorNames lists canonical strategy names, sorted.
func FeatureSelectorNames() []string {
	return []string{"combined", "large-magnitude", "random"}
}

func checkPool(pool []int, k int) error {
	if k > len(pool) {
		return &SelectionError{
			Op:  "features",
			Err: fmt.Errorf("k=%d exceeds candidate pool of %d", k, len(pool)),
		}
	}
	return nil
}

// topK returns the k pool indices with the largest score, breaking ties
// by smaller feature index so selection is deterministic.
func topK(pool []int, score []float64, k int) []int {
	ranked := append([]int(nil), pool...)
	sort.SliceStable(ranked, func(a, b int) bool {
		sa, sb := score[ranked[a]], score[ranked[b]]
		if sa != sb {
			return sa > sb
		}
		return ranked[a] < ranked[b]
	})
	return append([]int(nil), ranked[:k]...)
}

// largeMagnitude ranks candidates by mean absolute attribution over
// malicious samples and takes the top k.
type largeMagnitude struct{}

func (largeMagnitude) Name() string { return "large-magnitude" }

func (largeMagnitude) Select(imp *explain.ImportanceMatrix, malRows []int, pool []int, k int, _ *rand.Rand) ([]int, error) {
	if err := checkPool(pool, k); err != nil {
		return nil, err
	}
	return topK(pool, imp.MeanAbs(malRows), k), nil
}

// combinedFeatures ranks by magnitude restricted to features whose
// attribution sign is consistent across malicious samples. When fewer
// than k candidates survive the filter, the remainder is filled from
// the filtered-out candidates by magnitude.
type combinedFeatures struct{}

func (combinedFeatures) Name() string { return "combined" }

func (combinedFeatures) Select(imp *explain.ImportanceMatrix, malRows []int, pool []int, k int, _ *rand.Rand) ([]int, error) {
	if err := checkPool(pool, k); err != nil {
		return nil, err
	}
	agree := imp.SignAgreement(malRows)
	var stable, noisy []int
	for _, f := range pool {
		if agree[f] >= signAgreementFloor {
			stable = append(stable, f)
		} else {
			noisy = append(noisy, f)
		}
	}
	mag := imp.MeanAbs(malRows)
	if len(stable) >= k {
		return topK(stable, mag, k), nil
	}
	picked := topK(stable, mag, len(stable))
	picked = append(picked, topK(noisy, mag, k-len(stable))...)
	return picked, nil
}

// randomFeatures uniformly samples k distinct candidates; the baseline
// strategy.
type randomFeatures struct{}

func (randomFeatures) Name() string { return "random" }

func (randomFeatures) Select(_ *explain.ImportanceMatrix, _ []int, pool []int, k int, rng *rand.Rand) ([]int, error) {
	if err := checkPool(pool, k); err != nil {
		return nil, err
	}
	perm := rng.Perm(len(pool))
	out := make([]int, k)
	for i := 0; i < k; i++ {
		out[i] = pool[perm[i]]
	}
	return out, nil
}
