package trigger

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/poisonlab/poisonbench/internal/explain"
)

func impMatrix(t *testing.T, values [][]float64) *explain.ImportanceMatrix {
	t.Helper()
	m, err := explain.NewImportanceMatrix(values)
	if err != nil {
		t.Fatalf("NewImportanceMatrix: %v", err)
	}
	return m
}

func TestNewFeatureSelector_UnknownStrategy(t *testing.T) {
	if _, err := NewFeatureSelector("gradient-argmax"); err == nil {
		t.Fatal("expected error for unknown strategy")
	}
}

func TestNewFeatureSelector_Aliases(t *testing.T) {
	s, err := NewFeatureSelector("shap_largest_abs")
	if err != nil {
		t.Fatalf("alias resolution: %v", err)
	}
	if s.Name() != "large-magnitude" {
		t.Errorf("alias name: got %q", s.Name())
	}
}

func TestLargeMagnitude_TopK(t *testing.T) {
	// Mean abs over both rows: f0=0.5, f1=3, f2=1, f3=0.1
	imp := impMatrix(t, [][]float64{
		{0.5, -4, 1, 0.1},
		{0.5, 2, 1, 0.1},
	})
	s, _ := NewFeatureSelector("large-magnitude")
	got, err := s.Select(imp, nil, []int{0, 1, 2, 3}, 2, nil)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("top-2: got %v, want [1 2]", got)
	}
}

func TestLargeMagnitude_RespectsPool(t *testing.T) {
	imp := impMatrix(t, [][]float64{{1, 100, 2}})
	s, _ := NewFeatureSelector("large-magnitude")
	got, err := s.Select(imp, nil, []int{0, 2}, 1, nil)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if got[0] != 2 {
		t.Errorf("pool restriction ignored: got %v", got)
	}
}

func TestSelect_KExceedsPool(t *testing.T) {
	imp := impMatrix(t, [][]float64{{1, 2}})
	for _, name := range FeatureSelectorNames() {
		s, _ := NewFeatureSelector(name)
		_, err := s.Select(imp, nil, []int{0}, 2, rand.New(rand.NewPCG(1, 1)))
		var se *SelectionError
		if !errors.As(err, &se) {
			t.Errorf("%s: expected SelectionError, got %v", name, err)
		}
	}
}

func TestCombined_FiltersInconsistentSigns(t *testing.T) {
	// f0: large but sign-flipping. f1: moderate, consistent. f2: small, consistent.
	imp := impMatrix(t, [][]float64{
		{10, 2, 1},
		{-10, 2, 1},
		{10, 2, 1},
		{-10, 2, 1},
	})
	s, _ := NewFeatureSelector("combined")
	got, err := s.Select(imp, nil, []int{0, 1, 2}, 2, nil)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if got[0] != 1 || got[1] != 2 {
		t.Errorf("combined should skip sign-flipping f0: got %v, want [1 2]", got)
	}
}

func TestCombined_BackfillsWhenFilterTooStrict(t *testing.T) {
	// Only f1 is consistent, but k=2 still has to be satisfied.
	imp := impMatrix(t, [][]float64{
		{10, 2, 5},
		{-10, 2, -5},
	})
	s, _ := NewFeatureSelector("combined")
	got, err := s.Select(imp, nil, []int{0, 1, 2}, 2, nil)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(got) != 2 || got[0] != 1 {
		t.Errorf("expected consistent f1 first then a backfill: got %v", got)
	}
}

func TestRandom_DeterministicAndDistinct(t *testing.T) {
	imp := impMatrix(t, [][]float64{{0, 0, 0, 0, 0, 0}})
	s, _ := NewFeatureSelector("random")
	pool := []int{0, 1, 2, 3, 4, 5}
	a, err := s.Select(imp, nil, pool, 4, rand.New(rand.NewPCG(9, 9)))
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	b, _ := s.Select(imp, nil, pool, 4, rand.New(rand.NewPCG(9, 9)))
	seen := map[int]bool{}
	for i, f := range a {
		if f != b[i] {
			t.Fatalf("random selection not deterministic for fixed seed: %v vs %v", a, b)
		}
		if seen[f] {
			t.Fatalf("duplicate index %d in %v", f, a)
		}
		seen[f] = true
		if f < 0 || f >= 6 {
			t.Fatalf("index %d out of range", f)
		}
	}
}

func TestSelectors_MaliciousRowSubset(t *testing.T) {
	// Malicious rows (0, 1) rank f0 highest; the benign row would rank f1.
	imp := impMatrix(t, [][]float64{
		{5, 1},
		{5, 1},
		{0, 100},
	})
	s, _ := NewFeatureSelector("large-magnitude")
	got, err := s.Select(imp, []int{0, 1}, []int{0, 1}, 1, nil)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if got[0] != 0 {
		t.Errorf("malicious-row restriction ignored: got %v", got)
	}
}
