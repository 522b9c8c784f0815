package poison

import (
	"math/rand/v2"
	"path/filepath"
	"testing"

	"github.com/poisonlab/poisonbench/internal/dataset"
	"github.com/poisonlab/poisonbench/internal/trigger"
)

func testSet(t *testing.T, n int) *dataset.Dataset {
	t.Helper()
	x := make([][]float64, n)
	y := make([]dataset.Label, n)
	for i := range x {
		x[i] = []float64{float64(i), float64(i) * 2, 1}
		if i%2 == 0 {
			y[i] = dataset.Malicious
		}
	}
	ds, err := dataset.New(x, y)
	if err != nil {
		t.Fatalf("dataset.New: %v", err)
	}
	return ds
}

func testTrigger(t *testing.T) *trigger.Trigger {
	t.Helper()
	tr, err := trigger.Build([]int{0, 2}, []float64{-1, 0})
	if err != nil {
		t.Fatalf("trigger.Build: %v", err)
	}
	return tr
}

func TestInject_MaskCardinality(t *testing.T) {
	ds := testSet(t, 100)
	tr := testTrigger(t)
	poisoned, mask, err := Inject(ds, tr, 0.1, NumericPolicy{}, rand.New(rand.NewPCG(1, 1)))
	if err != nil {
		t.Fatalf("Inject: %v", err)
	}
	if mask.Count() != 10 {
		t.Errorf("mask cardinality: got %d, want floor(0.1*100)=10", mask.Count())
	}
	if poisoned.Len() != ds.Len() {
		t.Errorf("dataset size changed: %d -> %d", ds.Len(), poisoned.Len())
	}
}

func TestInject_FloorSemantics(t *testing.T) {
	ds := testSet(t, 30)
	tr := testTrigger(t)
	_, mask, err := Inject(ds, tr, 0.05, NumericPolicy{}, rand.New(rand.NewPCG(1, 1)))
	if err != nil {
		t.Fatalf("Inject: %v", err)
	}
	if mask.Count() != 1 {
		t.Errorf("mask cardinality: got %d, want floor(0.05*30)=1", mask.Count())
	}
}

func TestInject_OnlyMaliciousChosen(t *testing.T) {
	ds := testSet(t, 40)
	tr := testTrigger(t)
	_, mask, err := Inject(ds, tr, 0.3, NumericPolicy{}, rand.New(rand.NewPCG(2, 2)))
	if err != nil {
		t.Fatalf("Inject: %v", err)
	}
	for _, i := range mask.Indices() {
		if ds.Samples[i].Label != dataset.Malicious {
			t.Errorf("sample %d was benign in the original set", i)
		}
	}
}

func TestInject_FlipsLabelsAndAppliesTrigger(t *testing.T) {
	ds := testSet(t, 20)
	tr := testTrigger(t)
	poisoned, mask, err := Inject(ds, tr, 0.2, NumericPolicy{}, rand.New(rand.NewPCG(3, 3)))
	if err != nil {
		t.Fatalf("Inject: %v", err)
	}
	for i := range poisoned.Samples {
		if mask[i] {
			s := poisoned.Samples[i]
			if s.Label != dataset.Benign {
				t.Errorf("poisoned sample %d not relabeled benign", i)
			}
			if s.Features[0] != -1 || s.Features[2] != 0 {
				t.Errorf("poisoned sample %d missing trigger: %v", i, s.Features)
			}
			if s.Features[1] != ds.Samples[i].Features[1] {
				t.Errorf("poisoned sample %d: untargeted feature changed", i)
			}
		} else {
			a, b := poisoned.Samples[i], ds.Samples[i]
			if a.Label != b.Label {
				t.Errorf("clean sample %d relabeled", i)
			}
			for j := range a.Features {
				if a.Features[j] != b.Features[j] {
					t.Errorf("clean sample %d feature %d changed", i, j)
				}
			}
		}
	}
}

func TestInject_OriginalUntouched(t *testing.T) {
	ds := testSet(t, 20)
	before := ds.Clone()
	tr := testTrigger(t)
	if _, _, err := Inject(ds, tr, 0.3, NumericPolicy{}, rand.New(rand.NewPCG(4, 4))); err != nil {
		t.Fatalf("Inject: %v", err)
	}
	for i := range ds.Samples {
		if ds.Samples[i].Label != before.Samples[i].Label {
			t.Fatalf("original label %d mutated", i)
		}
		for j := range ds.Samples[i].Features {
			if ds.Samples[i].Features[j] != before.Samples[i].Features[j] {
				t.Fatalf("original feature %d/%d mutated", i, j)
			}
		}
	}
}

func TestInject_Deterministic(t *testing.T) {
	ds := testSet(t, 50)
	tr := testTrigger(t)
	_, a, err := Inject(ds, tr, 0.2, NumericPolicy{}, rand.New(rand.NewPCG(7, 7)))
	if err != nil {
		t.Fatalf("Inject: %v", err)
	}
	_, b, _ := Inject(ds, tr, 0.2, NumericPolicy{}, rand.New(rand.NewPCG(7, 7)))
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("mask not deterministic at %d", i)
		}
	}
}

func TestInject_ZeroPoisonSize(t *testing.T) {
	ds := testSet(t, 20)
	tr := testTrigger(t)
	poisoned, mask, err := Inject(ds, tr, 0, NumericPolicy{}, rand.New(rand.NewPCG(1, 1)))
	if err != nil {
		t.Fatalf("Inject: %v", err)
	}
	if mask.Count() != 0 {
		t.Errorf("expected empty mask, got %d", mask.Count())
	}
	if poisoned.Len() != ds.Len() {
		t.Error("dataset size changed")
	}
}

func TestInject_EmptyTriggerLeavesDatasetClean(t *testing.T) {
	ds := testSet(t, 20)
	empty, err := trigger.Build(nil, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	poisoned, mask, err := Inject(ds, empty, 0.5, NumericPolicy{}, rand.New(rand.NewPCG(1, 1)))
	if err != nil {
		t.Fatalf("Inject: %v", err)
	}
	if mask.Count() != 0 {
		t.Errorf("empty trigger should poison nothing, mask has %d", mask.Count())
	}
	for i := range poisoned.Samples {
		if poisoned.Samples[i].Label != ds.Samples[i].Label {
			t.Fatalf("label %d changed with empty trigger", i)
		}
	}
}

func TestInject_TooFewCandidates(t *testing.T) {
	x := [][]float64{{1}, {2}, {3}, {4}}
	y := []dataset.Label{dataset.Malicious, dataset.Benign, dataset.Benign, dataset.Benign}
	ds, _ := dataset.New(x, y)
	tr, _ := trigger.Build([]int{0}, []float64{0})
	if _, _, err := Inject(ds, tr, 0.75, NumericPolicy{}, rand.New(rand.NewPCG(1, 1))); err == nil {
		t.Fatal("expected error when poison budget exceeds malicious population")
	}
}

func TestInject_BadPoisonSize(t *testing.T) {
	ds := testSet(t, 10)
	tr := testTrigger(t)
	for _, size := range []float64{-0.1, 1.1} {
		if _, _, err := Inject(ds, tr, size, NumericPolicy{}, rand.New(rand.NewPCG(1, 1))); err == nil {
			t.Errorf("size %v: expected error", size)
		}
	}
}

func TestInject_TriggerOutOfSchema(t *testing.T) {
	ds := testSet(t, 10)
	tr, _ := trigger.Build([]int{5}, []float64{0})
	if _, _, err := Inject(ds, tr, 0.1, NumericPolicy{}, rand.New(rand.NewPCG(1, 1))); err == nil {
		t.Fatal("expected error for trigger index outside schema")
	}
}

func TestMask_JSONRoundTrip(t *testing.T) {
	m := Mask{true, false, true}
	path := filepath.Join(t.TempDir(), "mask.json")
	if err := m.SaveJSON(path); err != nil {
		t.Fatalf("SaveJSON: %v", err)
	}
	got, err := LoadMask(path)
	if err != nil {
		t.Fatalf("LoadMask: %v", err)
	}
	if got.Count() != 2 || !got[0] || got[1] || !got[2] {
		t.Errorf("round trip mismatch: %v", got)
	}
}

// flakyMutator invalidates the first trigger it sees and accepts later ones.
type flakyMutator struct {
	rejected int
	badValue float64
}

func (m *flakyMutator) Mutate(features []float64, tr *trigger.Trigger) ([]float64, error) {
	return tr.ApplyCopy(features), nil
}

func (m *flakyMutator) Valid(features []float64) bool {
	for _, v := range features {
		if v == m.badValue {
			m.rejected++
			return false
		}
	}
	return true
}

func TestByteLevelPolicy_RetriesWithAlternateTrigger(t *testing.T) {
	bad, _ := trigger.Build([]int{0}, []float64{-99})
	good, _ := trigger.Build([]int{0}, []float64{7})
	mut := &flakyMutator{badValue: -99}
	p := &ByteLevelPolicy{
		Mutator:     mut,
		Retries:     2,
		NextTrigger: func() (*trigger.Trigger, error) { return good, nil },
	}
	out, err := p.Poison([]float64{1, 2}, bad)
	if err != nil {
		t.Fatalf("Poison: %v", err)
	}
	if out[0] != 7 {
		t.Errorf("expected alternate trigger applied, got %v", out)
	}
	if mut.rejected != 1 {
		t.Errorf("expected exactly one rejection, got %d", mut.rejected)
	}
}

func TestByteLevelPolicy_ExhaustsRetries(t *testing.T) {
	bad, _ := trigger.Build([]int{0}, []float64{-99})
	p := &ByteLevelPolicy{
		Mutator:     &flakyMutator{badValue: -99},
		Retries:     1,
		NextTrigger: func() (*trigger.Trigger, error) { return bad, nil },
	}
	if _, err := p.Poison([]float64{1}, bad); err == nil {
		t.Fatal("expected error after retries exhausted")
	}
}

func TestByteLevelPolicy_NoAlternateSource(t *testing.T) {
	bad, _ := trigger.Build([]int{0}, []float64{-99})
	p := &ByteLevelPolicy{Mutator: &flakyMutator{badValue: -99}, Retries: 3}
	if _, err := p.Poison([]float64{1}, bad); err == nil {
		t.Fatal("expected error without an alternate trigger source")
	}
}
