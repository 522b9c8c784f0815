package defense

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/poisonlab/poisonbench/internal/dataset"
	"github.com/poisonlab/poisonbench/internal/poison"
)

// clusteredMatrix builds n inliers around origin plus outliers around
// (10, 10, 10); returns the matrix and the outlier index set.
func clusteredMatrix(n, outliers int, seed uint64) ([][]float64, map[int]bool) {
	rng := rand.New(rand.NewPCG(seed, seed))
	x := make([][]float64, 0, n+outliers)
	isOut := make(map[int]bool)
	for i := 0; i < n; i++ {
		x = append(x, []float64{rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64()})
	}
	for i := 0; i < outliers; i++ {
		isOut[len(x)] = true
		x = append(x, []float64{
			10 + 0.1*rng.NormFloat64(),
			10 + 0.1*rng.NormFloat64(),
			10 + 0.1*rng.NormFloat64(),
		})
	}
	return x, isOut
}

func TestScore_F1HarmonicMean(t *testing.T) {
	flagged := []bool{true, true, false, false}
	mask := poison.Mask{true, false, true, false}
	r, err := Score("test", flagged, mask)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if r.Precision != 0.5 || r.Recall != 0.5 {
		t.Errorf("precision/recall: got %v/%v, want 0.5/0.5", r.Precision, r.Recall)
	}
	wantF1 := 2 * r.Precision * r.Recall / (r.Precision + r.Recall)
	if math.Abs(r.F1-wantF1) > 1e-12 {
		t.Errorf("F1: got %v, want %v", r.F1, wantF1)
	}
}

func TestScore_BoundsAndZeroDivision(t *testing.T) {
	r, err := Score("test", []bool{false, false}, poison.Mask{false, false})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if r.Precision != 0 || r.Recall != 0 || r.F1 != 0 {
		t.Errorf("empty case should score zeros: %+v", r)
	}
}

func TestScore_LengthMismatch(t *testing.T) {
	if _, err := Score("test", []bool{true}, poison.Mask{true, false}); err == nil {
		t.Fatal("expected error for length mismatch")
	}
}

func TestIsolationForest_FlagCount(t *testing.T) {
	x, _ := clusteredMatrix(95, 5, 1)
	f := NewIsolationForest()
	res, err := f.Detect(x, 0.05, rand.New(rand.NewPCG(1, 1)))
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	want := int(math.Round(0.05 * float64(len(x))))
	got := 0
	for _, fl := range res.Flagged {
		if fl {
			got++
		}
	}
	if got != want {
		t.Errorf("flag count: got %d, want round(contamination*N)=%d", got, want)
	}
}

func TestIsolationForest_FindsPlantedOutliers(t *testing.T) {
	x, isOut := clusteredMatrix(190, 10, 2)
	f := NewIsolationForest()
	res, err := f.Detect(x, 0.05, rand.New(rand.NewPCG(2, 2)))
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	hits := 0
	for i, fl := range res.Flagged {
		if fl && isOut[i] {
			hits++
		}
	}
	if hits < 8 {
		t.Errorf("planted outliers found: %d of 10, want >= 8", hits)
	}
}

func TestSpectralSignature_FindsSecondaryMode(t *testing.T) {
	x, isOut := clusteredMatrix(180, 20, 3)
	s := NewSpectralSignature()
	res, err := s.Detect(x, 0.1, rand.New(rand.NewPCG(3, 3)))
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	hits := 0
	for i, fl := range res.Flagged {
		if fl && isOut[i] {
			hits++
		}
	}
	if hits < 16 {
		t.Errorf("secondary mode found: %d of 20, want >= 16", hits)
	}
}

func TestActivationClustering_FlagsMinorityCluster(t *testing.T) {
	x, isOut := clusteredMatrix(170, 30, 4)
	c := NewActivationClustering()
	res, err := c.Detect(x, 0, rand.New(rand.NewPCG(4, 4)))
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	flagged := 0
	hits := 0
	for i, fl := range res.Flagged {
		if fl {
			flagged++
			if isOut[i] {
				hits++
			}
		}
	}
	if flagged == 0 || flagged > len(x)/2 {
		t.Fatalf("expected a minority cluster flagged, got %d of %d", flagged, len(x))
	}
	if hits < 25 {
		t.Errorf("minority cluster overlap with outliers: %d of 30, want >= 25", hits)
	}
}

func TestActivationClustering_UniformDataFlagsNothingCatastrophic(t *testing.T) {
	// Identical rows: clustering collapses, nothing should be flagged.
	x := make([][]float64, 20)
	for i := range x {
		x[i] = []float64{1, 1}
	}
	c := NewActivationClustering()
	res, err := c.Detect(x, 0, rand.New(rand.NewPCG(5, 5)))
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	for i, fl := range res.Flagged {
		if fl {
			t.Fatalf("sample %d flagged on degenerate data", i)
		}
	}
}

func TestEvaluate_PerClassMerge(t *testing.T) {
	// Benign class hides a tight poisoned blob away from the benign mass.
	rng := rand.New(rand.NewPCG(6, 6))
	var x [][]float64
	var y []dataset.Label
	mask := poison.Mask{}
	for i := 0; i < 90; i++ {
		x = append(x, []float64{rng.NormFloat64(), rng.NormFloat64()})
		y = append(y, dataset.Benign)
		mask = append(mask, false)
	}
	for i := 0; i < 10; i++ {
		x = append(x, []float64{8 + 0.1*rng.NormFloat64(), 8 + 0.1*rng.NormFloat64()})
		y = append(y, dataset.Benign) // poisoned samples carry flipped labels
		mask = append(mask, true)
	}
	for i := 0; i < 50; i++ {
		x = append(x, []float64{20 + rng.NormFloat64(), 20 + rng.NormFloat64()})
		y = append(y, dataset.Malicious)
		mask = append(mask, false)
	}
	ds, err := dataset.New(x, y)
	if err != nil {
		t.Fatalf("dataset.New: %v", err)
	}

	report, res, err := Evaluate(NewIsolationForest(), ds, mask, 0.1, rand.New(rand.NewPCG(7, 7)))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(res.Flagged) != ds.Len() {
		t.Fatalf("merged result size: %d, want %d", len(res.Flagged), ds.Len())
	}
	if report.Precision < 0 || report.Precision > 1 || report.Recall < 0 || report.Recall > 1 {
		t.Errorf("precision/recall outside [0,1]: %+v", report)
	}
	if report.Recall < 0.5 {
		t.Errorf("poisoned blob mostly missed: recall %v", report.Recall)
	}
}

func TestFlagTop_TiesDeterministic(t *testing.T) {
	scores := []float64{1, 1, 1, 0}
	a := flagTop(scores, 0.5)
	b := flagTop(scores, 0.5)
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("flagTop not deterministic")
		}
	}
	if !a[0] || !a[1] || a[2] || a[3] {
		t.Errorf("tie break should prefer smaller indices: %v", a)
	}
}
