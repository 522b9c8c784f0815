// Package defense implements unsupervised detectors that try to flag
// poisoned training samples, and the shared precision/recall scoring
// that makes the detectors comparable.
package defense

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/poisonlab/poisonbench/internal/dataset"
	"github.com/poisonlab/poisonbench/internal/poison"
)

// DetectionResult holds one anomaly score and flag per sample, in the
// same order as the input matrix.
type DetectionResult struct {
	Scores  []float64
	Flagged []bool
}

// Detector scores a feature matrix for poisoning. contamination is the
// expected poison fraction; rng drives any internal randomness so runs
// are reproducible.
type Detector interface {
	Name() string
	Detect(x [][]float64, contamination float64, rng *rand.Rand) (*DetectionResult, error)
}

// Report is a detector's quality against the ground-truth mask.
type Report struct {
	Detector      string  `json:"detector"`
	TruePositive  int     `json:"true_positive"`
	FalsePositive int     `json:"false_positive"`
	FalseNegative int     `json:"false_negative"`
	Flagged       int     `json:"flagged"`
	Precision     float64 `json:"precision"`
	Recall        float64 `json:"recall"`
	F1            float64 `json:"f1"`
}

// Score joins per-sample flags against the poison mask.
func Score(name string, flagged []bool, mask poison.Mask) (Report, error) {
	if len(flagged) != len(mask) {
		return Report{}, fmt.Errorf("defense: %d flags but %d mask entries", len(flagged), len(mask))
	}
	r := Report{Detector: name}
	for i, f := range flagged {
		switch {
		case f && mask[i]:
			r.TruePositive++
		case f && !mask[i]:
			r.FalsePositive++
		case !f && mask[i]:
			r.FalseNegative++
		}
		if f {
			r.Flagged++
		}
	}
	if r.TruePositive+r.FalsePositive > 0 {
		r.Precision = float64(r.TruePositive) / float64(r.TruePositive+r.FalsePositive)
	}
	if r.TruePositive+r.FalseNegative > 0 {
		r.Recall = float64(r.TruePositive) / float64(r.TruePositive+r.FalseNegative)
	}
	if r.Precision+r.Recall > 0 {
		r.F1 = 2 * r.Precision * r.Recall / (r.Precision + r.Recall)
	}
	return r, nil
}

// Evaluate runs a detector per class over the (possibly poisoned)
// dataset, merges flags back into sample order, and scores them against
// the mask. Poisoned samples carry their flipped labels, so the benign
// class is where the poison hides.
func Evaluate(det Detector, ds *dataset.Dataset, mask poison.Mask, contamination float64, rng *rand.Rand) (Report, *DetectionResult, error) {
	if ds.Len() != len(mask) {
		return Report{}, nil, fmt.Errorf("defense: dataset size %d but mask size %d", ds.Len(), len(mask))
	}
	merged := &DetectionResult{
		Scores:  make([]float64, ds.Len()),
		Flagged: make([]bool, ds.Len()),
	}
	for _, class := range []dataset.Label{dataset.Benign, dataset.Malicious} {
		idx := ds.ClassIndices(class)
		if len(idx) == 0 {
			continue
		}
		x := make([][]float64, len(idx))
		for i, p := range idx {
			x[i] = ds.Samples[p].Features
		}
		res, err := det.Detect(x, contamination, rng)
		if err != nil {
			return Report{}, nil, fmt.Errorf("defense: %s on class %d: %w", det.Name(), class, err)
		}
		for i, p := range idx {
			merged.Scores[p] = res.Scores[i]
			merged.Flagged[p] = res.Flagged[i]
		}
	}
	report, err := Score(det.Name(), merged.Flagged, mask)
	if err != nil {
		return Report{}, nil, err
	}
	return report, merged, nil
}

// flagTop marks the round(contamination*N) highest-scoring samples.
// Ties break toward the smaller index so flagging is deterministic.
func flagTop(scores []float64, contamination float64) []bool {
	n := len(scores)
	want := int(math.Round(contamination * float64(n)))
	if want > n {
		want = n
	}
	flagged := make([]bool, n)
	if want <= 0 {
		return flagged
	}
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		if scores[order[a]] != scores[order[b]] {
			return scores[order[a]] > scores[order[b]]
		}
		return order[a] < order[b]
	})
	for _, i := range order[:want] {
		flagged[i] = true
	}
	return flagged
}

func checkMatrix(x [][]float64) (int, error) {
	if len(x) == 0 {
		return 0, fmt.Errorf("empty matrix")
	}
	nf := len(x[0])
	for i, row := range x {
		if len(row) != nf {
			return 0, fmt.Errorf("ragged row %d", i)
		}
	}
	return nf, nil
}
