package model

import (
	"fmt"
	"math"
	"sort"
)

// Boost is a gradient-boosted ensemble of depth-1 regression trees on
// logistic loss. It is the tree-ensemble slot's in-process stand-in and
// the closest reference shape to a production GBDT backend.
type Boost struct {
	Rounds     int
	LR         float64
	Candidates int // threshold candidates per feature

	prior  float64
	stumps []stump
}

type stump struct {
	feature   int
	threshold float64
	left      float64 // added to samples with x[feature] <= threshold
	right     float64
}

// NewBoost returns a Boost with training defaults.
func NewBoost() *Boost {
	return &Boost{Rounds: 40, LR: 0.3, Candidates: 16}
}

// Train fits the ensemble.
func (b *Boost) Train(x [][]float64, y []int) error {
	if len(x) == 0 || len(x) != len(y) {
		return &TrainError{Name: "boost", Err: fmt.Errorf("bad shapes: %d rows, %d labels", len(x), len(y))}
	}
	n := len(x)
	nf := len(x[0])

	pos := 0
	for _, v := range y {
		if v == 1 {
			pos++
		}
	}
	if pos == 0 || pos == n {
		return &TrainError{Name: "boost", Err: fmt.Errorf("need both classes: %d positive of %d", pos, n)}
	}
	p := float64(pos) / float64(n)
	b.prior = math.Log(p / (1 - p))
	b.stumps = b.stumps[:0]

	f := make([]float64, n)
	for i := range f {
		f[i] = b.prior
	}
	resid := make([]float64, n)
	thresholds := b.candidateThresholds(x, nf)

	for round := 0; round < b.Rounds; round++ {
		for i := range resid {
			resid[i] = float64(y[i]) - sigmoid(f[i])
		}
		s, ok := bestStump(x, resid, thresholds)
		if !ok {
			break
		}
		s.left *= b.LR
		s.right *= b.LR
		b.stumps = append(b.stumps, s)
		for i, row := range x {
			if row[s.feature] <= s.threshold {
				f[i] += s.left
			} else {
				f[i] += s.right
			}
		}
	}
	for _, v := range f {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &TrainError{Name: "boost", Err: fmt.Errorf("diverged: non-finite margin")}
		}
	}
	return nil
}

// Predict returns sigmoid of the summed ensemble margin.
func (b *Boost) Predict(x [][]float64) []float64 {
	scores := make([]float64, len(x))
	for i, row := range x {
		f := b.prior
		for _, s := range b.stumps {
			if row[s.feature] <= s.threshold {
				f += s.left
			} else {
				f += s.right
			}
		}
		scores[i] = sigmoid(f)
	}
	return scores
}

// candidateThresholds picks evenly spaced order statistics per feature.
func (b *Boost) candidateThresholds(x [][]float64, nf int) [][]float64 {
	out := make([][]float64, nf)
	col := make([]float64, len(x))
	for j := 0; j < nf; j++ {
		for i, row := range x {
			col[i] = row[j]
		}
		sorted := append([]float64(nil), col...)
		sort.Float64s(sorted)
		var cands []float64
		step := len(sorted) / (b.Candidates + 1)
		if step < 1 {
			step = 1
		}
		prev := math.Inf(-1)
		for i := step; i < len(sorted); i += step {
			if sorted[i] != prev {
				cands = append(cands, sorted[i])
				prev = sorted[i]
			}
		}
		out[j] = cands
	}
	return out
}

// bestStump finds the split minimizing squared residual error.
func bestStump(x [][]float64, resid []float64, thresholds [][]float64) (stump, bool) {
	var best stump
	bestGain := 0.0
	found := false

	var total float64
	for _, r := range resid {
		total += r
	}
	n := float64(len(resid))

	for j, cands := range thresholds {
		for _, t := range cands {
			var sumL float64
			var nL float64
			for i, row := range x {
				if row[j] <= t {
					sumL += resid[i]
					nL++
				}
			}
			nR := n - nL
			if nL == 0 || nR == 0 {
				continue
			}
			sumR := total - sumL
			// Variance reduction relative to the root.
			gain := sumL*sumL/nL + sumR*sumR/nR - total*total/n
			if gain > bestGain {
				bestGain = gain
				best = stump{feature: j, threshold: t, left: sumL / nL, right: sumR / nR}
				found = true
			}
		}
	}
	return best, found
}
