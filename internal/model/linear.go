package model

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// Linear is a logistic-regression classifier trained with SGD. It fills
// the linear-SVM slot of the sweep grid with an in-process stand-in.
type Linear struct {
	Epochs   int
	LR       float64
	L2       float64
	Seed     uint64
	weights  []float64
	bias     float64
	featMean []float64
	featStd  []float64
}

// NewLinear returns a Linear with training defaults.
func NewLinear() *Linear {
	return &Linear{Epochs: 50, LR: 0.1, L2: 1e-4, Seed: 1}
}

// Train fits weights by SGD over standardized features.
func (l *Linear) Train(x [][]float64, y []int) error {
	if len(x) == 0 || len(x) != len(y) {
		return &TrainError{Name: "linear", Err: fmt.Errorf("bad shapes: %d rows, %d labels", len(x), len(y))}
	}
	nf := len(x[0])
	l.standardizeFit(x, nf)
	l.weights = make([]float64, nf)
	l.bias = 0

	rng := rand.New(rand.NewPCG(l.Seed, l.Seed^0x9e3779b97f4a7c15))
	order := make([]int, len(x))
	for i := range order {
		order[i] = i
	}
	row := make([]float64, nf)
	for epoch := 0; epoch < l.Epochs; epoch++ {
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		for _, i := range order {
			l.standardize(x[i], row)
			p := sigmoid(dot(l.weights, row) + l.bias)
			g := p - float64(y[i])
			for j := range l.weights {
				l.weights[j] -= l.LR * (g*row[j] + l.L2*l.weights[j])
			}
			l.bias -= l.LR * g
		}
	}
	for _, w := range l.weights {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return &TrainError{Name: "linear", Err: fmt.Errorf("diverged: non-finite weights")}
		}
	}
	return nil
}

// Predict returns sigmoid scores.
func (l *Linear) Predict(x [][]float64) []float64 {
	scores := make([]float64, len(x))
	row := make([]float64, len(l.weights))
	for i := range x {
		l.standardize(x[i], row)
		scores[i] = sigmoid(dot(l.weights, row) + l.bias)
	}
	return scores
}

func (l *Linear) standardizeFit(x [][]float64, nf int) {
	l.featMean = make([]float64, nf)
	l.featStd = make([]float64, nf)
	for _, row := range x {
		for j, v := range row {
			l.featMean[j] += v
		}
	}
	for j := range l.featMean {
		l.featMean[j] /= float64(len(x))
	}
	for _, row := range x {
		for j, v := range row {
			d := v - l.featMean[j]
			l.featStd[j] += d * d
		}
	}
	for j := range l.featStd {
		l.featStd[j] = math.Sqrt(l.featStd[j] / float64(len(x)))
		if l.featStd[j] == 0 {
			l.featStd[j] = 1
		}
	}
}

func (l *Linear) standardize(src, dst []float64) {
	for j, v := range src {
		dst[j] = (v - l.featMean[j]) / l.featStd[j]
	}
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

func dot(a, b []float64) float64 {
	var s float64
	for j := range a {
		s += a[j] * b[j]
	}
	return s
}
