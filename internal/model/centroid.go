package model

import (
	"fmt"
	"math"
)

// Centroid is a nearest-centroid classifier. It is the cheapest
// reference model and the default for large synthetic sweeps.
type Centroid struct {
	benign    []float64
	malicious []float64
}

// Train computes per-class mean vectors.
func (c *Centroid) Train(x [][]float64, y []int) error {
	if len(x) == 0 || len(x) != len(y) {
		return &TrainError{Name: "centroid", Err: fmt.Errorf("bad shapes: %d rows, %d labels", len(x), len(y))}
	}
	nf := len(x[0])
	ben := make([]float64, nf)
	mal := make([]float64, nf)
	var nb, nm int
	for i, row := range x {
		if len(row) != nf {
			return &TrainError{Name: "centroid", Err: fmt.Errorf("ragged row %d", i)}
		}
		if y[i] == 1 {
			nm++
			for j, v := range row {
				mal[j] += v
			}
		} else {
			nb++
			for j, v := range row {
				ben[j] += v
			}
		}
	}
	if nb == 0 || nm == 0 {
		return &TrainError{Name: "centroid", Err: fmt.Errorf("need both classes: %d benign, %d malicious", nb, nm)}
	}
	for j := range ben {
		ben[j] /= float64(nb)
		mal[j] /= float64(nm)
	}
	c.benign, c.malicious = ben, mal
	return nil
}

// Predict scores each row by relative distance to the two centroids,
// squashed to (0, 1) so 0.5 is the equidistant boundary.
func (c *Centroid) Predict(x [][]float64) []float64 {
	scores := make([]float64, len(x))
	for i, row := range x {
		db := dist(row, c.benign)
		dm := dist(row, c.malicious)
		scores[i] = 1 / (1 + math.Exp(dm-db))
	}
	return scores
}

func dist(a, b []float64) float64 {
	var s float64
	for j := range a {
		d := a[j] - b[j]
		s += d * d
	}
	return math.Sqrt(s)
}
