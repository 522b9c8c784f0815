package defense

import (
	"math"
	"math/rand/v2"
)

// ActivationClustering splits a class into two k-means clusters and
// flags the smaller one, on the assumption that poison forms a
// minority sub-population.
type ActivationClustering struct {
	MaxIterations int
}

// NewActivationClustering returns a detector with iteration defaults.
func NewActivationClustering() *ActivationClustering {
	return &ActivationClustering{MaxIterations: 100}
}

// Name implements Detector.
func (c *ActivationClustering) Name() string { return "activation-clustering" }

// Detect clusters x with k=2 and flags members of the smaller cluster.
// contamination is ignored; the cluster split decides the flag count.
// Scores are 1 for flagged samples and 0 otherwise.
func (c *ActivationClustering) Detect(x [][]float64, _ float64, rng *rand.Rand) (*DetectionResult, error) {
	nf, err := checkMatrix(x)
	if err != nil {
		return nil, err
	}
	n := len(x)
	if n < 2 {
		return &DetectionResult{Scores: make([]float64, n), Flagged: make([]bool, n)}, nil
	}

	// Seed centroids from two distinct samples.
	perm := rng.Perm(n)
	centroids := [2][]float64{
		append([]float64(nil), x[perm[0]]...),
		append([]float64(nil), x[perm[1]]...),
	}

	assign := make([]int, n)
	counts := [2]int{}
	for iter := 0; iter < c.MaxIterations; iter++ {
		changed := false
		counts = [2]int{}
		for i, row := range x {
			k := nearestCentroid(row, centroids)
			if assign[i] != k {
				assign[i] = k
				changed = true
			}
			counts[k]++
		}
		if counts[0] == 0 || counts[1] == 0 {
			// Collapsed clustering: nothing separable, flag nothing.
			return &DetectionResult{Scores: make([]float64, n), Flagged: make([]bool, n)}, nil
		}
		for k := 0; k < 2; k++ {
			for j := 0; j < nf; j++ {
				centroids[k][j] = 0
			}
		}
		for i, row := range x {
			for j, v := range row {
				centroids[assign[i]][j] += v
			}
		}
		for k := 0; k < 2; k++ {
			for j := 0; j < nf; j++ {
				centroids[k][j] /= float64(counts[k])
			}
		}
		if !changed && iter > 0 {
			break
		}
	}

	minority := 0
	if counts[1] < counts[0] {
		minority = 1
	}
	scores := make([]float64, n)
	flagged := make([]bool, n)
	for i, k := range assign {
		if k == minority {
			scores[i] = 1
			flagged[i] = true
		}
	}
	return &DetectionResult{Scores: scores, Flagged: flagged}, nil
}

func nearestCentroid(row []float64, centroids [2][]float64) int {
	best, bestD := 0, math.Inf(1)
	for k := 0; k < 2; k++ {
		var d float64
		for j := range row {
			diff := row[j] - centroids[k][j]
			d += diff * diff
		}
		if d < bestD {
			bestD = d
			best = k
		}
	}
	return best
}
