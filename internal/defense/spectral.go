package defense

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// SpectralSignature flags samples with outlying projections onto the
// top singular direction of the centered class features. Poison that
// forms a secondary mode shows up as mass along that direction.
type SpectralSignature struct {
	// PowerIterations bounds the power-method loop for the top
	// singular vector.
	PowerIterations int
}

// NewSpectralSignature returns a detector with iteration defaults.
func NewSpectralSignature() *SpectralSignature {
	return &SpectralSignature{PowerIterations: 50}
}

// Name implements Detector.
func (s *SpectralSignature) Name() string { return "spectral-signature" }

// Detect centers x, extracts the top singular direction by power
// iteration on the covariance, scores each sample by projection
// magnitude, and flags the top round(contamination*N).
func (s *SpectralSignature) Detect(x [][]float64, contamination float64, rng *rand.Rand) (*DetectionResult, error) {
	nf, err := checkMatrix(x)
	if err != nil {
		return nil, err
	}
	n := len(x)

	mean := make([]float64, nf)
	for _, row := range x {
		for j, v := range row {
			mean[j] += v
		}
	}
	for j := range mean {
		mean[j] /= float64(n)
	}
	centered := make([][]float64, n)
	for i, row := range x {
		c := make([]float64, nf)
		for j, v := range row {
			c[j] = v - mean[j]
		}
		centered[i] = c
	}

	v, err := topSingularVector(centered, nf, s.PowerIterations, rng)
	if err != nil {
		return nil, err
	}

	scores := make([]float64, n)
	for i, row := range centered {
		var p float64
		for j := range row {
			p += row[j] * v[j]
		}
		scores[i] = math.Abs(p)
	}
	return &DetectionResult{Scores: scores, Flagged: flagTop(scores, contamination)}, nil
}

// topSingularVector runs power iteration on M^T M without forming the
// covariance explicitly.
func topSingularVector(centered [][]float64, nf, iters int, rng *rand.Rand) ([]float64, error) {
	v := make([]float64, nf)
	for j := range v {
		v[j] = rng.NormFloat64()
	}
	if err := normalize(v); err != nil {
		return nil, err
	}
	w := make([]float64, nf)
	for it := 0; it < iters; it++ {
		for j := range w {
			w[j] = 0
		}
		for _, row := range centered {
			var p float64
			for j := range row {
				p += row[j] * v[j]
			}
			for j := range row {
				w[j] += p * row[j]
			}
		}
		if err := normalize(w); err != nil {
			// Degenerate (all-zero) data: any direction works.
			return v, nil
		}
		copy(v, w)
	}
	return v, nil
}

func normalize(v []float64) error {
	var norm float64
	for _, x := range v {
		norm += x * x
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return fmt.Errorf("zero vector")
	}
	for j := range v {
		v[j] /= norm
	}
	return nil
}
