// Package explain defines the per-sample, per-feature attribution
// contract the trigger synthesis consumes, plus a reference
// occlusion-based explainer so the pipeline runs without an external
// attribution backend.
package explain

import (
	"context"
	"fmt"

	"github.com/poisonlab/poisonbench/internal/model"
)

// ImportanceMatrix holds one attribution row per sample. Positive
// values push the prediction toward malicious, negative toward benign.
// Read-only after construction.
type ImportanceMatrix struct {
	Values [][]float64
	nf     int
}

// NewImportanceMatrix validates shape and wraps the attribution rows.
func NewImportanceMatrix(values [][]float64) (*ImportanceMatrix, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("importance matrix: no rows")
	}
	nf := len(values[0])
	for i, row := range values {
		if len(row) != nf {
			return nil, fmt.Errorf("importance matrix: row %d has %d columns, want %d", i, len(row), nf)
		}
	}
	return &ImportanceMatrix{Values: values, nf: nf}, nil
}

// NumFeatures returns the attribution column count.
func (m *ImportanceMatrix) NumFeatures() int { return m.nf }

// MeanAbs returns per-feature mean absolute attribution over the given
// sample rows (all rows when rows is nil).
func (m *ImportanceMatrix) MeanAbs(rows []int) []float64 {
	return m.reduce(rows, func(acc, v float64) float64 {
		if v < 0 {
			v = -v
		}
		return acc + v
	})
}

// Mean returns per-feature signed mean attribution over the given rows.
func (m *ImportanceMatrix) Mean(rows []int) []float64 {
	return m.reduce(rows, func(acc, v float64) float64 { return acc + v })
}

// SignAgreement returns, per feature, the fraction of the given rows
// whose attribution sign matches the majority sign. Zero attributions
// count toward neither side.
func (m *ImportanceMatrix) SignAgreement(rows []int) []float64 {
	n, iter := m.rowIter(rows)
	pos := make([]float64, m.nf)
	neg := make([]float64, m.nf)
	iter(func(row []float64) {
		for j, v := range row {
			switch {
			case v > 0:
				pos[j]++
			case v < 0:
				neg[j]++
			}
		}
	})
	out := make([]float64, m.nf)
	for j := range out {
		major := pos[j]
		if neg[j] > major {
			major = neg[j]
		}
		out[j] = major / float64(n)
	}
	return out
}

func (m *ImportanceMatrix) reduce(rows []int, f func(acc, v float64) float64) []float64 {
	n, iter := m.rowIter(rows)
	out := make([]float64, m.nf)
	iter(func(row []float64) {
		for j, v := range row {
			out[j] = f(out[j], v)
		}
	})
	for j := range out {
		out[j] /= float64(n)
	}
	return out
}

func (m *ImportanceMatrix) rowIter(rows []int) (int, func(func([]float64))) {
	if rows == nil {
		return len(m.Values), func(visit func([]float64)) {
			for _, row := range m.Values {
				visit(row)
			}
		}
	}
	return len(rows), func(visit func([]float64)) {
		for _, i := range rows {
			visit(m.Values[i])
		}
	}
}

// Explainer produces an attribution matrix for a trained model over a
// feature matrix. Implementations must not mutate x.
type Explainer interface {
	Explain(ctx context.Context, m model.Model, x [][]float64) (*ImportanceMatrix, error)
}

// Occlusion attributes each feature as the prediction drop when that
// feature is replaced by a baseline value (typically the benign
// median): attribution = score(x) - score(x with feature masked).
type Occlusion struct {
	Baseline []float64
}

// Explain computes occlusion attributions. One batched Predict call per
// feature keeps collaborator round-trips at O(features), not O(cells).
func (o *Occlusion) Explain(ctx context.Context, m model.Model, x [][]float64) (*ImportanceMatrix, error) {
	if len(x) == 0 {
		return nil, fmt.Errorf("occlusion: no samples")
	}
	nf := len(x[0])
	if len(o.Baseline) != nf {
		return nil, fmt.Errorf("occlusion: baseline has %d features, want %d", len(o.Baseline), nf)
	}

	base := m.Predict(x)
	values := make([][]float64, len(x))
	for i := range values {
		values[i] = make([]float64, nf)
	}

	masked := make([][]float64, len(x))
	for i := range masked {
		masked[i] = make([]float64, nf)
	}
	for j := 0; j < nf; j++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for i, row := range x {
			copy(masked[i], row)
			masked[i][j] = o.Baseline[j]
		}
		occluded := m.Predict(masked)
		for i := range x {
			values[i][j] = base[i] - occluded[i]
		}
	}
	return NewImportanceMatrix(values)
}
