package dataset

import (
	"fmt"
	"sort"
)

// FeatureStats summarizes one feature column over a reference population.
type FeatureStats struct {
	Min    float64
	Max    float64
	Median float64
	Mode   float64
	Kind   FeatureKind
	Count  int
}

// Stats holds per-feature reference statistics. Computed once per sweep
// and shared read-only across units.
type Stats struct {
	Features []FeatureStats
	// Global carries whole-population statistics, the fallback when a
	// class-restricted population is empty for a feature.
	Global []FeatureStats
}

// BuildStats computes reference statistics for the given class, with
// whole-population fallbacks. Follows the benign-reference convention:
// trigger values are drawn from benign-typical ranges.
func BuildStats(d *Dataset, ref Label) (*Stats, error) {
	refRows := d.ClassMatrix(ref)
	allRows := d.Matrix()
	if len(allRows) == 0 {
		return nil, fmt.Errorf("dataset: no samples for statistics")
	}
	kinds := d.FeatureKinds()

	global, err := columnStats(allRows, d.NumFeatures, kinds)
	if err != nil {
		return nil, err
	}
	s := &Stats{Global: global}
	if len(refRows) == 0 {
		// Empty reference class: every feature falls back to global.
		s.Features = make([]FeatureStats, d.NumFeatures)
		return s, nil
	}
	feats, err := columnStats(refRows, d.NumFeatures, kinds)
	if err != nil {
		return nil, err
	}
	s.Features = feats
	return s, nil
}

// For returns the stats for one feature, falling back to the global
// population when the reference population was empty. The second return
// reports whether a fallback occurred.
func (s *Stats) For(feature int) (FeatureStats, bool) {
	fs := s.Features[feature]
	if fs.Count == 0 {
		return s.Global[feature], true
	}
	return fs, false
}

// Clip bounds a candidate value to the feature's native domain:
// snapped to {0,1} for binary features, clamped to [min,max] otherwise.
func (s *Stats) Clip(feature int, v float64) float64 {
	fs, _ := s.For(feature)
	if fs.Kind == Binary {
		if v >= 0.5 {
			return 1
		}
		return 0
	}
	if v < fs.Min {
		return fs.Min
	}
	if v > fs.Max {
		return fs.Max
	}
	return v
}

func columnStats(rows [][]float64, nf int, kinds []FeatureKind) ([]FeatureStats, error) {
	out := make([]FeatureStats, nf)
	col := make([]float64, 0, len(rows))
	for j := 0; j < nf; j++ {
		col = col[:0]
		for _, r := range rows {
			if len(r) != nf {
				return nil, fmt.Errorf("dataset: ragged row with %d features, want %d", len(r), nf)
			}
			col = append(col, r[j])
		}
		out[j] = summarize(col, kinds[j])
	}
	return out, nil
}

func summarize(col []float64, kind FeatureKind) FeatureStats {
	fs := FeatureStats{Kind: kind, Count: len(col)}
	if len(col) == 0 {
		return fs
	}
	sorted := append([]float64(nil), col...)
	sort.Float64s(sorted)
	fs.Min = sorted[0]
	fs.Max = sorted[len(sorted)-1]
	fs.Median = median(sorted)
	fs.Mode = mode(sorted)
	return fs
}

// median expects sorted input.
func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// mode expects sorted input; ties break toward the smaller value.
func mode(sorted []float64) float64 {
	best := sorted[0]
	bestRun := 1
	run := 1
	for i := 1; i < len(sorted); i++ {
		if sorted[i] == sorted[i-1] {
			run++
		} else {
			run = 1
		}
		if run > bestRun {
			bestRun = run
			best = sorted[i]
		}
	}
	return best
}
