// Package dataset holds feature matrices, labels, and the reference
// statistics the attack and defense pipelines share.
package dataset

import (
	"fmt"
	"math/rand/v2"
)

// Label is the ground-truth class of a sample.
type Label int

// Class labels. The attack flips malicious samples to benign.
const (
	Benign    Label = 0
	Malicious Label = 1
)

// FeatureKind describes the native domain of a feature column.
type FeatureKind int

// Feature kinds inferred from the reference population.
const (
	Continuous FeatureKind = iota
	Binary
)

// Sample is one labeled feature vector. Features are owned by the
// Dataset holding the sample; poisoning copies, never aliases.
type Sample struct {
	ID       string
	Features []float64
	Label    Label
}

// Dataset is an ordered collection of samples over a fixed schema.
type Dataset struct {
	Samples     []Sample
	NumFeatures int
}

// New creates a dataset from a feature matrix and parallel labels.
func New(x [][]float64, y []Label) (*Dataset, error) {
	if len(x) != len(y) {
		return nil, fmt.Errorf("dataset: %d feature rows but %d labels", len(x), len(y))
	}
	if len(x) == 0 {
		return nil, fmt.Errorf("dataset: empty")
	}
	nf := len(x[0])
	ds := &Dataset{
		Samples:     make([]Sample, len(x)),
		NumFeatures: nf,
	}
	for i, row := range x {
		if len(row) != nf {
			return nil, fmt.Errorf("dataset: row %d has %d features, want %d", i, len(row), nf)
		}
		ds.Samples[i] = Sample{
			ID:       fmt.Sprintf("s%06d", i),
			Features: append([]float64(nil), row...),
			Label:    y[i],
		}
	}
	return ds, nil
}

// Len returns the number of samples.
func (d *Dataset) Len() int { return len(d.Samples) }

// Clone deep-copies the dataset so a sweep unit can mutate its own copy.
func (d *Dataset) Clone() *Dataset {
	out := &Dataset{
		Samples:     make([]Sample, len(d.Samples)),
		NumFeatures: d.NumFeatures,
	}
	for i, s := range d.Samples {
		out.Samples[i] = Sample{
			ID:       s.ID,
			Features: append([]float64(nil), s.Features...),
			Label:    s.Label,
		}
	}
	return out
}

// Matrix returns the feature rows. Rows alias the dataset's storage;
// callers that mutate must Clone first.
func (d *Dataset) Matrix() [][]float64 {
	x := make([][]float64, len(d.Samples))
	for i := range d.Samples {
		x[i] = d.Samples[i].Features
	}
	return x
}

// Labels returns the label column.
func (d *Dataset) Labels() []Label {
	y := make([]Label, len(d.Samples))
	for i := range d.Samples {
		y[i] = d.Samples[i].Label
	}
	return y
}

// LabelInts returns labels as ints for model collaborators.
func (d *Dataset) LabelInts() []int {
	y := make([]int, len(d.Samples))
	for i := range d.Samples {
		y[i] = int(d.Samples[i].Label)
	}
	return y
}

// ClassIndices returns the positions of all samples with the given label.
func (d *Dataset) ClassIndices(l Label) []int {
	var idx []int
	for i, s := range d.Samples {
		if s.Label == l {
			idx = append(idx, i)
		}
	}
	return idx
}

// ClassMatrix returns the feature rows of one class, aliasing storage.
func (d *Dataset) ClassMatrix(l Label) [][]float64 {
	var x [][]float64
	for i := range d.Samples {
		if d.Samples[i].Label == l {
			x = append(x, d.Samples[i].Features)
		}
	}
	return x
}

// Subsample returns a dataset with round(frac*N) samples drawn without
// replacement. frac = 1 returns a clone. Deterministic for a fixed rng.
func (d *Dataset) Subsample(frac float64, rng *rand.Rand) (*Dataset, error) {
	if frac <= 0 || frac > 1 {
		return nil, fmt.Errorf("dataset: subsample fraction %v outside (0, 1]", frac)
	}
	if frac == 1 {
		return d.Clone(), nil
	}
	n := int(float64(len(d.Samples))*frac + 0.5)
	if n < 1 {
		n = 1
	}
	perm := rng.Perm(len(d.Samples))
	out := &Dataset{
		Samples:     make([]Sample, 0, n),
		NumFeatures: d.NumFeatures,
	}
	for _, i := range perm[:n] {
		s := d.Samples[i]
		out.Samples = append(out.Samples, Sample{
			ID:       s.ID,
			Features: append([]float64(nil), s.Features...),
			Label:    s.Label,
		})
	}
	return out, nil
}

// FeatureKinds infers per-column kinds: Binary when every observed
// value is 0 or 1, Continuous otherwise.
func (d *Dataset) FeatureKinds() []FeatureKind {
	kinds := make([]FeatureKind, d.NumFeatures)
	for j := 0; j < d.NumFeatures; j++ {
		kinds[j] = Binary
		for i := range d.Samples {
			v := d.Samples[i].Features[j]
			if v != 0 && v != 1 {
				kinds[j] = Continuous
				break
			}
		}
	}
	return kinds
}
