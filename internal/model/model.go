// Package model defines the classifier collaborator interface and a
// name-keyed registry. Heavyweight backends (LightGBM bindings, neural
// nets) register through the same registry; the built-in reference
// models keep the pipeline runnable and testable in-process.
package model

import (
	"fmt"
	"sort"
	"sync"
)

// Model is the classifier contract. Predict returns a malicious-class
// score in [0, 1] per row; scores >= 0.5 classify as malicious.
type Model interface {
	Train(x [][]float64, y []int) error
	Predict(x [][]float64) []float64
}

// TrainError reports a failed training run. Sweep units catch it, mark
// the unit failed, and continue.
type TrainError struct {
	Name string
	Err  error
}

func (e *TrainError) Error() string {
	return fmt.Sprintf("training %s: %v", e.Name, e.Err)
}

func (e *TrainError) Unwrap() error { return e.Err }

var (
	registryMu sync.RWMutex
	registry   = map[string]func() Model{}
)

// Register adds a model constructor under a name. Later registrations
// under the same name win, so callers can shadow the reference models.
func Register(name string, fn func() Model) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = fn
}

// New constructs a fresh, untrained model by name.
func New(name string) (Model, error) {
	registryMu.RLock()
	fn, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown model %q (known: %v)", name, Names())
	}
	return fn(), nil
}

// Names lists registered model names, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Accuracy is the fraction of rows whose thresholded score matches y.
func Accuracy(m Model, x [][]float64, y []int) float64 {
	if len(x) == 0 {
		return 0
	}
	scores := m.Predict(x)
	correct := 0
	for i, s := range scores {
		pred := 0
		if s >= 0.5 {
			pred = 1
		}
		if pred == y[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(x))
}

// Rates returns the false-positive and false-negative rates of the
// thresholded scores against y.
func Rates(m Model, x [][]float64, y []int) (fpr, fnr float64) {
	scores := m.Predict(x)
	var fp, fn, pos, neg int
	for i, s := range scores {
		pred := 0
		if s >= 0.5 {
			pred = 1
		}
		switch y[i] {
		case 1:
			pos++
			if pred == 0 {
				fn++
			}
		default:
			neg++
			if pred == 1 {
				fp++
			}
		}
	}
	if neg > 0 {
		fpr = float64(fp) / float64(neg)
	}
	if pos > 0 {
		fnr = float64(fn) / float64(pos)
	}
	return fpr, fnr
}

func init() {
	Register("centroid", func() Model { return &Centroid{} })
	Register("linear", func() Model { return NewLinear() })
	Register("boost", func() Model { return NewBoost() })
}
