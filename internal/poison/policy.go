package poison

import (
	"fmt"

	"github.com/poisonlab/poisonbench/internal/trigger"
)

// Policy produces the poisoned feature vector for one sample. The
// returned slice must not alias the input.
type Policy interface {
	Poison(features []float64, tr *trigger.Trigger) ([]float64, error)
}

// NumericPolicy overwrites trigger features directly on the numeric
// vector. It cannot fail.
type NumericPolicy struct{}

// Poison applies the trigger to a copy of the vector.
func (NumericPolicy) Poison(features []float64, tr *trigger.Trigger) ([]float64, error) {
	return tr.ApplyCopy(features), nil
}

// FormatMutator is the file-format collaborator for byte-level
// poisoning: it rebuilds a raw artifact so its extracted features carry
// the trigger, and reports whether the mutated artifact stayed valid.
type FormatMutator interface {
	Mutate(features []float64, tr *trigger.Trigger) ([]float64, error)
	Valid(features []float64) bool
}

// ByteLevelPolicy delegates to a FormatMutator and, when the mutated
// artifact comes back invalid, retries with alternate triggers drawn
// from NextTrigger, up to Retries times.
type ByteLevelPolicy struct {
	Mutator     FormatMutator
	Retries     int
	NextTrigger func() (*trigger.Trigger, error)
}

// Poison mutates the sample, retrying with alternate triggers while the
// mutated artifact is invalid.
func (p *ByteLevelPolicy) Poison(features []float64, tr *trigger.Trigger) ([]float64, error) {
	current := tr
	for attempt := 0; ; attempt++ {
		mutated, err := p.Mutator.Mutate(features, current)
		if err != nil {
			return nil, fmt.Errorf("format mutation: %w", err)
		}
		if p.Mutator.Valid(mutated) {
			return mutated, nil
		}
		if attempt >= p.Retries {
			return nil, fmt.Errorf("format mutation: artifact invalid after %d attempts", attempt+1)
		}
		if p.NextTrigger == nil {
			return nil, fmt.Errorf("format mutation: artifact invalid and no alternate trigger source")
		}
		current, err = p.NextTrigger()
		if err != nil {
			return nil, fmt.Errorf("format mutation: alternate trigger: %w", err)
		}
	}
}
