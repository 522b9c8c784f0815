// Package poison injects a trigger into a training set: a uniformly
// chosen subset of malicious samples is watermarked in place and
// relabeled benign, producing the backdoored set and its ground-truth
// mask.
package poison

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"

	"github.com/poisonlab/poisonbench/internal/dataset"
	"github.com/poisonlab/poisonbench/internal/trigger"
)

// Mask marks, per original training sample, whether it was poisoned.
// Ground truth for defense evaluation.
type Mask []bool

// Count returns the number of poisoned samples.
func (m Mask) Count() int {
	n := 0
	for _, v := range m {
		if v {
			n++
		}
	}
	return n
}

// Indices returns the positions of poisoned samples, ascending.
func (m Mask) Indices() []int {
	var idx []int
	for i, v := range m {
		if v {
			idx = append(idx, i)
		}
	}
	return idx
}

// SaveJSON persists the mask.
func (m Mask) SaveJSON(path string) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing mask %s: %w", path, err)
	}
	return nil
}

// LoadMask reads a persisted mask.
func LoadMask(path string) (Mask, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path from caller
	if err != nil {
		return nil, fmt.Errorf("reading mask %s: %w", path, err)
	}
	var m Mask
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing mask %s: %w", path, err)
	}
	return m, nil
}

// Inject applies the trigger to floor(poisonSize*N) distinct malicious
// samples chosen uniformly with rng, flipping each label to benign.
// The dataset is copied, never mutated; its size is unchanged.
func Inject(ds *dataset.Dataset, tr *trigger.Trigger, poisonSize float64, policy Policy, rng *rand.Rand) (*dataset.Dataset, Mask, error) {
	if poisonSize < 0 || poisonSize > 1 {
		return nil, nil, fmt.Errorf("poison: size %v outside [0, 1]", poisonSize)
	}
	if mf := tr.MaxFeature(); mf >= ds.NumFeatures {
		return nil, nil, fmt.Errorf("poison: trigger feature %d exceeds schema of %d features", mf, ds.NumFeatures)
	}

	n := ds.Len()
	want := int(poisonSize * float64(n))
	mask := make(Mask, n)
	out := ds.Clone()
	// An empty trigger has nothing to implant; poisoning degenerates to
	// the clean dataset rather than bare label flips.
	if want == 0 || tr.Size() == 0 {
		return out, mask, nil
	}

	candidates := ds.ClassIndices(dataset.Malicious)
	if want > len(candidates) {
		return nil, nil, fmt.Errorf("poison: need %d candidates but only %d malicious samples", want, len(candidates))
	}

	perm := rng.Perm(len(candidates))
	for _, p := range perm[:want] {
		i := candidates[p]
		poisoned, err := policy.Poison(out.Samples[i].Features, tr)
		if err != nil {
			return nil, nil, fmt.Errorf("poison: sample %s: %w", out.Samples[i].ID, err)
		}
		out.Samples[i].Features = poisoned
		out.Samples[i].Label = dataset.Benign
		mask[i] = true
	}
	return out, mask, nil
}
