// Package trigger synthesizes backdoor triggers: a fixed set of
// (feature, value) overwrites chosen from model explanations and
// reference population statistics.
package trigger

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// Entry is one feature overwrite.
type Entry struct {
	Feature int     `json:"feature"`
	Value   float64 `json:"value"`
}

// Trigger is an immutable, applicable set of feature overwrites with
// distinct feature indices.
type Trigger struct {
	entries []Entry
}

// Build validates and assembles a trigger from parallel feature and
// value slices. Indices must be distinct and non-negative.
func Build(features []int, values []float64) (*Trigger, error) {
	if len(features) != len(values) {
		return nil, fmt.Errorf("trigger: %d features but %d values", len(features), len(values))
	}
	seen := make(map[int]struct{}, len(features))
	entries := make([]Entry, len(features))
	for i, f := range features {
		if f < 0 {
			return nil, fmt.Errorf("trigger: negative feature index %d", f)
		}
		if _, dup := seen[f]; dup {
			return nil, fmt.Errorf("trigger: duplicate feature index %d", f)
		}
		seen[f] = struct{}{}
		entries[i] = Entry{Feature: f, Value: values[i]}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Feature < entries[j].Feature })
	return &Trigger{entries: entries}, nil
}

// Size returns the number of overwrites (the watermark size).
func (t *Trigger) Size() int { return len(t.entries) }

// Entries returns a copy of the overwrite list.
func (t *Trigger) Entries() []Entry {
	return append([]Entry(nil), t.entries...)
}

// Apply overwrites exactly the trigger's feature indices in place.
// Applying twice yields the same vector as applying once.
func (t *Trigger) Apply(features []float64) {
	for _, e := range t.entries {
		features[e.Feature] = e.Value
	}
}

// ApplyCopy returns a watermarked copy, leaving src untouched.
func (t *Trigger) ApplyCopy(src []float64) []float64 {
	out := append([]float64(nil), src...)
	t.Apply(out)
	return out
}

// MaxFeature returns the largest feature index, or -1 when empty.
func (t *Trigger) MaxFeature() int {
	if len(t.entries) == 0 {
		return -1
	}
	return t.entries[len(t.entries)-1].Feature
}

// MarshalJSON encodes the trigger as its entry list.
func (t *Trigger) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.entries)
}

// UnmarshalJSON decodes and re-validates an entry list.
func (t *Trigger) UnmarshalJSON(data []byte) error {
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	features := make([]int, len(entries))
	values := make([]float64, len(entries))
	for i, e := range entries {
		features[i] = e.Feature
		values[i] = e.Value
	}
	built, err := Build(features, values)
	if err != nil {
		return err
	}
	*t = *built
	return nil
}

// LoadJSON reads a persisted trigger file.
func LoadJSON(path string) (*Trigger, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path from caller
	if err != nil {
		return nil, fmt.Errorf("reading trigger %s: %w", path, err)
	}
	t := &Trigger{}
	if err := json.Unmarshal(data, t); err != nil {
		return nil, fmt.Errorf("parsing trigger %s: %w", path, err)
	}
	return t, nil
}
