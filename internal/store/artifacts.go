package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/poisonlab/poisonbench/internal/dataset"
	"github.com/poisonlab/poisonbench/internal/poison"
	"github.com/poisonlab/poisonbench/internal/trigger"
)

// ArtifactIOError reports a persistent artifact write failure after
// the single retry was exhausted. The owning unit fails; the sweep
// continues.
type ArtifactIOError struct {
	Path string
	Err  error
}

func (e *ArtifactIOError) Error() string {
	return fmt.Sprintf("artifact %s: %v", e.Path, e.Err)
}

func (e *ArtifactIOError) Unwrap() error { return e.Err }

// Artifact file names inside a unit directory.
const (
	TriggerFile    = "trigger.json"
	MaskFile       = "poison_mask.json"
	PoisonedFile   = "watermarked_train.csv"
	BackdooredFile = "backdoored_test.csv"
)

// Dir lays out per-unit artifact directories under a root:
// root/<run-id>/<unit-key>/. Writes are retried once before failing.
type Dir struct {
	Root string

	// OnRetry, when set, is called before the second write attempt.
	OnRetry func(path string, err error)
}

// NewDir returns an artifact layout rooted at root.
func NewDir(root string) *Dir {
	return &Dir{Root: root}
}

// UnitDir returns (and creates) the directory for one unit's
// artifacts. Slashes in the unit key become underscores so the key
// maps to a single path element.
func (d *Dir) UnitDir(runID, unitKey string) (string, error) {
	dir := filepath.Join(d.Root, runID, sanitizeKey(unitKey))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", &ArtifactIOError{Path: dir, Err: err}
	}
	return dir, nil
}

// WriteTrigger persists the unit's trigger definition.
func (d *Dir) WriteTrigger(runID, unitKey string, tr *trigger.Trigger) (string, error) {
	dir, err := d.UnitDir(runID, unitKey)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, TriggerFile)
	data, err := json.MarshalIndent(tr, "", "  ")
	if err != nil {
		return "", &ArtifactIOError{Path: path, Err: err}
	}
	return path, d.writeFile(path, data)
}

// WriteMask persists the ground-truth poison mask.
func (d *Dir) WriteMask(runID, unitKey string, mask poison.Mask) (string, error) {
	dir, err := d.UnitDir(runID, unitKey)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, MaskFile)
	data, err := json.Marshal(mask)
	if err != nil {
		return "", &ArtifactIOError{Path: path, Err: err}
	}
	return path, d.writeFile(path, data)
}

// WriteDataset persists a dataset matrix under the given file name.
func (d *Dir) WriteDataset(runID, unitKey, name string, ds *dataset.Dataset) (string, error) {
	dir, err := d.UnitDir(runID, unitKey)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, name)
	if err := dataset.SaveCSV(ds, path); err != nil {
		if d.OnRetry != nil {
			d.OnRetry(path, err)
		}
		if err = dataset.SaveCSV(ds, path); err != nil {
			return "", &ArtifactIOError{Path: path, Err: err}
		}
	}
	return path, nil
}

// writeFile writes data, retrying once on failure.
func (d *Dir) writeFile(path string, data []byte) error {
	err := os.WriteFile(path, data, 0o600)
	if err == nil {
		return nil
	}
	if d.OnRetry != nil {
		d.OnRetry(path, err)
	}
	if err = os.WriteFile(path, data, 0o600); err != nil {
		return &ArtifactIOError{Path: path, Err: err}
	}
	return nil
}

func sanitizeKey(key string) string {
	return strings.NewReplacer("/", "_", string(filepath.Separator), "_").Replace(key)
}
