package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/poisonlab/poisonbench/internal/dataset"
	"github.com/poisonlab/poisonbench/internal/poison"
	"github.com/poisonlab/poisonbench/internal/trigger"
)

func TestWriteTrigger_RoundTrip(t *testing.T) {
	d := NewDir(t.TempDir())
	tr, err := trigger.Build([]int{3, 1}, []float64{0.5, 2})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	path, err := d.WriteTrigger("run-1", "boost/combined/min/0.05/8/0", tr)
	if err != nil {
		t.Fatalf("WriteTrigger: %v", err)
	}
	loaded, err := trigger.LoadJSON(path)
	if err != nil {
		t.Fatalf("LoadJSON: %v", err)
	}
	if loaded.Size() != 2 {
		t.Errorf("loaded trigger size: got %d, want 2", loaded.Size())
	}
}

func TestUnitDir_SanitizesKey(t *testing.T) {
	d := NewDir(t.TempDir())
	dir, err := d.UnitDir("run-1", "boost/combined/min/0.05/8/0")
	if err != nil {
		t.Fatalf("UnitDir: %v", err)
	}
	if filepath.Base(dir) != "boost_combined_min_0.05_8_0" {
		t.Errorf("unit key not flattened: %q", dir)
	}
	if filepath.Base(filepath.Dir(dir)) != "run-1" {
		t.Errorf("run directory missing: %q", dir)
	}
}

func TestWriteMask_RoundTrip(t *testing.T) {
	d := NewDir(t.TempDir())
	mask := poison.Mask{false, true, false, true}
	path, err := d.WriteMask("run-1", "u", mask)
	if err != nil {
		t.Fatalf("WriteMask: %v", err)
	}
	loaded, err := poison.LoadMask(path)
	if err != nil {
		t.Fatalf("LoadMask: %v", err)
	}
	if loaded.Count() != 2 || !loaded[1] || !loaded[3] {
		t.Errorf("loaded mask mismatch: %v", loaded)
	}
}

func TestWriteDataset_RoundTrip(t *testing.T) {
	d := NewDir(t.TempDir())
	ds, err := dataset.New([][]float64{{1, 2}, {3, 4}}, []dataset.Label{dataset.Benign, dataset.Malicious})
	if err != nil {
		t.Fatalf("dataset.New: %v", err)
	}
	path, err := d.WriteDataset("run-1", "u", PoisonedFile, ds)
	if err != nil {
		t.Fatalf("WriteDataset: %v", err)
	}
	loaded, err := dataset.LoadCSV(path)
	if err != nil {
		t.Fatalf("LoadCSV: %v", err)
	}
	if loaded.Len() != 2 || loaded.NumFeatures != 2 {
		t.Errorf("loaded dataset shape: %d x %d", loaded.Len(), loaded.NumFeatures)
	}
}

func TestWrite_RetriesThenFails(t *testing.T) {
	d := NewDir(t.TempDir())
	dir, err := d.UnitDir("run-1", "u")
	if err != nil {
		t.Fatalf("UnitDir: %v", err)
	}
	// A directory where the file should go makes every write fail.
	if err := os.Mkdir(filepath.Join(dir, TriggerFile), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	retries := 0
	d.OnRetry = func(string, error) { retries++ }

	tr, err := trigger.Build([]int{0}, []float64{1})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	_, err = d.WriteTrigger("run-1", "u", tr)
	if err == nil {
		t.Fatal("expected write failure")
	}
	var aioe *ArtifactIOError
	if !errors.As(err, &aioe) {
		t.Fatalf("want *ArtifactIOError, got %T: %v", err, err)
	}
	if retries != 1 {
		t.Errorf("retry hook fired %d times, want 1", retries)
	}
}
