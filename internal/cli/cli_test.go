package cli

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/poisonlab/poisonbench/internal/dataset"
	"github.com/poisonlab/poisonbench/internal/defense"
	"github.com/poisonlab/poisonbench/internal/poison"
	"github.com/poisonlab/poisonbench/internal/trigger"
)

// writeFixtureData generates a separable two-cluster CSV for command
// tests: benign near the origin, malicious near (5,...,5).
func writeFixtureData(t *testing.T, dir string) string {
	t.Helper()
	rng := rand.New(rand.NewPCG(3, 3))
	x := make([][]float64, 0, 200)
	y := make([]dataset.Label, 0, 200)
	for i := 0; i < 100; i++ {
		x = append(x, []float64{rng.Float64(), rng.Float64(), rng.Float64(), rng.Float64()})
		y = append(y, dataset.Benign)
	}
	for i := 0; i < 100; i++ {
		x = append(x, []float64{5 + rng.Float64(), 5 + rng.Float64(), 5 + rng.Float64(), 5 + rng.Float64()})
		y = append(y, dataset.Malicious)
	}
	ds, err := dataset.New(x, y)
	if err != nil {
		t.Fatalf("dataset.New: %v", err)
	}
	path := filepath.Join(dir, "train.csv")
	if err := dataset.SaveCSV(ds, path); err != nil {
		t.Fatalf("SaveCSV: %v", err)
	}
	return path
}

func writeFixtureConfig(t *testing.T, dir, dataPath string) string {
	t.Helper()
	body := fmt.Sprintf(`{
  "model": "linear",
  "dataset": %q,
  "poison_size": [0.2],
  "watermark_size": [4],
  "feature_selection": ["random"],
  "value_selection": ["min"],
  "workers": 1,
  "seed": 7,
  "logging": {"output": "stderr", "level": "error"}
}`, dataPath)
	path := filepath.Join(dir, "attack.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRootCmd_Version(t *testing.T) {
	cmd := rootCmd()
	cmd.SetArgs([]string{"--version"})

	buf := &strings.Builder{}
	cmd.SetOut(buf)

	if err := cmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(buf.String(), Version) {
		t.Errorf("expected version output to contain %q, got %q", Version, buf.String())
	}
}

func TestRootCmd_Help(t *testing.T) {
	cmd := rootCmd()
	cmd.SetArgs([]string{"--help"})

	buf := &strings.Builder{}
	cmd.SetOut(buf)

	if err := cmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := buf.String()
	for _, sub := range []string{"attack", "trigger", "fixed", "defend", "check"} {
		if !strings.Contains(output, sub) {
			t.Errorf("expected help output to list %q command", sub)
		}
	}
}

func TestVersionCmd(t *testing.T) {
	cmd := versionCmd()

	buf := &strings.Builder{}
	cmd.SetOut(buf)
	cmd.Run(cmd, nil)

	output := buf.String()
	if !strings.Contains(output, "poisonbench version") {
		t.Errorf("expected 'poisonbench version' in output, got: %s", output)
	}
	if !strings.Contains(output, "go version:") {
		t.Errorf("expected 'go version:' in output, got: %s", output)
	}
}

func TestCheckCmd_ValidConfig(t *testing.T) {
	dir := t.TempDir()
	dataPath := writeFixtureData(t, dir)
	cfgPath := writeFixtureConfig(t, dir, dataPath)

	cmd := rootCmd()
	cmd.SetArgs([]string{"check", "--config", cfgPath})

	buf := &strings.Builder{}
	cmd.SetOut(buf)

	if err := cmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := buf.String()
	if !strings.Contains(output, "Config validation: OK") {
		t.Errorf("expected validation OK, got: %s", output)
	}
	if !strings.Contains(output, "200 samples, 4 features") {
		t.Errorf("expected dataset summary in output, got: %s", output)
	}
}

func TestCheckCmd_UnknownModel(t *testing.T) {
	dir := t.TempDir()
	dataPath := writeFixtureData(t, dir)
	body := fmt.Sprintf(`{"model": "svm", "dataset": %q}`, dataPath)
	cfgPath := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(cfgPath, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cmd := rootCmd()
	cmd.SetArgs([]string{"check", "--config", cfgPath})
	cmd.SetOut(&strings.Builder{})

	if err := cmd.Execute(); err == nil {
		t.Fatal("expected error for unknown model")
	}
}

func TestCheckCmd_MissingConfigFlag(t *testing.T) {
	cmd := rootCmd()
	cmd.SetArgs([]string{"check"})
	cmd.SetOut(&strings.Builder{})
	cmd.SetErr(&strings.Builder{})

	if err := cmd.Execute(); err == nil {
		t.Fatal("expected error when --config is missing")
	}
}

func TestTriggerCmd_WritesFiles(t *testing.T) {
	dir := t.TempDir()
	dataPath := writeFixtureData(t, dir)
	cfgPath := writeFixtureConfig(t, dir, dataPath)
	outDir := filepath.Join(dir, "triggers")

	cmd := rootCmd()
	cmd.SetArgs([]string{"trigger", "--config", cfgPath, "--out", outDir})

	buf := &strings.Builder{}
	cmd.SetOut(buf)

	if err := cmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := filepath.Join(outDir, "trigger_random_min_4.json")
	if _, err := os.Stat(want); err != nil {
		t.Fatalf("expected trigger file at %s: %v", want, err)
	}
	if !strings.Contains(buf.String(), "4 features") {
		t.Errorf("expected feature count in output, got: %s", buf.String())
	}
}

func TestFixedCmd_RunsWithTriggerFile(t *testing.T) {
	dir := t.TempDir()
	dataPath := writeFixtureData(t, dir)
	cfgPath := writeFixtureConfig(t, dir, dataPath)

	tr, err := trigger.Build([]int{0, 1}, []float64{0, 0})
	if err != nil {
		t.Fatalf("trigger.Build: %v", err)
	}
	data, err := json.MarshalIndent(tr, "", "  ")
	if err != nil {
		t.Fatal(err)
	}
	trPath := filepath.Join(dir, "trigger.json")
	if err := os.WriteFile(trPath, data, 0o600); err != nil {
		t.Fatal(err)
	}

	cmd := rootCmd()
	cmd.SetArgs([]string{"fixed", "--config", cfgPath, "--trigger", trPath})

	buf := &strings.Builder{}
	cmd.SetOut(buf)

	if err := cmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), "1 completed, 0 failed") {
		t.Errorf("expected a completed sweep summary, got: %s", buf.String())
	}
}

func TestDefendCmd_ReportsAllDetectors(t *testing.T) {
	dir := t.TempDir()
	dataPath := writeFixtureData(t, dir)

	ds, err := dataset.LoadCSV(dataPath)
	if err != nil {
		t.Fatal(err)
	}
	mask := make(poison.Mask, ds.Len())
	for i := 0; i < 10; i++ {
		mask[i] = true
	}
	maskPath := filepath.Join(dir, "poison_mask.json")
	if err := mask.SaveJSON(maskPath); err != nil {
		t.Fatal(err)
	}

	cmd := rootCmd()
	cmd.SetArgs([]string{"defend", "--data", dataPath, "--mask", maskPath, "--contamination", "0.1"})

	buf := &strings.Builder{}
	cmd.SetOut(buf)

	if err := cmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var reports []defense.Report
	if err := json.Unmarshal([]byte(buf.String()), &reports); err != nil {
		t.Fatalf("decoding reports: %v\noutput: %s", err, buf.String())
	}
	if len(reports) != 3 {
		t.Fatalf("expected 3 detector reports, got %d", len(reports))
	}
	for _, r := range reports {
		if r.Detector == "" {
			t.Error("expected detector name in report")
		}
	}
}
