// Package config handles loading, validating, and defaulting attack
// sweep configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Split constants naming which dataset the explanation step runs on.
const (
	SplitTrain = "train"
	SplitTest  = "test"
)

// Target constants for the candidate feature pool.
const (
	TargetAll      = "all"
	TargetFeasible = "feasible"
)

// Logging defaults.
const (
	DefaultLogFormat = "json"
	DefaultLogLevel  = "info"
)

// ConfigError reports a configuration field that failed validation.
// The sweep aborts before any unit runs when one is returned.
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Msg)
}

// Logging configures structured run logging.
type Logging struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // json, console
	Output string `json:"output" yaml:"output"` // stdout, stderr, or a file path
}

// Config is the top-level sweep configuration. The grid fields
// (poison_size, watermark_size, feature_selection, value_selection)
// expand to their cross product; each combination runs as one unit
// per iteration.
type Config struct {
	Model            string    `json:"model" yaml:"model"`
	Dataset          string    `json:"dataset" yaml:"dataset"`
	TestDataset      string    `json:"test_dataset" yaml:"test_dataset"`
	PoisonSizes      []float64 `json:"poison_size" yaml:"poison_size"`
	WatermarkSizes   []int     `json:"watermark_size" yaml:"watermark_size"`
	TargetFeatures   string    `json:"target_features" yaml:"target_features"`
	FeatureSelection []string  `json:"feature_selection" yaml:"feature_selection"`
	ValueSelection   []string  `json:"value_selection" yaml:"value_selection"`
	Iterations       int       `json:"iterations" yaml:"iterations"`
	KPerc            float64   `json:"k_perc" yaml:"k_perc"`
	KData            string    `json:"k_data" yaml:"k_data"`
	Save             string    `json:"save" yaml:"save"`
	ResultsDB        string    `json:"results_db" yaml:"results_db"`
	Defense          bool      `json:"defense" yaml:"defense"`
	Contamination    float64   `json:"contamination" yaml:"contamination"`
	Seed             uint64    `json:"seed" yaml:"seed"`
	Workers          int       `json:"workers" yaml:"workers"`
	MetricsListen    string    `json:"metrics_listen" yaml:"metrics_listen"`
	Logging          Logging   `json:"logging" yaml:"logging"`
}

// Load reads, parses, defaults, and validates a sweep config file.
// JSON is the canonical encoding; files ending in .yaml or .yml are
// parsed as YAML instead.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path from caller
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := &Config{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	cfg.ApplyDefaults()

	// Resolve file paths relative to the config file directory.
	dir := filepath.Dir(path)
	for _, p := range []*string{&cfg.Dataset, &cfg.TestDataset, &cfg.Save, &cfg.ResultsDB} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(dir, *p)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) ApplyDefaults() {
	if len(c.PoisonSizes) == 0 {
		c.PoisonSizes = []float64{0.01}
	}
	if len(c.WatermarkSizes) == 0 {
		c.WatermarkSizes = []int{8}
	}
	if c.TargetFeatures == "" {
		c.TargetFeatures = TargetAll
	}
	if len(c.FeatureSelection) == 0 {
		c.FeatureSelection = []string{"combined"}
	}
	if len(c.ValueSelection) == 0 {
		c.ValueSelection = []string{"combined"}
	}
	if c.Iterations <= 0 {
		c.Iterations = 1
	}
	if c.KPerc <= 0 {
		c.KPerc = 1.0
	}
	if c.KData == "" {
		c.KData = SplitTrain
	}
	if c.Defense && c.Contamination <= 0 {
		// Flag as much as the largest configured poison budget.
		for _, p := range c.PoisonSizes {
			if p > c.Contamination {
				c.Contamination = p
			}
		}
	}
	if c.Seed == 0 {
		c.Seed = 1
	}
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stderr"
	}
}

// Validate checks the config for errors. Must be called after
// ApplyDefaults. Strategy and model names are checked against their
// registries by the sweep runner, not here.
func (c *Config) Validate() error {
	if c.Model == "" {
		return &ConfigError{Field: "model", Msg: "required"}
	}
	if c.Dataset == "" {
		return &ConfigError{Field: "dataset", Msg: "required"}
	}
	for _, p := range c.PoisonSizes {
		if p < 0 || p > 1 {
			return &ConfigError{Field: "poison_size", Msg: fmt.Sprintf("%v outside [0, 1]", p)}
		}
	}
	for _, w := range c.WatermarkSizes {
		if w < 0 {
			return &ConfigError{Field: "watermark_size", Msg: fmt.Sprintf("%d is negative", w)}
		}
	}
	switch c.TargetFeatures {
	case TargetAll, TargetFeasible:
	default:
		return &ConfigError{Field: "target_features", Msg: fmt.Sprintf("%q: must be all or feasible", c.TargetFeatures)}
	}
	for _, s := range c.FeatureSelection {
		if s == "" {
			return &ConfigError{Field: "feature_selection", Msg: "empty strategy name"}
		}
	}
	for _, s := range c.ValueSelection {
		if s == "" {
			return &ConfigError{Field: "value_selection", Msg: "empty strategy name"}
		}
	}
	if c.KPerc <= 0 || c.KPerc > 1 {
		return &ConfigError{Field: "k_perc", Msg: fmt.Sprintf("%v outside (0, 1]", c.KPerc)}
	}
	switch c.KData {
	case SplitTrain, SplitTest:
	default:
		return &ConfigError{Field: "k_data", Msg: fmt.Sprintf("%q: must be train or test", c.KData)}
	}
	if c.KData == SplitTest && c.TestDataset == "" {
		return &ConfigError{Field: "test_dataset", Msg: "required when k_data is test"}
	}
	if c.Defense {
		if c.Contamination <= 0 || c.Contamination >= 1 {
			return &ConfigError{Field: "contamination", Msg: fmt.Sprintf("%v outside (0, 1)", c.Contamination)}
		}
		if c.Save == "" {
			return &ConfigError{Field: "save", Msg: "required when defense is enabled"}
		}
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return &ConfigError{Field: "logging.level", Msg: fmt.Sprintf("%q: must be debug, info, warn, or error", c.Logging.Level)}
	}
	switch c.Logging.Format {
	case DefaultLogFormat, "console":
	default:
		return &ConfigError{Field: "logging.format", Msg: fmt.Sprintf("%q: must be json or console", c.Logging.Format)}
	}
	return nil
}

// Units returns the number of attack units the grid expands to.
func (c *Config) Units() int {
	return len(c.PoisonSizes) * len(c.WatermarkSizes) *
		len(c.FeatureSelection) * len(c.ValueSelection) * c.Iterations
}

// Defaults returns a Config with defaults applied, for use as a
// starting point when no config file exists.
func Defaults() *Config {
	cfg := &Config{
		Model:   "boost",
		Dataset: "train.csv",
	}
	cfg.ApplyDefaults()
	return cfg
}
