// Package store persists sweep results to SQLite and lays out the
// per-unit artifact directory.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Schema for the append-only results database.
const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id          TEXT PRIMARY KEY,
    started_at  INTEGER NOT NULL,
    model       TEXT NOT NULL,
    dataset     TEXT NOT NULL,
    units       INTEGER NOT NULL,
    seed        INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS results (
    id                   INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id               TEXT NOT NULL REFERENCES runs(id),
    unit_key             TEXT NOT NULL,
    model                TEXT NOT NULL,
    feature_strategy     TEXT NOT NULL,
    value_strategy       TEXT NOT NULL,
    poison_size          REAL NOT NULL,
    watermark_size       INTEGER NOT NULL,
    iteration            INTEGER NOT NULL,
    poisoned_samples     INTEGER NOT NULL,
    attack_success_rate  REAL NOT NULL,
    clean_accuracy_delta REAL NOT NULL,
    baseline_accuracy    REAL NOT NULL,
    poisoned_accuracy    REAL NOT NULL,
    fallbacks            INTEGER NOT NULL DEFAULT 0,
    duration_ms          INTEGER NOT NULL,
    created_at           INTEGER NOT NULL,
    UNIQUE(run_id, unit_key)
);

CREATE INDEX IF NOT EXISTS idx_results_run ON results(run_id);

CREATE TABLE IF NOT EXISTS defense_reports (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id          TEXT NOT NULL REFERENCES runs(id),
    unit_key        TEXT NOT NULL,
    detector        TEXT NOT NULL,
    true_positive   INTEGER NOT NULL,
    false_positive  INTEGER NOT NULL,
    false_negative  INTEGER NOT NULL,
    flagged         INTEGER NOT NULL,
    precision       REAL NOT NULL,
    recall          REAL NOT NULL,
    f1              REAL NOT NULL,
    created_at      INTEGER NOT NULL,
    UNIQUE(run_id, unit_key, detector)
);

CREATE INDEX IF NOT EXISTS idx_defense_run ON defense_reports(run_id);
`

// Run identifies one sweep invocation.
type Run struct {
	ID        string
	StartedAt time.Time
	Model     string
	Dataset   string
	Units     int
	Seed      uint64
}

// Result is one completed attack unit's row. Writes go through a
// single goroutine in the sweep runner; the store itself does not
// serialize concurrent writers.
type Result struct {
	RunID           string
	UnitKey         string
	Model           string
	FeatureStrategy string
	ValueStrategy   string
	PoisonSize      float64
	WatermarkSize   int
	Iteration       int
	PoisonedSamples int
	AttackSuccess   float64
	CleanDelta      float64
	BaselineAcc     float64
	PoisonedAcc     float64
	Fallbacks       int
	Duration        time.Duration
}

// DefenseReport is one detector's scoring for a unit.
type DefenseReport struct {
	RunID         string
	UnitKey       string
	Detector      string
	TruePositive  int
	FalsePositive int
	FalseNegative int
	Flagged       int
	Precision     float64
	Recall        float64
	F1            float64
}

// Store wraps the SQLite results database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the results database at path and applies the
// schema.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening results db %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// BeginRun records a new sweep invocation.
func (s *Store) BeginRun(r Run) error {
	_, err := s.db.Exec(`
		INSERT INTO runs (id, started_at, model, dataset, units, seed)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.StartedAt.UnixNano(), r.Model, r.Dataset, r.Units, int64(r.Seed),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// InsertResult appends one unit result. The (run_id, unit_key) unique
// constraint rejects accidental double writes of the same unit.
func (s *Store) InsertResult(r Result) error {
	_, err := s.db.Exec(`
		INSERT INTO results (run_id, unit_key, model, feature_strategy, value_strategy,
			poison_size, watermark_size, iteration, poisoned_samples,
			attack_success_rate, clean_accuracy_delta, baseline_accuracy, poisoned_accuracy,
			fallbacks, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.UnitKey, r.Model, r.FeatureStrategy, r.ValueStrategy,
		r.PoisonSize, r.WatermarkSize, r.Iteration, r.PoisonedSamples,
		r.AttackSuccess, r.CleanDelta, r.BaselineAcc, r.PoisonedAcc,
		r.Fallbacks, r.Duration.Milliseconds(), time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

// InsertDefenseReport appends one detector report.
func (s *Store) InsertDefenseReport(r DefenseReport) error {
	_, err := s.db.Exec(`
		INSERT INTO defense_reports (run_id, unit_key, detector,
			true_positive, false_positive, false_negative, flagged,
			precision, recall, f1, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.UnitKey, r.Detector,
		r.TruePositive, r.FalsePositive, r.FalseNegative, r.Flagged,
		r.Precision, r.Recall, r.F1, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert defense report: %w", err)
	}
	return nil
}

// Results returns all result rows for a run, ordered by insertion.
func (s *Store) Results(runID string) ([]Result, error) {
	rows, err := s.db.Query(`
		SELECT run_id, unit_key, model, feature_strategy, value_strategy,
			poison_size, watermark_size, iteration, poisoned_samples,
			attack_success_rate, clean_accuracy_delta, baseline_accuracy, poisoned_accuracy,
			fallbacks, duration_ms
		FROM results WHERE run_id = ? ORDER BY id`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	var out []Result
	for rows.Next() {
		var r Result
		var ms int64
		if err := rows.Scan(&r.RunID, &r.UnitKey, &r.Model, &r.FeatureStrategy, &r.ValueStrategy,
			&r.PoisonSize, &r.WatermarkSize, &r.Iteration, &r.PoisonedSamples,
			&r.AttackSuccess, &r.CleanDelta, &r.BaselineAcc, &r.PoisonedAcc,
			&r.Fallbacks, &ms); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		r.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	return out, nil
}

// DefenseReports returns all detector reports for a run.
func (s *Store) DefenseReports(runID string) ([]DefenseReport, error) {
	rows, err := s.db.Query(`
		SELECT run_id, unit_key, detector, true_positive, false_positive,
			false_negative, flagged, precision, recall, f1
		FROM defense_reports WHERE run_id = ? ORDER BY id`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query defense reports: %w", err)
	}
	defer rows.Close()

	var out []DefenseReport
	for rows.Next() {
		var r DefenseReport
		if err := rows.Scan(&r.RunID, &r.UnitKey, &r.Detector,
			&r.TruePositive, &r.FalsePositive, &r.FalseNegative, &r.Flagged,
			&r.Precision, &r.Recall, &r.F1); err != nil {
			return nil, fmt.Errorf("scan defense report: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate defense reports: %w", err)
	}
	return out, nil
}
