// Package runlog provides structured JSON logging for sweep progress
// and per-unit attack outcomes.
package runlog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// EventType describes the kind of run event.
type EventType string

// Event type constants for structured run log entries.
const (
	EventSweepStart  EventType = "sweep_start"
	EventSweepDone   EventType = "sweep_done"
	EventBaseline    EventType = "baseline"
	EventUnitStart   EventType = "unit_start"
	EventUnitDone    EventType = "unit_done"
	EventUnitFailed  EventType = "unit_failed"
	EventFallback    EventType = "fallback"
	EventDefense     EventType = "defense"
	EventArtifact    EventType = "artifact"
	EventArtifactIO  EventType = "artifact_io"
	EventStoreResult EventType = "store_result"
)

// Logger handles structured run logging using zerolog.
type Logger struct {
	zl         zerolog.Logger
	fileHandle *os.File // non-nil if logging to a file
}

// New creates a run logger. format is json or console; output is
// stdout, stderr, or a file path. The caller should call Close when
// done.
func New(format, output, level string) (*Logger, error) {
	var w io.Writer
	var fileHandle *os.File
	switch output {
	case "stdout":
		w = os.Stdout
	case "stderr", "":
		w = os.Stderr
	default:
		f, err := os.OpenFile(output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600) //nolint:gosec // G304: path validated by config layer
		if err != nil {
			return nil, err
		}
		w = f
		fileHandle = f
	}
	if format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	zl := zerolog.New(w).Level(lvl).With().
		Timestamp().
		Str("component", "poisonbench").
		Logger()

	return &Logger{zl: zl, fileHandle: fileHandle}, nil
}

// NewNop returns a no-op logger that discards all events.
func NewNop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// LogSweepStart logs the start of a sweep with its expanded grid size.
func (l *Logger) LogSweepStart(runID, model, dataset string, units, workers int, seed uint64) {
	l.zl.Info().
		Str("event", string(EventSweepStart)).
		Str("run_id", runID).
		Str("model", model).
		Str("dataset", dataset).
		Int("units", units).
		Int("workers", workers).
		Uint64("seed", seed).
		Msg("sweep started")
}

// LogSweepDone logs sweep completion with aggregate counts.
func (l *Logger) LogSweepDone(runID string, completed, failed int, duration time.Duration) {
	l.zl.Info().
		Str("event", string(EventSweepDone)).
		Str("run_id", runID).
		Int("completed", completed).
		Int("failed", failed).
		Dur("duration_ms", duration).
		Msg("sweep finished")
}

// LogBaseline logs the clean model's accuracy before any poisoning.
func (l *Logger) LogBaseline(runID, model string, accuracy, fpr, fnr float64, duration time.Duration) {
	l.zl.Info().
		Str("event", string(EventBaseline)).
		Str("run_id", runID).
		Str("model", model).
		Float64("accuracy", accuracy).
		Float64("fpr", fpr).
		Float64("fnr", fnr).
		Dur("duration_ms", duration).
		Msg("baseline trained")
}

// LogUnitStart logs the start of one attack unit.
func (l *Logger) LogUnitStart(runID, unitKey string) {
	l.zl.Debug().
		Str("event", string(EventUnitStart)).
		Str("run_id", runID).
		Str("unit", unitKey).
		Msg("unit started")
}

// LogUnitDone logs a completed unit with its attack metrics.
func (l *Logger) LogUnitDone(runID, unitKey string, asr, cleanDelta float64, poisoned int, duration time.Duration) {
	l.zl.Info().
		Str("event", string(EventUnitDone)).
		Str("run_id", runID).
		Str("unit", unitKey).
		Float64("attack_success_rate", asr).
		Float64("clean_accuracy_delta", cleanDelta).
		Int("poisoned_samples", poisoned).
		Dur("duration_ms", duration).
		Msg("unit finished")
}

// LogUnitFailed logs a unit that errored; the sweep continues.
func (l *Logger) LogUnitFailed(runID, unitKey string, err error) {
	l.zl.Error().
		Str("event", string(EventUnitFailed)).
		Str("run_id", runID).
		Str("unit", unitKey).
		Err(err).
		Msg("unit failed")
}

// LogFallback logs a trigger value strategy falling back to the
// global population statistics for one feature.
func (l *Logger) LogFallback(runID, unitKey, strategy string, feature int) {
	l.zl.Warn().
		Str("event", string(EventFallback)).
		Str("run_id", runID).
		Str("unit", unitKey).
		Str("strategy", strategy).
		Int("feature", feature).
		Msg("value selection fell back to global stats")
}

// LogDefense logs one detector's scoring against the poison mask.
func (l *Logger) LogDefense(runID, unitKey, detector string, precision, recall, f1 float64, flagged int) {
	l.zl.Info().
		Str("event", string(EventDefense)).
		Str("run_id", runID).
		Str("unit", unitKey).
		Str("detector", detector).
		Float64("precision", precision).
		Float64("recall", recall).
		Float64("f1", f1).
		Int("flagged", flagged).
		Msg("detector evaluated")
}

// LogArtifact logs a persisted artifact path.
func (l *Logger) LogArtifact(runID, unitKey, kind, path string) {
	l.zl.Debug().
		Str("event", string(EventArtifact)).
		Str("run_id", runID).
		Str("unit", unitKey).
		Str("kind", kind).
		Str("path", path).
		Msg("artifact written")
}

// LogArtifactRetry logs a failed artifact write that will be retried
// once before the unit is marked failed.
func (l *Logger) LogArtifactRetry(runID, unitKey, path string, err error) {
	l.zl.Warn().
		Str("event", string(EventArtifactIO)).
		Str("run_id", runID).
		Str("unit", unitKey).
		Str("path", path).
		Err(err).
		Msg("artifact write failed, retrying")
}

// LogStoreResult logs a result row appended to the results database.
func (l *Logger) LogStoreResult(runID, unitKey string) {
	l.zl.Debug().
		Str("event", string(EventStoreResult)).
		Str("run_id", runID).
		Str("unit", unitKey).
		Msg("result stored")
}

// With returns a sub-logger that includes the given key-value pair in
// every entry. The sub-logger shares the parent's file handle; only
// the root logger should be Close()'d.
func (l *Logger) With(key, value string) *Logger {
	return &Logger{zl: l.zl.With().Str(key, value).Logger()}
}

// Close flushes and closes any open file handle. Idempotent.
func (l *Logger) Close() {
	if l.fileHandle != nil {
		_ = l.fileHandle.Sync()
		_ = l.fileHandle.Close()
		l.fileHandle = nil
	}
}
