// Package metrics provides Prometheus instrumentation and a JSON
// progress endpoint for attack sweeps.
package metrics

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus counters and histograms for sweep runs.
type Metrics struct {
	registry *prometheus.Registry

	unitsTotal    *prometheus.CounterVec
	unitDuration  prometheus.Histogram
	trainDuration prometheus.Histogram
	fallbacks     *prometheus.CounterVec
	activeWorkers prometheus.Gauge
	poisonedTotal prometheus.Counter

	mu            sync.Mutex
	startTime     time.Time
	completed     int64
	failed        int64
	failureByKind map[string]int64
}

// New creates a Metrics instance with its own Prometheus registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	unitsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "poisonbench",
		Name:      "units_total",
		Help:      "Total attack units by result.",
	}, []string{"result"})

	unitDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "poisonbench",
		Name:      "unit_duration_seconds",
		Help:      "End-to-end attack unit duration in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	})

	trainDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "poisonbench",
		Name:      "train_duration_seconds",
		Help:      "Model training duration in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	fallbacks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "poisonbench",
		Name:      "value_fallbacks_total",
		Help:      "Value selections that fell back to global stats, by strategy.",
	}, []string{"strategy"})

	activeWorkers := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "poisonbench",
		Name:      "active_workers",
		Help:      "Attack units currently executing.",
	})

	poisonedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "poisonbench",
		Name:      "poisoned_samples_total",
		Help:      "Total samples poisoned across all units.",
	})

	reg.MustRegister(unitsTotal, unitDuration, trainDuration,
		fallbacks, activeWorkers, poisonedTotal)

	return &Metrics{
		registry:      reg,
		unitsTotal:    unitsTotal,
		unitDuration:  unitDuration,
		trainDuration: trainDuration,
		fallbacks:     fallbacks,
		activeWorkers: activeWorkers,
		poisonedTotal: poisonedTotal,
		startTime:     time.Now(),
		failureByKind: make(map[string]int64),
	}
}

// RecordUnitDone records a completed attack unit.
func (m *Metrics) RecordUnitDone(duration time.Duration, poisoned int) {
	m.unitsTotal.WithLabelValues("completed").Inc()
	m.unitDuration.Observe(duration.Seconds())
	m.poisonedTotal.Add(float64(poisoned))

	m.mu.Lock()
	m.completed++
	m.mu.Unlock()
}

// RecordUnitFailed records a failed unit with a coarse failure kind
// (selection, train, artifact_io, canceled).
func (m *Metrics) RecordUnitFailed(kind string, duration time.Duration) {
	m.unitsTotal.WithLabelValues("failed").Inc()
	m.unitDuration.Observe(duration.Seconds())

	m.mu.Lock()
	m.failed++
	m.failureByKind[kind]++
	m.mu.Unlock()
}

// RecordTraining records one model training pass.
func (m *Metrics) RecordTraining(duration time.Duration) {
	m.trainDuration.Observe(duration.Seconds())
}

// RecordFallback records a value selection falling back to global
// population statistics.
func (m *Metrics) RecordFallback(strategy string) {
	m.fallbacks.WithLabelValues(strategy).Inc()
}

// IncrActiveWorkers increments the active worker gauge.
func (m *Metrics) IncrActiveWorkers() {
	m.activeWorkers.Inc()
}

// DecrActiveWorkers decrements the active worker gauge.
func (m *Metrics) DecrActiveWorkers() {
	m.activeWorkers.Dec()
}

// PrometheusHandler returns an HTTP handler serving /metrics in
// Prometheus text format.
func (m *Metrics) PrometheusHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StatsHandler returns an HTTP handler serving a JSON sweep summary.
func (m *Metrics) StatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		m.mu.Lock()
		stats := statsResponse{
			UptimeSeconds: time.Since(m.startTime).Seconds(),
			Units: unitStats{
				Total:     m.completed + m.failed,
				Completed: m.completed,
				Failed:    m.failed,
			},
			Failures: ranked(m.failureByKind),
		}
		m.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(stats)
	}
}

// Serve exposes /metrics and /stats on addr until the server errors.
// Intended to run in its own goroutine for long sweeps.
func (m *Metrics) Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.PrometheusHandler())
	mux.HandleFunc("/stats", m.StatsHandler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	return srv.ListenAndServe()
}

type statsResponse struct {
	UptimeSeconds float64       `json:"uptime_seconds"`
	Units         unitStats     `json:"units"`
	Failures      []rankedEntry `json:"failures"`
}

type unitStats struct {
	Total     int64 `json:"total"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

type rankedEntry struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

func ranked(m map[string]int64) []rankedEntry {
	entries := make([]rankedEntry, 0, len(m))
	for name, count := range m {
		entries = append(entries, rankedEntry{Name: name, Count: count})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].Name < entries[j].Name
	})
	return entries
}
