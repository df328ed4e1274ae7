// Package metrics exposes prometheus collectors for healing runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hochfrequenz/heal-orchestrator/internal/domain"
)

const namespace = "heal_orch"

// Metrics holds the collectors on their own registry
type Metrics struct {
	registry *prometheus.Registry

	// runsTotal counts finished runs.
	// Labels: status (PASSED, FAILED, ERROR)
	runsTotal *prometheus.CounterVec

	runDuration   prometheus.Histogram
	runIterations prometheus.Histogram
	runScore      prometheus.Histogram
	activeRuns    prometheus.Gauge

	// fixesTotal counts fix records by final status.
	// Labels: status (Applied, Fixed, Failed Commit)
	fixesTotal *prometheus.CounterVec

	// sandboxTotal counts sandbox invocations.
	// Labels: status (PASSED, FAILED, INSTALL_FAILED, SYSTEM_ERROR), language
	sandboxTotal    *prometheus.CounterVec
	sandboxDuration prometheus.Histogram
}

// New creates collectors registered on a fresh registry, including the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		runsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runs",
			Name:      "total",
			Help:      "Finished healing runs by outcome",
		}, []string{"status"}),
		runDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "runs",
			Name:      "duration_seconds",
			Help:      "Wall time of healing runs",
			Buckets:   []float64{30, 60, 120, 300, 600, 1200, 1800, 3600},
		}),
		runIterations: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "runs",
			Name:      "iterations",
			Help:      "Iterations used per run",
			Buckets:   prometheus.LinearBuckets(0, 1, 11),
		}),
		runScore: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "runs",
			Name:      "score",
			Help:      "Score per finished run",
			Buckets:   prometheus.LinearBuckets(0, 10, 12),
		}),
		activeRuns: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "runs",
			Name:      "active",
			Help:      "Runs currently in progress",
		}),
		fixesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fixes",
			Name:      "total",
			Help:      "Fix records by status",
		}, []string{"status"}),
		sandboxTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sandbox",
			Name:      "invocations_total",
			Help:      "Sandbox invocations by result status",
		}, []string{"status", "language"}),
		sandboxDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sandbox",
			Name:      "duration_seconds",
			Help:      "Wall time of one sandbox invocation",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}
}

// RunStarted marks a run as active
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.activeRuns.Inc()
}

// RunFinished records a finished run
func (m *Metrics) RunFinished(r domain.RunResult) {
	if m == nil {
		return
	}
	m.activeRuns.Dec()
	m.runsTotal.WithLabelValues(string(r.Status)).Inc()
	m.runDuration.Observe(r.DurationSeconds)
	m.runIterations.Observe(float64(r.IterationsUsed))
	m.runScore.Observe(float64(r.Score))
	for _, f := range r.FixesApplied {
		m.fixesTotal.WithLabelValues(string(f.Status)).Inc()
	}
}

// SandboxExecuted records one sandbox invocation
func (m *Metrics) SandboxExecuted(res domain.SandboxResult, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.sandboxTotal.WithLabelValues(string(res.Status), res.Language).Inc()
	m.sandboxDuration.Observe(elapsed.Seconds())
}

// Registry exposes the underlying registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
