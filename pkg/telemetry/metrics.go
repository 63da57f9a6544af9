package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for pipeline execution. The zero
// value is not usable; NewMetrics registers all collectors on a private
// registry so tests can create as many instances as they like.
type Metrics struct {
	runsTotal    *prometheus.CounterVec
	stepsTotal   *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	projects     prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a metrics collector.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "hostctl",
				Name:      "runs_total",
				Help:      "Pipeline runs by operation and status",
			},
			[]string{"operation", "status"},
		),
		stepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "hostctl",
				Name:      "steps_total",
				Help:      "Pipeline steps executed by name and status",
			},
			[]string{"step", "status"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "hostctl",
				Name:      "step_duration_seconds",
				Help:      "Duration of pipeline steps in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"step"},
		),
		projects: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "hostctl",
				Name:      "projects",
				Help:      "Number of live project descriptors",
			},
		),
	}

	registry.MustRegister(m.runsTotal, m.stepsTotal, m.stepDuration, m.projects)
	return m
}

// RecordRun records a completed pipeline run.
func (m *Metrics) RecordRun(operation, status string) {
	m.runsTotal.WithLabelValues(operation, status).Inc()
}

// RecordStep records a completed pipeline step.
func (m *Metrics) RecordStep(step, status string, duration time.Duration) {
	m.stepsTotal.WithLabelValues(step, status).Inc()
	m.stepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// SetProjectCount updates the live descriptor gauge.
func (m *Metrics) SetProjectCount(n int) {
	m.projects.Set(float64(n))
}

// Handler returns an HTTP handler exposing the metrics registry. Used by
// long-running invocations such as logs --follow when --metrics-listen is
// set.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes the metrics endpoint on addr until the server fails.
// Callers run this on its own goroutine.
func (m *Metrics) Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}
