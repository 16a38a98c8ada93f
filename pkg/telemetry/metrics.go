package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the convergence engine.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	// Resource metrics
	resourceOutcomes *prometheus.CounterVec
	resourceDuration *prometheus.HistogramVec

	// Refresh metrics
	refreshesExecuted *prometheus.CounterVec

	// Graph metrics
	graphBuildFailures *prometheus.CounterVec
	graphDepth         prometheus.Gauge
	resourcesDeclared  prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsStarted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of convergence runs started",
			},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of convergence runs completed",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of convergence runs in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		resourceOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resources_total",
				Help:      "Resource outcomes by kind",
			},
			[]string{"kind", "outcome"},
		),
		resourceDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "resource_duration_seconds",
				Help:      "Duration of resource probe and apply in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		refreshesExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "refreshes_total",
				Help:      "Refresh actions executed by kind",
			},
			[]string{"kind"},
		),
		graphBuildFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "graph_build_failures_total",
				Help:      "Graph build failures by error code",
			},
			[]string{"code"},
		),
		graphDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "graph_depth",
				Help:      "Topological depth of the last built graph",
			},
		),
		resourcesDeclared: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "resources_declared",
				Help:      "Number of resources in the last built graph",
			},
		),
	}

	collectors := []prometheus.Collector{
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.resourceOutcomes,
		m.resourceDuration,
		m.refreshesExecuted,
		m.graphBuildFailures,
		m.graphDepth,
		m.resourcesDeclared,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register collector: %w", err)
		}
	}

	return m, nil
}

// RecordRunStarted increments the started-run counter.
func (m *Metrics) RecordRunStarted() {
	if m == nil || !m.config.Enabled {
		return
	}
	m.runsStarted.Inc()
}

// RecordRunCompleted records a finished run with its status and duration.
func (m *Metrics) RecordRunCompleted(status string, duration time.Duration) {
	if m == nil || !m.config.Enabled {
		return
	}
	m.runsCompleted.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordResource records a resource outcome with its duration.
func (m *Metrics) RecordResource(kind, outcome string, duration time.Duration) {
	if m == nil || !m.config.Enabled {
		return
	}
	m.resourceOutcomes.WithLabelValues(kind, outcome).Inc()
	m.resourceDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordRefresh records an executed refresh action.
func (m *Metrics) RecordRefresh(kind string) {
	if m == nil || !m.config.Enabled {
		return
	}
	m.refreshesExecuted.WithLabelValues(kind).Inc()
}

// RecordGraphBuildFailure records a fatal graph build error by code.
func (m *Metrics) RecordGraphBuildFailure(code string) {
	if m == nil || !m.config.Enabled {
		return
	}
	m.graphBuildFailures.WithLabelValues(code).Inc()
}

// RecordGraph records the shape of a successfully built graph.
func (m *Metrics) RecordGraph(resources, depth int) {
	if m == nil || !m.config.Enabled {
		return
	}
	m.resourcesDeclared.Set(float64(resources))
	m.graphDepth.Set(float64(depth))
}

// Handler returns an HTTP handler exposing the metrics registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil || !m.config.Enabled {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve starts a blocking HTTP server on addr exposing /metrics.
func (m *Metrics) Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}
