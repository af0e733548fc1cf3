package telemetry

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ledgerline/depgraph/pkg/graph"
)

// Metrics provides Prometheus metrics for graph activity.
// It implements graph.Observer; a disabled instance records nothing.
type Metrics struct {
	config MetricsConfig

	computations    *prometheus.CounterVec
	computeDuration *prometheus.HistogramVec
	cacheHits       *prometheus.CounterVec
	invalidations   *prometheus.CounterVec
	writes          *prometheus.CounterVec
	errorsByCode    *prometheus.CounterVec

	activeScopes prometheus.Gauge
	graphNodes   prometheus.Gauge
	entities     prometheus.Gauge

	registry *prometheus.Registry
}

var _ graph.Observer = (*Metrics)(nil)

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		computations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "computations_total",
				Help:      "Total number of node computations",
			},
			[]string{"kind", "outcome"},
		),
		computeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "computation_duration_seconds",
				Help:      "Duration of node computations in seconds",
				Buckets:   buckets,
			},
			[]string{"kind"},
		),
		cacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hits_total",
				Help:      "Total number of reads served from a valid node",
			},
			[]string{"kind"},
		),
		invalidations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invalidations_total",
				Help:      "Total number of nodes marked invalid",
			},
			[]string{"kind"},
		),
		writes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "writes_total",
				Help:      "Total number of values installed by writes, overrides and restores",
			},
			[]string{"kind", "operation"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of graph errors by class and code",
			},
			[]string{"class", "code"},
		),
		activeScopes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_scopes",
				Help:      "Current number of open scopes and evaluation blocks",
			},
		),
		graphNodes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "graph_nodes",
				Help:      "Number of nodes in the root graph",
			},
		),
		entities: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "entities",
				Help:      "Number of entities in the arena",
			},
		),
	}

	registry.MustRegister(
		m.computations,
		m.computeDuration,
		m.cacheHits,
		m.invalidations,
		m.writes,
		m.errorsByCode,
		m.activeScopes,
		m.graphNodes,
		m.entities,
	)

	return m, nil
}

func (m *Metrics) enabled() bool {
	return m != nil && m.registry != nil
}

// NodeComputed records a computation and its duration.
func (m *Metrics) NodeComputed(_ graph.NodeID, kind graph.NodeKind, d time.Duration, err error) {
	if !m.enabled() {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.computations.WithLabelValues(kind.String(), outcome).Inc()
	m.computeDuration.WithLabelValues(kind.String()).Observe(d.Seconds())
}

func (m *Metrics) CacheHit(_ graph.NodeID, kind graph.NodeKind) {
	if !m.enabled() {
		return
	}
	m.cacheHits.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) NodeInvalidated(_ graph.NodeID, kind graph.NodeKind) {
	if !m.enabled() {
		return
	}
	m.invalidations.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) NodeSet(_ graph.NodeID, kind graph.NodeKind, operation string) {
	if !m.enabled() {
		return
	}
	m.writes.WithLabelValues(kind.String(), operation).Inc()
}

func (m *Metrics) ScopeEntered(string) {
	if !m.enabled() {
		return
	}
	m.activeScopes.Inc()
}

func (m *Metrics) ScopeExited(string) {
	if !m.enabled() {
		return
	}
	m.activeScopes.Dec()
}

// RecordError records a graph error by class and code. Other errors count
// under class "internal".
func (m *Metrics) RecordError(err error) {
	if !m.enabled() || err == nil {
		return
	}
	var ge *graph.GraphError
	if errors.As(err, &ge) {
		m.errorsByCode.WithLabelValues(string(ge.Class), ge.Code).Inc()
		return
	}
	m.errorsByCode.WithLabelValues("internal", "").Inc()
}

// SetGraphSize sets the node count gauge.
func (m *Metrics) SetGraphSize(nodes int) {
	if !m.enabled() {
		return
	}
	m.graphNodes.Set(float64(nodes))
}

// SetEntityCount sets the entity count gauge.
func (m *Metrics) SetEntityCount(n int) {
	if !m.enabled() {
		return
	}
	m.entities.Set(float64(n))
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Registry returns the metrics registry, nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server exposing metrics. The returned
// server is nil when metrics are disabled. Serve errors go to errFn.
func (m *Metrics) StartMetricsServer(errFn func(error)) *http.Server {
	if !m.enabled() {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed && errFn != nil {
			errFn(err)
		}
	}()

	return server
}
