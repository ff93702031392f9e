package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/getmockd/polyd/pkg/middleware"
	"github.com/getmockd/polyd/pkg/protocol"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "polyd"

// Metrics holds the runtime's collectors and the registry exporting them.
// It implements protocol.Observer.
type Metrics struct {
	registry *prometheus.Registry

	connections      *prometheus.CounterVec
	active           prometheus.Gauge
	connectionErrors *prometheus.CounterVec
	detectFailures   prometheus.Counter
	switches         *prometheus.CounterVec
	requests         *prometheus.CounterVec
	duration         *prometheus.HistogramVec
}

var _ protocol.Observer = (*Metrics)(nil)

// New creates the collectors under namespace, registered together with
// the Go runtime and process collectors.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Connections handed to a protocol.",
		}, []string{"protocol"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Connections being served.",
		}),
		connectionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_errors_total",
			Help:      "Connections ended by an error.",
		}, []string{"protocol", "kind"}),
		detectFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detect_failures_total",
			Help:      "Connections no registered protocol recognized.",
		}),
		switches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_switches_total",
			Help:      "In-place protocol switches.",
		}, []string{"from", "to"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests run through a middleware chain.",
		}, []string{"protocol", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Middleware chain run latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"protocol"}),
	}
	m.registry.MustRegister(
		m.connections, m.active, m.connectionErrors, m.detectFailures,
		m.switches, m.requests, m.duration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Register adds collectors to the registry.
func (m *Metrics) Register(cs ...prometheus.Collector) error {
	for _, c := range cs {
		if err := m.registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ConnectionOpened implements protocol.Observer.
func (m *Metrics) ConnectionOpened(id protocol.ID) {
	m.connections.WithLabelValues(string(id)).Inc()
	m.active.Inc()
}

// ConnectionClosed implements protocol.Observer. Peer closes are not
// errors.
func (m *Metrics) ConnectionClosed(id protocol.ID, err error) {
	m.active.Dec()
	if err != nil && !protocol.IsClosed(err) {
		m.connectionErrors.WithLabelValues(string(id), protocol.KindOf(err).String()).Inc()
	}
}

// DetectFailed implements protocol.Observer.
func (m *Metrics) DetectFailed() { m.detectFailures.Inc() }

// Switched implements protocol.Observer.
func (m *Metrics) Switched(from, to protocol.ID) {
	m.switches.WithLabelValues(string(from), string(to)).Inc()
}

// ObserveRequest records one request outcome.
func (m *Metrics) ObserveRequest(proto, status string, d time.Duration) {
	m.requests.WithLabelValues(proto, status).Inc()
	m.duration.WithLabelValues(proto).Observe(d.Seconds())
}

// Requests returns a middleware recording every chain run under proto.
// status derives the status label from the finished context.
func Requests[C protocol.RequestContext](m *Metrics, proto protocol.ID, status func(C) string) middleware.Middleware[C] {
	return middleware.MiddlewareFunc[C](func(ctx context.Context, c C, next middleware.Next[C]) C {
		start := time.Now()
		c = next(ctx, c)
		m.ObserveRequest(string(proto), status(c), time.Since(start))
		return c
	})
}
