// Package metrics exposes prometheus instrumentation for the stream core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the collectors shared by the publisher, the connection
// server and the presence registry.
type Metrics struct {
	registry *prometheus.Registry

	OpenConnections     prometheus.Gauge
	Published           *prometheus.CounterVec
	PublishSkipped      prometheus.Counter
	PublishErrors       prometheus.Counter
	Delivered           prometheus.Counter
	Dropped             prometheus.Counter
	Heartbeats          prometheus.Counter
	SubscriptionsDenied prometheus.Counter
	PublishLatency      prometheus.Histogram
	GCRemovals          *prometheus.CounterVec
}

// New creates and registers the streamgate collectors on a private
// registry so tests can create many instances without collisions.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		OpenConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "streamgate_open_connections",
			Help: "Number of currently open client connections.",
		}),
		Published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "streamgate_published_total",
			Help: "Events published, by persistence mode.",
		}, []string{"mode"}),
		PublishSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamgate_publish_skipped_total",
			Help: "Publishes suppressed by the de-duplication cache.",
		}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamgate_publish_errors_total",
			Help: "Publishes dropped because the backend was unreachable.",
		}),
		Delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamgate_delivered_total",
			Help: "Frames forwarded to client sockets.",
		}),
		Dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamgate_dropped_total",
			Help: "Frames dropped on slow or failed client sockets.",
		}),
		Heartbeats: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamgate_heartbeats_total",
			Help: "Heartbeat frames sent to idle connections.",
		}),
		SubscriptionsDenied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamgate_subscriptions_denied_total",
			Help: "Subscribe requests rejected by the authority.",
		}),
		PublishLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "streamgate_publish_duration_seconds",
			Help:    "Latency of append plus broadcast.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
		GCRemovals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "streamgate_gc_removals_total",
			Help: "Registry entries removed by the garbage collector.",
		}, []string{"kind"}),
	}

	registry.MustRegister(
		m.OpenConnections, m.Published, m.PublishSkipped, m.PublishErrors,
		m.Delivered, m.Dropped, m.Heartbeats, m.SubscriptionsDenied,
		m.PublishLatency, m.GCRemovals,
	)
	return m
}

// Handler returns the /metrics HTTP handler for this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
