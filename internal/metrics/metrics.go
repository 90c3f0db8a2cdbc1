package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the server's prometheus collectors on a private registry so
// independent server instances never collide.
type Metrics struct {
	registry *prometheus.Registry

	ConnectedSessions prometheus.Gauge
	QueueDepth        *prometheus.GaugeVec
	BroadcastsTotal   prometheus.Counter
	DroppedSends      prometheus.Counter
	DurableWrites     prometheus.Counter
	DurableFailures   prometheus.Counter
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		ConnectedSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "corkboard_connected_sessions",
			Help: "Number of live websocket sessions.",
		}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "corkboard_writeback_queue_depth",
			Help: "Pending durable operations per priority tier.",
		}, []string{"tier"}),
		BroadcastsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "corkboard_broadcasts_total",
			Help: "Events fanned out to live sessions.",
		}),
		DroppedSends: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "corkboard_dropped_sends_total",
			Help: "Per-session sends that failed during broadcast.",
		}),
		DurableWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "corkboard_durable_writes_total",
			Help: "Durable operations drained by the write-back scheduler.",
		}),
		DurableFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "corkboard_durable_failures_total",
			Help: "Durable operations that returned an error.",
		}),
	}

	registry.MustRegister(
		m.ConnectedSessions,
		m.QueueDepth,
		m.BroadcastsTotal,
		m.DroppedSends,
		m.DurableWrites,
		m.DurableFailures,
	)

	return m
}

// Registry exposes the underlying registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
