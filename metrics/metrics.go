// Package metrics contains the Prometheus instrumentation for the
// streaming bridge.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector the service registers. Constructing it
// against an explicit registerer keeps tests free to build isolated
// instances.
type Metrics struct {
	SessionsCreated prometheus.Counter
	SessionsClosed  *prometheus.CounterVec
	ActiveSessions  prometheus.Gauge

	EventsEnqueued *prometheus.CounterVec
	EventsDropped  prometheus.Counter

	AudioChunks prometheus.Counter
	AudioBytes  prometheus.Counter
}

// NewMetrics creates and registers all collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		SessionsCreated: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "murmur_sessions_created_total",
			Help: "Total number of streaming sessions created",
		}),
		SessionsClosed: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "murmur_sessions_closed_total",
			Help: "Total number of streaming sessions closed, by reason",
		}, []string{"reason"}),
		ActiveSessions: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "murmur_active_sessions",
			Help: "Current number of active streaming sessions",
		}),
		EventsEnqueued: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "murmur_events_enqueued_total",
			Help: "Total number of events enqueued on session channels, by kind",
		}, []string{"kind"}),
		EventsDropped: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "murmur_events_dropped_total",
			Help: "Total number of events dropped on full session channels",
		}),
		AudioChunks: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "murmur_audio_chunks_total",
			Help: "Total number of audio chunks forwarded to the engine",
		}),
		AudioBytes: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "murmur_audio_bytes_total",
			Help: "Total audio payload bytes forwarded to the engine",
		}),
	}
}
