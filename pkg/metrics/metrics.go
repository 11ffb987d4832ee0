package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveSessions tracks live collaboration sessions.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "coview_active_sessions",
			Help: "Number of live collaboration sessions",
		},
	)

	// ActiveParticipants tracks participants across all sessions.
	ActiveParticipants = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "coview_active_participants",
			Help: "Number of participants across all sessions",
		},
	)

	// MessagesRouted counts inbound messages by type.
	MessagesRouted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coview_messages_routed_total",
			Help: "Total inbound messages dispatched by the router",
		},
		[]string{"type"},
	)

	// RateLimited counts admission-control rejections by limiter kind.
	RateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coview_rate_limited_total",
			Help: "Total requests rejected by the rate limiter",
		},
		[]string{"kind"},
	)

	// BroadcastEvents counts events fanned out to session connections.
	BroadcastEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coview_broadcast_events_total",
			Help: "Total events broadcast to session connections",
		},
		[]string{"event"},
	)

	// RelayForwards counts actions forwarded to the automation backend.
	RelayForwards = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coview_relay_forwards_total",
			Help: "Total actions forwarded to the automation backend",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coview_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
