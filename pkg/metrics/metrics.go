package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records realtime authentication attempts by result (success|failure).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whiteboard_auth_attempts_total",
			Help: "Total number of realtime authentication attempts",
		},
		[]string{"result"},
	)

	// RealtimeMessages counts inbound protocol messages by event and outcome (ok|error).
	RealtimeMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whiteboard_realtime_messages_total",
			Help: "Inbound realtime messages handled by the sync engine",
		},
		[]string{"event", "result"},
	)

	// BroadcastDeliveries counts per-member fan-out results (delivered|dropped).
	BroadcastDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whiteboard_broadcast_deliveries_total",
			Help: "Room broadcast deliveries by result",
		},
		[]string{"result"},
	)

	// ActiveConnections tracks open realtime connections.
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "whiteboard_realtime_connections",
			Help: "Number of open realtime connections",
		},
	)

	// PresenceEntries tracks identities with a live connection.
	PresenceEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "whiteboard_presence_entries",
			Help: "Number of users with a live connection",
		},
	)

	// ActiveRooms tracks canvases with at least one member.
	ActiveRooms = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "whiteboard_active_rooms",
			Help: "Number of canvases with live members",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "whiteboard_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
