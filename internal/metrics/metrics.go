package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "districhat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "districhat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Cluster metrics
	NodesOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "districhat_nodes_online",
			Help: "Nodes currently online or degraded",
		},
	)

	HeartbeatsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "districhat_heartbeats_total",
			Help: "Total heartbeat reports",
		},
		[]string{"status"}, // "accepted", "stale", "rejected"
	)

	RoomsAssigned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "districhat_rooms_assigned_total",
			Help: "Total rooms assigned to nodes",
		},
	)

	AssignmentFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "districhat_assignment_failures_total",
			Help: "Room assignments that found no capacity",
		},
	)

	// Session metrics
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "districhat_ws_connections",
			Help: "Open websocket connections",
		},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "districhat_events_published_total",
			Help: "Total room events published",
		},
		[]string{"type"},
	)

	// Sync metrics
	SyncSessions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "districhat_sync_sessions_total",
			Help: "Total sync sessions",
		},
		[]string{"direction", "status"},
	)

	MessagesSynced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "districhat_messages_synced_total",
			Help: "Messages applied during sync",
		},
	)
)
