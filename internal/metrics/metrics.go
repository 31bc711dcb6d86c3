package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polycast_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "polycast_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Connection metrics
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "polycast_connections_active",
			Help: "Currently registered websocket connections",
		},
	)

	ConnectionsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polycast_connections_closed_total",
			Help: "Connections closed by the server",
		},
		[]string{"reason"}, // "heartbeat", "join_timeout", "admin", "room_closed"
	)

	// Room metrics
	RoomsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "polycast_rooms_active",
			Help: "Rooms resident in memory",
		},
	)

	RoomsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polycast_rooms_closed_total",
			Help: "Rooms destroyed",
		},
		[]string{"reason"}, // "host_left", "expired", "admin"
	)

	RoomJoinsRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "polycast_room_joins_rejected_total",
			Help: "Student joins refused because the room does not exist",
		},
	)

	// Content metrics
	ContentEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polycast_content_events_total",
			Help: "Host content events by kind and outcome",
		},
		[]string{"kind", "outcome"}, // kind: "audio", "text"
	)

	ExternalCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "polycast_external_call_duration_seconds",
			Help:    "Latency of transcription and translation calls",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20},
		},
		[]string{"service"},
	)

	TranslationCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "polycast_translation_cache_hits_total",
			Help: "Translations served from cache",
		},
	)

	// Store metrics
	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polycast_store_errors_total",
			Help: "Failed room store operations",
		},
		[]string{"operation"},
	)
)
