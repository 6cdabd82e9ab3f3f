package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP метрики
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "geoshout_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geoshout_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	// Метрики сообщений
	MessagesPosted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geoshout_messages_posted_total",
			Help: "Total number of messages saved and indexed",
		},
		[]string{"source"}, // http, mqtt
	)

	QueryCandidates = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "geoshout_query_candidates",
			Help:    "Distinct candidate message ids found per proximity query",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 250},
		},
	)

	IndexRepairs = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "geoshout_index_repairs_total",
			Help: "Dangling index entries removed during lazy repair",
		},
	)

	CorruptBodies = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "geoshout_corrupt_bodies_total",
			Help: "Stored message bodies skipped because they failed to decode",
		},
	)

	// Redis метрики
	RedisOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "geoshout_redis_operation_duration_seconds",
			Help:    "Duration of Redis operations in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	RedisOperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geoshout_redis_operation_errors_total",
			Help: "Total number of Redis operation errors",
		},
		[]string{"operation"},
	)

	// WebSocket метрики
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "geoshout_websocket_connections_active",
			Help: "Number of active WebSocket connections",
		},
	)

	WebSocketMessagesOut = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "geoshout_websocket_messages_out_total",
			Help: "Total number of WebSocket messages sent",
		},
	)

	WebSocketDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "geoshout_websocket_dropped_total",
			Help: "Messages dropped because a client send buffer was full",
		},
	)

	// MQTT метрики
	MQTTMessagesReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "geoshout_mqtt_messages_received_total",
			Help: "Total number of MQTT ingest payloads received",
		},
	)

	MQTTRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geoshout_mqtt_rejected_total",
			Help: "MQTT ingest payloads dropped before saving",
		},
		[]string{"reason"}, // parse, validation, not_registered
	)

	MQTTConnectionStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "geoshout_mqtt_connection_status",
			Help: "MQTT connection status (1 = connected, 0 = disconnected)",
		},
	)
)
