// Package metrics declares the Prometheus collectors exported by Huddle.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "huddle_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "huddle_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Realtime metrics
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "huddle_sessions_active",
			Help: "Live authenticated websocket sessions",
		},
	)

	HandshakeRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "huddle_handshake_rejections_total",
			Help: "Websocket handshakes refused for missing or bad credentials",
		},
	)

	EventsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "huddle_events_delivered_total",
			Help: "Events queued to subscriber outbound buffers",
		},
		[]string{"event"},
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "huddle_events_dropped_total",
			Help: "Events dropped because a subscriber buffer was full or closed",
		},
		[]string{"event"},
	)

	// Business metrics
	MessagesPosted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "huddle_messages_posted_total",
			Help: "Total messages persisted",
		},
		[]string{"source"}, // "rest" or "socket"
	)

	NotificationsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "huddle_notifications_created_total",
			Help: "Total tag notifications persisted",
		},
	)

	PostFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "huddle_post_failures_total",
			Help: "Rejected or failed message posts",
		},
		[]string{"reason"}, // "validation" or "persistence"
	)

	NotificationsPurged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "huddle_notifications_purged_total",
			Help: "Read notifications removed by the retention job",
		},
	)
)
