package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matcher_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "matcher_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"method", "path"},
	)

	// Monitor metrics
	MessagesDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matcher_messages_dispatched_total",
			Help: "Messages passed to the forwarder",
		},
		[]string{"chat"},
	)

	MessagesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matcher_messages_dropped_total",
			Help: "Messages dropped by the monitor",
		},
		[]string{"reason"}, // "stale" or "channel"
	)

	MonitorSessions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matcher_monitor_sessions_total",
			Help: "Monitor session outcomes",
		},
		[]string{"event"}, // "started", "connect_failed", "disconnected", "stopped"
	)

	MonitorListening = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "matcher_monitor_listening",
			Help: "1 while the monitor is listening",
		},
	)

	// Forwarder metrics
	ForwardTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matcher_forward_total",
			Help: "Envelope deliveries to the workflow sink",
		},
		[]string{"result"}, // "ok" or "failed"
	)

	// Matching metrics
	MatchRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matcher_match_runs_total",
			Help: "Matching runs",
		},
		[]string{"result"}, // "ok", "not_found", "error"
	)

	MatchesCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "matcher_matches_created_total",
			Help: "Match records inserted",
		},
	)

	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matcher_store_errors_total",
			Help: "Failed store calls",
		},
		[]string{"op"},
	)
)
