package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PubSub connection metrics
var (
	// FramesTotal tracks inbound PubSub frames by frame type.
	FramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pubsub_frames_total",
			Help: "Inbound PubSub frames by frame type",
		},
		[]string{"type"},
	)

	// ReconnectsTotal tracks connection teardowns by cause.
	ReconnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pubsub_reconnects_total",
			Help: "Connection teardowns by cause (read_error, pong_timeout, server_request)",
		},
		[]string{"cause"},
	)

	// BackoffSeconds tracks the current reconnect backoff interval.
	BackoffSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pubsub_backoff_seconds",
			Help: "Current reconnect backoff interval in seconds",
		},
	)

	// ConnectionOpen is 1 while the PubSub connection is open.
	ConnectionOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pubsub_connection_open",
			Help: "1 while the PubSub connection is open, 0 otherwise",
		},
	)

	// HeartbeatsTotal tracks keep-alive pings by status (sent/skipped).
	HeartbeatsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pubsub_heartbeats_total",
			Help: "Keep-alive pings by status (sent, skipped)",
		},
		[]string{"status"},
	)

	// ControlFramesTotal tracks outbound LISTEN/UNLISTEN frames.
	ControlFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pubsub_control_frames_total",
			Help: "Outbound subscribe control frames by type and status",
		},
		[]string{"type", "status"},
	)
)

// Redemption pipeline metrics
var (
	// RedemptionsTotal tracks redemption pipeline outcomes.
	RedemptionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redemptions_total",
			Help: "Redemption pipeline outcomes (accepted, duplicate, mismatch, not_found, malformed, dropped)",
		},
		[]string{"outcome"},
	)

	// NotifierRequestsTotal tracks outbound notification calls by status.
	NotifierRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifier_requests_total",
			Help: "Outbound notification calls by status (ok, error, open_circuit)",
		},
		[]string{"status"},
	)

	// LedgerWritesTotal tracks redemption ledger writes by status.
	LedgerWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_writes_total",
			Help: "Redemption ledger writes by status (ok, error)",
		},
		[]string{"status"},
	)
)
