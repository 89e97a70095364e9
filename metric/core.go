package metric

import "github.com/prometheus/client_golang/prometheus"

// CoreMetrics are the always-on metrics shared by every client instance.
// Per-component metrics (session, polling, dispatch) register their own
// collectors through MetricsRegistry.Register.
type CoreMetrics struct {
	// ConnectionState tracks the session state machine: 0 uninstantiated,
	// 1 connecting, 2 open, 3 closing, 4 closed.
	ConnectionState prometheus.Gauge

	// Reconnects counts reconnection attempts, labelled by outcome.
	Reconnects *prometheus.CounterVec

	// HeartbeatRTT observes heartbeat round-trip latency in seconds.
	HeartbeatRTT prometheus.Histogram

	// PollingActive is 1 while the client is in polling fallback mode.
	PollingActive prometheus.Gauge

	// MessagesDelivered counts envelopes handed to the consumer, labelled
	// by transport source (push or polling).
	MessagesDelivered *prometheus.CounterVec

	// ErrorsTotal counts classified errors by kind.
	ErrorsTotal *prometheus.CounterVec
}

// NewCoreMetrics creates the core metric collectors. They are registered by
// NewMetricsRegistry; callers only need this directly in tests.
func NewCoreMetrics() *CoreMetrics {
	return &CoreMetrics{
		ConnectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "session",
			Name:      "connection_state",
			Help:      "Current session state (0=uninstantiated, 1=connecting, 2=open, 3=closing, 4=closed)",
		}),
		Reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "session",
			Name:      "reconnect_attempts_total",
			Help:      "Reconnection attempts by outcome",
		}, []string{"outcome"}),
		HeartbeatRTT: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "session",
			Name:      "heartbeat_rtt_seconds",
			Help:      "Heartbeat round-trip time in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		PollingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "polling",
			Name:      "active",
			Help:      "Whether polling fallback mode is active (0 or 1)",
		}),
		MessagesDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "dispatch",
			Name:      "messages_delivered_total",
			Help:      "Envelopes delivered to the consumer by transport source",
		}, []string{"source"}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "client",
			Name:      "errors_total",
			Help:      "Classified errors by kind",
		}, []string{"kind"}),
	}
}

// RecordError increments the error counter for the kind of err.
func (c *CoreMetrics) RecordError(kind string) {
	c.ErrorsTotal.WithLabelValues(kind).Inc()
}
