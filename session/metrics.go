package session

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/foani/CTA-Mission-sub000/errors"
	"github.com/foani/CTA-Mission-sub000/metric"
)

// Metrics tracks the connection lifecycle. State, reconnect, and heartbeat
// RTT collectors are shared with the registry core so dashboards see one
// authoritative series per client.
type Metrics struct {
	core            *metric.CoreMetrics
	frames          *prometheus.CounterVec
	heartbeatMisses prometheus.Counter
}

// NewMetrics creates and registers session metrics.
func NewMetrics(registry *metric.MetricsRegistry, componentName string) *Metrics {
	if registry == nil {
		return nil
	}

	metrics := &Metrics{
		core: registry.Core,

		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "session",
			Name:      "frames_received_total",
			Help:      "Frames received on the push connection by envelope type",
		}, []string{"type"}),

		heartbeatMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "session",
			Name:      "heartbeat_misses_total",
			Help:      "Heartbeats sent without a matching ack in time",
		}),
	}

	_ = registry.Register(componentName, "frames_received", metrics.frames)
	_ = registry.Register(componentName, "heartbeat_misses", metrics.heartbeatMisses)

	return metrics
}

func (m *Metrics) setState(s State) {
	if m == nil {
		return
	}
	m.core.ConnectionState.Set(float64(s))
}

func (m *Metrics) reconnect(outcome string) {
	if m == nil {
		return
	}
	m.core.Reconnects.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeRTT(d time.Duration) {
	if m == nil {
		return
	}
	m.core.HeartbeatRTT.Observe(d.Seconds())
}

func (m *Metrics) frame(envType string) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(envType).Inc()
}

func (m *Metrics) missedHeartbeat() {
	if m == nil {
		return
	}
	m.heartbeatMisses.Inc()
}

func (m *Metrics) errorKind(err error) {
	if m == nil {
		return
	}
	m.core.RecordError(errors.KindOf(err).String())
}
