package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/foani/CTA-Mission-sub000/metric"
)

// Metrics tracks envelope delivery.
type Metrics struct {
	delivered  *prometheus.CounterVec
	filtered   prometheus.Counter
	heartbeats prometheus.Counter
}

// NewMetrics creates and registers dispatcher metrics.
func NewMetrics(registry *metric.MetricsRegistry, componentName string) *Metrics {
	if registry == nil {
		return nil
	}

	metrics := &Metrics{
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "dispatch",
			Name:      "envelopes_delivered_total",
			Help:      "Envelopes delivered to the consumer by transport source",
		}, []string{"source"}),

		filtered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "dispatch",
			Name:      "envelopes_filtered_total",
			Help:      "Envelopes dropped by the consumer message filter",
		}),

		heartbeats: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "dispatch",
			Name:      "heartbeats_intercepted_total",
			Help:      "Heartbeat frames intercepted before consumer delivery",
		}),
	}

	_ = registry.Register(componentName, "envelopes_delivered", metrics.delivered)
	_ = registry.Register(componentName, "envelopes_filtered", metrics.filtered)
	_ = registry.Register(componentName, "heartbeats_intercepted", metrics.heartbeats)

	return metrics
}
