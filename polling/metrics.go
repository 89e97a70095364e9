package polling

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/foani/CTA-Mission-sub000/metric"
)

// Metrics tracks fallback polling activity.
type Metrics struct {
	requests *prometheus.CounterVec
	duration prometheus.Histogram
}

// NewMetrics creates and registers polling metrics.
func NewMetrics(registry *metric.MetricsRegistry, componentName string) *Metrics {
	if registry == nil {
		return nil
	}

	metrics := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "polling",
			Name:      "requests_total",
			Help:      "Poll requests by channel and outcome",
		}, []string{"channel", "outcome"}),

		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: "polling",
			Name:      "request_duration_seconds",
			Help:      "Poll request duration",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		}),
	}

	_ = registry.Register(componentName, "requests", metrics.requests)
	_ = registry.Register(componentName, "request_duration", metrics.duration)

	return metrics
}
