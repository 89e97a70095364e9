package metric

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foani/CTA-Mission-sub000/errors"
)

func TestNewMetricsRegistry(t *testing.T) {
	registry := NewMetricsRegistry()
	require.NotNil(t, registry)
	require.NotNil(t, registry.Core)
	require.NotNil(t, registry.PrometheusRegistry())

	// Core collectors must be gatherable immediately.
	registry.Core.ConnectionState.Set(2)
	registry.Core.MessagesDelivered.WithLabelValues("push").Inc()

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["cta_realtime_session_connection_state"])
	assert.True(t, names["cta_realtime_dispatch_messages_delivered_total"])
}

func TestRegisterComponentMetric(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "polling",
		Name:      "requests_total",
		Help:      "Test counter",
	})

	require.NoError(t, registry.Register("polling", "requests_total", counter))

	// Same key again is invalid.
	err := registry.Register("polling", "requests_total", counter)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	// A different component can register its own metric.
	other := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "session",
		Name:      "frames_total",
		Help:      "Test counter",
	})
	require.NoError(t, registry.Register("session", "frames_total", other))
}

func TestRegisterPrometheusConflict(t *testing.T) {
	registry := NewMetricsRegistry()

	newCounter := func() prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "session",
			Name:      "conflict_total",
			Help:      "Test counter",
		})
	}

	require.NoError(t, registry.Register("a", "conflict", newCounter()))

	// Different registry key, identical prometheus descriptor.
	err := registry.Register("b", "conflict", newCounter())
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestUnregister(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "dispatch",
		Name:      "dropped_total",
		Help:      "Test counter",
	})

	require.NoError(t, registry.Register("dispatch", "dropped_total", counter))
	assert.True(t, registry.Unregister("dispatch", "dropped_total"))

	// Second unregister is a no-op.
	assert.False(t, registry.Unregister("dispatch", "dropped_total"))

	// Re-registration works after unregister.
	require.NoError(t, registry.Register("dispatch", "dropped_total", counter))
}
