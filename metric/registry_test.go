package metric

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haileyok/osprey/errors"
)

func TestNewMetricsRegistry(t *testing.T) {
	registry := NewMetricsRegistry()
	require.NotNil(t, registry.PrometheusRegistry())
	require.NotNil(t, registry.CoreMetrics())

	// Core metrics are usable immediately.
	registry.CoreMetrics().EventsReceived.WithLabelValues("worker").Inc()
	registry.CoreMetrics().ServiceStatus.WithLabelValues("worker").Set(1)

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, family := range families {
		names[family.GetName()] = true
	}
	assert.True(t, names["osprey_events_received_total"])
	assert.True(t, names["osprey_service_status"])
	assert.True(t, names["go_goroutines"], "runtime collectors should be registered")
}

func TestRegisterAndUnregister(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "worker_custom_total",
		Help: "test counter",
	})

	require.NoError(t, registry.Register("worker", "custom_total", counter))

	err := registry.Register("worker", "custom_total", counter)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	assert.True(t, registry.Unregister("worker", "custom_total"))
	assert.False(t, registry.Unregister("worker", "custom_total"))

	// Re-registration works after unregistering.
	require.NoError(t, registry.Register("worker", "custom_total", counter))
}
