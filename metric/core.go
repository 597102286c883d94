package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the service-level metrics shared by every component.
// Domain metrics (engine counters, worker lag) live with their owners and
// register through MetricsRegistry.Register.
type Metrics struct {
	ServiceStatus      *prometheus.GaugeVec
	EventsReceived     *prometheus.CounterVec
	EventsProcessed    *prometheus.CounterVec
	ProcessingDuration *prometheus.HistogramVec
	ErrorsTotal        *prometheus.CounterVec
}

func newCoreMetrics() *Metrics {
	return &Metrics{
		ServiceStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "osprey",
			Name:      "service_status",
			Help:      "Component status: 1 running, 0 stopped.",
		}, []string{"component"}),
		EventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "osprey",
			Name:      "events_received_total",
			Help:      "Events received from the input stream, per component.",
		}, []string{"component"}),
		EventsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "osprey",
			Name:      "events_processed_total",
			Help:      "Events processed, labeled by final status.",
		}, []string{"component", "status"}),
		ProcessingDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "osprey",
			Name:      "processing_duration_seconds",
			Help:      "Per-event processing latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"component"}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "osprey",
			Name:      "errors_total",
			Help:      "Errors encountered, labeled by classification.",
		}, []string{"component", "class"}),
	}
}

func (m *Metrics) register(registry *prometheus.Registry) {
	registry.MustRegister(
		m.ServiceStatus,
		m.EventsReceived,
		m.EventsProcessed,
		m.ProcessingDuration,
		m.ErrorsTotal,
	)
}
