package worker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/haileyok/osprey/metric"
)

// workerMetrics instruments event consumption. A nil receiver records
// nothing.
type workerMetrics struct {
	eventsConsumed  *prometheus.CounterVec
	handleDuration  prometheus.Histogram
	publishFailures prometheus.Counter
}

func newWorkerMetrics(registry *metric.MetricsRegistry) (*workerMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &workerMetrics{
		eventsConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "osprey",
			Subsystem: "worker",
			Name:      "events_consumed_total",
			Help:      "Events consumed from the stream, labeled by handling status.",
		}, []string{"status"}),
		handleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "osprey",
			Subsystem: "worker",
			Name:      "handle_duration_seconds",
			Help:      "Per-event handling latency including publication.",
			Buckets:   prometheus.DefBuckets,
		}),
		publishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "osprey",
			Subsystem: "worker",
			Name:      "publish_failures_total",
			Help:      "Failed effect or result publications.",
		}),
	}

	if err := registry.Register("worker", "events_consumed_total", m.eventsConsumed); err != nil {
		return nil, err
	}
	if err := registry.Register("worker", "handle_duration_seconds", m.handleDuration); err != nil {
		return nil, err
	}
	if err := registry.Register("worker", "publish_failures_total", m.publishFailures); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *workerMetrics) observeHandled(status string, took time.Duration) {
	if m == nil {
		return
	}
	m.eventsConsumed.WithLabelValues(status).Inc()
	m.handleDuration.Observe(took.Seconds())
}

func (m *workerMetrics) observePublishFailure() {
	if m == nil {
		return
	}
	m.publishFailures.Inc()
}
