package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/haileyok/osprey/feature"
	"github.com/haileyok/osprey/rule"
)

// engineMetrics instruments evaluation. A nil receiver is valid and records
// nothing, so metrics stay optional.
type engineMetrics struct {
	events         *prometheus.CounterVec
	duration       prometheus.Histogram
	featureStates  *prometheus.CounterVec
	invocations    *prometheus.CounterVec
	rulesTriggered prometheus.Counter
	effects        prometheus.Counter
}

func newEngineMetrics(registry *prometheus.Registry) *engineMetrics {
	if registry == nil {
		return nil
	}
	m := &engineMetrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "osprey",
			Subsystem: "engine",
			Name:      "events_evaluated_total",
			Help:      "Events evaluated, labeled by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "osprey",
			Subsystem: "engine",
			Name:      "evaluation_duration_seconds",
			Help:      "End to end evaluation latency per event.",
			Buckets:   prometheus.DefBuckets,
		}),
		featureStates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "osprey",
			Subsystem: "engine",
			Name:      "feature_resolutions_total",
			Help:      "Feature resolutions, labeled by final state.",
		}, []string{"state"}),
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "osprey",
			Subsystem: "engine",
			Name:      "udf_invocations_total",
			Help:      "UDF invocations, labeled by UDF name and execution mode.",
		}, []string{"udf", "mode"}),
		rulesTriggered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "osprey",
			Subsystem: "engine",
			Name:      "rules_triggered_total",
			Help:      "Rules that evaluated true.",
		}),
		effects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "osprey",
			Subsystem: "engine",
			Name:      "effects_emitted_total",
			Help:      "Effects emitted across all events.",
		}),
	}
	registry.MustRegister(m.events, m.duration, m.featureStates, m.invocations, m.rulesTriggered, m.effects)
	return m
}

func (m *engineMetrics) observeEvent(took time.Duration, ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	m.events.WithLabelValues(outcome).Inc()
	m.duration.Observe(took.Seconds())
}

func (m *engineMetrics) observeFeature(state feature.State) {
	if m == nil {
		return
	}
	m.featureStates.WithLabelValues(state.String()).Inc()
}

func (m *engineMetrics) observeInvocation(name string, async bool) {
	if m == nil {
		return
	}
	mode := "sync"
	if async {
		mode = "async"
	}
	m.invocations.WithLabelValues(name, mode).Inc()
}

func (m *engineMetrics) observeOutcomes(outcomes []rule.Outcome, effects []rule.Effect) {
	if m == nil {
		return
	}
	for _, out := range outcomes {
		if out.Value {
			m.rulesTriggered.Inc()
		}
	}
	m.effects.Add(float64(len(effects)))
}
