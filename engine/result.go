package engine

import (
	"time"

	"github.com/haileyok/osprey/feature"
	"github.com/haileyok/osprey/rule"
)

// Action is one incoming event: a named action with its raw payload.
// Evaluate fills a missing ID and timestamp.
type Action struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// FeatureError is one entry of the per-event error report. Only root-cause
// failures appear; features that failed because an upstream feature failed
// are not re-reported.
type FeatureError struct {
	Feature string `json:"feature"`
	Message string `json:"message"`
}

// Result is the complete outcome of evaluating one event: every rule
// outcome, the emitted effects in deterministic order, the features that
// were resolved, and the error report.
type Result struct {
	Action   Action                        `json:"action"`
	Features map[string]feature.Resolution `json:"features"`
	Rules    []rule.Outcome                `json:"rules"`
	Effects  []rule.Effect                 `json:"effects"`
	Errors   []FeatureError                `json:"errors,omitempty"`
}

// Triggered returns the names of rules that evaluated true.
func (r *Result) Triggered() []string {
	var names []string
	for _, out := range r.Rules {
		if out.Value {
			names = append(names, out.Name)
		}
	}
	return names
}
