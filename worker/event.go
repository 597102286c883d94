package worker

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/haileyok/osprey/engine"
	"github.com/haileyok/osprey/errors"
	"github.com/haileyok/osprey/rule"
)

// Event is the wire envelope for one incoming action.
type Event struct {
	ID        string         `json:"id"`
	Action    string         `json:"action"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// decodeEvent parses an event payload into an engine action. A missing ID
// or timestamp is filled in; a missing action name is malformed.
func decodeEvent(data []byte) (engine.Action, error) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return engine.Action{}, errors.WrapInvalid(
			errors.ErrMalformedEvent, "Worker", "decodeEvent", "parse event JSON")
	}
	if event.Action == "" {
		return engine.Action{}, errors.WrapInvalid(
			errors.ErrMalformedEvent, "Worker", "decodeEvent", "missing action name")
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	return engine.Action{
		ID:        event.ID,
		Name:      event.Action,
		Timestamp: event.Timestamp,
		Data:      event.Data,
	}, nil
}

// effectMessage is the wire form of one emitted effect.
type effectMessage struct {
	ActionID  string    `json:"action_id"`
	Action    string    `json:"action"`
	EmittedAt time.Time `json:"emitted_at"`
	rule.Effect
}

// resultMessage is the wire form of one evaluation report: rule outcomes,
// effects, and the per-event error report.
type resultMessage struct {
	ActionID  string                `json:"action_id"`
	Action    string                `json:"action"`
	Timestamp time.Time             `json:"timestamp"`
	Rules     []rule.Outcome        `json:"rules"`
	Effects   []rule.Effect         `json:"effects"`
	Errors    []engine.FeatureError `json:"errors,omitempty"`
}

func newResultMessage(result *engine.Result) resultMessage {
	return resultMessage{
		ActionID:  result.Action.ID,
		Action:    result.Action.Name,
		Timestamp: result.Action.Timestamp,
		Rules:     result.Rules,
		Effects:   result.Effects,
		Errors:    result.Errors,
	}
}
