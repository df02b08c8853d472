package models

import "time"

// Event types emitted by the core. Delivery is fire-and-forget; the
// pipeline never waits on a sink.
const (
	EventIntentCreated  = "intent.created"
	EventIntentExecuted = "intent.executed"
	EventIntentRejected = "intent.rejected"
	EventIntentFailed   = "intent.failed"
	EventAutonomousTick = "autonomous.tick"
)

type Event struct {
	Type        string         `json:"type"`
	AgentID     string         `json:"agent_id,omitempty"`
	IntentID    string         `json:"intent_id,omitempty"`
	ExecutionID string         `json:"execution_id,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
	At          time.Time      `json:"at"`
}
