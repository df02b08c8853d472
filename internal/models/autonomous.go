package models

import "time"

// AutonomousAgentState is the per-agent bookkeeping of the autonomous
// loop. Created lazily on first evaluation, never deleted while the
// agent exists.
type AutonomousAgentState struct {
	AgentID string `json:"agent_id"`

	TotalEvaluations    int64 `json:"total_evaluations"`
	TotalSkipped        int64 `json:"total_skipped"`
	TotalIntentsCreated int64 `json:"total_intents_created"`

	ConsecutiveFailures int `json:"consecutive_failures"`
	// CooldownUntil is zero when no cooldown window is active.
	CooldownUntil time.Time `json:"cooldown_until"`

	LastEvaluatedAt time.Time `json:"last_evaluated_at"`
	LastSkipReason  string    `json:"last_skip_reason,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (s *AutonomousAgentState) Clone() *AutonomousAgentState {
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}
