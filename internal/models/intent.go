package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

type ExecutionMode string

const (
	ModePaper ExecutionMode = "paper"
	ModeLive  ExecutionMode = "live"
)

// IntentStatus is the intent state machine:
// pending -> processing -> executed | rejected | failed (terminal).
type IntentStatus string

const (
	IntentPending    IntentStatus = "pending"
	IntentProcessing IntentStatus = "processing"
	IntentExecuted   IntentStatus = "executed"
	IntentRejected   IntentStatus = "rejected"
	IntentFailed     IntentStatus = "failed"
)

func (s IntentStatus) Terminal() bool {
	return s == IntentExecuted || s == IntentRejected || s == IntentFailed
}

// TradeIntent is a submitted request to trade. Created once, mutated only
// by the execution pipeline, never deleted.
type TradeIntent struct {
	ID      string `json:"id"`
	AgentID string `json:"agent_id"`
	Symbol  string `json:"symbol"`
	Side    Side   `json:"side"`

	// Exactly one of Quantity / NotionalUSD may be zero; at least one is set.
	Quantity    decimal.Decimal `json:"quantity"`
	NotionalUSD decimal.Decimal `json:"notional_usd"`

	RequestedMode ExecutionMode `json:"requested_mode,omitempty"`

	IdempotencyKey string `json:"idempotency_key,omitempty"`
	RequestHash    string `json:"request_hash,omitempty"`
	Source         string `json:"source,omitempty"`

	Status       IntentStatus `json:"status"`
	StatusReason string       `json:"status_reason,omitempty"`
	ExecutionID  string       `json:"execution_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (i *TradeIntent) Clone() *TradeIntent {
	if i == nil {
		return nil
	}
	cp := *i
	return &cp
}

// IdempotencyRecord maps (agent, key) to the intent a prior identical
// submission created. Lifetime is the process lifetime.
type IdempotencyRecord struct {
	Key         string    `json:"key"`
	AgentID     string    `json:"agent_id"`
	RequestHash string    `json:"request_hash"`
	IntentID    string    `json:"intent_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// IdempotencyKeyFor composes the store lookup key.
func IdempotencyKeyFor(agentID, key string) string {
	return agentID + "\x00" + key
}
