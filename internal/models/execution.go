package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type ExecutionStatus string

const (
	ExecutionFilled ExecutionStatus = "filled"
	ExecutionFailed ExecutionStatus = "failed"
)

// ExecutionRecord is the immutable result of attempting to fill an
// intent. Fields are never updated once the record is committed.
type ExecutionRecord struct {
	ID       string `json:"id"`
	IntentID string `json:"intent_id"`
	AgentID  string `json:"agent_id"`
	Symbol   string `json:"symbol"`
	Side     Side   `json:"side"`

	Quantity         decimal.Decimal `json:"quantity"`
	PriceUSD         decimal.Decimal `json:"price_usd"`
	GrossNotionalUSD decimal.Decimal `json:"gross_notional_usd"`
	FeeUSD           decimal.Decimal `json:"fee_usd"`
	NetUSD           decimal.Decimal `json:"net_usd"`
	RealizedPnlUSD   decimal.Decimal `json:"realized_pnl_usd"`
	// PnlSnapshotUSD is the agent's lifetime realized P&L before this
	// execution, kept for audit replay.
	PnlSnapshotUSD decimal.Decimal `json:"pnl_snapshot_usd"`

	Mode        ExecutionMode   `json:"mode"`
	Status      ExecutionStatus `json:"status"`
	FailReason  string          `json:"fail_reason,omitempty"`
	TxSignature string          `json:"tx_signature,omitempty"`
	ReceiptHash string          `json:"receipt_hash,omitempty"`

	ExecutedAt time.Time `json:"executed_at"`
}

func (e *ExecutionRecord) Clone() *ExecutionRecord {
	if e == nil {
		return nil
	}
	cp := *e
	return &cp
}
