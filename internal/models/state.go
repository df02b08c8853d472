package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Metrics are the global pipeline counters owned by the state store.
type Metrics struct {
	IntentsCreated  int64 `json:"intents_created"`
	IntentsReplayed int64 `json:"intents_replayed"`
	IntentsExecuted int64 `json:"intents_executed"`
	IntentsRejected int64 `json:"intents_rejected"`
	IntentsFailed   int64 `json:"intents_failed"`

	RejectionsByReason map[string]int64 `json:"rejections_by_reason"`

	SwapQuoteAttempts int64 `json:"swap_quote_attempts"`
	SwapSendAttempts  int64 `json:"swap_send_attempts"`
}

// State is the full mutable domain state. It is owned exclusively by the
// store; everything handed out is a deep copy.
type State struct {
	Agents      map[string]*Agent                `json:"agents"`
	Intents     map[string]*TradeIntent          `json:"intents"`
	Executions  map[string]*ExecutionRecord      `json:"executions"`
	Receipts    map[string]*ExecutionReceipt     `json:"receipts"`
	Idempotency map[string]*IdempotencyRecord    `json:"idempotency"`
	Autonomous  map[string]*AutonomousAgentState `json:"autonomous"`

	// LatestReceiptHash is the single global chain head; every new
	// receipt links backward to it.
	LatestReceiptHash string `json:"latest_receipt_hash"`
	// ReceiptOrder preserves append order for chain verification.
	ReceiptOrder []string `json:"receipt_order"`

	MarketPricesUSD map[string]decimal.Decimal   `json:"market_prices_usd"`
	PriceHistoryUSD map[string][]decimal.Decimal `json:"price_history_usd"`

	// TreasuryUSD accrues execution fees so the books stay closed.
	TreasuryUSD decimal.Decimal `json:"treasury_usd"`

	Metrics Metrics `json:"metrics"`

	UpdatedAt time.Time `json:"updated_at"`
}

func NewState() *State {
	return &State{
		Agents:          map[string]*Agent{},
		Intents:         map[string]*TradeIntent{},
		Executions:      map[string]*ExecutionRecord{},
		Receipts:        map[string]*ExecutionReceipt{},
		Idempotency:     map[string]*IdempotencyRecord{},
		Autonomous:      map[string]*AutonomousAgentState{},
		MarketPricesUSD: map[string]decimal.Decimal{},
		PriceHistoryUSD: map[string][]decimal.Decimal{},
		TreasuryUSD:     decimal.Zero,
		Metrics:         Metrics{RejectionsByReason: map[string]int64{}},
	}
}

// Clone is a full deep copy. Transactions work on clones so an aborted
// transaction leaves zero partial effects.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	cp := NewState()
	for id, a := range s.Agents {
		cp.Agents[id] = a.Clone()
	}
	for id, it := range s.Intents {
		cp.Intents[id] = it.Clone()
	}
	for id, ex := range s.Executions {
		cp.Executions[id] = ex.Clone()
	}
	for id, r := range s.Receipts {
		cp.Receipts[id] = r.Clone()
	}
	for key, rec := range s.Idempotency {
		c := *rec
		cp.Idempotency[key] = &c
	}
	for id, st := range s.Autonomous {
		cp.Autonomous[id] = st.Clone()
	}
	cp.LatestReceiptHash = s.LatestReceiptHash
	cp.ReceiptOrder = append([]string(nil), s.ReceiptOrder...)
	for sym, p := range s.MarketPricesUSD {
		cp.MarketPricesUSD[sym] = p
	}
	for sym, hist := range s.PriceHistoryUSD {
		cp.PriceHistoryUSD[sym] = append([]decimal.Decimal(nil), hist...)
	}
	cp.TreasuryUSD = s.TreasuryUSD
	cp.Metrics = s.Metrics
	cp.Metrics.RejectionsByReason = make(map[string]int64, len(s.Metrics.RejectionsByReason))
	for reason, n := range s.Metrics.RejectionsByReason {
		cp.Metrics.RejectionsByReason[reason] = n
	}
	cp.UpdatedAt = s.UpdatedAt
	return cp
}
