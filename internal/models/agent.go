package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RiskLimits are the per-agent limits consulted by the risk engine.
type RiskLimits struct {
	MaxOrderNotionalUSD decimal.Decimal `json:"max_order_notional_usd"`
	MaxPositionSizePct  decimal.Decimal `json:"max_position_size_pct"`
	MaxGrossExposureUSD decimal.Decimal `json:"max_gross_exposure_usd"`
	MaxDrawdownPct      decimal.Decimal `json:"max_drawdown_pct"`
	DailyLossCapUSD     decimal.Decimal `json:"daily_loss_cap_usd"`
	CooldownSeconds     int             `json:"cooldown_seconds"`
}

// Position is an open holding. Quantity is always >= 0; quantities at or
// below DustQuantity are removed by accounting, never left dangling.
type Position struct {
	Symbol           string          `json:"symbol"`
	Quantity         decimal.Decimal `json:"quantity"`
	AvgEntryPriceUSD decimal.Decimal `json:"avg_entry_price_usd"`
}

type Agent struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	StrategyID string `json:"strategy_id"`
	// APIKey is the agent's credential for token minting. Never serialized.
	APIKey string `json:"-"`

	// CashUSD never goes negative; buys that would overdraw fail.
	CashUSD        decimal.Decimal `json:"cash_usd"`
	RealizedPnlUSD decimal.Decimal `json:"realized_pnl_usd"`
	// PeakEquityUSD is a monotonic high-water mark, recomputed from live
	// market prices after every successful trade.
	PeakEquityUSD decimal.Decimal `json:"peak_equity_usd"`

	Positions map[string]*Position `json:"positions"`
	Risk      RiskLimits           `json:"risk_limits"`

	// DailyRealizedPnlUSD is keyed by UTC date (2006-01-02).
	DailyRealizedPnlUSD    map[string]decimal.Decimal `json:"daily_realized_pnl_usd"`
	RiskRejectionsByReason map[string]int64           `json:"risk_rejections_by_reason"`

	LastTradeAt *time.Time `json:"last_trade_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// DayKey is the bucket key for daily realized P&L.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}

func (a *Agent) Clone() *Agent {
	if a == nil {
		return nil
	}
	cp := *a
	cp.Positions = make(map[string]*Position, len(a.Positions))
	for sym, pos := range a.Positions {
		cp.Positions[sym] = pos.Clone()
	}
	cp.DailyRealizedPnlUSD = make(map[string]decimal.Decimal, len(a.DailyRealizedPnlUSD))
	for day, pnl := range a.DailyRealizedPnlUSD {
		cp.DailyRealizedPnlUSD[day] = pnl
	}
	cp.RiskRejectionsByReason = make(map[string]int64, len(a.RiskRejectionsByReason))
	for reason, n := range a.RiskRejectionsByReason {
		cp.RiskRejectionsByReason[reason] = n
	}
	if a.LastTradeAt != nil {
		t := *a.LastTradeAt
		cp.LastTradeAt = &t
	}
	return &cp
}
