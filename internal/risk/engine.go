// Package risk is the pure trade admission decision. Evaluate has no
// hidden state and does no I/O: identical inputs always produce the
// identical decision.
package risk

import (
	"time"

	"github.com/shopspring/decimal"

	"agentmarket/internal/models"
)

// Rejection reasons, machine-readable and counted per agent and globally.
const (
	ReasonCooldownActive         = "cooldown_active"
	ReasonMaxDrawdownExceeded    = "max_drawdown_exceeded"
	ReasonDailyLossCapExceeded   = "daily_loss_cap_exceeded"
	ReasonExposureLimitExhausted = "exposure_limit_exhausted"
)

type Input struct {
	Agent           *models.Agent
	Intent          *models.TradeIntent
	PriceUSD        decimal.Decimal
	MarketPricesUSD map[string]decimal.Decimal
	Now             time.Time
}

type Decision struct {
	Approved            bool            `json:"approved"`
	Reason              string          `json:"reason,omitempty"`
	ComputedNotionalUSD decimal.Decimal `json:"computed_notional_usd"`
	ComputedQuantity    decimal.Decimal `json:"computed_quantity"`
}

func reject(reason string) Decision {
	return Decision{Approved: false, Reason: reason}
}

// Evaluate applies the limit checks in order, short-circuiting on the
// first failure: cooldown, drawdown, daily loss cap, then size
// resolution against the notional caps.
func Evaluate(in Input) Decision {
	agent := in.Agent
	limits := agent.Risk

	if limits.CooldownSeconds > 0 && agent.LastTradeAt != nil {
		elapsed := in.Now.Sub(*agent.LastTradeAt)
		if elapsed < time.Duration(limits.CooldownSeconds)*time.Second {
			return reject(ReasonCooldownActive)
		}
	}

	equity := ComputeEquityUSD(agent, in.MarketPricesUSD)
	if limits.MaxDrawdownPct.IsPositive() && agent.PeakEquityUSD.IsPositive() {
		drawdown := agent.PeakEquityUSD.Sub(equity).Div(agent.PeakEquityUSD)
		if drawdown.GreaterThanOrEqual(limits.MaxDrawdownPct) {
			return reject(ReasonMaxDrawdownExceeded)
		}
	}

	if limits.DailyLossCapUSD.IsPositive() {
		today := agent.DailyRealizedPnlUSD[models.DayKey(in.Now)]
		if today.LessThanOrEqual(limits.DailyLossCapUSD.Neg()) {
			return reject(ReasonDailyLossCapExceeded)
		}
	}

	requested := in.Intent.NotionalUSD
	if !requested.IsPositive() {
		requested = in.Intent.Quantity.Mul(in.PriceUSD)
	}
	capped := requested
	if limits.MaxOrderNotionalUSD.IsPositive() && capped.GreaterThan(limits.MaxOrderNotionalUSD) {
		capped = limits.MaxOrderNotionalUSD
	}
	// Exposure caps bound the resulting post-trade exposure, so they only
	// bind buys; a sell always shrinks both position and gross exposure.
	if in.Intent.Side == models.SideBuy {
		if limits.MaxPositionSizePct.IsPositive() {
			current := positionValueUSD(agent, in.Intent.Symbol, in.MarketPricesUSD)
			headroom := limits.MaxPositionSizePct.Mul(equity).Sub(current)
			if capped.GreaterThan(headroom) {
				capped = headroom
			}
		}
		if limits.MaxGrossExposureUSD.IsPositive() {
			headroom := limits.MaxGrossExposureUSD.Sub(ComputeGrossExposureUSD(agent, in.MarketPricesUSD))
			if capped.GreaterThan(headroom) {
				capped = headroom
			}
		}
	}
	capped = models.Round8(capped)
	if !capped.IsPositive() {
		return reject(ReasonExposureLimitExhausted)
	}

	quantity := decimal.Zero
	if in.PriceUSD.IsPositive() {
		quantity = models.Round8(capped.Div(in.PriceUSD))
	}
	return Decision{
		Approved:            true,
		ComputedNotionalUSD: capped,
		ComputedQuantity:    quantity,
	}
}

// ComputeEquityUSD is cash plus mark-to-market value of open positions.
// A symbol with no live mark falls back to its average entry price.
func ComputeEquityUSD(agent *models.Agent, prices map[string]decimal.Decimal) decimal.Decimal {
	equity := agent.CashUSD
	for sym, pos := range agent.Positions {
		mark, ok := prices[sym]
		if !ok || !mark.IsPositive() {
			mark = pos.AvgEntryPriceUSD
		}
		equity = equity.Add(pos.Quantity.Mul(mark))
	}
	return models.Round8(equity)
}

// ComputeGrossExposureUSD is the sum of absolute market value of all
// open positions.
func ComputeGrossExposureUSD(agent *models.Agent, prices map[string]decimal.Decimal) decimal.Decimal {
	gross := decimal.Zero
	for sym, pos := range agent.Positions {
		mark, ok := prices[sym]
		if !ok || !mark.IsPositive() {
			mark = pos.AvgEntryPriceUSD
		}
		gross = gross.Add(pos.Quantity.Mul(mark).Abs())
	}
	return models.Round8(gross)
}

// ComputeDrawdownPct is the decline of current equity from the peak,
// as a 0..1 fraction. Zero when no peak has been recorded yet.
func ComputeDrawdownPct(agent *models.Agent, prices map[string]decimal.Decimal) decimal.Decimal {
	if !agent.PeakEquityUSD.IsPositive() {
		return decimal.Zero
	}
	equity := ComputeEquityUSD(agent, prices)
	dd := agent.PeakEquityUSD.Sub(equity).Div(agent.PeakEquityUSD)
	if dd.IsNegative() {
		return decimal.Zero
	}
	return dd
}

func positionValueUSD(agent *models.Agent, symbol string, prices map[string]decimal.Decimal) decimal.Decimal {
	pos, ok := agent.Positions[symbol]
	if !ok {
		return decimal.Zero
	}
	mark, ok := prices[symbol]
	if !ok || !mark.IsPositive() {
		mark = pos.AvgEntryPriceUSD
	}
	return pos.Quantity.Mul(mark)
}
