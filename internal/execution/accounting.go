package execution

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"agentmarket/internal/models"
	"agentmarket/internal/risk"
)

// Accounting failure reasons. A failure here still records a failed
// execution and receipt; it is not a risk rejection.
const (
	FailInsufficientCash      = "insufficient_cash_for_buy"
	FailInsufficientInventory = "insufficient_inventory_for_sell"
)

var (
	errInsufficientCash      = errors.New(FailInsufficientCash)
	errInsufficientInventory = errors.New(FailInsufficientInventory)
)

type tradeResult struct {
	RealizedPnlUSD decimal.Decimal
	PnlSnapshotUSD decimal.Decimal
	NetUSD         decimal.Decimal
}

// applyAccountingTrade mutates the agent's cash, positions, and P&L for
// one fill. It must only run inside a store transaction; all monetary
// values are fixed to 8 decimal places on the way in and out.
func applyAccountingTrade(st *models.State, agent *models.Agent, side models.Side, symbol string,
	quantity, priceUSD, notionalUSD, feeUSD decimal.Decimal, now time.Time) (tradeResult, error) {

	quantity = models.Round8(quantity)
	notionalUSD = models.Round8(notionalUSD)
	feeUSD = models.Round8(feeUSD)
	res := tradeResult{PnlSnapshotUSD: agent.RealizedPnlUSD}

	switch side {
	case models.SideBuy:
		cost := notionalUSD.Add(feeUSD)
		if agent.CashUSD.LessThan(cost) {
			return res, errInsufficientCash
		}
		if agent.Positions == nil {
			agent.Positions = map[string]*models.Position{}
		}
		pos := agent.Positions[symbol]
		if pos == nil {
			pos = &models.Position{Symbol: symbol}
			agent.Positions[symbol] = pos
		}
		newQty := pos.Quantity.Add(quantity)
		if newQty.IsPositive() {
			// Weighted-average entry across the old lot and this fill.
			weighted := pos.Quantity.Mul(pos.AvgEntryPriceUSD).Add(notionalUSD)
			pos.AvgEntryPriceUSD = models.Round8(weighted.Div(newQty))
		}
		pos.Quantity = models.Round8(newQty)
		agent.CashUSD = models.Round8(agent.CashUSD.Sub(cost))
		res.NetUSD = cost.Neg()

	case models.SideSell:
		pos := agent.Positions[symbol]
		if pos == nil || pos.Quantity.LessThan(quantity) {
			return res, errInsufficientInventory
		}
		realized := models.Round8(priceUSD.Sub(pos.AvgEntryPriceUSD).Mul(quantity))
		agent.CashUSD = models.Round8(agent.CashUSD.Add(notionalUSD).Sub(feeUSD))
		agent.RealizedPnlUSD = models.Round8(agent.RealizedPnlUSD.Add(realized))
		if agent.DailyRealizedPnlUSD == nil {
			agent.DailyRealizedPnlUSD = map[string]decimal.Decimal{}
		}
		day := models.DayKey(now)
		agent.DailyRealizedPnlUSD[day] = models.Round8(agent.DailyRealizedPnlUSD[day].Add(realized))
		pos.Quantity = models.Round8(pos.Quantity.Sub(quantity))
		if pos.Quantity.LessThanOrEqual(models.DustQuantity) {
			delete(agent.Positions, symbol)
		}
		res.RealizedPnlUSD = realized
		res.NetUSD = notionalUSD.Sub(feeUSD)

	default:
		return res, errors.New("unknown side")
	}

	st.TreasuryUSD = models.Round8(st.TreasuryUSD.Add(feeUSD))
	t := now.UTC()
	agent.LastTradeAt = &t

	// High-water mark: recomputed from live marks, never decreases.
	equity := risk.ComputeEquityUSD(agent, st.MarketPricesUSD)
	if equity.GreaterThan(agent.PeakEquityUSD) {
		agent.PeakEquityUSD = equity
	}
	return res, nil
}
