package execution

import (
	"testing"

	"github.com/shopspring/decimal"

	"agentmarket/internal/models"
)

func newAccountingAgent(cash float64) (*models.State, *models.Agent) {
	st := seedState(cash)
	return st, st.Agents["a1"]
}

func apply(t *testing.T, st *models.State, agent *models.Agent, side models.Side, qty, price float64) tradeResult {
	t.Helper()
	q := dec(qty)
	p := dec(price)
	notional := q.Mul(p)
	fee := models.Round8(notional.Mul(dec(0.0008)))
	res, err := applyAccountingTrade(st, agent, side, "SOL", q, p, notional, fee, testNow)
	if err != nil {
		t.Fatalf("apply %s %v@%v: %v", side, qty, price, err)
	}
	return res
}

func TestApplyAccountingTrade_WeightedAverageEntry(t *testing.T) {
	st, agent := newAccountingAgent(100000)
	apply(t, st, agent, models.SideBuy, 10, 100)
	apply(t, st, agent, models.SideBuy, 10, 120)

	pos := agent.Positions["SOL"]
	if got, want := pos.Quantity.String(), "20"; got != want {
		t.Fatalf("qty=%s want=%s", got, want)
	}
	if got, want := pos.AvgEntryPriceUSD.String(), "110"; got != want {
		t.Fatalf("avg=%s want=%s", got, want)
	}
}

func TestApplyAccountingTrade_SellRealizesPnl(t *testing.T) {
	st, agent := newAccountingAgent(10000)
	apply(t, st, agent, models.SideBuy, 5, 100)
	res := apply(t, st, agent, models.SideSell, 2, 110)

	if got, want := res.RealizedPnlUSD.String(), "20"; got != want {
		t.Fatalf("realized=%s want=%s", got, want)
	}
	if got, want := agent.Positions["SOL"].Quantity.String(), "3"; got != want {
		t.Fatalf("remaining qty=%s want=%s", got, want)
	}
	if got, want := agent.Positions["SOL"].AvgEntryPriceUSD.String(), "100"; got != want {
		t.Fatalf("avg changed on sell: %s want=%s", got, want)
	}
}

func TestApplyAccountingTrade_Failures(t *testing.T) {
	st, agent := newAccountingAgent(100)
	if _, err := applyAccountingTrade(st, agent, models.SideBuy, "SOL",
		dec(5), dec(100), dec(500), dec(0.4), testNow); err == nil || err.Error() != FailInsufficientCash {
		t.Fatalf("err=%v want=%s", err, FailInsufficientCash)
	}
	if !agent.CashUSD.Equal(dec(100)) || !st.TreasuryUSD.IsZero() {
		t.Fatalf("failed buy mutated books: cash=%s treasury=%s", agent.CashUSD, st.TreasuryUSD)
	}

	if _, err := applyAccountingTrade(st, agent, models.SideSell, "SOL",
		dec(1), dec(100), dec(100), dec(0.08), testNow); err == nil || err.Error() != FailInsufficientInventory {
		t.Fatalf("err=%v want=%s", err, FailInsufficientInventory)
	}
}

func TestApplyAccountingTrade_DustRemoved(t *testing.T) {
	st, agent := newAccountingAgent(10000)
	apply(t, st, agent, models.SideBuy, 1, 100)

	// Sell everything but a sub-dust remainder.
	remainder, _ := decimal.NewFromString("0.0000000000005")
	sellQty := dec(1).Sub(remainder)
	notional := sellQty.Mul(dec(100))
	fee := models.Round8(notional.Mul(dec(0.0008)))
	if _, err := applyAccountingTrade(st, agent, models.SideSell, "SOL",
		sellQty, dec(100), notional, fee, testNow); err != nil {
		t.Fatalf("sell: %v", err)
	}
	if _, ok := agent.Positions["SOL"]; ok {
		t.Fatalf("dust position left dangling: %+v", agent.Positions["SOL"])
	}
}

func TestApplyAccountingTrade_PeakEquityMonotonic(t *testing.T) {
	st, agent := newAccountingAgent(10000)
	apply(t, st, agent, models.SideBuy, 5, 100)
	peak := agent.PeakEquityUSD

	// A losing sell must not lower the high-water mark.
	st.MarketPricesUSD["SOL"] = dec(80)
	apply(t, st, agent, models.SideSell, 5, 80)
	if agent.PeakEquityUSD.LessThan(peak) {
		t.Fatalf("peak decreased: %s -> %s", peak, agent.PeakEquityUSD)
	}

	// A winning round trip raises it.
	apply(t, st, agent, models.SideBuy, 5, 80)
	st.MarketPricesUSD["SOL"] = dec(200)
	apply(t, st, agent, models.SideSell, 5, 200)
	if !agent.PeakEquityUSD.GreaterThan(peak) {
		t.Fatalf("peak not raised after profitable trade: %s", agent.PeakEquityUSD)
	}
}

// Conservation: cash + entry value of open positions + fees collected
// always equals starting capital plus realized P&L, to 1e-8.
func TestApplyAccountingTrade_Conservation(t *testing.T) {
	const startingCash = 25000.0
	st, agent := newAccountingAgent(startingCash)

	fills := []struct {
		side  models.Side
		qty   float64
		price float64
	}{
		{models.SideBuy, 3, 101.37},
		{models.SideBuy, 7.25, 98.02},
		{models.SideSell, 4.5, 104.99},
		{models.SideBuy, 1.000001, 110.11},
		{models.SideSell, 6.7, 95.55},
		{models.SideBuy, 12, 99.999},
		{models.SideSell, 0.049999, 120},
	}
	for _, f := range fills {
		st.MarketPricesUSD["SOL"] = dec(f.price)
		apply(t, st, agent, f.side, f.qty, f.price)
	}

	entryValue := decimal.Zero
	for _, pos := range agent.Positions {
		entryValue = entryValue.Add(pos.Quantity.Mul(pos.AvgEntryPriceUSD))
	}
	lhs := agent.CashUSD.Add(entryValue).Add(st.TreasuryUSD)
	rhs := dec(startingCash).Add(agent.RealizedPnlUSD)
	if diff := lhs.Sub(rhs).Abs(); diff.GreaterThan(decimal.New(1, -8)) {
		t.Fatalf("books off by %s: lhs=%s rhs=%s", diff, lhs, rhs)
	}
	if agent.CashUSD.IsNegative() {
		t.Fatalf("cash went negative: %s", agent.CashUSD)
	}
}

func TestApplyAccountingTrade_SetsLastTradeAt(t *testing.T) {
	st, agent := newAccountingAgent(10000)
	apply(t, st, agent, models.SideBuy, 1, 100)
	if agent.LastTradeAt == nil || !agent.LastTradeAt.Equal(testNow.UTC()) {
		t.Fatalf("lastTradeAt=%v want=%v", agent.LastTradeAt, testNow)
	}
}
