package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Momentum signals in the direction of a short/long SMA crossover.
// Confidence scales with the separation between the two averages.
type Momentum struct {
	ShortWindow int
	LongWindow  int
}

func NewMomentum() *Momentum {
	return &Momentum{ShortWindow: 5, LongWindow: 20}
}

func (s *Momentum) ID() string { return "momentum" }

func (s *Momentum) Evaluate(mc MarketContext) Signal {
	history := append(append([]decimal.Decimal(nil), mc.PriceHistoryUSD...), mc.CurrentPriceUSD)
	short, okS := sma(history, s.ShortWindow)
	long, okL := sma(history, s.LongWindow)
	if !okS || !okL || !long.IsPositive() {
		return Signal{Action: ActionHold, Rationale: "insufficient price history"}
	}
	// Fractional separation of the short SMA from the long SMA.
	sep, _ := short.Sub(long).Div(long).Float64()
	switch {
	case short.GreaterThan(long):
		return Signal{
			Action:     ActionBuy,
			Confidence: clamp01(sep * 50),
			Rationale:  fmt.Sprintf("short SMA %s above long SMA %s", short.StringFixed(4), long.StringFixed(4)),
		}
	case short.LessThan(long):
		return Signal{
			Action:     ActionSell,
			Confidence: clamp01(-sep * 50),
			Rationale:  fmt.Sprintf("short SMA %s below long SMA %s", short.StringFixed(4), long.StringFixed(4)),
		}
	default:
		return Signal{Action: ActionHold, Rationale: "flat crossover"}
	}
}
