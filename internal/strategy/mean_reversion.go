package strategy

import "fmt"

// MeanReversion fades deviations of the current price from its SMA:
// buy when the price sits well below the average, sell when well above.
type MeanReversion struct {
	Window int
	// EntryThreshold is the fractional deviation that produces a signal
	// (0.02 = 2%).
	EntryThreshold float64
}

func NewMeanReversion() *MeanReversion {
	return &MeanReversion{Window: 20, EntryThreshold: 0.02}
}

func (s *MeanReversion) ID() string { return "mean_reversion" }

func (s *MeanReversion) Evaluate(mc MarketContext) Signal {
	avg, ok := sma(mc.PriceHistoryUSD, s.Window)
	if !ok || !avg.IsPositive() || !mc.CurrentPriceUSD.IsPositive() {
		return Signal{Action: ActionHold, Rationale: "insufficient price history"}
	}
	dev, _ := mc.CurrentPriceUSD.Sub(avg).Div(avg).Float64()
	threshold := s.EntryThreshold
	if threshold <= 0 {
		threshold = 0.02
	}
	switch {
	case dev <= -threshold:
		return Signal{
			Action:     ActionBuy,
			Confidence: clamp01(-dev / (threshold * 4)),
			Rationale:  fmt.Sprintf("price %.2f%% below %d-period SMA %s", -dev*100, s.Window, avg.StringFixed(4)),
		}
	case dev >= threshold:
		return Signal{
			Action:     ActionSell,
			Confidence: clamp01(dev / (threshold * 4)),
			Rationale:  fmt.Sprintf("price %.2f%% above %d-period SMA %s", dev*100, s.Window, avg.StringFixed(4)),
		}
	default:
		return Signal{Action: ActionHold, Rationale: "price within reversion band"}
	}
}
