// Package strategy is the signal oracle consulted by the execution
// pipeline and the autonomous loop. Strategies are looked up through a
// registry keyed by id; new strategies are added by registering another
// implementation, never by branching on type tags.
package strategy

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
	ActionHold Action = "hold"
)

type MarketContext struct {
	Symbol          string
	CurrentPriceUSD decimal.Decimal
	PriceHistoryUSD []decimal.Decimal
}

type Signal struct {
	Action Action `json:"action"`
	// Confidence is 0..1.
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

// Strategy implementations must be pure: same context, same signal.
type Strategy interface {
	ID() string
	Evaluate(mc MarketContext) Signal
}

type Registry struct {
	mu   sync.RWMutex
	byID map[string]Strategy
}

func NewRegistry(strategies ...Strategy) *Registry {
	r := &Registry{byID: map[string]Strategy{}}
	for _, s := range strategies {
		r.Register(s)
	}
	return r
}

func (r *Registry) Register(s Strategy) {
	if s == nil || s.ID() == "" {
		return
	}
	r.mu.Lock()
	r.byID[s.ID()] = s
	r.mu.Unlock()
}

func (r *Registry) Evaluate(strategyID string, mc MarketContext) (Signal, error) {
	r.mu.RLock()
	s, ok := r.byID[strategyID]
	r.mu.RUnlock()
	if !ok {
		return Signal{}, fmt.Errorf("unknown strategy %q", strategyID)
	}
	return s.Evaluate(mc), nil
}

func sma(prices []decimal.Decimal, n int) (decimal.Decimal, bool) {
	if n <= 0 || len(prices) < n {
		return decimal.Zero, false
	}
	sum := decimal.Zero
	for _, p := range prices[len(prices)-n:] {
		sum = sum.Add(p)
	}
	return sum.Div(decimal.NewFromInt(int64(n))), true
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
