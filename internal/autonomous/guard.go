// Package autonomous runs the supervisory loop that trades on behalf of
// agents. The guard decides per tick whether an agent may trade at all;
// the service turns allowed signals into intents through the same
// idempotent path clients use.
package autonomous

import (
	"time"

	"github.com/shopspring/decimal"

	"agentmarket/internal/models"
)

// Guard denial reasons.
const (
	ReasonDrawdownStop = "drawdown_stop"
	ReasonCooldown     = "cooldown"
)

type GuardConfig struct {
	// MaxDrawdownStopPct halts trading while drawdown is at or above it.
	// The halt is re-evaluated every tick and recovers on its own.
	MaxDrawdownStopPct decimal.Decimal
	// CooldownAfterFailures opens a cooldown window once this many
	// consecutive execution failures accumulate.
	CooldownAfterFailures int
	CooldownWindow        time.Duration
}

type GuardDecision struct {
	AllowTrading bool   `json:"allow_trading"`
	Reason       string `json:"reason,omitempty"`
	// ClearCooldown reports that an elapsed cooldown window should be
	// wiped by the caller's transaction.
	ClearCooldown bool `json:"-"`
}

type Guard struct {
	Config GuardConfig
}

// Evaluate is pure: it inspects but never mutates state. A nil state is
// a fresh agent with no history.
func (g *Guard) Evaluate(now time.Time, drawdownPct decimal.Decimal, state *models.AutonomousAgentState) GuardDecision {
	if g.Config.MaxDrawdownStopPct.IsPositive() && drawdownPct.GreaterThanOrEqual(g.Config.MaxDrawdownStopPct) {
		return GuardDecision{AllowTrading: false, Reason: ReasonDrawdownStop}
	}
	if state != nil && !state.CooldownUntil.IsZero() {
		if now.Before(state.CooldownUntil) {
			return GuardDecision{AllowTrading: false, Reason: ReasonCooldown}
		}
		return GuardDecision{AllowTrading: true, ClearCooldown: true}
	}
	return GuardDecision{AllowTrading: true}
}

// DrawdownPct is (peak - equity) / peak, zero when there is no peak yet.
func DrawdownPct(peakEquity, equity decimal.Decimal) decimal.Decimal {
	if !peakEquity.IsPositive() {
		return decimal.Zero
	}
	dd := peakEquity.Sub(equity).Div(peakEquity)
	if dd.IsNegative() {
		return decimal.Zero
	}
	return dd
}
