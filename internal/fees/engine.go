// Package fees computes execution fees and the fee routing parameters
// attached to live swaps.
package fees

import (
	"github.com/shopspring/decimal"

	"agentmarket/internal/models"
)

type Engine struct {
	feePct     decimal.Decimal
	feeBps     int
	feeAccount string
}

// New builds a fee engine from a percentage fee (0.0008 = 8 bps).
func New(feePct decimal.Decimal, feeAccount string) *Engine {
	if feePct.IsNegative() {
		feePct = decimal.Zero
	}
	return &Engine{
		feePct:     feePct,
		feeBps:     int(feePct.Mul(decimal.NewFromInt(10000)).IntPart()),
		feeAccount: feeAccount,
	}
}

func (e *Engine) CalculateExecutionFeeUSD(notionalUSD decimal.Decimal) decimal.Decimal {
	if !notionalUSD.IsPositive() {
		return decimal.Zero
	}
	return models.Round8(notionalUSD.Mul(e.feePct))
}

type SwapFeeParams struct {
	FeeBps     int    `json:"fee_bps"`
	FeeAccount string `json:"fee_account"`
}

func (e *Engine) BuildSwapFeeParams() SwapFeeParams {
	return SwapFeeParams{FeeBps: e.feeBps, FeeAccount: e.feeAccount}
}
