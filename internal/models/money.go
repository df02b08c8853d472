package models

import "github.com/shopspring/decimal"

// MoneyScale is the fixed scale for every monetary and quantity field.
// Rounding at each mutation keeps float drift from accumulating across
// many small trades.
const MoneyScale = 8

// DustQuantity is the threshold under which a position is removed
// instead of being left dangling.
var DustQuantity = decimal.New(1, -12) // 1e-12

func Round8(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyScale)
}
