// Package venue is the external swap collaborator consumed by the live
// execution path. Failures are typed so the retry loop can distinguish
// "retry" from "fail now".
package venue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type QuoteRequest struct {
	Symbol      string          `json:"symbol"`
	Side        string          `json:"side"`
	NotionalUSD decimal.Decimal `json:"notional_usd"`
	Quantity    decimal.Decimal `json:"quantity"`
	FeeBps      int             `json:"fee_bps"`
}

type Quote struct {
	ID        string          `json:"id"`
	Symbol    string          `json:"symbol"`
	Side      string          `json:"side"`
	PriceUSD  decimal.Decimal `json:"price_usd"`
	InAmount  decimal.Decimal `json:"in_amount"`
	OutAmount decimal.Decimal `json:"out_amount"`
	ExpiresAt time.Time       `json:"expires_at"`
}

type SwapResult struct {
	TxSignature string `json:"tx_signature"`
	Simulated   bool   `json:"simulated"`
}

// Client is the quote/swap surface of the venue. Implementations must be
// safe for concurrent use.
type Client interface {
	Quote(ctx context.Context, req QuoteRequest) (*Quote, error)
	SwapFromQuote(ctx context.Context, q *Quote, feeAccount string) (*SwapResult, error)
	IsReadyForLive() bool
}

// Error wraps a venue failure. Transient errors are worth retrying with
// backoff; terminal errors fail the intent immediately.
type Error struct {
	Op        string
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	kind := "terminal"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("venue %s (%s): %v", e.Op, kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsTransient reports whether err should be retried. Unknown error types
// are treated as terminal.
func IsTransient(err error) bool {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Transient
	}
	return false
}
