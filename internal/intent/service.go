// Package intent validates and idempotently creates trade intents. It is
// the single entry point for both client submissions and the autonomous
// loop.
package intent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"agentmarket/internal/events"
	"agentmarket/internal/models"
	"agentmarket/internal/ratelimit"
	"agentmarket/internal/store"
)

const maxIdempotencyKeyLen = 128

// ErrIdempotencyConflict marks reuse of an idempotency key with a
// different payload. It is client misuse, distinct from validation.
var ErrIdempotencyConflict = errors.New("idempotency key reused with different payload")

// ValidationError is a bad payload, surfaced before any state mutation.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}

// RateLimitError is an admission denial; the pipeline is never touched.
type RateLimitError struct {
	RetryAfterSeconds int
	Limit             int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %ds", e.RetryAfterSeconds)
}

type Service struct {
	Store   *store.Store
	Limiter *ratelimit.Limiter
	Events  events.Sink
	Logger  *zap.Logger

	// Symbols is the tradable universe. Empty means any symbol with a
	// known market price.
	Symbols map[string]bool

	now   func() time.Time
	newID func() string
}

func NewService(st *store.Store, limiter *ratelimit.Limiter, sink events.Sink, logger *zap.Logger, symbols []string) *Service {
	set := map[string]bool{}
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" {
			set[s] = true
		}
	}
	return &Service{
		Store:   st,
		Limiter: limiter,
		Events:  sink,
		Logger:  logger,
		Symbols: set,
		now:     time.Now,
		newID:   func() string { return uuid.NewString() },
	}
}

type CreateRequest struct {
	AgentID        string
	Symbol         string
	Side           models.Side
	Quantity       decimal.Decimal
	NotionalUSD    decimal.Decimal
	RequestedMode  models.ExecutionMode
	IdempotencyKey string
	// Source tags who submitted (api, autonomous).
	Source string
}

type CreateResult struct {
	Intent   *models.TradeIntent `json:"intent"`
	Replayed bool                `json:"replayed"`
}

// Create validates, applies admission control, and creates the intent.
// The intent and its idempotency record commit in the same transaction,
// so there is no window where one exists without the other.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	req.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))
	if err := s.validate(req); err != nil {
		return nil, err
	}

	if s.Limiter != nil {
		if res := s.Limiter.Check(req.AgentID); !res.Allowed {
			return nil, &RateLimitError{RetryAfterSeconds: res.RetryAfterSeconds, Limit: res.Limit}
		}
	}

	now := s.now().UTC()
	hash := requestHash(req)
	var result CreateResult
	err := s.Store.Update(func(st *models.State) error {
		if _, ok := st.Agents[req.AgentID]; !ok {
			return &ValidationError{Field: "agent_id", Msg: "unknown agent"}
		}
		if len(s.Symbols) == 0 {
			if _, ok := st.MarketPricesUSD[req.Symbol]; !ok {
				return &ValidationError{Field: "symbol", Msg: "unsupported symbol"}
			}
		}

		if req.IdempotencyKey != "" {
			lookup := models.IdempotencyKeyFor(req.AgentID, req.IdempotencyKey)
			if rec, ok := st.Idempotency[lookup]; ok {
				if rec.RequestHash != hash {
					return ErrIdempotencyConflict
				}
				orig, ok := st.Intents[rec.IntentID]
				if !ok {
					return fmt.Errorf("idempotency record points at missing intent %s", rec.IntentID)
				}
				st.Metrics.IntentsReplayed++
				result = CreateResult{Intent: orig.Clone(), Replayed: true}
				return nil
			}
		}

		it := &models.TradeIntent{
			ID:             s.newID(),
			AgentID:        req.AgentID,
			Symbol:         req.Symbol,
			Side:           req.Side,
			Quantity:       models.Round8(req.Quantity),
			NotionalUSD:    models.Round8(req.NotionalUSD),
			RequestedMode:  req.RequestedMode,
			IdempotencyKey: req.IdempotencyKey,
			RequestHash:    hash,
			Source:         req.Source,
			Status:         models.IntentPending,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		st.Intents[it.ID] = it
		if req.IdempotencyKey != "" {
			lookup := models.IdempotencyKeyFor(req.AgentID, req.IdempotencyKey)
			st.Idempotency[lookup] = &models.IdempotencyRecord{
				Key:         req.IdempotencyKey,
				AgentID:     req.AgentID,
				RequestHash: hash,
				IntentID:    it.ID,
				CreatedAt:   now,
			}
		}
		st.Metrics.IntentsCreated++
		result = CreateResult{Intent: it.Clone()}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !result.Replayed && s.Events != nil {
		go s.Events.Publish(ctx, models.Event{
			Type:     models.EventIntentCreated,
			AgentID:  req.AgentID,
			IntentID: result.Intent.ID,
			Payload:  map[string]any{"symbol": req.Symbol, "side": string(req.Side), "source": req.Source},
			At:       now,
		})
	}
	return &result, nil
}

// Get returns a copy of the intent, or nil when unknown.
func (s *Service) Get(id string) *models.TradeIntent {
	return s.Store.Snapshot().Intents[id]
}

func (s *Service) validate(req CreateRequest) error {
	if strings.TrimSpace(req.AgentID) == "" {
		return &ValidationError{Field: "agent_id", Msg: "required"}
	}
	if req.Symbol == "" {
		return &ValidationError{Field: "symbol", Msg: "required"}
	}
	if len(s.Symbols) > 0 && !s.Symbols[req.Symbol] {
		return &ValidationError{Field: "symbol", Msg: "unsupported symbol"}
	}
	if req.Side != models.SideBuy && req.Side != models.SideSell {
		return &ValidationError{Field: "side", Msg: "must be buy or sell"}
	}
	if req.Quantity.IsNegative() || req.NotionalUSD.IsNegative() {
		return &ValidationError{Field: "quantity", Msg: "must not be negative"}
	}
	if !req.Quantity.IsPositive() && !req.NotionalUSD.IsPositive() {
		return &ValidationError{Field: "quantity", Msg: "quantity or notional_usd required"}
	}
	if len(req.IdempotencyKey) > maxIdempotencyKeyLen {
		return &ValidationError{Field: "idempotency_key", Msg: "longer than 128 chars"}
	}
	switch req.RequestedMode {
	case "", models.ModePaper, models.ModeLive:
	default:
		return &ValidationError{Field: "requested_mode", Msg: "must be paper or live"}
	}
	return nil
}

// requestHash covers the semantically significant fields of a
// submission. Two requests with equal hashes are the same request.
func requestHash(req CreateRequest) string {
	canonical := strings.Join([]string{
		req.AgentID,
		req.Symbol,
		string(req.Side),
		req.Quantity.String(),
		req.NotionalUSD.String(),
		string(req.RequestedMode),
	}, "|")
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}
