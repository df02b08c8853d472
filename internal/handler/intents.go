package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"agentmarket/internal/auth"
	"agentmarket/internal/intent"
	"agentmarket/internal/models"
)

type IntentHandler struct {
	Intents *intent.Service
	// AuthEnabled makes the handler pin the intent's agent to the token.
	AuthEnabled bool
}

func (h *IntentHandler) Register(r *gin.Engine, middleware ...gin.HandlerFunc) {
	group := r.Group("/api/v1/intents", middleware...)
	group.POST("", h.create)
	group.GET("/:id", h.get)
}

type createIntentRequest struct {
	AgentID        string `json:"agent_id"`
	Symbol         string `json:"symbol"`
	Side           string `json:"side"`
	Quantity       string `json:"quantity"`
	NotionalUSD    string `json:"notional_usd"`
	Mode           string `json:"mode"`
	IdempotencyKey string `json:"idempotency_key"`
}

func (h *IntentHandler) create(c *gin.Context) {
	var req createIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid json body", nil)
		return
	}
	if h.AuthEnabled {
		claims, ok := auth.ClaimsFrom(c)
		if !ok || claims.AgentID == "" {
			Error(c, http.StatusUnauthorized, "missing agent identity", nil)
			return
		}
		if req.AgentID != "" && req.AgentID != claims.AgentID {
			Error(c, http.StatusForbidden, "agent mismatch", nil)
			return
		}
		req.AgentID = claims.AgentID
	}

	quantity, err := parseDecimal(req.Quantity)
	if err != nil {
		Error(c, http.StatusBadRequest, "invalid quantity", nil)
		return
	}
	notional, err := parseDecimal(req.NotionalUSD)
	if err != nil {
		Error(c, http.StatusBadRequest, "invalid notional_usd", nil)
		return
	}

	// The Idempotency-Key header wins over the body field.
	idemKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	if idemKey == "" {
		idemKey = req.IdempotencyKey
	}

	res, err := h.Intents.Create(c.Request.Context(), intent.CreateRequest{
		AgentID:        req.AgentID,
		Symbol:         req.Symbol,
		Side:           models.Side(strings.ToLower(req.Side)),
		Quantity:       quantity,
		NotionalUSD:    notional,
		RequestedMode:  models.ExecutionMode(strings.ToLower(req.Mode)),
		IdempotencyKey: idemKey,
		Source:         "api",
	})
	if err != nil {
		writeIntentError(c, err)
		return
	}
	Ok(c, res.Intent, map[string]any{"replayed": res.Replayed})
}

func (h *IntentHandler) get(c *gin.Context) {
	in := h.Intents.Get(c.Param("id"))
	if in == nil {
		Error(c, http.StatusNotFound, "intent not found", nil)
		return
	}
	Ok(c, in, nil)
}

func writeIntentError(c *gin.Context, err error) {
	var vErr *intent.ValidationError
	if errors.As(err, &vErr) {
		Error(c, http.StatusBadRequest, vErr.Error(), map[string]any{"field": vErr.Field})
		return
	}
	var rlErr *intent.RateLimitError
	if errors.As(err, &rlErr) {
		Error(c, http.StatusTooManyRequests, rlErr.Error(), map[string]any{
			"retry_after_seconds": rlErr.RetryAfterSeconds,
			"limit":               rlErr.Limit,
		})
		return
	}
	if errors.Is(err, intent.ErrIdempotencyConflict) {
		Error(c, http.StatusConflict, err.Error(), nil)
		return
	}
	Error(c, http.StatusInternalServerError, "intent creation failed", nil)
}

func parseDecimal(v string) (decimal.Decimal, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(v)
}
