package handler

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"agentmarket/internal/auth"
	"agentmarket/internal/store"
)

// TokenHandler mints bearer tokens for agents that present their API key.
type TokenHandler struct {
	Store *store.Store
	JWT   auth.JWT
}

func (h *TokenHandler) Register(r *gin.Engine) {
	r.POST("/api/v1/auth/token", h.token)
}

type tokenRequest struct {
	AgentID string `json:"agent_id"`
	APIKey  string `json:"api_key"`
}

func (h *TokenHandler) token(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid json body", nil)
		return
	}
	agent := h.Store.Snapshot().Agents[req.AgentID]
	if agent == nil || agent.APIKey == "" ||
		subtle.ConstantTimeCompare([]byte(agent.APIKey), []byte(req.APIKey)) != 1 {
		Error(c, http.StatusUnauthorized, "invalid credentials", nil)
		return
	}

	token, expiresAt, err := h.JWT.Sign(auth.Claims{AgentID: agent.ID, Role: "trader"})
	if err != nil {
		Error(c, http.StatusInternalServerError, "failed to sign token", nil)
		return
	}
	Ok(c, gin.H{
		"token":      token,
		"expires_at": expiresAt.UTC().Format(time.RFC3339),
	}, nil)
}
