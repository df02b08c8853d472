package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"agentmarket/internal/autonomous"
	"agentmarket/internal/models"
	"agentmarket/internal/risk"
	"agentmarket/internal/store"
)

type AgentHandler struct {
	Store *store.Store
}

func (h *AgentHandler) Register(r *gin.Engine, middleware ...gin.HandlerFunc) {
	group := r.Group("/api/v1/agents", middleware...)
	group.GET("", h.list)
	group.GET("/:id", h.get)
	group.GET("/:id/risk", h.riskTelemetry)
}

func (h *AgentHandler) list(c *gin.Context) {
	snap := h.Store.Snapshot()
	out := make([]*models.Agent, 0, len(snap.Agents))
	for _, a := range snap.Agents {
		out = append(out, a)
	}
	Ok(c, out, map[string]any{"count": len(out)})
}

func (h *AgentHandler) get(c *gin.Context) {
	agent := h.Store.Snapshot().Agents[c.Param("id")]
	if agent == nil {
		Error(c, http.StatusNotFound, "agent not found", nil)
		return
	}
	Ok(c, agent, nil)
}

func (h *AgentHandler) riskTelemetry(c *gin.Context) {
	snap := h.Store.Snapshot()
	agent := snap.Agents[c.Param("id")]
	if agent == nil {
		Error(c, http.StatusNotFound, "agent not found", nil)
		return
	}
	equity := risk.ComputeEquityUSD(agent, snap.MarketPricesUSD)
	gross := risk.ComputeGrossExposureUSD(agent, snap.MarketPricesUSD)
	Ok(c, gin.H{
		"agent_id":                  agent.ID,
		"cash_usd":                  agent.CashUSD,
		"equity_usd":                equity,
		"gross_exposure_usd":        gross,
		"peak_equity_usd":           agent.PeakEquityUSD,
		"drawdown_pct":              autonomous.DrawdownPct(agent.PeakEquityUSD, equity),
		"realized_pnl_usd":          agent.RealizedPnlUSD,
		"daily_realized_pnl_usd":    agent.DailyRealizedPnlUSD,
		"risk_limits":               agent.Risk,
		"risk_rejections_by_reason": agent.RiskRejectionsByReason,
		"positions":                 agent.Positions,
		"last_trade_at":             agent.LastTradeAt,
	}, nil)
}
