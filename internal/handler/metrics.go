package handler

import (
	"github.com/gin-gonic/gin"

	"agentmarket/internal/ratelimit"
	"agentmarket/internal/store"
)

type MetricsHandler struct {
	Store   *store.Store
	Limiter *ratelimit.Limiter
}

func (h *MetricsHandler) Register(r *gin.Engine, middleware ...gin.HandlerFunc) {
	r.GET("/api/v1/metrics", append(middleware, h.metrics)...)
}

func (h *MetricsHandler) metrics(c *gin.Context) {
	snap := h.Store.Snapshot()
	out := gin.H{
		"pipeline":     snap.Metrics,
		"treasury_usd": snap.TreasuryUSD,
		"intents":      len(snap.Intents),
		"executions":   len(snap.Executions),
		"receipts":     len(snap.ReceiptOrder),
		"agents":       len(snap.Agents),
	}
	if h.Limiter != nil {
		out["rate_limit"] = h.Limiter.Metrics()
	}
	Ok(c, out, nil)
}
