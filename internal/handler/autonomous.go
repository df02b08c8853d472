package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"agentmarket/internal/autonomous"
	"agentmarket/internal/store"
)

type AutonomousHandler struct {
	Store   *store.Store
	Service *autonomous.Service
}

func (h *AutonomousHandler) Register(r *gin.Engine, middleware ...gin.HandlerFunc) {
	group := r.Group("/api/v1/autonomous", middleware...)
	group.GET("", h.status)
	group.POST("/toggle", h.toggle)
}

func (h *AutonomousHandler) status(c *gin.Context) {
	snap := h.Store.Snapshot()
	Ok(c, gin.H{
		"enabled": h.Service.Enabled(),
		"agents":  snap.Autonomous,
	}, nil)
}

type toggleRequest struct {
	Enabled *bool `json:"enabled"`
}

func (h *AutonomousHandler) toggle(c *gin.Context) {
	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		Error(c, http.StatusBadRequest, "body must carry enabled", nil)
		return
	}
	h.Service.SetEnabled(*req.Enabled)
	Ok(c, gin.H{"enabled": h.Service.Enabled()}, nil)
}
