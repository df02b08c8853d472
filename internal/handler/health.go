package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"agentmarket/internal/db"
	"agentmarket/internal/store"
)

type HealthHandler struct {
	Store *store.Store
	// DB is the optional archive connection; readiness ignores it when
	// archiving is disabled.
	DB *db.DB
}

func (h *HealthHandler) Register(r *gin.Engine) {
	r.GET("/healthz", h.health)
	r.GET("/readyz", h.ready)
}

func (h *HealthHandler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *HealthHandler) ready(c *gin.Context) {
	if h.Store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "store_missing"})
		return
	}
	if h.DB != nil {
		if err := db.Ping(h.DB); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "archive_db_unreachable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
