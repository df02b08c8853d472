package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"agentmarket/internal/pipeline"
)

type PipelineHandler struct {
	Tracker *pipeline.Tracker
}

func (h *PipelineHandler) Register(r *gin.Engine, middleware ...gin.HandlerFunc) {
	group := r.Group("/api/v1/pipeline", middleware...)
	group.GET("/stages", h.stageMetrics)
	group.GET("/runs/:id", h.run)
}

func (h *PipelineHandler) stageMetrics(c *gin.Context) {
	Ok(c, h.Tracker.Metrics(), nil)
}

// run accepts either an intent id or an execution id.
func (h *PipelineHandler) run(c *gin.Context) {
	report, ok := h.Tracker.Get(c.Param("id"))
	if !ok {
		Error(c, http.StatusNotFound, "run not found", nil)
		return
	}
	Ok(c, report, nil)
}
