package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"agentmarket/internal/models"
	"agentmarket/internal/receipt"
	"agentmarket/internal/store"
)

type ReceiptHandler struct {
	Store *store.Store
}

func (h *ReceiptHandler) Register(r *gin.Engine, middleware ...gin.HandlerFunc) {
	group := r.Group("/api/v1/receipts", middleware...)
	group.GET("/chain/verify", h.verifyChain)
	group.GET("/:execution_id", h.get)
	group.GET("/:execution_id/verify", h.verify)
}

func (h *ReceiptHandler) get(c *gin.Context) {
	snap := h.Store.Snapshot()
	rec := snap.Receipts[c.Param("execution_id")]
	if rec == nil {
		Error(c, http.StatusNotFound, "receipt not found", nil)
		return
	}
	Ok(c, rec, nil)
}

func (h *ReceiptHandler) verify(c *gin.Context) {
	snap := h.Store.Snapshot()
	id := c.Param("execution_id")
	exec := snap.Executions[id]
	rec := snap.Receipts[id]
	if exec == nil || rec == nil {
		Error(c, http.StatusNotFound, "receipt not found", nil)
		return
	}
	Ok(c, receipt.Verify(exec, rec), nil)
}

func (h *ReceiptHandler) verifyChain(c *gin.Context) {
	snap := h.Store.Snapshot()
	chain := make([]*models.ExecutionReceipt, 0, len(snap.ReceiptOrder))
	for _, id := range snap.ReceiptOrder {
		chain = append(chain, snap.Receipts[id])
	}
	Ok(c, receipt.VerifyChain(chain), map[string]any{"length": len(chain)})
}
