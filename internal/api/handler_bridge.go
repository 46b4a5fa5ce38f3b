package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetBridgeStatus handles GET /api/bridge/status for health reporting.
func (h *Handler) GetBridgeStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.bridge.Status())
}

// Healthz reports process liveness.
func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
