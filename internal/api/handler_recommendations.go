package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetRecommendations handles GET /api/recommendations.
func (h *Handler) GetRecommendations(c *gin.Context) {
	recs, err := h.deriver.Recommendations(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, recs)
}
