package api

import (
	"net/http"
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"

	"parking-occupancy-backend/internal/reconcile"
	"parking-occupancy-backend/internal/reservation"
)

// Reconcile handles POST /api/cells/reconcile. The batch either applies in
// full or not at all.
func (h *Handler) Reconcile(c *gin.Context) {
	var report reconcile.Report
	if err := c.ShouldBindJSON(&report); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	applied, err := h.engine.Reconcile(c.Request.Context(), report)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"applied": applied})
}

// BulkWriteOnly handles POST /api/cells/bulk. Items are applied independently
// and individual failures are reported in the result list, never as an HTTP
// error.
func (h *Handler) BulkWriteOnly(c *gin.Context) {
	var report reconcile.Report
	if err := c.ShouldBindJSON(&report); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	results := h.engine.BulkWriteOnly(c.Request.Context(), report)
	c.JSON(http.StatusOK, gin.H{"results": results})
}

type upsertCellRequest struct {
	State       string           `json:"state" binding:"required"`
	Reservation *reservation.Raw `json:"reservation"`
}

// UpsertCell handles PUT /api/cells/:id_static, the authoritative path for
// reservations.
func (h *Handler) UpsertCell(c *gin.Context) {
	idStatic, err := strconv.ParseInt(c.Param("id_static"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cell id"})
		return
	}

	var req upsertCellRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	cell, err := h.engine.UpsertOne(c.Request.Context(), idStatic, req.State, req.Reservation)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cell)
}

// GetCells handles GET /api/cells, returning every cell ordered by idStatic.
func (h *Handler) GetCells(c *gin.Context) {
	cells, err := h.store.AllCells(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	sort.Slice(cells, func(i, j int) bool { return cells[i].IDStatic < cells[j].IDStatic })
	c.JSON(http.StatusOK, cells)
}
