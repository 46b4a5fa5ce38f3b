package api

import (
	"errors"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"parking-occupancy-backend/internal/apperr"
	"parking-occupancy-backend/internal/bridge"
	"parking-occupancy-backend/internal/pubsub"
	"parking-occupancy-backend/internal/reconcile"
	"parking-occupancy-backend/internal/recommend"
	"parking-occupancy-backend/internal/store"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	engine  *reconcile.Engine
	store   store.Store
	bridge  *bridge.Bridge
	deriver *recommend.Deriver
	hub     *pubsub.Hub
	webpush *webpush.Options
	log     *zap.Logger
}

// Deps bundles the handler dependencies.
type Deps struct {
	Engine  *reconcile.Engine
	Store   store.Store
	Bridge  *bridge.Bridge
	Deriver *recommend.Deriver
	Hub     *pubsub.Hub
	WebPush *webpush.Options
	Log     *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{
		engine:  deps.Engine,
		store:   deps.Store,
		bridge:  deps.Bridge,
		deriver: deps.Deriver,
		hub:     deps.Hub,
		webpush: deps.WebPush,
		log:     deps.Log,
	}
}

// writeError maps the core error taxonomy onto HTTP status codes.
func writeError(c *gin.Context, err error) {
	switch {
	case apperr.IsValidation(err):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, apperr.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, apperr.ErrConflict):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
