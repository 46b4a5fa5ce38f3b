package api

import (
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"parking-occupancy-backend/config"
	"parking-occupancy-backend/internal/mw"
)

// NewRouter creates and configures the Gin router.
func NewRouter(deps Deps, cfg *config.ServerConfig) *gin.Engine {
	r := gin.New()
	r.Use(ginzap.Ginzap(deps.Log, time.RFC3339, true))
	r.Use(ginzap.RecoveryWithZap(deps.Log, true))

	handler := NewHandler(deps)

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst)

	cacheTTL := time.Duration(cfg.CacheTTLSeconds) * time.Second
	cacheStore := cache.New(cacheTTL, 2*cacheTTL)
	caching := mw.Cache(cacheStore, cacheTTL)

	r.GET("/healthz", handler.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.POST("/cells/reconcile", handler.Reconcile)
		api.POST("/cells/bulk", handler.BulkWriteOnly)
		api.PUT("/cells/:id_static", handler.UpsertCell)
		api.GET("/cells", handler.GetCells)

		api.GET("/recommendations", caching, handler.GetRecommendations)
		api.GET("/bridge/status", handler.GetBridgeStatus)

		api.GET("/ws", deps.Hub.ServeWS)

		api.GET("/subscriptions", handler.GetSubscription)
		api.PUT("/subscriptions", handler.PutSubscription)
		api.DELETE("/subscriptions", handler.DeleteSubscription)
		api.GET("/vapid_public_key", handler.GetVAPIDPublicKey)
	}

	return r
}
