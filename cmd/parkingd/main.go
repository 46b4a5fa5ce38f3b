package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"

	"parking-occupancy-backend/config"
	"parking-occupancy-backend/internal/api"
	"parking-occupancy-backend/internal/bridge"
	"parking-occupancy-backend/internal/db"
	"parking-occupancy-backend/internal/notification"
	"parking-occupancy-backend/internal/pubsub"
	"parking-occupancy-backend/internal/reconcile"
	"parking-occupancy-backend/internal/recommend"
	"parking-occupancy-backend/internal/store"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.String("path", configPath), zap.Error(err))
	}
	logger.Info("configuration loaded", zap.String("path", configPath))

	gormDB, err := db.Init(&cfg.Database, logger)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appStore := store.NewGormStore(gormDB, logger)

	hub := pubsub.NewHub(logger)
	go hub.Run(ctx)

	// Mode selection happens once here; a capture failure later requires a
	// process restart to renegotiate.
	changeBridge := bridge.New(appStore, hub, logger, bridge.Config{
		PollInterval: cfg.Bridge.PollInterval,
		PollPageSize: cfg.Bridge.PollPageSize,
	})
	changeBridge.Start(ctx)

	var webpushOptions *webpush.Options
	var notifier reconcile.Notifier
	if cfg.Push.PublicKey != "" && cfg.Push.PrivateKey != "" {
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
		pool := notification.NewWorkerPool(cfg.WorkerPool.Size, gormDB, webpushOptions, logger)
		pool.Start(ctx)
		notifier = pool
	} else {
		logger.Warn("VAPID keys not configured, push notifications disabled")
	}

	engine := reconcile.NewEngine(appStore, notifier, logger, reconcile.Config{
		MaxBatchSize: cfg.Reconcile.MaxBatchSize,
	})
	deriver := recommend.NewDeriver(appStore, cfg.Recommend.Capacity, cfg.Recommend.ThresholdPercent)

	router := api.NewRouter(api.Deps{
		Engine:  engine,
		Store:   appStore,
		Bridge:  changeBridge,
		Deriver: deriver,
		Hub:     hub,
		WebPush: webpushOptions,
		Log:     logger,
	}, &cfg.Server)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("HTTP server starting", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server ListenAndServe", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutdown signal received, stopping services")

	changeBridge.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("HTTP server Shutdown", zap.Error(err))
	}

	logger.Info("server gracefully stopped")
}
