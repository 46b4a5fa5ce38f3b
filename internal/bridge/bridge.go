// Package bridge observes cell store mutations and propagates them to
// subscribers, preferring the store's native change feed and degrading to
// periodic polling when the feed is unavailable.
package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"parking-occupancy-backend/internal/metrics"
	"parking-occupancy-backend/internal/model"
	"parking-occupancy-backend/internal/pubsub"
	"parking-occupancy-backend/internal/store"
)

// Mode names the propagation strategy. It is selected once at Start and never
// renegotiated within a process lifetime; recovering from a feed failure
// requires a restart.
type Mode string

const (
	ModeCapture Mode = "capture"
	ModePolling Mode = "polling"
)

const (
	// EventCellUpdate carries one per-change delta in capture mode.
	EventCellUpdate = "cellUpdate"
	// EventCellsUpdate carries a coalesced snapshot page in polling mode.
	// Consumers must treat it as an idempotent snapshot, not a delta.
	EventCellsUpdate = "cellsUpdate"
)

// ChangeEvent is the normalized payload published to subscribers in capture
// mode. Per-cell ordering matches the store's commit order.
type ChangeEvent struct {
	ID           string            `json:"id"`
	Operation    store.ChangeOp    `json:"operation"`
	CellIDStatic int64             `json:"cellIdStatic"`
	FullState    model.ParkingCell `json:"fullState"`
	Timestamp    time.Time         `json:"timestamp"`
}

// Status reports the selected mode and per-feed open state for health
// endpoints.
type Status struct {
	Mode  Mode            `json:"mode"`
	Feeds map[string]bool `json:"feeds"`
}

// Config tunes the polling fallback.
type Config struct {
	PollInterval time.Duration
	PollPageSize int
}

// Bridge is the change notification bridge. Start selects the mode; Stop
// shuts down all feeds and timers.
type Bridge struct {
	store    store.Store
	pub      pubsub.Publisher
	log      *zap.Logger
	interval time.Duration
	pageSize int

	mu     sync.Mutex
	mode   Mode
	feeds  map[string]bool
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a bridge. Zero config fields get the defaults of a 5s poll
// interval and a 50-cell page.
func New(s store.Store, pub pubsub.Publisher, log *zap.Logger, cfg Config) *Bridge {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.PollPageSize <= 0 {
		cfg.PollPageSize = 50
	}
	return &Bridge{
		store:    s,
		pub:      pub,
		log:      log,
		interval: cfg.PollInterval,
		pageSize: cfg.PollPageSize,
		feeds:    make(map[string]bool),
	}
}

// Start probes the store and launches the selected mode.
func (b *Bridge) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	b.mu.Lock()
	b.cancel = cancel
	b.done = make(chan struct{})
	b.mu.Unlock()

	feed, err := b.store.ChangeFeed()
	if err != nil {
		b.log.Warn("change feed unavailable, falling back to polling",
			zap.Duration("interval", b.interval), zap.Error(err))
		b.setMode(ModePolling, "cells.poll")
		go b.pollLoop(ctx)
		return
	}

	b.log.Info("change feed open, running in capture mode")
	b.setMode(ModeCapture, "cells")
	go b.captureLoop(ctx, feed)
}

// Stop cancels the running loop and waits for it to drain.
func (b *Bridge) Stop() {
	b.mu.Lock()
	cancel, done := b.cancel, b.done
	b.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Status returns the current mode and feed open state.
func (b *Bridge) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	feeds := make(map[string]bool, len(b.feeds))
	for name, open := range b.feeds {
		feeds[name] = open
	}
	return Status{Mode: b.mode, Feeds: feeds}
}

func (b *Bridge) setMode(mode Mode, feed string) {
	b.mu.Lock()
	b.mode = mode
	b.feeds[feed] = true
	b.mu.Unlock()
}

func (b *Bridge) closeFeed(feed string) {
	b.mu.Lock()
	b.feeds[feed] = false
	b.mu.Unlock()
}

func (b *Bridge) captureLoop(ctx context.Context, feed <-chan store.CellChange) {
	defer close(b.done)
	defer b.closeFeed("cells")
	for {
		select {
		case <-ctx.Done():
			b.log.Info("capture loop stopped")
			return
		case change := <-feed:
			event := ChangeEvent{
				ID:           uuid.NewString(),
				Operation:    change.Op,
				CellIDStatic: change.Cell.IDStatic,
				FullState:    change.Cell,
				Timestamp:    change.At,
			}
			b.pub.Publish(EventCellUpdate, event)
			b.pub.PublishToRoom(cellRoom(change.Cell.IDStatic), EventCellUpdate, event)
			metrics.ChangeEventsPublished.WithLabelValues(string(ModeCapture)).Inc()
		}
	}
}

func (b *Bridge) pollLoop(ctx context.Context) {
	defer close(b.done)
	defer b.closeFeed("cells.poll")
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			b.log.Info("poll loop stopped")
			return
		case <-ticker.C:
			cells, err := b.store.RecentlyModifiedCells(ctx, b.pageSize)
			if err != nil {
				b.log.Error("poll recently modified cells", zap.Error(err))
				continue
			}
			b.pub.Publish(EventCellsUpdate, cells)
			metrics.ChangeEventsPublished.WithLabelValues(string(ModePolling)).Inc()
		}
	}
}

func cellRoom(idStatic int64) string {
	return fmt.Sprintf("cell:%d", idStatic)
}
