package notification

import (
	"context"
	"fmt"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"parking-occupancy-backend/internal/model"
)

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of NotificationSender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// WorkerPool manages a pool of workers notifying subscribers when one of
// their watched cells becomes available.
type WorkerPool struct {
	size    int
	jobs    chan int64
	db      *gorm.DB
	webpush *webpush.Options
	sender  NotificationSender
	log     *zap.Logger
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, db *gorm.DB, webpushOptions *webpush.Options, log *zap.Logger) *WorkerPool {
	return &WorkerPool{
		size:    size,
		jobs:    make(chan int64, size),
		db:      db,
		webpush: webpushOptions,
		sender:  &WebPushSender{},
		log:     log,
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	wp.log.Debug("notification worker started", zap.Int("worker", id))
	for {
		select {
		case idStatic := <-wp.jobs:
			wp.sendNotificationsForCell(ctx, idStatic)
		case <-ctx.Done():
			wp.log.Debug("notification worker shutting down", zap.Int("worker", id))
			return
		}
	}
}

// Dispatch queues a job for the cell that just became available.
func (wp *WorkerPool) Dispatch(idStatic int64) {
	wp.jobs <- idStatic
}

// Jobs returns the jobs channel for testing.
func (wp *WorkerPool) Jobs() chan int64 {
	return wp.jobs
}

// sendNotificationsForCell fetches subscriptions watching the cell and sends
// an availability notification to each.
func (wp *WorkerPool) sendNotificationsForCell(ctx context.Context, idStatic int64) {
	var cell model.ParkingCell
	err := wp.db.WithContext(ctx).
		Where("id_static = ?", idStatic).
		First(&cell).Error
	if err != nil {
		wp.log.Error("fetch cell for notification", zap.Int64("idStatic", idStatic), zap.Error(err))
		return
	}

	var subscriptions []model.PushSubscription
	err = wp.db.WithContext(ctx).
		Joins("JOIN subscription_cell_mapping scm ON scm.push_subscription_endpoint = push_subscriptions.endpoint").
		Where("scm.parking_cell_id = ?", cell.ID).
		Find(&subscriptions).Error
	if err != nil {
		wp.log.Error("fetch subscriptions for cell", zap.Int64("idStatic", idStatic), zap.Error(err))
		return
	}
	if len(subscriptions) == 0 {
		return
	}

	wp.log.Info("sending availability notifications",
		zap.Int64("idStatic", idStatic),
		zap.Int("subscriptions", len(subscriptions)))

	message := fmt.Sprintf("La celda %d ya está disponible", idStatic)
	for _, sub := range subscriptions {
		wp.sendNotification(ctx, sub, []byte(message))
	}
}

func (wp *WorkerPool) sendNotification(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		wp.log.Error("send notification", zap.String("endpoint", sub.Endpoint), zap.Error(err))
		return
	}
	defer resp.Body.Close()

	// 410 Gone means the subscription expired at the push service.
	if resp.StatusCode == http.StatusGone {
		wp.log.Info("deleting expired subscription", zap.String("endpoint", sub.Endpoint))
		if err := wp.db.WithContext(ctx).Delete(&sub).Error; err != nil {
			wp.log.Error("delete expired subscription", zap.String("endpoint", sub.Endpoint), zap.Error(err))
		}
	}
}
