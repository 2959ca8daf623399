package worker

import (
	"context"
	"errors"
	"sync"

	"booking-service/internal/apperr"
	"booking-service/internal/broker"
	"booking-service/internal/models"
	"booking-service/internal/service"
	"booking-service/internal/util"

	"go.uber.org/zap"
)

// NotificationWorker delivers tickets for TicketsReady events
type NotificationWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	notifier     service.Notifier
	logger       *zap.Logger
	wg           sync.WaitGroup
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(consumer *broker.Consumer, notifier service.Notifier) *NotificationWorker {
	w := &NotificationWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		notifier:     notifier,
		logger:       util.GetLogger(),
	}
	w.eventHandler.OnTicketsReady(w.HandleTicketsReady)
	return w
}

// Start runs the consume loop in the background until ctx is cancelled
func (w *NotificationWorker) Start(ctx context.Context) {
	w.logger.Info("Starting notification worker")
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Error("Notification worker error", zap.Error(err))
		}
	}()
}

// Stop waits for the consume loop to exit and closes the consumer
func (w *NotificationWorker) Stop() error {
	w.logger.Info("Stopping notification worker")
	w.wg.Wait()
	return w.consumer.Close()
}

// HandleTicketsReady sends the tickets of one order. Requests that can never
// succeed are dropped at once; other failures are returned so the consumer
// retries them with backoff.
func (w *NotificationWorker) HandleTicketsReady(ctx context.Context, event *models.TicketsReadyEvent) error {
	err := w.notifier.SendTicketsReady(ctx, event.OrderID)
	if err == nil {
		return nil
	}

	util.NotificationsFailedTotal.Inc()
	if errors.Is(err, apperr.ErrNotFound) || errors.Is(err, apperr.ErrInvalidRequest) {
		w.logger.Warn("Dropping ticket notification",
			zap.String("order_id", event.OrderID),
			zap.Error(err))
		return nil
	}

	w.logger.Error("Ticket notification failed",
		zap.String("order_id", event.OrderID),
		zap.Error(err))
	return err
}
