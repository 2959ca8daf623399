package service

import (
	"context"
	"time"

	"booking-service/internal/models"

	"github.com/google/uuid"
)

// EventPublisher publishes order lifecycle events. Publishing is best-effort.
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishOrderPaid(ctx context.Context, event *models.OrderPaidEvent) error
	PublishOrderExpired(ctx context.Context, event *models.OrderExpiredEvent) error
}

// Notifier delivers purchased tickets to the customer
type Notifier interface {
	SendTicketsReady(ctx context.Context, orderID string) error
}

type noopPublisher struct{}

func (noopPublisher) PublishOrderCreated(context.Context, *models.OrderCreatedEvent) error { return nil }
func (noopPublisher) PublishOrderPaid(context.Context, *models.OrderPaidEvent) error       { return nil }
func (noopPublisher) PublishOrderExpired(context.Context, *models.OrderExpiredEvent) error { return nil }

// NoopPublisher discards events, for deployments without a broker
var NoopPublisher EventPublisher = noopPublisher{}

func newBaseEvent(eventType string, now time.Time) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: now,
	}
}
