package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderCreated = "ORDER_CREATED"
	EventTypeOrderPaid    = "ORDER_PAID"
	EventTypeOrderExpired = "ORDER_EXPIRED"
	EventTypeTicketsReady = "TICKETS_READY"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent published when a pending order and its tickets are persisted
type OrderCreatedEvent struct {
	BaseEvent
	OrderID         string          `json:"order_id"`
	UserID          string          `json:"user_id"`
	EventRef        string          `json:"ref_event_id"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	Currency        string          `json:"currency"`
	ProviderOrderID string          `json:"provider_order_id"`
	Items           OrderItems      `json:"items"`
}

// OrderPaidEvent published when a payment confirmation commits
type OrderPaidEvent struct {
	BaseEvent
	OrderID           string          `json:"order_id"`
	UserID            string          `json:"user_id"`
	ProviderPaymentID string          `json:"provider_payment_id"`
	TotalAmount       decimal.Decimal `json:"total_amount"`
	TicketCount       int             `json:"ticket_count"`
}

// OrderExpiredEvent published when the reconciler cancels an unpaid order
type OrderExpiredEvent struct {
	BaseEvent
	OrderID string `json:"order_id"`
	UserID  string `json:"user_id"`
}

// TicketsReadyEvent asks the notification worker to deliver tickets
type TicketsReadyEvent struct {
	BaseEvent
	OrderID string `json:"order_id"`
}
