package store

import (
	"context"
	"errors"
	"time"

	"booking-service/internal/models"
)

// ErrDuplicateTicketCode is returned by CreateTickets when a ticket code is
// already issued. A transaction that saw it must be retried from the start.
var ErrDuplicateTicketCode = errors.New("ticket code already issued")

// Repository is the persistence boundary of the booking services. Methods
// called on the Repository handed to a WithTx callback run inside that
// transaction; reads of orders and ticket types made there take row locks.
type Repository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error
	Ping(ctx context.Context) error

	// Events and the inventory ledger
	CreateEvent(ctx context.Context, event *models.Event) error
	GetEvent(ctx context.Context, id string) (*models.Event, error)
	GetTicketType(ctx context.Context, eventID, category string) (*models.TicketType, error)
	// IncrementSold adds quantity to sold only if the result stays within
	// capacity. It reports false when no row matched.
	IncrementSold(ctx context.Context, eventID, category string, quantity int) (bool, error)

	// Orders
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	GetOrderByProviderOrderID(ctx context.Context, providerOrderID string) (*models.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, userID, key string) (*models.Order, error)
	SetOrderTickets(ctx context.Context, orderID string, ticketIDs []string, now time.Time) error
	MarkOrderPaid(ctx context.Context, orderID, paymentID, signature string, now time.Time) (bool, error)
	CancelExpiredOrder(ctx context.Context, orderID string, now time.Time) (bool, error)
	DeleteOrder(ctx context.Context, orderID string) error
	ListExpiredOrders(ctx context.Context, now time.Time, limit int) ([]models.Order, error)

	// Tickets
	CreateTickets(ctx context.Context, tickets []models.Ticket) error
	ListTicketsByIDs(ctx context.Context, ids []string) ([]models.Ticket, error)
	BookTickets(ctx context.Context, ids []string, now time.Time) (int64, error)
	CancelTickets(ctx context.Context, ids []string, now time.Time) (int64, error)

	// Lifecycle sweeps
	MarkEventsPending(ctx context.Context, now time.Time) (int64, error)
	MarkEventsActive(ctx context.Context, now time.Time) (int64, error)
	MarkEventsCompleted(ctx context.Context, now time.Time) (int64, error)
	ResetDailyCheckIns(ctx context.Context, day time.Time) (int64, error)
	ExpireCompletedEventTickets(ctx context.Context, expiresAt, now time.Time) (int64, error)
	ReconcileTicketStatuses(ctx context.Context, now time.Time) (int64, error)
	AppendDailyCheckIns(ctx context.Context, day, now time.Time) (int64, error)
}
