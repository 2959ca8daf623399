package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"booking-service/internal/apperr"
	"booking-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const orderColumns = `id, user_id, event_id, items, total_amount, currency, provider, provider_order_id,
	provider_payment_id, provider_signature, status, contact_email, idempotency_key, expires_at,
	ticket_ids, created_at, updated_at`

const ticketColumns = `id, order_id, user_id, event_id, code, ticket_type, price, status, expires_at, created_at, updated_at`

// CreateOrder inserts a new order
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	if order.TicketIDs == nil {
		order.TicketIDs = pq.StringArray{}
	}
	_, err := sqlx.NamedExecContext(ctx, s.ext, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES (:id, :user_id, :event_id, :items, :total_amount, :currency, :provider, :provider_order_id,
			:provider_payment_id, :provider_signature, :status, :contact_email, :idempotency_key, :expires_at,
			:ticket_ids, :created_at, :updated_at)`, order)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

func (s *Store) getOrder(ctx context.Context, where string, args ...interface{}) (*models.Order, error) {
	var order models.Order
	err := sqlx.GetContext(ctx, s.ext, &order, "SELECT "+orderColumns+" FROM orders WHERE "+where, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return &order, nil
}

// GetOrder retrieves an order by ID, locked when inside a transaction
func (s *Store) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	order, err := s.getOrder(ctx, "id = $1"+s.lockClause(), id)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, apperr.NotFound("order %s not found", id)
	}
	return order, nil
}

// GetOrderByProviderOrderID retrieves the order referenced by a payment
// confirmation, locked when inside a transaction
func (s *Store) GetOrderByProviderOrderID(ctx context.Context, providerOrderID string) (*models.Order, error) {
	order, err := s.getOrder(ctx, "provider_order_id = $1"+s.lockClause(), providerOrderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, apperr.NotFound("order for provider order %s not found", providerOrderID)
	}
	return order, nil
}

// GetOrderByIdempotencyKey returns nil when the user has no order for key
func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, userID, key string) (*models.Order, error) {
	return s.getOrder(ctx, "user_id = $1 AND idempotency_key = $2", userID, key)
}

func (s *Store) SetOrderTickets(ctx context.Context, orderID string, ticketIDs []string, now time.Time) error {
	n, err := rowsAffected(s.ext.ExecContext(ctx,
		"UPDATE orders SET ticket_ids = $1, updated_at = $2 WHERE id = $3",
		pq.StringArray(ticketIDs), now, orderID))
	if err != nil {
		return fmt.Errorf("failed to link tickets: %w", err)
	}
	if n == 0 {
		return apperr.NotFound("order %s not found", orderID)
	}
	return nil
}

// MarkOrderPaid moves a pending order to success. It reports false when the
// order was no longer pending.
func (s *Store) MarkOrderPaid(ctx context.Context, orderID, paymentID, signature string, now time.Time) (bool, error) {
	n, err := rowsAffected(s.ext.ExecContext(ctx, `
		UPDATE orders
		SET status = $1, provider_payment_id = $2, provider_signature = $3, updated_at = $4
		WHERE id = $5 AND status = $6`,
		models.OrderStatusSuccess, paymentID, signature, now, orderID, models.OrderStatusPending))
	if err != nil {
		return false, fmt.Errorf("failed to mark order paid: %w", err)
	}
	return n == 1, nil
}

// CancelExpiredOrder cancels an order only if it is still pending and past
// its expiry at now.
func (s *Store) CancelExpiredOrder(ctx context.Context, orderID string, now time.Time) (bool, error) {
	n, err := rowsAffected(s.ext.ExecContext(ctx, `
		UPDATE orders SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4 AND expires_at <= $2`,
		models.OrderStatusCancelled, now, orderID, models.OrderStatusPending))
	if err != nil {
		return false, fmt.Errorf("failed to cancel order: %w", err)
	}
	return n == 1, nil
}

func (s *Store) DeleteOrder(ctx context.Context, orderID string) error {
	if _, err := s.ext.ExecContext(ctx, "DELETE FROM orders WHERE id = $1", orderID); err != nil {
		return fmt.Errorf("failed to delete order: %w", err)
	}
	return nil
}

// ListExpiredOrders returns pending orders whose expiry is at or before now,
// oldest first
func (s *Store) ListExpiredOrders(ctx context.Context, now time.Time, limit int) ([]models.Order, error) {
	orders := []models.Order{}
	err := sqlx.SelectContext(ctx, s.ext, &orders,
		"SELECT "+orderColumns+" FROM orders WHERE status = $1 AND expires_at <= $2 ORDER BY expires_at LIMIT $3",
		models.OrderStatusPending, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired orders: %w", err)
	}
	return orders, nil
}

// CreateTickets inserts tickets in one batch statement
func (s *Store) CreateTickets(ctx context.Context, tickets []models.Ticket) error {
	if len(tickets) == 0 {
		return nil
	}
	_, err := sqlx.NamedExecContext(ctx, s.ext, `
		INSERT INTO tickets (`+ticketColumns+`)
		VALUES (:id, :order_id, :user_id, :event_id, :code, :ticket_type, :price, :status, :expires_at, :created_at, :updated_at)`,
		tickets)
	if isUniqueViolation(err, ticketCodeIndex) {
		return fmt.Errorf("failed to insert tickets: %w", ErrDuplicateTicketCode)
	}
	if err != nil {
		return fmt.Errorf("failed to insert tickets: %w", err)
	}
	return nil
}

const ticketCodeIndex = "idx_tickets_code"

func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505" && pqErr.Constraint == constraint
}

// ListTicketsByIDs returns the tickets in the order of ids, with their daily check-ins
func (s *Store) ListTicketsByIDs(ctx context.Context, ids []string) ([]models.Ticket, error) {
	if len(ids) == 0 {
		return []models.Ticket{}, nil
	}

	var rows []models.Ticket
	err := sqlx.SelectContext(ctx, s.ext, &rows,
		"SELECT "+ticketColumns+" FROM tickets WHERE id = ANY($1)", pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to list tickets: %w", err)
	}

	var checkIns []models.DailyCheckIn
	err = sqlx.SelectContext(ctx, s.ext, &checkIns,
		"SELECT ticket_id, date, checked_in_at, status FROM ticket_check_ins WHERE ticket_id = ANY($1) ORDER BY date",
		pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to list check-ins: %w", err)
	}

	byID := make(map[string]*models.Ticket, len(rows))
	for i := range rows {
		byID[rows[i].ID] = &rows[i]
	}
	for _, c := range checkIns {
		if t, ok := byID[c.TicketID]; ok {
			t.DailyCheckIns = append(t.DailyCheckIns, c)
		}
	}

	tickets := make([]models.Ticket, 0, len(rows))
	for _, id := range ids {
		if t, ok := byID[id]; ok {
			tickets = append(tickets, *t)
		}
	}
	return tickets, nil
}

// BookTickets marks tickets booked and clears their expiry. The count
// excludes tickets that were already booked.
func (s *Store) BookTickets(ctx context.Context, ids []string, now time.Time) (int64, error) {
	n, err := rowsAffected(s.ext.ExecContext(ctx, `
		UPDATE tickets SET status = $1, expires_at = NULL, updated_at = $2
		WHERE id = ANY($3) AND status <> $1`,
		models.TicketStatusBooked, now, pq.Array(ids)))
	if err != nil {
		return 0, fmt.Errorf("failed to book tickets: %w", err)
	}
	return n, nil
}

func (s *Store) CancelTickets(ctx context.Context, ids []string, now time.Time) (int64, error) {
	n, err := rowsAffected(s.ext.ExecContext(ctx, `
		UPDATE tickets SET status = $1, updated_at = $2
		WHERE id = ANY($3) AND status <> $1`,
		models.TicketStatusCancelled, now, pq.Array(ids)))
	if err != nil {
		return 0, fmt.Errorf("failed to cancel tickets: %w", err)
	}
	return n, nil
}
