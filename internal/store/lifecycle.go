package store

import (
	"context"
	"fmt"
	"time"

	"booking-service/internal/models"
)

// MarkEventsPending moves events that have not started yet back to pending
func (s *Store) MarkEventsPending(ctx context.Context, now time.Time) (int64, error) {
	n, err := rowsAffected(s.ext.ExecContext(ctx, `
		UPDATE events SET status = $1, updated_at = $2
		WHERE start_date > $2 AND status NOT IN ($1, $3)`,
		models.EventStatusPending, now, models.EventStatusCancelled))
	if err != nil {
		return 0, fmt.Errorf("failed to mark events pending: %w", err)
	}
	return n, nil
}

// MarkEventsActive activates events whose window contains now
func (s *Store) MarkEventsActive(ctx context.Context, now time.Time) (int64, error) {
	n, err := rowsAffected(s.ext.ExecContext(ctx, `
		UPDATE events SET status = $1, updated_at = $2
		WHERE start_date <= $2 AND end_date >= $2 AND status NOT IN ($1, $3)`,
		models.EventStatusActive, now, models.EventStatusCancelled))
	if err != nil {
		return 0, fmt.Errorf("failed to mark events active: %w", err)
	}
	return n, nil
}

// MarkEventsCompleted completes events that have ended
func (s *Store) MarkEventsCompleted(ctx context.Context, now time.Time) (int64, error) {
	n, err := rowsAffected(s.ext.ExecContext(ctx, `
		UPDATE events SET status = $1, updated_at = $2
		WHERE end_date < $2 AND status NOT IN ($1, $3)`,
		models.EventStatusCompleted, now, models.EventStatusCancelled))
	if err != nil {
		return 0, fmt.Errorf("failed to mark events completed: %w", err)
	}
	return n, nil
}

// ResetDailyCheckIns reopens the used check-ins dated day that belong to
// tickets of active multi-day events
func (s *Store) ResetDailyCheckIns(ctx context.Context, day time.Time) (int64, error) {
	n, err := rowsAffected(s.ext.ExecContext(ctx, `
		UPDATE ticket_check_ins c SET status = $1, checked_in_at = NULL
		FROM tickets t JOIN events e ON e.id = t.event_id
		WHERE c.ticket_id = t.id
			AND c.date = $2
			AND c.status = $3
			AND e.status = $4
			AND e.end_date::date > e.start_date::date`,
		models.CheckInStatusPending, day, models.CheckInStatusUsed, models.EventStatusActive))
	if err != nil {
		return 0, fmt.Errorf("failed to reset daily check-ins: %w", err)
	}
	return n, nil
}

// ExpireCompletedEventTickets expires booked and used tickets of completed
// events, keeping them visible until expiresAt
func (s *Store) ExpireCompletedEventTickets(ctx context.Context, expiresAt, now time.Time) (int64, error) {
	n, err := rowsAffected(s.ext.ExecContext(ctx, `
		UPDATE tickets t SET status = $1, expires_at = $2, updated_at = $3
		FROM events e
		WHERE e.id = t.event_id AND e.status = $4 AND t.status IN ($5, $6)`,
		models.TicketStatusExpired, expiresAt, now, models.EventStatusCompleted,
		models.TicketStatusBooked, models.TicketStatusUsed))
	if err != nil {
		return 0, fmt.Errorf("failed to expire tickets: %w", err)
	}
	return n, nil
}

// ReconcileTicketStatuses aligns ticket statuses with their event: on
// completed events booked tickets expire, on cancelled events they are
// refunded, and pending tickets of either are cancelled.
func (s *Store) ReconcileTicketStatuses(ctx context.Context, now time.Time) (int64, error) {
	n, err := rowsAffected(s.ext.ExecContext(ctx, `
		UPDATE tickets t SET
			status = CASE
				WHEN t.status = $1 AND e.status = $2 THEN $3
				WHEN t.status = $1 AND e.status = $4 THEN $5
				ELSE $6
			END,
			updated_at = $7
		FROM events e
		WHERE e.id = t.event_id AND e.status IN ($2, $4) AND t.status IN ($1, $8)`,
		models.TicketStatusBooked, models.EventStatusCompleted, models.TicketStatusExpired,
		models.EventStatusCancelled, models.TicketStatusRefunded, models.TicketStatusCancelled,
		now, models.TicketStatusPending))
	if err != nil {
		return 0, fmt.Errorf("failed to reconcile ticket statuses: %w", err)
	}
	return n, nil
}

// AppendDailyCheckIns adds a pending check-in dated day for every booked
// ticket of an active event that ends after now
func (s *Store) AppendDailyCheckIns(ctx context.Context, day, now time.Time) (int64, error) {
	n, err := rowsAffected(s.ext.ExecContext(ctx, `
		INSERT INTO ticket_check_ins (ticket_id, date, checked_in_at, status)
		SELECT t.id, $1, NULL, $2
		FROM tickets t JOIN events e ON e.id = t.event_id
		WHERE e.status = $3 AND e.end_date > $4 AND t.status = $5
		ON CONFLICT (ticket_id, date) DO NOTHING`,
		day, models.CheckInStatusPending, models.EventStatusActive, now, models.TicketStatusBooked))
	if err != nil {
		return 0, fmt.Errorf("failed to append daily check-ins: %w", err)
	}
	return n, nil
}
