package service

import (
	"context"
	"errors"

	"booking-service/internal/apperr"
	"booking-service/internal/models"
	"booking-service/internal/store"
	"booking-service/internal/util"

	"go.uber.org/zap"
)

// InventoryLedger reads and commits the per-ticket-type sold counters.
// Commit is the only write path to the counters.
type InventoryLedger struct {
	logger *zap.Logger
}

// NewInventoryLedger creates a new ledger
func NewInventoryLedger() *InventoryLedger {
	return &InventoryLedger{logger: util.GetLogger()}
}

// Available returns the unsold units of category on event. The value is
// advisory: nothing is held until Commit.
func (l *InventoryLedger) Available(event *models.Event, category string) (int, error) {
	tt := event.TicketType(category)
	if tt == nil {
		return 0, apperr.InvalidRequest("ticket type %q does not exist on event %s", category, event.ID)
	}
	return tt.Available(), nil
}

// Commit increments sold by quantity only while sold stays within capacity.
// When the conditional update matches nothing the ticket type is reloaded and
// the update retried once.
func (l *InventoryLedger) Commit(ctx context.Context, repo store.Repository, eventID, category string, quantity int) error {
	ctx, span := util.StartSpan(ctx, "InventoryLedger.Commit")
	defer span.End()

	ok, err := repo.IncrementSold(ctx, eventID, category, quantity)
	if err != nil {
		return apperr.Persistence(err, "increment sold")
	}
	if ok {
		return nil
	}

	util.InventoryCommitRetries.Inc()
	tt, err := repo.GetTicketType(ctx, eventID, category)
	if errors.Is(err, apperr.ErrNotFound) {
		util.InventoryCommitFailed.WithLabelValues("missing_type").Inc()
		return apperr.Wrap(apperr.KindInventoryMismatch, err, "ticket type disappeared during commit")
	}
	if err != nil {
		return apperr.Persistence(err, "reload ticket type")
	}

	if tt.Available() < quantity {
		util.InventoryCommitFailed.WithLabelValues("insufficient").Inc()
		l.logger.Warn("Ledger commit rejected",
			zap.String("event_id", eventID),
			zap.String("ticket_type", category),
			zap.Int("requested", quantity),
			zap.Int("available", tt.Available()))
		return apperr.New(apperr.KindInsufficientInventory,
			"only %d %s tickets left, %d requested", tt.Available(), category, quantity)
	}

	ok, err = repo.IncrementSold(ctx, eventID, category, quantity)
	if err != nil {
		return apperr.Persistence(err, "increment sold")
	}
	if !ok {
		util.InventoryCommitFailed.WithLabelValues("retry_exhausted").Inc()
		err := apperr.New(apperr.KindInventoryMismatch,
			"ledger increment for %s on event %s did not apply after retry", category, eventID)
		util.RecordError(span, err)
		return err
	}
	return nil
}
