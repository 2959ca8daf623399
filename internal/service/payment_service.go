package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"booking-service/internal/apperr"
	"booking-service/internal/models"
	"booking-service/internal/payment"
	"booking-service/internal/store"
	"booking-service/internal/util"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// PaymentService confirms provider payments and books the order's tickets
type PaymentService struct {
	repo          store.Repository
	ledger        *InventoryLedger
	notifier      Notifier
	publisher     EventPublisher
	clock         clockwork.Clock
	secret        string
	notifyTimeout time.Duration
	logger        *zap.Logger
	inflight      sync.WaitGroup
}

// NewPaymentService creates a new payment service. secret is the key
// confirmations are signed with.
func NewPaymentService(
	repo store.Repository,
	ledger *InventoryLedger,
	notifier Notifier,
	publisher EventPublisher,
	clock clockwork.Clock,
	secret string,
	notifyTimeout time.Duration,
) *PaymentService {
	if publisher == nil {
		publisher = NoopPublisher
	}
	if notifyTimeout <= 0 {
		notifyTimeout = 30 * time.Second
	}
	return &PaymentService{
		repo:          repo,
		ledger:        ledger,
		notifier:      notifier,
		publisher:     publisher,
		clock:         clock,
		secret:        secret,
		notifyTimeout: notifyTimeout,
		logger:        util.GetLogger(),
	}
}

// VerifyPaymentRequest is the provider's payment callback
type VerifyPaymentRequest struct {
	ProviderOrderID   string `json:"providerOrderId"`
	ProviderPaymentID string `json:"providerPaymentId"`
	ProviderSignature string `json:"providerSignature"`
}

// VerifyPaymentResponse is the paid order and its booked tickets
type VerifyPaymentResponse struct {
	Order   *models.Order   `json:"order"`
	Tickets []models.Ticket `json:"tickets"`
}

// VerifyPayment authenticates a payment callback and, once per order, marks
// the order paid, books its tickets and commits the ledger. Repeated calls
// for a paid order return the same result without further changes.
func (ps *PaymentService) VerifyPayment(ctx context.Context, req *VerifyPaymentRequest) (*VerifyPaymentResponse, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.VerifyPayment")
	defer span.End()

	if req.ProviderOrderID == "" || req.ProviderPaymentID == "" || req.ProviderSignature == "" {
		util.PaymentVerificationsTotal.WithLabelValues("invalid_request").Inc()
		return nil, apperr.InvalidRequest("providerOrderId, providerPaymentId and providerSignature are required")
	}

	if !payment.VerifySignature(ps.secret, req.ProviderOrderID, req.ProviderPaymentID, req.ProviderSignature) {
		util.PaymentVerificationsTotal.WithLabelValues("signature_invalid").Inc()
		ps.logger.Warn("Payment signature mismatch", zap.String("provider_order_id", req.ProviderOrderID))
		return nil, apperr.New(apperr.KindSignatureInvalid, "payment signature is invalid")
	}

	order, err := ps.repo.GetOrderByProviderOrderID(ctx, req.ProviderOrderID)
	if err != nil {
		util.PaymentVerificationsTotal.WithLabelValues("lookup_failed").Inc()
		return nil, apperr.Persistence(err, "find order")
	}
	if order.Status == models.OrderStatusSuccess {
		util.PaymentVerificationsTotal.WithLabelValues("duplicate").Inc()
		return ps.paidResponse(ctx, order)
	}

	var alreadyPaid bool
	err = ps.repo.WithTx(ctx, func(ctx context.Context, repo store.Repository) error {
		current, err := repo.GetOrderByProviderOrderID(ctx, req.ProviderOrderID)
		if err != nil {
			return err
		}

		switch current.Status {
		case models.OrderStatusSuccess:
			alreadyPaid = true
			order = current
			return nil
		case models.OrderStatusPending:
		default:
			return apperr.InvalidRequest("order %s is %s and can no longer be paid", current.ID, current.Status)
		}

		now := ps.clock.Now()
		marked, err := repo.MarkOrderPaid(ctx, current.ID, req.ProviderPaymentID, req.ProviderSignature, now)
		if err != nil {
			return err
		}
		if !marked {
			return apperr.InvalidRequest("order %s is no longer pending", current.ID)
		}

		booked, err := repo.BookTickets(ctx, current.TicketIDs, now)
		if err != nil {
			return err
		}
		if booked != int64(len(current.TicketIDs)) {
			return apperr.New(apperr.KindInventoryMismatch,
				"booked %d of %d tickets for order %s", booked, len(current.TicketIDs), current.ID)
		}

		quantities := current.Items.Quantities()
		categories := make([]string, 0, len(quantities))
		for category := range quantities {
			categories = append(categories, category)
		}
		sort.Strings(categories)
		for _, category := range categories {
			if err := ps.ledger.Commit(ctx, repo, current.EventID, category, quantities[category]); err != nil {
				return err
			}
		}

		current.Status = models.OrderStatusSuccess
		current.ProviderPaymentID = req.ProviderPaymentID
		current.ProviderSignature = req.ProviderSignature
		current.UpdatedAt = now
		order = current
		return nil
	})
	if err != nil {
		util.PaymentVerificationsTotal.WithLabelValues(string(apperr.KindOf(err))).Inc()
		util.RecordError(span, err)
		ps.logger.Error("Payment confirmation failed",
			zap.String("provider_order_id", req.ProviderOrderID),
			zap.Bool("recoverable", apperr.Recoverable(err)),
			zap.Error(err))
		return nil, apperr.Persistence(err, "confirm payment")
	}

	if alreadyPaid {
		util.PaymentVerificationsTotal.WithLabelValues("duplicate").Inc()
		return ps.paidResponse(ctx, order)
	}

	util.PaymentVerificationsTotal.WithLabelValues("success").Inc()
	util.OrdersPaidTotal.Inc()
	ps.logger.Info("Payment confirmed",
		zap.String("order_id", order.ID),
		zap.String("provider_payment_id", order.ProviderPaymentID),
		zap.Int("tickets", len(order.TicketIDs)))

	resp, err := ps.paidResponse(ctx, order)
	if err != nil {
		return nil, err
	}

	ps.notifyAsync(order.ID)

	event := &models.OrderPaidEvent{
		BaseEvent:         newBaseEvent(models.EventTypeOrderPaid, order.UpdatedAt),
		OrderID:           order.ID,
		UserID:            order.UserID,
		ProviderPaymentID: order.ProviderPaymentID,
		TotalAmount:       order.TotalAmount,
		TicketCount:       len(order.TicketIDs),
	}
	if err := ps.publisher.PublishOrderPaid(ctx, event); err != nil {
		ps.logger.Error("Failed to publish OrderPaid event", zap.Error(err))
	}

	return resp, nil
}

// Wait blocks until in-flight ticket notifications have finished
func (ps *PaymentService) Wait() {
	ps.inflight.Wait()
}

func (ps *PaymentService) paidResponse(ctx context.Context, order *models.Order) (*VerifyPaymentResponse, error) {
	tickets, err := ps.repo.ListTicketsByIDs(ctx, order.TicketIDs)
	if err != nil {
		return nil, apperr.Persistence(err, "load tickets")
	}
	return &VerifyPaymentResponse{Order: order, Tickets: tickets}, nil
}

// notifyAsync delivers tickets in the background. Failures are logged only.
func (ps *PaymentService) notifyAsync(orderID string) {
	if ps.notifier == nil {
		return
	}

	ps.inflight.Add(1)
	go func() {
		defer ps.inflight.Done()
		defer func() {
			if r := recover(); r != nil {
				util.NotificationsFailedTotal.Inc()
				ps.logger.Error("Ticket notification panicked",
					zap.String("order_id", orderID),
					zap.Any("panic", r))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), ps.notifyTimeout)
		defer cancel()

		if err := ps.notifier.SendTicketsReady(ctx, orderID); err != nil {
			util.NotificationsFailedTotal.Inc()
			ps.logger.Error("Failed to send tickets",
				zap.String("order_id", orderID),
				zap.Error(err))
		}
	}()
}
