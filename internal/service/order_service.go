package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"booking-service/internal/apperr"
	"booking-service/internal/models"
	"booking-service/internal/payment"
	"booking-service/internal/store"
	"booking-service/internal/util"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	ticketCodePrefix = "TKT-"
	maxItemQuantity  = 100
)

// OrderServiceConfig holds the order engine settings
type OrderServiceConfig struct {
	HoldTTL  time.Duration
	Currency string
}

// OrderService turns checkout requests into pending orders and tickets
type OrderService struct {
	repo      store.Repository
	ledger    *InventoryLedger
	provider  payment.Provider
	publisher EventPublisher
	clock     clockwork.Clock
	cfg       OrderServiceConfig
	logger    *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(
	repo store.Repository,
	ledger *InventoryLedger,
	provider payment.Provider,
	publisher EventPublisher,
	clock clockwork.Clock,
	cfg OrderServiceConfig,
) *OrderService {
	if publisher == nil {
		publisher = NoopPublisher
	}
	if cfg.HoldTTL <= 0 {
		cfg.HoldTTL = 15 * time.Minute
	}
	return &OrderService{
		repo:      repo,
		ledger:    ledger,
		provider:  provider,
		publisher: publisher,
		clock:     clock,
		cfg:       cfg,
		logger:    util.GetLogger(),
	}
}

// CreateOrderRequest represents a request to create an order
type CreateOrderRequest struct {
	UserID         string             `json:"-"`
	EventID        string             `json:"-"`
	Items          []OrderItemRequest `json:"items" binding:"required,min=1,dive"`
	ContactEmail   string             `json:"-"`
	IdempotencyKey string             `json:"-"`
}

// OrderItemRequest represents an item in an order
type OrderItemRequest struct {
	Type     string `json:"type" binding:"required"`
	Quantity int    `json:"quantity" binding:"required,min=1,max=100"`
}

// CreateOrderResponse carries the pending order and the provider order to pay
type CreateOrderResponse struct {
	Order         *models.Order          `json:"order"`
	ProviderOrder *payment.ProviderOrder `json:"providerOrder"`
}

// OrderDetails is an order with its event and tickets
type OrderDetails struct {
	Order   *models.Order   `json:"order"`
	Event   *models.Event   `json:"event"`
	Tickets []models.Ticket `json:"tickets"`
}

// CreateOrder validates the request against the ledger and persists a pending
// order, its tickets and the provider order reference in one transaction.
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*CreateOrderResponse, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	if err := validateCreateOrder(req); err != nil {
		util.OrdersFailedTotal.WithLabelValues("invalid_request").Inc()
		return nil, err
	}

	if req.IdempotencyKey != "" {
		existing, err := s.repo.GetOrderByIdempotencyKey(ctx, req.UserID, req.IdempotencyKey)
		if err != nil {
			return nil, apperr.Persistence(err, "check idempotency")
		}
		if existing != nil {
			s.logger.Info("Duplicate order request detected",
				zap.String("idempotency_key", req.IdempotencyKey),
				zap.String("order_id", existing.ID))
			return &CreateOrderResponse{Order: existing, ProviderOrder: providerOrderOf(existing)}, nil
		}
	}

	orderID := uuid.New().String()
	now := s.clock.Now()
	expiresAt := now.Add(s.cfg.HoldTTL)

	var (
		order         *models.Order
		providerOrder *payment.ProviderOrder
		tickets       []models.Ticket
	)

	create := func(ctx context.Context, repo store.Repository) error {
		event, err := repo.GetEvent(ctx, req.EventID)
		if err != nil {
			return err
		}
		if event.Status == models.EventStatusCompleted || event.Status == models.EventStatusCancelled {
			return apperr.InvalidRequest("event %s is %s", event.ID, event.Status)
		}

		items, total, err := s.priceItems(event, req.Items)
		if err != nil {
			return err
		}

		// a retried attempt reuses the provider order of the first one
		if providerOrder == nil || providerOrder.Amount != minorUnits(total) {
			providerOrder, err = s.createProviderOrder(ctx, total, orderID)
			if err != nil {
				return err
			}
		}

		order = &models.Order{
			ID:              orderID,
			UserID:          req.UserID,
			EventID:         event.ID,
			Items:           items,
			TotalAmount:     total,
			Currency:        providerOrder.Currency,
			Provider:        providerOrder.Provider,
			ProviderOrderID: providerOrder.ID,
			Status:          models.OrderStatusPending,
			ContactEmail:    req.ContactEmail,
			IdempotencyKey:  req.IdempotencyKey,
			ExpiresAt:       expiresAt,
			TicketIDs:       pq.StringArray{},
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := repo.CreateOrder(ctx, order); err != nil {
			return err
		}

		tickets, err = buildTickets(order)
		if err != nil {
			return err
		}
		if err := repo.CreateTickets(ctx, tickets); err != nil {
			return err
		}

		ids := make([]string, len(tickets))
		for i := range tickets {
			ids[i] = tickets[i].ID
		}
		if err := repo.SetOrderTickets(ctx, order.ID, ids, now); err != nil {
			return err
		}
		order.TicketIDs = ids
		return nil
	}

	err := s.repo.WithTx(ctx, create)
	if errors.Is(err, store.ErrDuplicateTicketCode) {
		s.logger.Warn("Ticket code collision, retrying with new codes", zap.String("order_id", orderID))
		err = s.repo.WithTx(ctx, create)
	}
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues(string(apperr.KindOf(err))).Inc()
		util.RecordError(span, err)
		s.logger.Warn("Order creation failed",
			zap.String("user_id", req.UserID),
			zap.String("event_id", req.EventID),
			zap.Error(err))
		return nil, apperr.Persistence(err, "create order")
	}

	util.OrdersCreatedTotal.Inc()
	util.TicketsIssuedTotal.Add(float64(len(tickets)))
	s.logger.Info("Order created",
		zap.String("order_id", order.ID),
		zap.String("event_id", order.EventID),
		zap.String("total", order.TotalAmount.StringFixed(2)),
		zap.Int("tickets", len(tickets)))

	event := &models.OrderCreatedEvent{
		BaseEvent:       newBaseEvent(models.EventTypeOrderCreated, now),
		OrderID:         order.ID,
		UserID:          order.UserID,
		EventRef:        order.EventID,
		TotalAmount:     order.TotalAmount,
		Currency:        order.Currency,
		ProviderOrderID: order.ProviderOrderID,
		Items:           order.Items,
	}
	if err := s.publisher.PublishOrderCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderCreated event", zap.Error(err))
	}

	return &CreateOrderResponse{Order: order, ProviderOrder: providerOrder}, nil
}

// GetOrder retrieves an order with its event and tickets
func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*OrderDetails, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrder")
	defer span.End()

	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, apperr.Persistence(err, "get order")
	}

	event, err := s.repo.GetEvent(ctx, order.EventID)
	if err != nil {
		return nil, apperr.Persistence(err, "get order event")
	}

	tickets, err := s.repo.ListTicketsByIDs(ctx, order.TicketIDs)
	if err != nil {
		return nil, apperr.Persistence(err, "get order tickets")
	}

	return &OrderDetails{Order: order, Event: event, Tickets: tickets}, nil
}

func validateCreateOrder(req *CreateOrderRequest) error {
	if req.UserID == "" {
		return apperr.InvalidRequest("user is required")
	}
	if req.EventID == "" {
		return apperr.InvalidRequest("event id is required")
	}
	if len(req.Items) == 0 {
		return apperr.InvalidRequest("at least one item is required")
	}
	for _, item := range req.Items {
		if item.Type == "" {
			return apperr.InvalidRequest("item type is required")
		}
		if item.Quantity < 1 || item.Quantity > maxItemQuantity {
			return apperr.InvalidRequest("quantity for %q must be between 1 and %d", item.Type, maxItemQuantity)
		}
	}
	return nil
}

// priceItems resolves each requested type, checks the running demand per
// type against the ledger and sums the order total. Each item is checked
// before it is added so the per-type demand never exceeds what is available.
func (s *OrderService) priceItems(event *models.Event, reqItems []OrderItemRequest) (models.OrderItems, decimal.Decimal, error) {
	items := make(models.OrderItems, 0, len(reqItems))
	total := decimal.Zero
	requested := make(map[string]int, len(reqItems))

	for _, ri := range reqItems {
		tt := event.TicketType(ri.Type)
		if tt == nil {
			return nil, decimal.Zero, apperr.InvalidRequest("ticket type %q does not exist on event %s", ri.Type, event.ID)
		}
		available, err := s.ledger.Available(event, ri.Type)
		if err != nil {
			return nil, decimal.Zero, err
		}
		if ri.Quantity > available-requested[ri.Type] {
			return nil, decimal.Zero, apperr.New(apperr.KindInsufficientInventory,
				"only %d %s tickets left, more requested", available, ri.Type)
		}
		requested[ri.Type] += ri.Quantity

		items = append(items, models.OrderItem{Type: ri.Type, Quantity: ri.Quantity, UnitPrice: tt.Price})
		total = total.Add(tt.Price.Mul(decimal.NewFromInt(int64(ri.Quantity))))
	}

	return items, total, nil
}

func (s *OrderService) createProviderOrder(ctx context.Context, total decimal.Decimal, receipt string) (*payment.ProviderOrder, error) {
	start := time.Now()
	defer func() {
		util.PaymentProviderLatency.Observe(time.Since(start).Seconds())
	}()

	po, err := s.provider.CreateOrder(ctx, minorUnits(total), s.cfg.Currency, receipt)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPaymentProvider, err, "create provider order")
	}
	return po, nil
}

func buildTickets(order *models.Order) ([]models.Ticket, error) {
	tickets := make([]models.Ticket, 0)
	for _, item := range order.Items {
		for i := 0; i < item.Quantity; i++ {
			code, err := util.GenerateCode(5)
			if err != nil {
				return nil, fmt.Errorf("failed to generate ticket code: %w", err)
			}
			expiresAt := order.ExpiresAt
			tickets = append(tickets, models.Ticket{
				ID:         uuid.New().String(),
				OrderID:    order.ID,
				UserID:     order.UserID,
				EventID:    order.EventID,
				Code:       ticketCodePrefix + code,
				TicketType: item.Type,
				Price:      item.UnitPrice,
				Status:     models.TicketStatusPending,
				ExpiresAt:  &expiresAt,
				CreatedAt:  order.CreatedAt,
				UpdatedAt:  order.CreatedAt,
			})
		}
	}
	return tickets, nil
}

// minorUnits converts an amount to the provider's smallest currency unit
func minorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

func providerOrderOf(order *models.Order) *payment.ProviderOrder {
	return &payment.ProviderOrder{
		ID:       order.ProviderOrderID,
		Provider: order.Provider,
		Amount:   minorUnits(order.TotalAmount),
		Currency: order.Currency,
		Receipt:  order.ID,
		Status:   order.Status,
	}
}
