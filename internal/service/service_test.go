package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"booking-service/internal/models"
	"booking-service/internal/payment"
	"booking-service/internal/store"
	"booking-service/internal/store/memstore"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

var testNow = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

type fakeProvider struct {
	mu      sync.Mutex
	calls   []int64
	err     error
	counter int
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (*payment.ProviderOrder, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	p.calls = append(p.calls, amountMinor)
	p.counter++
	return &payment.ProviderOrder{
		ID:       fmt.Sprintf("order_%d", p.counter),
		Provider: p.Name(),
		Amount:   amountMinor,
		Currency: currency,
		Receipt:  receipt,
		Status:   "created",
	}, nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	orders []string
	err    error
}

func (n *fakeNotifier) SendTicketsReady(ctx context.Context, orderID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.orders = append(n.orders, orderID)
	return n.err
}

func (n *fakeNotifier) sent() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.orders...)
}

type recordingPublisher struct {
	mu      sync.Mutex
	created []*models.OrderCreatedEvent
	paid    []*models.OrderPaidEvent
	expired []*models.OrderExpiredEvent
}

func (p *recordingPublisher) PublishOrderCreated(ctx context.Context, e *models.OrderCreatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created = append(p.created, e)
	return nil
}

func (p *recordingPublisher) PublishOrderPaid(ctx context.Context, e *models.OrderPaidEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paid = append(p.paid, e)
	return nil
}

func (p *recordingPublisher) PublishOrderExpired(ctx context.Context, e *models.OrderExpiredEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expired = append(p.expired, e)
	return nil
}

// failingRepo injects failures into selected repository calls, including
// those made inside transactions
type failingRepo struct {
	store.Repository
	failCreateTickets bool
	duplicateCodes    *int
	incrementMisses   *int
}

func (f *failingRepo) WithTx(ctx context.Context, fn func(ctx context.Context, repo store.Repository) error) error {
	return f.Repository.WithTx(ctx, func(ctx context.Context, repo store.Repository) error {
		return fn(ctx, &failingRepo{
			Repository:        repo,
			failCreateTickets: f.failCreateTickets,
			duplicateCodes:    f.duplicateCodes,
			incrementMisses:   f.incrementMisses,
		})
	})
}

func (f *failingRepo) CreateTickets(ctx context.Context, tickets []models.Ticket) error {
	if f.failCreateTickets {
		return errors.New("failed to insert tickets: connection reset")
	}
	if f.duplicateCodes != nil && *f.duplicateCodes > 0 {
		*f.duplicateCodes--
		return fmt.Errorf("failed to insert tickets: %w", store.ErrDuplicateTicketCode)
	}
	return f.Repository.CreateTickets(ctx, tickets)
}

func (f *failingRepo) IncrementSold(ctx context.Context, eventID, category string, quantity int) (bool, error) {
	if f.incrementMisses != nil && *f.incrementMisses > 0 {
		*f.incrementMisses--
		return false, nil
	}
	return f.Repository.IncrementSold(ctx, eventID, category, quantity)
}

type fixture struct {
	repo      *memstore.Store
	clock     *clockwork.FakeClock
	provider  *fakeProvider
	notifier  *fakeNotifier
	publisher *recordingPublisher
	orders    *OrderService
	payments  *PaymentService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:      memstore.New(),
		clock:     clockwork.NewFakeClockAt(testNow),
		provider:  &fakeProvider{},
		notifier:  &fakeNotifier{},
		publisher: &recordingPublisher{},
	}
	f.wire(f.repo)
	return f
}

// wire rebuilds the services on top of repo
func (f *fixture) wire(repo store.Repository) {
	ledger := NewInventoryLedger()
	f.orders = NewOrderService(repo, ledger, f.provider, f.publisher, f.clock, OrderServiceConfig{
		HoldTTL:  15 * time.Minute,
		Currency: "USD",
	})
	f.payments = NewPaymentService(repo, ledger, f.notifier, f.publisher, f.clock, testSecret, time.Second)
}

func (f *fixture) seedEvent(t *testing.T, id string, types ...models.TicketType) {
	t.Helper()
	for i := range types {
		types[i].EventID = id
	}
	require.NoError(t, f.repo.CreateEvent(context.Background(), &models.Event{
		ID:          id,
		Title:       "Event " + id,
		StartDate:   testNow.Add(72 * time.Hour),
		EndDate:     testNow.Add(76 * time.Hour),
		Status:      models.EventStatusPending,
		TicketTypes: types,
	}))
}

func ticketType(category string, price int64, capacity int) models.TicketType {
	return models.TicketType{Category: category, Price: decimal.NewFromInt(price), Quantity: capacity}
}

func (f *fixture) createOrder(t *testing.T, eventID string, items ...OrderItemRequest) *CreateOrderResponse {
	t.Helper()
	resp, err := f.orders.CreateOrder(context.Background(), &CreateOrderRequest{
		UserID:  "user-1",
		EventID: eventID,
		Items:   items,
	})
	require.NoError(t, err)
	return resp
}

func confirmation(providerOrderID, paymentID string) *VerifyPaymentRequest {
	return &VerifyPaymentRequest{
		ProviderOrderID:   providerOrderID,
		ProviderPaymentID: paymentID,
		ProviderSignature: payment.Sign(testSecret, providerOrderID, paymentID),
	}
}

func (f *fixture) sold(t *testing.T, eventID, category string) int {
	t.Helper()
	tt, err := f.repo.GetTicketType(context.Background(), eventID, category)
	require.NoError(t, err)
	return tt.Sold
}
