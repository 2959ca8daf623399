package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"booking-service/internal/apperr"
	"booking-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyPaymentBooksTicketsAndCommitsLedger(t *testing.T) {
	f := newFixture(t)
	f.seedEvent(t, "evt-1", ticketType("general", 10, 100), ticketType("vip", 50, 10))
	created := f.createOrder(t, "evt-1",
		OrderItemRequest{Type: "general", Quantity: 2},
		OrderItemRequest{Type: "vip", Quantity: 1})

	resp, err := f.payments.VerifyPayment(context.Background(), confirmation(created.ProviderOrder.ID, "pay_1"))
	require.NoError(t, err)
	f.payments.Wait()

	assert.Equal(t, models.OrderStatusSuccess, resp.Order.Status)
	assert.Equal(t, "pay_1", resp.Order.ProviderPaymentID)
	require.Len(t, resp.Tickets, 3)
	for _, tk := range resp.Tickets {
		assert.Equal(t, models.TicketStatusBooked, tk.Status)
		assert.Nil(t, tk.ExpiresAt)
	}
	assert.Equal(t, 2, f.sold(t, "evt-1", "general"))
	assert.Equal(t, 1, f.sold(t, "evt-1", "vip"))

	stored, err := f.repo.GetOrder(context.Background(), created.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusSuccess, stored.Status)
	assert.NotEmpty(t, stored.ProviderSignature)

	assert.Equal(t, []string{created.Order.ID}, f.notifier.sent())
	require.Len(t, f.publisher.paid, 1)
	assert.Equal(t, 3, f.publisher.paid[0].TicketCount)
}

func TestVerifyPaymentIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.seedEvent(t, "evt-1", ticketType("general", 10, 100))
	created := f.createOrder(t, "evt-1", OrderItemRequest{Type: "general", Quantity: 2})
	req := confirmation(created.ProviderOrder.ID, "pay_1")

	first, err := f.payments.VerifyPayment(context.Background(), req)
	require.NoError(t, err)
	second, err := f.payments.VerifyPayment(context.Background(), req)
	require.NoError(t, err)
	f.payments.Wait()

	assert.Equal(t, first.Order.ID, second.Order.ID)
	assert.Equal(t, models.OrderStatusSuccess, second.Order.Status)
	assert.Len(t, second.Tickets, 2)
	assert.Equal(t, 2, f.sold(t, "evt-1", "general"))
	assert.Len(t, f.notifier.sent(), 1)
	assert.Len(t, f.publisher.paid, 1)
}

func TestVerifyPaymentRejectsTamperedSignature(t *testing.T) {
	f := newFixture(t)
	f.seedEvent(t, "evt-1", ticketType("general", 10, 100))
	created := f.createOrder(t, "evt-1", OrderItemRequest{Type: "general", Quantity: 1})
	req := confirmation(created.ProviderOrder.ID, "pay_1")
	req.ProviderPaymentID = "pay_2"

	_, err := f.payments.VerifyPayment(context.Background(), req)
	assert.True(t, errors.Is(err, apperr.ErrSignatureInvalid))

	stored, err := f.repo.GetOrder(context.Background(), created.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, stored.Status)
	assert.Equal(t, 0, f.sold(t, "evt-1", "general"))
	tickets, err := f.repo.ListTicketsByIDs(context.Background(), stored.TicketIDs)
	require.NoError(t, err)
	assert.Equal(t, models.TicketStatusPending, tickets[0].Status)
	assert.Empty(t, f.notifier.sent())
}

func TestVerifyPaymentMissingFields(t *testing.T) {
	f := newFixture(t)

	for _, req := range []*VerifyPaymentRequest{
		{ProviderPaymentID: "pay", ProviderSignature: "sig"},
		{ProviderOrderID: "ord", ProviderSignature: "sig"},
		{ProviderOrderID: "ord", ProviderPaymentID: "pay"},
	} {
		_, err := f.payments.VerifyPayment(context.Background(), req)
		assert.True(t, errors.Is(err, apperr.ErrInvalidRequest))
	}
}

func TestVerifyPaymentUnknownOrder(t *testing.T) {
	f := newFixture(t)

	_, err := f.payments.VerifyPayment(context.Background(), confirmation("order_404", "pay_1"))
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestVerifyPaymentNeverOversells(t *testing.T) {
	const capacity, attempts = 3, 8

	f := newFixture(t)
	f.seedEvent(t, "evt-1", ticketType("general", 10, capacity))

	providerIDs := make([]string, attempts)
	for i := range providerIDs {
		providerIDs[i] = f.createOrder(t, "evt-1", OrderItemRequest{Type: "general", Quantity: 1}).ProviderOrder.ID
	}

	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := range providerIDs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.payments.VerifyPayment(context.Background(), confirmation(providerIDs[i], fmt.Sprintf("pay_%d", i)))
		}(i)
	}
	wg.Wait()
	f.payments.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, errors.Is(err, apperr.ErrInsufficientInventory), "got %v", err)
	}
	assert.Equal(t, capacity, succeeded)
	assert.Equal(t, capacity, f.sold(t, "evt-1", "general"))
}

func TestVerifyPaymentInsufficientInventoryRollsBack(t *testing.T) {
	f := newFixture(t)
	f.seedEvent(t, "evt-1", ticketType("general", 10, 1))
	first := f.createOrder(t, "evt-1", OrderItemRequest{Type: "general", Quantity: 1})
	second := f.createOrder(t, "evt-1", OrderItemRequest{Type: "general", Quantity: 1})

	_, err := f.payments.VerifyPayment(context.Background(), confirmation(first.ProviderOrder.ID, "pay_1"))
	require.NoError(t, err)
	_, err = f.payments.VerifyPayment(context.Background(), confirmation(second.ProviderOrder.ID, "pay_2"))
	assert.True(t, errors.Is(err, apperr.ErrInsufficientInventory))
	assert.True(t, apperr.Recoverable(err))
	f.payments.Wait()

	stored, err := f.repo.GetOrder(context.Background(), second.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, stored.Status)
	assert.Empty(t, stored.ProviderPaymentID)
	tickets, err := f.repo.ListTicketsByIDs(context.Background(), stored.TicketIDs)
	require.NoError(t, err)
	assert.Equal(t, models.TicketStatusPending, tickets[0].Status)
	assert.Equal(t, 1, f.sold(t, "evt-1", "general"))
}

func TestVerifyPaymentTicketMismatchIsFatal(t *testing.T) {
	f := newFixture(t)
	f.seedEvent(t, "evt-1", ticketType("general", 10, 10))
	created := f.createOrder(t, "evt-1", OrderItemRequest{Type: "general", Quantity: 2})
	f.repo.SetTicketStatus(created.Order.TicketIDs[0], models.TicketStatusBooked)

	_, err := f.payments.VerifyPayment(context.Background(), confirmation(created.ProviderOrder.ID, "pay_1"))
	assert.True(t, errors.Is(err, apperr.ErrInventoryMismatch))
	assert.False(t, apperr.Recoverable(err))

	stored, err := f.repo.GetOrder(context.Background(), created.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, stored.Status)
	assert.Equal(t, 0, f.sold(t, "evt-1", "general"))
}

func TestVerifyPaymentLedgerRetriesOnce(t *testing.T) {
	f := newFixture(t)
	f.seedEvent(t, "evt-1", ticketType("general", 10, 10))
	created := f.createOrder(t, "evt-1", OrderItemRequest{Type: "general", Quantity: 2})

	misses := 1
	f.wire(&failingRepo{Repository: f.repo, incrementMisses: &misses})
	_, err := f.payments.VerifyPayment(context.Background(), confirmation(created.ProviderOrder.ID, "pay_1"))
	require.NoError(t, err)
	f.payments.Wait()
	assert.Equal(t, 2, f.sold(t, "evt-1", "general"))
}

func TestVerifyPaymentLedgerGivesUpAfterRetry(t *testing.T) {
	f := newFixture(t)
	f.seedEvent(t, "evt-1", ticketType("general", 10, 10))
	created := f.createOrder(t, "evt-1", OrderItemRequest{Type: "general", Quantity: 2})

	misses := 2
	f.wire(&failingRepo{Repository: f.repo, incrementMisses: &misses})
	_, err := f.payments.VerifyPayment(context.Background(), confirmation(created.ProviderOrder.ID, "pay_1"))
	assert.True(t, errors.Is(err, apperr.ErrInventoryMismatch))
	assert.Equal(t, 0, f.sold(t, "evt-1", "general"))
}

func TestVerifyPaymentNotificationFailureIsIsolated(t *testing.T) {
	f := newFixture(t)
	f.seedEvent(t, "evt-1", ticketType("general", 10, 10))
	created := f.createOrder(t, "evt-1", OrderItemRequest{Type: "general", Quantity: 1})
	f.notifier.err = errors.New("smtp down")

	resp, err := f.payments.VerifyPayment(context.Background(), confirmation(created.ProviderOrder.ID, "pay_1"))
	require.NoError(t, err)
	f.payments.Wait()
	assert.Equal(t, models.OrderStatusSuccess, resp.Order.Status)
	assert.Len(t, f.notifier.sent(), 1)
}

func TestVerifyPaymentAfterExpiryCancellation(t *testing.T) {
	f := newFixture(t)
	f.seedEvent(t, "evt-1", ticketType("general", 10, 10))
	created := f.createOrder(t, "evt-1", OrderItemRequest{Type: "general", Quantity: 1})

	ok, err := f.repo.CancelExpiredOrder(context.Background(), created.Order.ID, testNow.Add(time.Hour))
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.payments.VerifyPayment(context.Background(), confirmation(created.ProviderOrder.ID, "pay_1"))
	assert.True(t, errors.Is(err, apperr.ErrInvalidRequest))

	require.NoError(t, f.repo.DeleteOrder(context.Background(), created.Order.ID))
	_, err = f.payments.VerifyPayment(context.Background(), confirmation(created.ProviderOrder.ID, "pay_1"))
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
	assert.Equal(t, 0, f.sold(t, "evt-1", "general"))
}

func TestVerifyPaymentPastExpiryBeforeSweepSucceeds(t *testing.T) {
	f := newFixture(t)
	f.seedEvent(t, "evt-1", ticketType("general", 10, 10))
	created := f.createOrder(t, "evt-1", OrderItemRequest{Type: "general", Quantity: 1})
	f.clock.Advance(20 * time.Minute)

	resp, err := f.payments.VerifyPayment(context.Background(), confirmation(created.ProviderOrder.ID, "pay_1"))
	require.NoError(t, err)
	f.payments.Wait()
	assert.Equal(t, models.OrderStatusSuccess, resp.Order.Status)

	ok, err := f.repo.CancelExpiredOrder(context.Background(), created.Order.ID, f.clock.Now())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLedgerAvailable(t *testing.T) {
	l := NewInventoryLedger()
	event := &models.Event{ID: "evt-1", TicketTypes: []models.TicketType{{Category: "general", Quantity: 10, Sold: 4}}}

	n, err := l.Available(event, "general")
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	_, err = l.Available(event, "vip")
	assert.True(t, errors.Is(err, apperr.ErrInvalidRequest))
}
