package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"booking-service/internal/apperr"
	"booking-service/internal/broker"
	"booking-service/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNotifier struct {
	orders []string
	err    error
}

func (n *fakeNotifier) SendTicketsReady(ctx context.Context, orderID string) error {
	n.orders = append(n.orders, orderID)
	return n.err
}

func TestHandleTicketsReady(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{"delivered", nil, false},
		{"order gone", apperr.NotFound("order ord-1 not found"), false},
		{"no contact email", apperr.InvalidRequest("order ord-1 has no contact email"), false},
		{"smtp down", errors.New("dial tcp: connection refused"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			notifier := &fakeNotifier{err: tt.err}
			w := NewNotificationWorker(nil, notifier)

			err := w.HandleTicketsReady(context.Background(), &models.TicketsReadyEvent{OrderID: "ord-1"})
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, []string{"ord-1"}, notifier.orders)
		})
	}
}

// blockingReader waits in FetchMessage until the context ends and records
// whether Close was called while a fetch was still running.
type blockingReader struct {
	mu            sync.Mutex
	fetching      int
	fetched       chan struct{}
	closedInFetch bool
	closed        bool
}

func (r *blockingReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	r.fetching++
	r.mu.Unlock()
	select {
	case r.fetched <- struct{}{}:
	default:
	}

	<-ctx.Done()
	// give a racing Close the chance to land while the fetch is active
	time.Sleep(20 * time.Millisecond)

	r.mu.Lock()
	r.fetching--
	r.mu.Unlock()
	return kafka.Message{}, ctx.Err()
}

func (r *blockingReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	return nil
}

func (r *blockingReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.closedInFetch = r.fetching > 0
	return nil
}

func TestStopWaitsForConsumeLoop(t *testing.T) {
	reader := &blockingReader{fetched: make(chan struct{}, 1)}
	consumer := broker.NewConsumerWithReader(reader, "ticket-notifications")
	w := NewNotificationWorker(consumer, &fakeNotifier{})

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	<-reader.fetched
	cancel()

	require.NoError(t, w.Stop())
	reader.mu.Lock()
	defer reader.mu.Unlock()
	assert.True(t, reader.closed)
	assert.False(t, reader.closedInFetch)
}

func TestStopRightAfterStart(t *testing.T) {
	reader := &blockingReader{fetched: make(chan struct{}, 1)}
	consumer := broker.NewConsumerWithReader(reader, "ticket-notifications")
	w := NewNotificationWorker(consumer, &fakeNotifier{})

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	cancel()

	require.NoError(t, w.Stop())
	reader.mu.Lock()
	defer reader.mu.Unlock()
	assert.False(t, reader.closedInFetch)
}
