package broker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"booking-service/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

type fakeReader struct {
	msgs      chan kafka.Message
	mu        sync.Mutex
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	case m := <-r.msgs:
		return m, nil
	}
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func TestPublishOrderEventsKeyedByOrder(t *testing.T) {
	orders, notifications := &fakeWriter{}, &fakeWriter{}
	ep := NewEventPublisher(newProducer(orders, "order-events"), newProducer(notifications, "ticket-notifications"))
	ctx := context.Background()

	require.NoError(t, ep.PublishOrderCreated(ctx, &models.OrderCreatedEvent{
		BaseEvent: models.BaseEvent{EventType: models.EventTypeOrderCreated},
		OrderID:   "ord-1",
	}))
	require.NoError(t, ep.PublishOrderExpired(ctx, &models.OrderExpiredEvent{
		BaseEvent: models.BaseEvent{EventType: models.EventTypeOrderExpired},
		OrderID:   "ord-1",
	}))

	require.Len(t, orders.msgs, 2)
	assert.Empty(t, notifications.msgs)
	for _, m := range orders.msgs {
		assert.Equal(t, "order-ord-1", string(m.Key))
	}

	var created models.OrderCreatedEvent
	require.NoError(t, json.Unmarshal(orders.msgs[0].Value, &created))
	assert.Equal(t, models.EventTypeOrderCreated, created.EventType)
}

func TestSendTicketsReadyUsesNotificationTopic(t *testing.T) {
	orders, notifications := &fakeWriter{}, &fakeWriter{}
	ep := NewEventPublisher(newProducer(orders, "order-events"), newProducer(notifications, "ticket-notifications"))

	require.NoError(t, ep.SendTicketsReady(context.Background(), "ord-7"))
	require.Len(t, notifications.msgs, 1)
	assert.Empty(t, orders.msgs)

	var event models.TicketsReadyEvent
	require.NoError(t, json.Unmarshal(notifications.msgs[0].Value, &event))
	assert.Equal(t, models.EventTypeTicketsReady, event.EventType)
	assert.Equal(t, "ord-7", event.OrderID)
	assert.NotEmpty(t, event.EventID)
}

func TestPublishWriteFailure(t *testing.T) {
	p := newProducer(&fakeWriter{err: errors.New("leader not available")}, "order-events")
	err := p.PublishEvent(context.Background(), "k", map[string]string{"a": "b"})
	assert.ErrorContains(t, err, "leader not available")
}

func TestHandleMessageRoutesTicketsReady(t *testing.T) {
	eh := NewEventHandler()
	var got string
	eh.OnTicketsReady(func(ctx context.Context, e *models.TicketsReadyEvent) error {
		got = e.OrderID
		return nil
	})

	payload, err := json.Marshal(models.TicketsReadyEvent{
		BaseEvent: models.BaseEvent{EventType: models.EventTypeTicketsReady},
		OrderID:   "ord-3",
	})
	require.NoError(t, err)

	require.NoError(t, eh.HandleMessage(context.Background(), kafka.Message{Value: payload}))
	assert.Equal(t, "ord-3", got)

	// other event types are ignored
	other, err := json.Marshal(models.BaseEvent{EventType: models.EventTypeOrderPaid})
	require.NoError(t, err)
	assert.NoError(t, eh.HandleMessage(context.Background(), kafka.Message{Value: other}))

	assert.Error(t, eh.HandleMessage(context.Background(), kafka.Message{Value: []byte("{")}))
}

func TestStartConsumingRetriesThenMovesOn(t *testing.T) {
	reader := &fakeReader{msgs: make(chan kafka.Message, 3)}
	reader.msgs <- kafka.Message{Offset: 1, Value: []byte("ok")}
	reader.msgs <- kafka.Message{Offset: 2, Value: []byte("flaky")}
	reader.msgs <- kafka.Message{Offset: 3, Value: []byte("broken")}

	c := NewConsumerWithReader(reader, "ticket-notifications")
	c.backoff = time.Millisecond

	var mu sync.Mutex
	calls := map[string]int{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- c.StartConsuming(ctx, func(ctx context.Context, msg kafka.Message) error {
			mu.Lock()
			defer mu.Unlock()
			calls[string(msg.Value)]++
			switch {
			case string(msg.Value) == "flaky" && calls["flaky"] < 2:
				return errors.New("smtp timeout")
			case string(msg.Value) == "broken":
				return errors.New("boom")
			}
			return nil
		})
	}()

	require.Eventually(t, func() bool { return len(reader.commits()) == 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	// offsets stay in order, each message is committed once its retries end
	assert.Equal(t, []int64{1, 2, 3}, reader.commits())
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, map[string]int{"ok": 1, "flaky": 2, "broken": 3}, calls)
}

func TestStartConsumingStopsDuringBackoff(t *testing.T) {
	reader := &fakeReader{msgs: make(chan kafka.Message, 1)}
	reader.msgs <- kafka.Message{Offset: 1}

	c := NewConsumerWithReader(reader, "ticket-notifications")
	c.backoff = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	handled := make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() {
		done <- c.StartConsuming(ctx, func(ctx context.Context, msg kafka.Message) error {
			handled <- struct{}{}
			return errors.New("boom")
		})
	}()

	<-handled
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
	assert.Empty(t, reader.commits())
}
