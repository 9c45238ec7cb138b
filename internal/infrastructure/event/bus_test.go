package event

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/orderflow/backend/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newStartedBus(t *testing.T) *InMemoryBus {
	t.Helper()
	bus := NewInMemoryBus(zap.NewNop())
	require.NoError(t, bus.Start(context.Background()))
	t.Cleanup(func() { _ = bus.Stop(context.Background()) })
	return bus
}

type recordingHandler struct {
	mu       sync.Mutex
	received []shared.Message
	err      error
}

func (h *recordingHandler) handle(ctx context.Context, msg shared.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.received = append(h.received, msg)
	return h.err
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.received)
}

func TestInMemoryBus_Publish(t *testing.T) {
	bus := newStartedBus(t)
	a, b := &recordingHandler{}, &recordingHandler{}
	bus.Subscribe("OrderCreatedV1", a.handle)
	bus.Subscribe("OrderCreatedV1", b.handle)

	msg := shared.NewMessage("OrderCreatedV1", uuid.New(), []byte(`{}`), t0)
	require.NoError(t, bus.Publish(context.Background(), msg))

	assert.Equal(t, 1, a.count())
	assert.Equal(t, 1, b.count())
	assert.Equal(t, msg.ID, a.received[0].ID)

	// no subscriber is not an error
	assert.NoError(t, bus.Publish(context.Background(), shared.NewMessage("OrderUpdatedV1", uuid.New(), nil, t0)))
}

func TestInMemoryBus_PublishReportsSubscriberFailure(t *testing.T) {
	bus := newStartedBus(t)
	failing := &recordingHandler{err: errors.New("queue full")}
	ok := &recordingHandler{}
	bus.Subscribe("OrderCreatedV1", failing.handle)
	bus.Subscribe("OrderCreatedV1", ok.handle)
	bus.Subscribe("OrderCreatedV1", func(context.Context, shared.Message) error { panic("boom") })

	err := bus.Publish(context.Background(), shared.NewMessage("OrderCreatedV1", uuid.New(), nil, t0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue full")
	assert.Contains(t, err.Error(), "panicked")
	assert.Equal(t, 1, ok.count(), "other subscribers still receive the message")
}

func TestInMemoryBus_PublishWhenStopped(t *testing.T) {
	bus := NewInMemoryBus(nil)
	err := bus.Publish(context.Background(), shared.NewMessage("OrderCreatedV1", uuid.New(), nil, t0))
	assert.ErrorIs(t, err, ErrBusStopped)
}

func TestInMemoryBus_Request(t *testing.T) {
	bus := newStartedBus(t)
	bus.Respond("PaymentAuthorizeRequestV1", func(ctx context.Context, m shared.Message) (shared.Message, error) {
		return shared.Message{ID: uuid.New(), Type: "PaymentAuthorizeResultV1", Payload: m.Payload}, nil
	})

	req := shared.NewMessage("PaymentAuthorizeRequestV1", uuid.New(), []byte(`{"amount":"1.00"}`), t0)
	reply, err := bus.Request(context.Background(), req, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "PaymentAuthorizeResultV1", reply.Type)
	assert.Equal(t, req.CorrelationID, reply.CorrelationID)
	assert.Equal(t, req.Payload, reply.Payload)
}

func TestInMemoryBus_RequestErrors(t *testing.T) {
	bus := newStartedBus(t)

	_, err := bus.Request(context.Background(), shared.NewMessage("EmailSendRequestV1", uuid.New(), nil, t0), time.Second)
	assert.ErrorIs(t, err, shared.ErrNoResponder)

	bus.Respond("EmailSendRequestV1", func(ctx context.Context, m shared.Message) (shared.Message, error) {
		<-ctx.Done()
		return shared.Message{}, ctx.Err()
	})
	_, err = bus.Request(context.Background(), shared.NewMessage("EmailSendRequestV1", uuid.New(), nil, t0), 20*time.Millisecond)
	assert.ErrorIs(t, err, shared.ErrRequestTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = bus.Request(ctx, shared.NewMessage("EmailSendRequestV1", uuid.New(), nil, t0), time.Second)
	assert.ErrorIs(t, err, context.Canceled)

	bus.Respond("InventoryReserveRequestV1", func(context.Context, shared.Message) (shared.Message, error) {
		panic("boom")
	})
	_, err = bus.Request(context.Background(), shared.NewMessage("InventoryReserveRequestV1", uuid.New(), nil, t0), time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
}
