package event

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/orderflow/backend/internal/domain/shared"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeBroker is a tiny in-process broker: direct routing by key, publisher
// confirms, manual acks and dead-lettering on nack without requeue.
type fakeBroker struct {
	mu          sync.Mutex
	exchanges   []string
	queueArgs   map[string]amqp.Table
	bindings    map[string][]string
	queues      map[string]chan amqp.Delivery
	replies     chan amqp.Delivery
	closed      bool
	nackPublish bool
	tag         uint64
	inflight    map[uint64]string
	acked       []string
	requeued    []string
	dead        []string
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		queueArgs: make(map[string]amqp.Table),
		bindings:  make(map[string][]string),
		queues:    make(map[string]chan amqp.Delivery),
		replies:   make(chan amqp.Delivery, 64),
		inflight:  make(map[uint64]string),
	}
}

func (b *fakeBroker) route(exchange, key string, msg amqp.Publishing) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	d := amqp.Delivery{
		Acknowledger:  b,
		Headers:       msg.Headers,
		ContentType:   msg.ContentType,
		DeliveryMode:  msg.DeliveryMode,
		CorrelationId: msg.CorrelationId,
		ReplyTo:       msg.ReplyTo,
		Expiration:    msg.Expiration,
		MessageId:     msg.MessageId,
		Timestamp:     msg.Timestamp,
		Type:          msg.Type,
		Exchange:      exchange,
		RoutingKey:    key,
		Body:          msg.Body,
	}
	if exchange == "" && key == directReplyTo {
		b.replies <- d
		return
	}
	for _, queue := range b.bindings[key] {
		b.tag++
		d.DeliveryTag = b.tag
		b.inflight[b.tag] = queue
		b.queues[queue] <- d
	}
}

func (b *fakeBroker) Ack(tag uint64, multiple bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.acked = append(b.acked, b.inflight[tag])
	return nil
}

func (b *fakeBroker) Nack(tag uint64, multiple, requeue bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	queue := b.inflight[tag]
	if !requeue {
		b.dead = append(b.dead, queue)
		return nil
	}
	b.requeued = append(b.requeued, queue)
	return nil
}

func (b *fakeBroker) Reject(tag uint64, requeue bool) error {
	return b.Nack(tag, false, requeue)
}

func (b *fakeBroker) snapshot() (acked, requeued, dead []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.acked...), append([]string(nil), b.requeued...), append([]string(nil), b.dead...)
}

type fakeChannel struct {
	broker    *fakeBroker
	confirms  chan amqp.Confirmation
	published uint64
}

func (c *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	c.broker.exchanges = append(c.broker.exchanges, name)
	return nil
}

func (c *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	if _, ok := c.broker.queues[name]; !ok {
		c.broker.queues[name] = make(chan amqp.Delivery, 64)
	}
	c.broker.queueArgs[name] = args
	return amqp.Queue{Name: name}, nil
}

func (c *fakeChannel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	c.broker.bindings[key] = append(c.broker.bindings[key], name)
	return nil
}

func (c *fakeChannel) Qos(prefetchCount, prefetchSize int, global bool) error { return nil }

func (c *fakeChannel) Confirm(noWait bool) error { return nil }

func (c *fakeChannel) NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation {
	c.confirms = confirm
	return confirm
}

func (c *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	c.broker.route(exchange, key, msg)
	c.published++
	c.broker.mu.Lock()
	ack := !c.broker.nackPublish
	c.broker.mu.Unlock()
	if c.confirms != nil {
		c.confirms <- amqp.Confirmation{DeliveryTag: c.published, Ack: ack}
	}
	return nil
}

func (c *fakeChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	if queue == directReplyTo {
		return c.broker.replies, nil
	}
	ch, ok := c.broker.queues[queue]
	if !ok {
		return nil, errors.New("queue not declared: " + queue)
	}
	return ch, nil
}

func (c *fakeChannel) Close() error {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	if c.broker.closed {
		return nil
	}
	c.broker.closed = true
	for _, ch := range c.broker.queues {
		close(ch)
	}
	close(c.broker.replies)
	return nil
}

func newRabbitMQTestBus(t *testing.T) (*RabbitMQBus, *fakeBroker) {
	t.Helper()
	broker := newFakeBroker()
	cfg := RabbitMQConfig{Exchange: "orderflow", QueuePrefix: "orderflow", Prefetch: 4, ConfirmTimeout: time.Second}
	bus := NewRabbitMQBus(cfg, &fakeChannel{broker: broker}, &fakeChannel{broker: broker}, zap.NewNop())
	return bus, broker
}

func startRabbitMQTestBus(t *testing.T, bus *RabbitMQBus) {
	t.Helper()
	require.NoError(t, bus.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = bus.Stop(ctx)
	})
}

func TestRabbitMQBus_StartDeclaresTopology(t *testing.T) {
	bus, broker := newRabbitMQTestBus(t)
	bus.Subscribe("OrderCreatedV1", noopHandler)
	bus.Respond("ReserveInventoryRequestV1", func(ctx context.Context, msg shared.Message) (shared.Message, error) {
		return msg, nil
	})
	startRabbitMQTestBus(t, bus)

	broker.mu.Lock()
	defer broker.mu.Unlock()
	assert.Equal(t, []string{"orderflow", "orderflow.dlx"}, broker.exchanges)
	assert.Equal(t, []string{"orderflow.dead-letter"}, broker.bindings["#"])
	assert.Equal(t, []string{"orderflow.OrderCreatedV1"}, broker.bindings["OrderCreatedV1"])
	assert.Equal(t, []string{"orderflow.ReserveInventoryRequestV1"}, broker.bindings["ReserveInventoryRequestV1"])
	assert.Equal(t, "orderflow.dlx", broker.queueArgs["orderflow.OrderCreatedV1"]["x-dead-letter-exchange"])
}

func TestRabbitMQBus_PublishBeforeStart(t *testing.T) {
	bus, _ := newRabbitMQTestBus(t)
	err := bus.Publish(context.Background(), shared.NewMessage("OrderCreatedV1", uuid.New(), nil, t0))
	assert.ErrorIs(t, err, ErrBusStopped)
}

func TestRabbitMQBus_PublishDeliversAndAcks(t *testing.T) {
	bus, broker := newRabbitMQTestBus(t)
	h := &recordingHandler{}
	bus.Subscribe("OrderCreatedV1", h.handle)
	startRabbitMQTestBus(t, bus)

	msg := shared.NewMessage("OrderCreatedV1", uuid.New(), []byte(`{"order_id":"x"}`), t0)
	require.NoError(t, bus.Publish(context.Background(), msg))

	require.Eventually(t, func() bool { return h.count() == 1 }, time.Second, 5*time.Millisecond)
	h.mu.Lock()
	got := h.received[0]
	h.mu.Unlock()
	assert.Equal(t, msg.ID, got.ID)
	assert.Equal(t, msg.CorrelationID, got.CorrelationID)
	assert.Equal(t, msg.Type, got.Type)
	assert.JSONEq(t, `{"order_id":"x"}`, string(got.Payload))
	assert.True(t, msg.OccurredAt.Equal(got.OccurredAt))

	require.Eventually(t, func() bool {
		acked, _, _ := broker.snapshot()
		return len(acked) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestRabbitMQBus_FailedDeliveryIsRequeuedThenDeadLettered(t *testing.T) {
	bus, broker := newRabbitMQTestBus(t)
	h := &recordingHandler{err: errors.New("boom")}
	bus.Subscribe("OrderCreatedV1", h.handle)
	startRabbitMQTestBus(t, bus)

	require.NoError(t, bus.Publish(context.Background(), shared.NewMessage("OrderCreatedV1", uuid.New(), nil, t0)))
	require.Eventually(t, func() bool {
		_, requeued, _ := broker.snapshot()
		return len(requeued) == 1
	}, time.Second, 5*time.Millisecond)

	// the broker redelivers with the redelivered flag set
	broker.mu.Lock()
	redelivery := amqp.Delivery{
		Acknowledger: broker,
		DeliveryTag:  99,
		MessageId:    uuid.NewString(),
		Type:         "OrderCreatedV1",
		Redelivered:  true,
	}
	broker.inflight[99] = "orderflow.OrderCreatedV1"
	broker.queues["orderflow.OrderCreatedV1"] <- redelivery
	broker.mu.Unlock()

	require.Eventually(t, func() bool {
		_, _, dead := broker.snapshot()
		return len(dead) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, h.count())
}

func TestRabbitMQBus_MalformedDeliveryIsDeadLettered(t *testing.T) {
	bus, broker := newRabbitMQTestBus(t)
	h := &recordingHandler{}
	bus.Subscribe("OrderCreatedV1", h.handle)
	startRabbitMQTestBus(t, bus)

	broker.mu.Lock()
	broker.inflight[7] = "orderflow.OrderCreatedV1"
	broker.queues["orderflow.OrderCreatedV1"] <- amqp.Delivery{Acknowledger: broker, DeliveryTag: 7, MessageId: "not-a-uuid"}
	broker.mu.Unlock()

	require.Eventually(t, func() bool {
		_, _, dead := broker.snapshot()
		return len(dead) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, h.count())
}

func TestRabbitMQBus_RequestReply(t *testing.T) {
	bus, _ := newRabbitMQTestBus(t)
	bus.Respond("ReserveInventoryRequestV1", func(ctx context.Context, msg shared.Message) (shared.Message, error) {
		return shared.NewMessage("ReserveInventoryResponseV1", uuid.Nil, []byte(`{"success":true}`), t0), nil
	})
	startRabbitMQTestBus(t, bus)

	req := shared.NewMessage("ReserveInventoryRequestV1", uuid.New(), []byte(`{}`), t0)
	reply, err := bus.Request(context.Background(), req, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ReserveInventoryResponseV1", reply.Type)
	assert.Equal(t, req.CorrelationID, reply.CorrelationID)
	assert.JSONEq(t, `{"success":true}`, string(reply.Payload))
}

func TestRabbitMQBus_RequestErrors(t *testing.T) {
	t.Run("responder error", func(t *testing.T) {
		bus, _ := newRabbitMQTestBus(t)
		bus.Respond("AuthorizePaymentRequestV1", func(ctx context.Context, msg shared.Message) (shared.Message, error) {
			return shared.Message{}, errors.New("gateway down")
		})
		startRabbitMQTestBus(t, bus)

		_, err := bus.Request(context.Background(), shared.NewMessage("AuthorizePaymentRequestV1", uuid.New(), nil, t0), time.Second)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "gateway down")
	})

	t.Run("no reply times out", func(t *testing.T) {
		bus, _ := newRabbitMQTestBus(t)
		startRabbitMQTestBus(t, bus)

		_, err := bus.Request(context.Background(), shared.NewMessage("AuthorizePaymentRequestV1", uuid.New(), nil, t0), 20*time.Millisecond)
		assert.ErrorIs(t, err, shared.ErrRequestTimeout)
	})

	t.Run("nacked publish", func(t *testing.T) {
		bus, broker := newRabbitMQTestBus(t)
		startRabbitMQTestBus(t, bus)
		broker.mu.Lock()
		broker.nackPublish = true
		broker.mu.Unlock()

		_, err := bus.Request(context.Background(), shared.NewMessage("AuthorizePaymentRequestV1", uuid.New(), nil, t0), time.Second)
		assert.ErrorIs(t, err, ErrPublishNacked)
	})
}
