package event

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/orderflow/backend/internal/domain/shared"
	"github.com/orderflow/backend/internal/infrastructure/logger"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	// directReplyTo is RabbitMQ's pseudo-queue for request/response without
	// declaring a reply queue per caller.
	directReplyTo = "amq.rabbitmq.reply-to"

	headerCorrelationID = "correlation_id"
	headerError         = "error"

	defaultConfirmTimeout = 5 * time.Second
	confirmChannelBuffer  = 256
)

var (
	// ErrPublishNacked is returned when the broker refuses a message
	ErrPublishNacked = errors.New("bus: message was nacked by broker")
	// ErrConfirmTimeout is returned when the broker does not confirm in time
	ErrConfirmTimeout = errors.New("bus: publish confirmation timed out")
)

// Channel is the subset of *amqp.Channel used by RabbitMQBus
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Confirm(noWait bool) error
	NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

// RabbitMQConfig configures the RabbitMQ bus
type RabbitMQConfig struct {
	URL            string
	Exchange       string
	QueuePrefix    string
	Prefetch       int
	ConfirmTimeout time.Duration
}

// RabbitMQBus implements shared.Bus over a RabbitMQ topic exchange.
//
// Every message type is routed by its name to a durable queue
// "<prefix>.<type>" that dead-letters into "<exchange>.dlx". Publishing
// waits for the broker confirm. Requests carry a reply-to of
// amq.rabbitmq.reply-to and are matched to replies by the request message
// id. Subscribe and Respond must be called before Start.
type RabbitMQBus struct {
	cfg      RabbitMQConfig
	conn     *amqp.Connection
	pub      Channel
	sub      Channel
	registry *HandlerRegistry
	logger   *zap.Logger

	publishMu sync.Mutex
	confirms  chan amqp.Confirmation

	pendingMu sync.Mutex
	pending   map[string]chan replyResult

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type replyResult struct {
	msg shared.Message
	err error
}

// DialRabbitMQ connects to the broker and opens the publish and consume channels
func DialRabbitMQ(cfg RabbitMQConfig, log *zap.Logger) (*RabbitMQBus, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	pub, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open publish channel: %w", err)
	}
	sub, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open consume channel: %w", err)
	}
	bus := NewRabbitMQBus(cfg, pub, sub, log)
	bus.conn = conn
	return bus, nil
}

// NewRabbitMQBus creates a bus over already opened channels. pub is used for
// publishing (in confirm mode) and for direct replies; sub consumes the
// subscriber and responder queues.
func NewRabbitMQBus(cfg RabbitMQConfig, pub, sub Channel, log *zap.Logger) *RabbitMQBus {
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = defaultConfirmTimeout
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 16
	}
	return &RabbitMQBus{
		cfg:      cfg,
		pub:      pub,
		sub:      sub,
		registry: NewHandlerRegistry(),
		logger:   logger.OrNop(log).Named("rabbitmq"),
		pending:  make(map[string]chan replyResult),
	}
}

// Subscribe registers a handler for a message type
func (b *RabbitMQBus) Subscribe(msgType string, handler shared.HandlerFunc) {
	b.registry.Register(msgType, handler)
}

// Respond registers the responder for a request type
func (b *RabbitMQBus) Respond(msgType string, handler shared.RequestHandlerFunc) {
	if b.registry.SetResponder(msgType, handler) {
		b.logger.Warn("responder replaced", logger.MessageType(msgType))
	}
}

func (b *RabbitMQBus) queueName(msgType string) string {
	return b.cfg.QueuePrefix + "." + msgType
}

func (b *RabbitMQBus) dlxName() string {
	return b.cfg.Exchange + ".dlx"
}

// Start declares the topology and starts consuming
func (b *RabbitMQBus) Start(ctx context.Context) error {
	if err := b.pub.Confirm(false); err != nil {
		return fmt.Errorf("enable publisher confirms: %w", err)
	}
	b.confirms = b.pub.NotifyPublish(make(chan amqp.Confirmation, confirmChannelBuffer))

	if err := b.declareTopology(); err != nil {
		return err
	}
	if err := b.sub.Qos(b.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("set prefetch: %w", err)
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	b.cancel = cancel

	types := append(b.registry.SubscribedTypes(), b.registry.RequestTypes()...)
	seen := make(map[string]bool, len(types))
	for _, msgType := range types {
		if seen[msgType] {
			continue
		}
		seen[msgType] = true

		deliveries, err := b.sub.Consume(b.queueName(msgType), "", false, false, false, false, nil)
		if err != nil {
			cancel()
			return fmt.Errorf("consume %s: %w", b.queueName(msgType), err)
		}
		b.wg.Add(1)
		go b.consumeLoop(ctx, deliveries)
	}

	replies, err := b.pub.Consume(directReplyTo, "", true, false, false, false, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("consume direct replies: %w", err)
	}
	b.wg.Add(1)
	go b.replyLoop(replies)

	b.running.Store(true)
	b.logger.Info("rabbitmq bus started",
		zap.String("exchange", b.cfg.Exchange),
		zap.Strings("queues", types),
	)
	return nil
}

func (b *RabbitMQBus) declareTopology() error {
	if err := b.sub.ExchangeDeclare(b.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	if err := b.sub.ExchangeDeclare(b.dlxName(), "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dlx exchange: %w", err)
	}
	dlq := b.cfg.QueuePrefix + ".dead-letter"
	if _, err := b.sub.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dlq queue: %w", err)
	}
	if err := b.sub.QueueBind(dlq, "#", b.dlxName(), false, nil); err != nil {
		return fmt.Errorf("bind dlq to dlx: %w", err)
	}

	args := amqp.Table{"x-dead-letter-exchange": b.dlxName()}
	for _, msgType := range append(b.registry.SubscribedTypes(), b.registry.RequestTypes()...) {
		queue := b.queueName(msgType)
		if _, err := b.sub.QueueDeclare(queue, true, false, false, false, args); err != nil {
			return fmt.Errorf("declare queue %s: %w", queue, err)
		}
		if err := b.sub.QueueBind(queue, msgType, b.cfg.Exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s: %w", queue, err)
		}
	}
	return nil
}

// Publish sends a persistent message and waits for the broker confirm
func (b *RabbitMQBus) Publish(ctx context.Context, msg shared.Message) error {
	if !b.running.Load() {
		return ErrBusStopped
	}
	return b.publish(ctx, b.cfg.Exchange, msg.Type, toPublishing(msg))
}

// Request publishes a request and waits for the matching direct reply
func (b *RabbitMQBus) Request(ctx context.Context, msg shared.Message, timeout time.Duration) (shared.Message, error) {
	if !b.running.Load() {
		return shared.Message{}, ErrBusStopped
	}

	key := msg.ID.String()
	replyCh := make(chan replyResult, 1)
	b.pendingMu.Lock()
	b.pending[key] = replyCh
	b.pendingMu.Unlock()
	defer func() {
		b.pendingMu.Lock()
		delete(b.pending, key)
		b.pendingMu.Unlock()
	}()

	p := toPublishing(msg)
	p.ReplyTo = directReplyTo
	p.CorrelationId = key
	// a request nobody picked up in time is useless to the caller
	p.Expiration = strconv.FormatInt(timeout.Milliseconds(), 10)
	if err := b.publish(ctx, b.cfg.Exchange, msg.Type, p); err != nil {
		return shared.Message{}, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-replyCh:
		return res.msg, res.err
	case <-timer.C:
		return shared.Message{}, timeoutError(msg.Type, timeout)
	case <-ctx.Done():
		return shared.Message{}, ctx.Err()
	}
}

func (b *RabbitMQBus) publish(ctx context.Context, exchange, key string, p amqp.Publishing) error {
	b.publishMu.Lock()
	defer b.publishMu.Unlock()

	if err := b.pub.PublishWithContext(ctx, exchange, key, false, false, p); err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	timer := time.NewTimer(b.cfg.ConfirmTimeout)
	defer timer.Stop()

	select {
	case confirmed, ok := <-b.confirms:
		if !ok {
			return ErrBusStopped
		}
		if !confirmed.Ack {
			return fmt.Errorf("%w: delivery_tag=%d", ErrPublishNacked, confirmed.DeliveryTag)
		}
		return nil
	case <-timer.C:
		return ErrConfirmTimeout
	case <-ctx.Done():
		return fmt.Errorf("context cancelled: %w", ctx.Err())
	}
}

func (b *RabbitMQBus) consumeLoop(ctx context.Context, deliveries <-chan amqp.Delivery) {
	defer b.wg.Done()
	for d := range deliveries {
		b.wg.Add(1)
		go func(d amqp.Delivery) {
			defer b.wg.Done()
			b.handleDelivery(ctx, d)
		}(d)
	}
}

func (b *RabbitMQBus) handleDelivery(ctx context.Context, d amqp.Delivery) {
	msg, err := fromDelivery(d)
	if err != nil {
		b.logger.Error("malformed delivery, dead-lettering", zap.String("routing_key", d.RoutingKey), zap.Error(err))
		_ = d.Nack(false, false)
		return
	}
	log := b.logger.With(logger.MessageID(msg.ID), logger.MessageType(msg.Type))

	if d.ReplyTo != "" {
		if responder, ok := b.registry.GetResponder(msg.Type); ok {
			b.respond(ctx, d, msg, responder, log)
			_ = d.Ack(false)
			return
		}
	}

	var errs []error
	for _, handler := range b.registry.GetHandlers(msg.Type) {
		if err := safeHandle(ctx, handler, msg); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		// one redelivery, then the DLX
		log.Error("subscriber failed", zap.Bool("redelivered", d.Redelivered), zap.Error(err))
		_ = d.Nack(false, !d.Redelivered)
		return
	}
	_ = d.Ack(false)
}

func (b *RabbitMQBus) respond(ctx context.Context, d amqp.Delivery, msg shared.Message, responder shared.RequestHandlerFunc, log *zap.Logger) {
	reply, err := safeRespond(ctx, responder, msg)

	p := amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: d.CorrelationId,
		Headers:       amqp.Table{},
	}
	if err != nil {
		log.Error("responder failed", zap.Error(err))
		p.Headers[headerError] = err.Error()
	} else {
		if reply.CorrelationID == uuid.Nil {
			reply.CorrelationID = msg.CorrelationID
		}
		p = toPublishing(reply)
		p.CorrelationId = d.CorrelationId
		p.DeliveryMode = amqp.Transient
	}

	if err := b.publish(ctx, "", d.ReplyTo, p); err != nil {
		log.Error("failed to publish reply", zap.Error(err))
	}
}

func (b *RabbitMQBus) replyLoop(replies <-chan amqp.Delivery) {
	defer b.wg.Done()
	for d := range replies {
		b.pendingMu.Lock()
		ch, ok := b.pending[d.CorrelationId]
		b.pendingMu.Unlock()
		if !ok {
			b.logger.Debug("late reply dropped", zap.String("request_id", d.CorrelationId))
			continue
		}

		if errMsg, ok := d.Headers[headerError].(string); ok && errMsg != "" {
			ch <- replyResult{err: fmt.Errorf("responder: %s", errMsg)}
			continue
		}
		msg, err := fromDelivery(d)
		ch <- replyResult{msg: msg, err: err}
	}
}

// Stop cancels the consumers, closes the channels and waits for in-flight handlers
func (b *RabbitMQBus) Stop(ctx context.Context) error {
	b.running.Store(false)
	if b.cancel != nil {
		b.cancel()
	}
	_ = b.sub.Close()
	_ = b.pub.Close()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if b.conn != nil {
		if err := b.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			return err
		}
	}
	b.logger.Info("rabbitmq bus stopped")
	return nil
}

func toPublishing(msg shared.Message) amqp.Publishing {
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID.String(),
		Type:         msg.Type,
		Timestamp:    msg.OccurredAt,
		Headers:      amqp.Table{headerCorrelationID: msg.CorrelationID.String()},
		Body:         msg.Payload,
	}
}

func fromDelivery(d amqp.Delivery) (shared.Message, error) {
	id, err := uuid.Parse(d.MessageId)
	if err != nil {
		return shared.Message{}, fmt.Errorf("invalid message id %q: %w", d.MessageId, err)
	}
	var correlationID uuid.UUID
	if raw, ok := d.Headers[headerCorrelationID].(string); ok {
		if correlationID, err = uuid.Parse(raw); err != nil {
			return shared.Message{}, fmt.Errorf("invalid correlation id %q: %w", raw, err)
		}
	}
	msgType := d.Type
	if msgType == "" {
		msgType = d.RoutingKey
	}
	return shared.Message{
		ID:            id,
		Type:          msgType,
		CorrelationID: correlationID,
		Payload:       d.Body,
		OccurredAt:    d.Timestamp,
	}, nil
}

var _ shared.Bus = (*RabbitMQBus)(nil)
