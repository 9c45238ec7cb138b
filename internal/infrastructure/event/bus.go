package event

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/orderflow/backend/internal/domain/shared"
	"github.com/orderflow/backend/internal/infrastructure/logger"
	"go.uber.org/zap"
)

// ErrBusStopped is returned when publishing on a bus that is not running
var ErrBusStopped = errors.New("bus: not running")

// InMemoryBus implements shared.Bus inside one process. Publish delivers
// synchronously to every subscriber and reports their failures, so an
// outbox relay publishing through it retries undelivered messages.
type InMemoryBus struct {
	registry *HandlerRegistry
	logger   *zap.Logger
	running  atomic.Bool
	wg       sync.WaitGroup
}

// NewInMemoryBus creates a new in-memory bus
func NewInMemoryBus(log *zap.Logger) *InMemoryBus {
	return &InMemoryBus{
		registry: NewHandlerRegistry(),
		logger:   logger.OrNop(log).Named("bus"),
	}
}

// Publish delivers the message to all subscribers of its type
func (b *InMemoryBus) Publish(ctx context.Context, msg shared.Message) error {
	if !b.running.Load() {
		return ErrBusStopped
	}

	handlers := b.registry.GetHandlers(msg.Type)
	if len(handlers) == 0 {
		b.logger.Debug("no subscribers for message", logger.MessageType(msg.Type), logger.MessageID(msg.ID))
		return nil
	}

	var errs []error
	for _, handler := range handlers {
		if err := safeHandle(ctx, handler, msg); err != nil {
			b.logger.Error("subscriber failed to process message",
				logger.MessageType(msg.Type),
				logger.MessageID(msg.ID),
				zap.Error(err),
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Subscribe registers a handler for a message type
func (b *InMemoryBus) Subscribe(msgType string, handler shared.HandlerFunc) {
	b.registry.Register(msgType, handler)
	b.logger.Debug("handler subscribed", logger.MessageType(msgType))
}

// Respond registers the responder for a request type
func (b *InMemoryBus) Respond(msgType string, handler shared.RequestHandlerFunc) {
	if b.registry.SetResponder(msgType, handler) {
		b.logger.Warn("responder replaced", logger.MessageType(msgType))
	}
}

// Request runs the responder on its own goroutine and waits for its reply.
// The responder's context is cancelled when the request times out.
func (b *InMemoryBus) Request(ctx context.Context, msg shared.Message, timeout time.Duration) (shared.Message, error) {
	if !b.running.Load() {
		return shared.Message{}, ErrBusStopped
	}
	responder, ok := b.registry.GetResponder(msg.Type)
	if !ok {
		return shared.Message{}, fmt.Errorf("%w: %s", shared.ErrNoResponder, msg.Type)
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		reply shared.Message
		err   error
	}
	done := make(chan result, 1)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("responder panicked", logger.MessageType(msg.Type), zap.Any("panic", r))
				done <- result{err: fmt.Errorf("responder panicked: %v", r)}
			}
		}()
		reply, err := responder(reqCtx, msg)
		done <- result{reply: reply, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			if timedOut(ctx, reqCtx) {
				return shared.Message{}, timeoutError(msg.Type, timeout)
			}
			return shared.Message{}, res.err
		}
		if res.reply.CorrelationID == uuid.Nil {
			res.reply.CorrelationID = msg.CorrelationID
		}
		return res.reply, nil
	case <-reqCtx.Done():
		if timedOut(ctx, reqCtx) {
			return shared.Message{}, timeoutError(msg.Type, timeout)
		}
		return shared.Message{}, ctx.Err()
	}
}

// timedOut reports whether the request context expired on its own timeout
// rather than because the caller's context ended.
func timedOut(parent, req context.Context) bool {
	return errors.Is(req.Err(), context.DeadlineExceeded) && parent.Err() == nil
}

func timeoutError(msgType string, timeout time.Duration) error {
	return fmt.Errorf("%w: %s after %s", shared.ErrRequestTimeout, msgType, timeout)
}

// Start starts the bus
func (b *InMemoryBus) Start(ctx context.Context) error {
	b.running.Store(true)
	b.logger.Info("in-memory bus started",
		zap.Strings("subscribed", b.registry.SubscribedTypes()),
		zap.Strings("responders", b.registry.RequestTypes()),
	)
	return nil
}

// Stop stops accepting messages and waits for in-flight requests
func (b *InMemoryBus) Stop(ctx context.Context) error {
	b.running.Store(false)

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.logger.Info("in-memory bus stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// safeHandle runs one subscriber, converting a panic into an error
func safeHandle(ctx context.Context, handler shared.HandlerFunc, msg shared.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panicked: %v", r)
		}
	}()
	return handler(ctx, msg)
}

func safeRespond(ctx context.Context, responder shared.RequestHandlerFunc, msg shared.Message) (reply shared.Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("responder panicked: %v", r)
		}
	}()
	return responder(ctx, msg)
}

var _ shared.Bus = (*InMemoryBus)(nil)
