package event

import (
	"context"
	"sync/atomic"

	"github.com/orderflow/backend/internal/domain/shared"
	"github.com/orderflow/backend/internal/infrastructure/logger"
	"go.uber.org/zap"
)

// IdempotencyMetrics tracks idempotency-related statistics
type IdempotencyMetrics struct {
	// Processed is the number of messages handled for the first time
	Processed atomic.Int64

	// Duplicates is the number of redeliveries that were skipped
	Duplicates atomic.Int64

	// Failed is the number of messages whose handler returned an error
	Failed atomic.Int64
}

// Stats returns a snapshot of the current metrics
func (m *IdempotencyMetrics) Stats() IdempotencyStats {
	return IdempotencyStats{
		Processed:  m.Processed.Load(),
		Duplicates: m.Duplicates.Load(),
		Failed:     m.Failed.Load(),
	}
}

// IdempotencyStats is a snapshot of idempotency metrics
type IdempotencyStats struct {
	Processed  int64 `json:"processed"`
	Duplicates int64 `json:"duplicates"`
	Failed     int64 `json:"failed"`
}

// IdempotentHandler wraps a HandlerFunc so each message id is handled at
// most once while its key is remembered.
//
// The key is claimed before the handler runs so concurrent redeliveries
// cannot both proceed. If the handler fails the key is forgotten again,
// otherwise a retried delivery would be mistaken for a duplicate.
type IdempotentHandler struct {
	name    string
	handler shared.HandlerFunc
	store   shared.IdempotencyStore
	config  shared.IdempotencyConfig
	logger  *zap.Logger
	metrics *IdempotencyMetrics
}

// IdempotentHandlerOption is a functional option for IdempotentHandler
type IdempotentHandlerOption func(*IdempotentHandler)

// WithIdempotencyConfig sets the idempotency configuration
func WithIdempotencyConfig(config shared.IdempotencyConfig) IdempotentHandlerOption {
	return func(h *IdempotentHandler) {
		h.config = config
	}
}

// WithIdempotencyMetrics sets the metrics collector
func WithIdempotencyMetrics(metrics *IdempotencyMetrics) IdempotentHandlerOption {
	return func(h *IdempotentHandler) {
		h.metrics = metrics
	}
}

// NewIdempotentHandler creates a new idempotent handler wrapper. name scopes
// the keys, so two consumers of the same message do not shadow each other.
func NewIdempotentHandler(
	name string,
	handler shared.HandlerFunc,
	store shared.IdempotencyStore,
	log *zap.Logger,
	opts ...IdempotentHandlerOption,
) *IdempotentHandler {
	h := &IdempotentHandler{
		name:    name,
		handler: handler,
		store:   store,
		config:  shared.DefaultIdempotencyConfig(),
		logger:  logger.OrNop(log),
		metrics: &IdempotencyMetrics{},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *IdempotentHandler) key(msg shared.Message) string {
	return shared.ProcessedKey(h.name, msg.ID)
}

// Handle processes the message unless its id was already processed
func (h *IdempotentHandler) Handle(ctx context.Context, msg shared.Message) error {
	if !h.config.Enabled {
		return h.handler(ctx, msg)
	}

	key := h.key(msg)
	log := h.logger.With(logger.MessageID(msg.ID), logger.MessageType(msg.Type), zap.String("consumer", h.name))

	claimed := false
	isNew, err := h.store.MarkProcessed(ctx, key, h.config.TTL)
	switch {
	case err != nil:
		// processing twice is recoverable, dropping the message is not
		log.Warn("failed to check idempotency, processing anyway", zap.Error(err))
	case !isNew:
		h.metrics.Duplicates.Add(1)
		log.Debug("duplicate message, skipping")
		return nil
	default:
		claimed = true
	}

	if err := h.handler(ctx, msg); err != nil {
		h.metrics.Failed.Add(1)
		if claimed {
			if forgetErr := h.store.Forget(context.WithoutCancel(ctx), key); forgetErr != nil {
				log.Error("failed to release idempotency key", zap.Error(forgetErr))
			}
		}
		return err
	}

	h.metrics.Processed.Add(1)
	return nil
}

// HandlerFunc returns Handle as a shared.HandlerFunc for bus subscription
func (h *IdempotentHandler) HandlerFunc() shared.HandlerFunc {
	return h.Handle
}

// GetMetrics returns the metrics for this handler
func (h *IdempotentHandler) GetMetrics() *IdempotencyMetrics {
	return h.metrics
}
