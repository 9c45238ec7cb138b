package event

import (
	"context"
	"sync"
	"time"

	"github.com/orderflow/backend/internal/domain/contracts"
	"github.com/orderflow/backend/internal/domain/shared"
	"github.com/orderflow/backend/internal/infrastructure/logger"
	"go.uber.org/zap"
)

// errUnknownType is recorded on rows whose type has no contract
const errUnknownType = "unknown message type"

// RelayConfig holds configuration for the outbox relay
type RelayConfig struct {
	BatchSize        int
	PollInterval     time.Duration
	Lease            time.Duration
	CleanupEnabled   bool
	CleanupInterval  time.Duration
	CleanupRetention time.Duration
	Policy           shared.RetryPolicy
}

// DefaultRelayConfig returns default configuration
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		BatchSize:        100,
		PollInterval:     5 * time.Second,
		Lease:            30 * time.Second,
		CleanupEnabled:   true,
		CleanupInterval:  time.Hour,
		CleanupRetention: 7 * 24 * time.Hour,
		Policy:           shared.DefaultRetryPolicy(),
	}
}

// RelayStats summarises one relay pass
type RelayStats struct {
	Claimed      int
	Published    int
	Failed       int
	DeadLettered int
}

// RelayObserver receives relay outcomes, typically for metrics
type RelayObserver interface {
	RecordRelayBatch(ctx context.Context, stats RelayStats)
	RecordDeadLetter(ctx context.Context, msgType, reason string)
}

// RelayOption configures a Relay
type RelayOption func(*Relay)

// WithRelayObserver attaches an observer
func WithRelayObserver(o RelayObserver) RelayOption {
	return func(r *Relay) { r.observer = o }
}

// WithTypeFilter overrides which message types may be published.
// Rows of any other type are dead-lettered without a publish attempt.
func WithTypeFilter(known func(string) bool) RelayOption {
	return func(r *Relay) { r.known = known }
}

// Relay moves outbox rows to the bus with at-least-once delivery.
//
// Rows are claimed with a lease so several relay instances can run side by
// side. The bus message id is the outbox row id, which lets consumers drop
// redeliveries.
type Relay struct {
	repo     shared.OutboxRepository
	bus      shared.Bus
	clock    shared.Clock
	config   RelayConfig
	logger   *zap.Logger
	observer RelayObserver
	known    func(string) bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRelay creates a new outbox relay
func NewRelay(
	repo shared.OutboxRepository,
	bus shared.Bus,
	clock shared.Clock,
	config RelayConfig,
	log *zap.Logger,
	opts ...RelayOption,
) *Relay {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultRelayConfig().BatchSize
	}
	if config.Lease <= 0 {
		config.Lease = DefaultRelayConfig().Lease
	}
	if clock == nil {
		clock = shared.SystemClock{}
	}
	r := &Relay{
		repo:   repo,
		bus:    bus,
		clock:  clock,
		config: config,
		logger: logger.OrNop(log).Named("outbox_relay"),
		known:  contracts.IsKnownType,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start starts the background relay
func (r *Relay) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.wg.Add(1)
	go r.relayLoop(ctx)

	if r.config.CleanupEnabled && r.config.CleanupInterval > 0 {
		r.wg.Add(1)
		go r.cleanupLoop(ctx)
	}

	r.logger.Info("outbox relay started",
		zap.Int("batch_size", r.config.BatchSize),
		zap.Duration("poll_interval", r.config.PollInterval),
		zap.Duration("lease", r.config.Lease),
	)
	return nil
}

// Stop gracefully stops the relay
func (r *Relay) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("outbox relay stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Relay) relayLoop(ctx context.Context) {
	defer r.wg.Done()

	for {
		stats, err := r.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			r.logger.Error("outbox relay pass failed", zap.Error(err))
		}
		// a full batch means there is probably more waiting
		if err == nil && stats.Claimed >= r.config.BatchSize {
			if ctx.Err() != nil {
				return
			}
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-r.clock.After(r.config.PollInterval):
		}
	}
}

// RunOnce claims one batch of due rows and publishes them
func (r *Relay) RunOnce(ctx context.Context) (RelayStats, error) {
	var stats RelayStats

	now := r.clock.Now()
	claimed, err := r.repo.Claim(ctx, now, now.Add(r.config.Lease), r.config.BatchSize)
	if err != nil {
		return stats, err
	}
	stats.Claimed = len(claimed)

	for _, msg := range claimed {
		if ctx.Err() != nil {
			break
		}
		r.relay(ctx, msg, &stats)
	}

	if stats.Claimed > 0 {
		r.logger.Debug("outbox relay pass",
			zap.Int("claimed", stats.Claimed),
			zap.Int("published", stats.Published),
			zap.Int("failed", stats.Failed),
			zap.Int("dead_lettered", stats.DeadLettered),
		)
	}
	if r.observer != nil {
		r.observer.RecordRelayBatch(ctx, stats)
	}
	return stats, nil
}

func (r *Relay) relay(ctx context.Context, msg *shared.OutboxMessage, stats *RelayStats) {
	log := r.logger.With(
		logger.MessageID(msg.ID),
		logger.MessageType(msg.Type),
		logger.CorrelationID(msg.CorrelationID),
	)

	if !r.known(msg.Type) {
		msg.DeadLetter(errUnknownType, r.clock.Now())
		stats.DeadLettered++
		log.Warn("outbox message has unknown type, moved to dead letters")
		r.deadLettered(ctx, msg)
		r.save(ctx, msg, log)
		return
	}

	err := r.bus.Publish(ctx, shared.Message{
		ID:            msg.ID,
		Type:          msg.Type,
		CorrelationID: msg.CorrelationID,
		Payload:       msg.Payload,
		OccurredAt:    msg.CreatedAt,
	})
	if err != nil {
		msg.RecordFailure(err.Error(), r.clock.Now(), r.config.Policy)
		if msg.IsDead() {
			stats.DeadLettered++
			log.Warn("outbox message moved to dead letters",
				logger.Attempt(msg.Attempts),
				zap.String("last_error", msg.LastError),
			)
			r.deadLettered(ctx, msg)
		} else {
			stats.Failed++
			log.Error("failed to publish outbox message",
				logger.Attempt(msg.Attempts),
				zap.Time("next_attempt_at", msg.NextAttemptAt),
				zap.Error(err),
			)
		}
		r.save(ctx, msg, log)
		return
	}

	msg.MarkPublished(r.clock.Now())
	stats.Published++
	r.save(ctx, msg, log)
}

// save persists the outcome. A failure here leaves the lease to expire, so
// the row is published again later.
func (r *Relay) save(ctx context.Context, msg *shared.OutboxMessage, log *zap.Logger) {
	if err := r.repo.Update(ctx, msg); err != nil {
		log.Error("failed to update outbox message", zap.Error(err))
	}
}

func (r *Relay) deadLettered(ctx context.Context, msg *shared.OutboxMessage) {
	if r.observer != nil {
		r.observer.RecordDeadLetter(ctx, msg.Type, msg.LastError)
	}
}

func (r *Relay) cleanupLoop(ctx context.Context) {
	defer r.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.clock.After(r.config.CleanupInterval):
			r.Cleanup(ctx)
		}
	}
}

// Cleanup removes published rows older than the retention window
func (r *Relay) Cleanup(ctx context.Context) int64 {
	cutoff := r.clock.Now().Add(-r.config.CleanupRetention)
	deleted, err := r.repo.DeletePublishedBefore(ctx, cutoff)
	if err != nil {
		r.logger.Error("failed to clean up published outbox messages", zap.Error(err))
		return 0
	}
	if deleted > 0 {
		r.logger.Info("cleaned up published outbox messages",
			zap.Int64("deleted", deleted),
			zap.Time("cutoff", cutoff),
		)
	}
	return deleted
}
