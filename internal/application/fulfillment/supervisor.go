package fulfillment

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/orderflow/backend/internal/domain/contracts"
	"github.com/orderflow/backend/internal/domain/shared"
	"github.com/orderflow/backend/internal/infrastructure/event"
	"github.com/orderflow/backend/internal/infrastructure/logger"
	"github.com/orderflow/backend/internal/infrastructure/scheduler"
)

// ConsumerName scopes the saga's idempotency keys
const ConsumerName = "order-saga"

// JobSubmitter queues saga runs
type JobSubmitter interface {
	Submit(job *scheduler.Job) error
}

// Supervisor connects OrderCreatedV1 deliveries to saga runs. Deliveries
// are deduplicated by message id, queued on the scheduler keyed by order
// id, and re-run on the scheduler's retry intervals while the saga asks
// for a retry. Once retries are exhausted the order is marked Failed.
type Supervisor struct {
	orchestrator *Orchestrator
	jobs         JobSubmitter
	idempotent   *event.IdempotentHandler
	logger       *zap.Logger
}

// NewSupervisor creates a supervisor. Call Attach before Register.
func NewSupervisor(orchestrator *Orchestrator, store shared.IdempotencyStore, cfg shared.IdempotencyConfig, log *zap.Logger) *Supervisor {
	s := &Supervisor{
		orchestrator: orchestrator,
		logger:       logger.OrNop(log).Named("saga_supervisor"),
	}
	s.idempotent = event.NewIdempotentHandler(ConsumerName, s.accept, store, log,
		event.WithIdempotencyConfig(cfg))
	return s
}

// Attach sets the scheduler runs are submitted to
func (s *Supervisor) Attach(jobs JobSubmitter) {
	s.jobs = jobs
}

// Register subscribes the supervisor to OrderCreatedV1
func (s *Supervisor) Register(bus shared.Bus) {
	bus.Subscribe(contracts.TypeOrderCreated, s.idempotent.HandlerFunc())
}

// Stats returns the deduplication counters
func (s *Supervisor) Stats() event.IdempotencyStats {
	return s.idempotent.GetMetrics().Stats()
}

// Handle is the bus handler for OrderCreatedV1
func (s *Supervisor) Handle(ctx context.Context, msg shared.Message) error {
	return s.idempotent.Handle(ctx, msg)
}

// accept validates the delivery and queues a run. A full queue is returned
// as an error so the delivery is retried.
func (s *Supervisor) accept(_ context.Context, msg shared.Message) error {
	evt, err := contracts.FromMessage[contracts.OrderCreatedV1](msg)
	if err != nil {
		s.logger.Error("Dropping undecodable OrderCreatedV1", logger.MessageID(msg.ID), zap.Error(err))
		return nil
	}
	if s.jobs == nil {
		return scheduler.ErrSchedulerNotRunning
	}

	err = s.jobs.Submit(scheduler.NewJob(evt.OrderID, msg))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, scheduler.ErrJobInProgress):
		s.logger.Info("Saga already running for order", logger.OrderID(evt.OrderID), logger.MessageID(msg.ID))
		return nil
	default:
		s.logger.Warn("Failed to queue saga", logger.OrderID(evt.OrderID), zap.Error(err))
		return err
	}
}

// Execute implements scheduler.Executor
func (s *Supervisor) Execute(ctx context.Context, job *scheduler.Job) error {
	evt, err := contracts.FromMessage[contracts.OrderCreatedV1](job.Message)
	if err != nil {
		s.logger.Error("Dropping undecodable saga job", zap.String("job_id", job.ID.String()), zap.Error(err))
		return nil
	}
	res := s.orchestrator.Run(ctx, evt)
	if res.Retry {
		return res.Err
	}
	return nil
}

// Exhausted implements scheduler.ExhaustedFunc
func (s *Supervisor) Exhausted(ctx context.Context, job *scheduler.Job, cause error) {
	evt, err := contracts.FromMessage[contracts.OrderCreatedV1](job.Message)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.orchestrator.config.StepTimeout)
	defer cancel()
	if err := s.orchestrator.MarkFailed(ctx, evt.OrderID, cause.Error()); err != nil {
		s.logger.Error("Failed to record saga failure",
			logger.OrderID(evt.OrderID),
			zap.NamedError("cause", cause),
			zap.Error(err),
		)
	}
}

var _ scheduler.Executor = (*Supervisor)(nil)
