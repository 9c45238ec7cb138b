package fulfillment

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/orderflow/backend/internal/domain/contracts"
	"github.com/orderflow/backend/internal/domain/order"
	"github.com/orderflow/backend/internal/domain/shared"
	"github.com/orderflow/backend/internal/infrastructure/logger"
	"github.com/orderflow/backend/internal/infrastructure/scheduler"
)

// StalledOrderFinder lists in-progress orders not touched since before
type StalledOrderFinder interface {
	FindStalled(ctx context.Context, before time.Time, limit int) ([]*order.Order, error)
}

// SweeperConfig controls the stalled-order sweep
type SweeperConfig struct {
	Interval time.Duration
	// StaleAfter must exceed the saga deadline plus the retry intervals,
	// otherwise live runs are resubmitted (harmless, but wasted work).
	StaleAfter time.Duration
	BatchSize  int
}

// DefaultSweeperConfig sweeps every minute for orders idle for 5 minutes
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Interval:   time.Minute,
		StaleAfter: 5 * time.Minute,
		BatchSize:  100,
	}
}

// Sweeper resubmits saga runs for orders left in an in-progress status.
//
// A delivery is acknowledged once its run is queued, so a process that dies
// with queued or running sagas leaves their orders behind. The sweeper
// finds them by age and queues a fresh run keyed by order id; the scheduler
// drops it while a run for that order is still active, and the orchestrator
// resumes from the stored status.
type Sweeper struct {
	finder StalledOrderFinder
	jobs   JobSubmitter
	clock  shared.Clock
	config SweeperConfig
	logger *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSweeper(finder StalledOrderFinder, jobs JobSubmitter, clock shared.Clock, config SweeperConfig, log *zap.Logger) *Sweeper {
	defaults := DefaultSweeperConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.StaleAfter <= 0 {
		config.StaleAfter = defaults.StaleAfter
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if clock == nil {
		clock = shared.SystemClock{}
	}
	return &Sweeper{
		finder: finder,
		jobs:   jobs,
		clock:  clock,
		config: config,
		logger: logger.OrNop(log).Named("saga_sweeper"),
	}
}

// Start sweeps once immediately, which picks up runs lost by the previous
// process, then on every interval.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.loop(ctx)

	s.logger.Info("Stalled order sweeper started",
		zap.Duration("interval", s.config.Interval),
		zap.Duration("stale_after", s.config.StaleAfter),
	)
	return nil
}

func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sweeper) loop(ctx context.Context) {
	defer s.wg.Done()
	for {
		if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("Stalled order sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(s.config.Interval):
		}
	}
}

// SweepOnce queues a run for every stalled order in one batch and returns
// how many were queued.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	now := s.clock.Now()
	stalled, err := s.finder.FindStalled(ctx, now.Add(-s.config.StaleAfter), s.config.BatchSize)
	if err != nil {
		return 0, err
	}

	queued := 0
	for _, o := range stalled {
		msg, err := contracts.ToMessage(contracts.NewOrderCreated(o, now), now)
		if err != nil {
			return queued, err
		}
		err = s.jobs.Submit(scheduler.NewJob(o.ID, msg))
		switch {
		case err == nil:
			queued++
			s.logger.Warn("Resubmitting stalled order",
				logger.OrderID(o.ID),
				logger.Status(string(o.Status)),
				zap.Time("updated_at", o.UpdatedAt),
			)
		case errors.Is(err, scheduler.ErrJobInProgress):
		default:
			// queue full or stopping; the next sweep tries again
			return queued, err
		}
	}
	return queued, nil
}
