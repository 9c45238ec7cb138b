package fulfillment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/orderflow/backend/internal/domain/contracts"
	"github.com/orderflow/backend/internal/domain/order"
	"github.com/orderflow/backend/internal/infrastructure/scheduler"
	"github.com/orderflow/backend/tests/testutil"
)

func sweeperConfig() SweeperConfig {
	return SweeperConfig{Interval: time.Minute, StaleAfter: 5 * time.Minute, BatchSize: 10}
}

func (s *stubSubmitter) jobIDs() []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uuid.UUID, len(s.jobs))
	for i, job := range s.jobs {
		ids[i] = job.ID
	}
	return ids
}

func TestSweeper_SweepOnce(t *testing.T) {
	t.Run("resubmits in-progress orders older than the stale age", func(t *testing.T) {
		f := newSagaFixture(t, testConfig())
		created := f.createOrder(t)
		reserved := f.createOrder(t)
		f.moveTo(t, reserved.OrderID, order.StatusAccepted, order.StatusInventoryReserved)
		confirmed := f.createOrder(t)
		f.moveTo(t, confirmed.OrderID,
			order.StatusAccepted, order.StatusInventoryReserved, order.StatusPaymentAuthorized, order.StatusConfirmed)
		failed := f.createOrder(t)
		f.moveTo(t, failed.OrderID, order.StatusAccepted, order.StatusFailedInventory)

		f.clock.Advance(10 * time.Minute)
		fresh := f.createOrder(t)

		jobs := &stubSubmitter{}
		sweeper := NewSweeper(f.repo, jobs, f.clock, sweeperConfig(), zap.NewNop())

		queued, err := sweeper.SweepOnce(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, queued)
		assert.ElementsMatch(t, []uuid.UUID{created.OrderID, reserved.OrderID}, jobs.jobIDs())
		assert.NotContains(t, jobs.jobIDs(), fresh.OrderID)
	})

	t.Run("job carries the order as OrderCreatedV1", func(t *testing.T) {
		f := newSagaFixture(t, testConfig())
		evt := f.createOrder(t)
		f.clock.Advance(10 * time.Minute)

		jobs := &stubSubmitter{}
		sweeper := NewSweeper(f.repo, jobs, f.clock, sweeperConfig(), zap.NewNop())
		_, err := sweeper.SweepOnce(context.Background())
		require.NoError(t, err)
		require.Len(t, jobs.jobs, 1)

		msg := jobs.jobs[0].Message
		assert.Equal(t, contracts.TypeOrderCreated, msg.Type)
		assert.Equal(t, evt.CorrelationID, msg.CorrelationID)
		got, err := contracts.FromMessage[contracts.OrderCreatedV1](msg)
		require.NoError(t, err)
		assert.Equal(t, evt.OrderID, got.OrderID)
		assert.Equal(t, evt.CustomerID, got.CustomerID)
		assert.Len(t, got.Items, 2)
		assert.True(t, evt.Total.Equal(got.Total))
	})

	t.Run("active run is not counted", func(t *testing.T) {
		f := newSagaFixture(t, testConfig())
		f.createOrder(t)
		f.clock.Advance(10 * time.Minute)

		jobs := &stubSubmitter{err: scheduler.ErrJobInProgress}
		sweeper := NewSweeper(f.repo, jobs, f.clock, sweeperConfig(), zap.NewNop())

		queued, err := sweeper.SweepOnce(context.Background())
		require.NoError(t, err)
		assert.Zero(t, queued)
	})

	t.Run("full queue stops the batch", func(t *testing.T) {
		f := newSagaFixture(t, testConfig())
		f.createOrder(t)
		f.createOrder(t)
		f.clock.Advance(10 * time.Minute)

		jobs := &stubSubmitter{err: scheduler.ErrJobQueueFull}
		sweeper := NewSweeper(f.repo, jobs, f.clock, sweeperConfig(), zap.NewNop())

		queued, err := sweeper.SweepOnce(context.Background())
		assert.ErrorIs(t, err, scheduler.ErrJobQueueFull)
		assert.Zero(t, queued)
	})

	t.Run("batch size limits one sweep", func(t *testing.T) {
		f := newSagaFixture(t, testConfig())
		for range 3 {
			f.createOrder(t)
		}
		f.clock.Advance(10 * time.Minute)

		jobs := &stubSubmitter{}
		cfg := sweeperConfig()
		cfg.BatchSize = 2
		sweeper := NewSweeper(f.repo, jobs, f.clock, cfg, zap.NewNop())

		queued, err := sweeper.SweepOnce(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, queued)
	})

	t.Run("finder error is returned", func(t *testing.T) {
		f := newSagaFixture(t, testConfig())
		boom := errors.New("connection refused")
		sweeper := NewSweeper(stalledFinderFunc(func(context.Context, time.Time, int) ([]*order.Order, error) {
			return nil, boom
		}), &stubSubmitter{}, f.clock, sweeperConfig(), zap.NewNop())

		_, err := sweeper.SweepOnce(context.Background())
		assert.ErrorIs(t, err, boom)
	})
}

type stalledFinderFunc func(ctx context.Context, before time.Time, limit int) ([]*order.Order, error)

func (fn stalledFinderFunc) FindStalled(ctx context.Context, before time.Time, limit int) ([]*order.Order, error) {
	return fn(ctx, before, limit)
}

func TestSweeper_StartSweepsImmediatelyThenOnInterval(t *testing.T) {
	f := newSagaFixture(t, testConfig())
	lost := f.createOrder(t)
	f.clock.Advance(10 * time.Minute)
	later := f.createOrder(t)

	jobs := &stubSubmitter{}
	sweeper := NewSweeper(f.repo, jobs, f.clock, sweeperConfig(), zap.NewNop())
	require.NoError(t, sweeper.Start(context.Background()))
	t.Cleanup(func() { _ = sweeper.Stop(context.Background()) })

	// the startup sweep picks up the order left by the previous process
	testutil.RequireEventually(t, func() bool { return len(jobs.jobIDs()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, lost.OrderID, jobs.jobIDs()[0])

	require.True(t, f.clock.BlockUntil(1, 2*time.Second))
	f.clock.Advance(6 * time.Minute)

	testutil.RequireEventually(t, func() bool { return len(jobs.jobIDs()) == 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Contains(t, jobs.jobIDs()[1:], later.OrderID)
}

func TestSweeper_StopEndsLoop(t *testing.T) {
	f := newSagaFixture(t, testConfig())
	sweeper := NewSweeper(f.repo, &stubSubmitter{}, f.clock, sweeperConfig(), zap.NewNop())

	require.NoError(t, sweeper.Start(context.Background()))
	require.True(t, f.clock.BlockUntil(1, 2*time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, sweeper.Stop(ctx))
	require.NoError(t, sweeper.Stop(ctx))
}

func TestSweeper_ResumedRunCompletesFromCheckpoint(t *testing.T) {
	f := newSagaFixture(t, testConfig())
	_, sched := startSupervisor(t, f, f.orchestrator)

	// the process died after inventory was reserved
	evt := f.createOrder(t)
	f.moveTo(t, evt.OrderID, order.StatusAccepted, order.StatusInventoryReserved)
	f.clock.Advance(10 * time.Minute)

	sweeper := NewSweeper(f.repo, sched, f.clock, sweeperConfig(), zap.NewNop())
	queued, err := sweeper.SweepOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, queued)

	testutil.RequireEventually(t, func() bool {
		return f.status(t, evt.OrderID) == order.StatusConfirmed && !sched.IsActive(evt.OrderID)
	}, 2*time.Second, 5*time.Millisecond)

	assert.Zero(t, f.providers.count(StepInventory))
	assert.Equal(t, 1, f.providers.count(StepPayment))

	// nothing is left to sweep
	queued, err = sweeper.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, queued)
}
