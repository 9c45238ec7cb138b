package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/orderflow/backend/internal/domain/shared"
	"github.com/orderflow/backend/tests/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOutboxRepo(t *testing.T) *GormOutboxRepository {
	t.Helper()
	return NewGormOutboxRepository(testutil.NewSQLiteDB(t))
}

func saveMessages(t *testing.T, repo *GormOutboxRepository, n int, at time.Time) []*shared.OutboxMessage {
	t.Helper()
	msgs := make([]*shared.OutboxMessage, n)
	for i := range msgs {
		msgs[i] = shared.NewOutboxMessage("OrderCreatedV1", uuid.New(), []byte(`{}`), at.Add(time.Duration(i)*time.Second))
	}
	require.NoError(t, repo.Save(context.Background(), msgs...))
	return msgs
}

func TestGormOutboxRepository_Claim(t *testing.T) {
	repo := newOutboxRepo(t)
	ctx := context.Background()
	msgs := saveMessages(t, repo, 3, t0)

	now := t0.Add(time.Minute)
	lease := now.Add(30 * time.Second)

	claimed, err := repo.Claim(ctx, now, lease, 2)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, msgs[0].ID, claimed[0].ID, "oldest first")
	assert.Equal(t, msgs[1].ID, claimed[1].ID)
	assert.True(t, lease.Equal(claimed[0].NextAttemptAt))

	// leased rows are invisible until the lease runs out
	again, err := repo.Claim(ctx, now, lease, 10)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, msgs[2].ID, again[0].ID)

	none, err := repo.Claim(ctx, now.Add(10*time.Second), lease, 10)
	require.NoError(t, err)
	assert.Empty(t, none)

	expired, err := repo.Claim(ctx, lease.Add(time.Second), lease.Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Len(t, expired, 3)
}

func TestGormOutboxRepository_ClaimSkipsFutureAndFinished(t *testing.T) {
	repo := newOutboxRepo(t)
	ctx := context.Background()
	msgs := saveMessages(t, repo, 3, t0)
	policy := shared.DefaultRetryPolicy()

	msgs[0].MarkPublished(t0.Add(time.Second))
	require.NoError(t, repo.Update(ctx, msgs[0]))

	msgs[1].RecordFailure("broker down", t0.Add(time.Second), policy)
	require.NoError(t, repo.Update(ctx, msgs[1]))

	claimed, err := repo.Claim(ctx, t0.Add(time.Second), t0.Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, claimed, 0, "message 2 is not due yet, message 1 backs off")

	claimed, err = repo.Claim(ctx, t0.Add(5*time.Second), t0.Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, msgs[1].ID, claimed[0].ID)
	assert.Equal(t, 1, claimed[0].Attempts)
	assert.Equal(t, "broker down", claimed[0].LastError)
}

func TestGormOutboxRepository_UpdateKeepsFirstPublishedAt(t *testing.T) {
	repo := newOutboxRepo(t)
	ctx := context.Background()
	msg := saveMessages(t, repo, 1, t0)[0]

	msg.MarkPublished(t0.Add(time.Second))
	require.NoError(t, repo.Update(ctx, msg))

	// a stale writer publishing again must not move the timestamp
	later := t0.Add(time.Hour)
	msg.PublishedAt = &later
	require.NoError(t, repo.Update(ctx, msg))

	found, err := repo.FindByID(ctx, msg.ID)
	require.NoError(t, err)
	require.NotNil(t, found.PublishedAt)
	assert.True(t, t0.Add(time.Second).Equal(*found.PublishedAt))
	assert.True(t, found.IsPublished())
}

func TestGormOutboxRepository_UpdateNotFound(t *testing.T) {
	repo := newOutboxRepo(t)
	msg := shared.NewOutboxMessage("OrderCreatedV1", uuid.New(), []byte(`{}`), t0)
	err := repo.Update(context.Background(), msg)
	assert.True(t, errors.Is(err, shared.ErrNotFound))

	_, err = repo.FindByID(context.Background(), uuid.New())
	assert.True(t, errors.Is(err, shared.ErrNotFound))
}

func TestGormOutboxRepository_DeadLettersAndStats(t *testing.T) {
	repo := newOutboxRepo(t)
	ctx := context.Background()
	msgs := saveMessages(t, repo, 4, t0)

	msgs[0].DeadLetter("unknown message type", t0.Add(time.Second))
	require.NoError(t, repo.Update(ctx, msgs[0]))
	msgs[1].DeadLetter("unknown message type", t0.Add(2*time.Second))
	require.NoError(t, repo.Update(ctx, msgs[1]))
	msgs[2].MarkPublished(t0.Add(time.Second))
	require.NoError(t, repo.Update(ctx, msgs[2]))

	dead, total, err := repo.FindDead(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, dead, 1)
	assert.Equal(t, msgs[1].ID, dead[0].ID, "most recently failed first")

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[shared.OutboxStatusDead])
	assert.Equal(t, int64(1), counts[shared.OutboxStatusPublished])
	assert.Equal(t, int64(1), counts[shared.OutboxStatusPending])

	unpublished, err := repo.CountUnpublished(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), unpublished)

	// dead letters are not claimable until requeued
	claimed, err := repo.Claim(ctx, t0.Add(time.Hour), t0.Add(2*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, msgs[3].ID, claimed[0].ID)

	require.NoError(t, msgs[0].Requeue(3, t0.Add(3*time.Hour)))
	require.NoError(t, repo.Update(ctx, msgs[0]))
	claimed, err = repo.Claim(ctx, t0.Add(3*time.Hour), t0.Add(4*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, claimed, 2, "requeued message plus the expired lease")
	assert.Equal(t, msgs[0].ID, claimed[0].ID)
	assert.Equal(t, 4, claimed[0].MaxAttempts)
}

func TestGormOutboxRepository_DeletePublishedBefore(t *testing.T) {
	repo := newOutboxRepo(t)
	ctx := context.Background()
	msgs := saveMessages(t, repo, 3, t0)

	msgs[0].MarkPublished(t0)
	require.NoError(t, repo.Update(ctx, msgs[0]))
	msgs[1].MarkPublished(t0.Add(48 * time.Hour))
	require.NoError(t, repo.Update(ctx, msgs[1]))

	deleted, err := repo.DeletePublishedBefore(ctx, t0.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = repo.FindByID(ctx, msgs[0].ID)
	assert.True(t, errors.Is(err, shared.ErrNotFound))
	_, err = repo.FindByID(ctx, msgs[2].ID)
	assert.NoError(t, err)
}
