package cache

import (
	"context"
	"testing"
	"time"

	"github.com/orderflow/backend/tests/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newClockedStore(t *testing.T) (*InMemoryIdempotencyStore, *testutil.FakeClock) {
	t.Helper()
	clock := testutil.NewFakeClock(t0)
	store := NewInMemoryIdempotencyStore(WithClock(clock))
	t.Cleanup(func() { _ = store.Close() })
	return store, clock
}

func TestInMemoryIdempotencyStore_MarkProcessed(t *testing.T) {
	store, clock := newClockedStore(t)
	ctx := context.Background()

	isNew, err := store.MarkProcessed(ctx, "msg-1", time.Hour)
	require.NoError(t, err)
	assert.True(t, isNew)

	isNew, err = store.MarkProcessed(ctx, "msg-1", time.Hour)
	require.NoError(t, err)
	assert.False(t, isNew, "duplicate within ttl")

	clock.Advance(time.Hour)
	isNew, err = store.MarkProcessed(ctx, "msg-1", time.Hour)
	require.NoError(t, err)
	assert.True(t, isNew, "expired key can be marked again")
}

func TestInMemoryIdempotencyStore_IsProcessedAndForget(t *testing.T) {
	store, clock := newClockedStore(t)
	ctx := context.Background()

	processed, err := store.IsProcessed(ctx, "unknown")
	require.NoError(t, err)
	assert.False(t, processed)

	_, err = store.MarkProcessed(ctx, "msg-2", time.Minute)
	require.NoError(t, err)
	processed, err = store.IsProcessed(ctx, "msg-2")
	require.NoError(t, err)
	assert.True(t, processed)

	require.NoError(t, store.Forget(ctx, "msg-2"))
	processed, err = store.IsProcessed(ctx, "msg-2")
	require.NoError(t, err)
	assert.False(t, processed)

	_, err = store.MarkProcessed(ctx, "msg-3", time.Minute)
	require.NoError(t, err)
	clock.Advance(2 * time.Minute)
	processed, err = store.IsProcessed(ctx, "msg-3")
	require.NoError(t, err)
	assert.False(t, processed, "expired")

	assert.NoError(t, store.Forget(ctx, "never-seen"))
}

func TestInMemoryIdempotencyStore_Cleanup(t *testing.T) {
	store, clock := newClockedStore(t)
	ctx := context.Background()

	_, _ = store.MarkProcessed(ctx, "short-1", time.Second)
	_, _ = store.MarkProcessed(ctx, "short-2", time.Second)
	_, _ = store.MarkProcessed(ctx, "long", time.Hour)
	assert.Equal(t, 3, store.Size())

	clock.Advance(time.Minute)
	store.cleanup()
	assert.Equal(t, 1, store.Size())

	processed, err := store.IsProcessed(ctx, "long")
	require.NoError(t, err)
	assert.True(t, processed)
}

func TestInMemoryIdempotencyStore_ConcurrentAccess(t *testing.T) {
	store := NewInMemoryIdempotencyStore()
	defer store.Close()

	ctx := context.Background()
	const goroutines = 100

	results := make(chan bool, goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			isNew, err := store.MarkProcessed(ctx, "concurrent", time.Hour)
			results <- err == nil && isNew
		}()
	}

	newCount := 0
	for i := 0; i < goroutines; i++ {
		if <-results {
			newCount++
		}
	}
	assert.Equal(t, 1, newCount, "exactly one goroutine should mark as new")
}

func TestInMemoryIdempotencyStore_Close(t *testing.T) {
	store := NewInMemoryIdempotencyStore()
	assert.NoError(t, store.Close())
	assert.NoError(t, store.Close())
}
