package distlock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestRedisLockExcludes(t *testing.T) {
	client := testRedis(t)
	ctx := context.Background()

	a := NewRedisLock(client, "send-worker", time.Minute)
	b := NewRedisLock(client, "send-worker", time.Minute)

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "second holder is refused while the first owns it")

	require.NoError(t, a.Release(ctx))

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "released lock is available again")
}

func TestReleaseOnlyByOwner(t *testing.T) {
	client := testRedis(t)
	ctx := context.Background()

	owner := NewRedisLock(client, "status-worker", time.Minute)
	thief := NewRedisLock(client, "status-worker", time.Minute)

	ok, err := owner.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, thief.Release(ctx), "release by a non-owner is a no-op, not an error")

	ok, err = thief.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "owner still holds the lock")
}

func TestExtend(t *testing.T) {
	client := testRedis(t)
	ctx := context.Background()

	l := NewRedisLock(client, "send-worker", time.Minute)
	ok, err := l.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	assert.NoError(t, l.Extend(ctx, 5*time.Minute))

	require.NoError(t, l.Release(ctx))
	assert.Error(t, l.Extend(ctx, time.Minute), "extending a lost lock fails loudly")
}

func TestDifferentKeysDoNotContend(t *testing.T) {
	client := testRedis(t)
	ctx := context.Background()

	a := NewRedisLock(client, "send-worker", time.Minute)
	b := NewRedisLock(client, "status-worker", time.Minute)

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNewFallsBackToNoop(t *testing.T) {
	l := New(nil, "anything", time.Minute)
	_, isNoop := l.(NoopLock)
	assert.True(t, isNoop)

	ctx := context.Background()
	ok, err := l.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, l.Extend(ctx, time.Hour))
	assert.NoError(t, l.Release(ctx))
}
