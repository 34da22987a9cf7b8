package worker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// limiterAt pins the limiter's clock so every call lands in the same
// second/minute/day buckets.
func limiterAt(t *testing.T, limits SendLimits) *SendRateLimiter {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	r := NewSendRateLimiter(client, limits)
	r.now = func() time.Time { return time.Date(2026, time.August, 25, 15, 4, 30, 0, time.UTC) }
	return r
}

func TestAllowWithoutRedis(t *testing.T) {
	r := NewSendRateLimiter(nil, SendLimits{})
	for i := 0; i < 5; i++ {
		ok, wait, err := r.Allow(context.Background())
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Zero(t, wait)
	}
	usage, err := r.Usage(context.Background())
	require.NoError(t, err)
	assert.Empty(t, usage)
}

func TestDefaultLimitsApplied(t *testing.T) {
	r := NewSendRateLimiter(nil, SendLimits{})
	assert.Equal(t, DefaultSendLimits(), r.limits)

	r = NewSendRateLimiter(nil, SendLimits{PerSecond: 5})
	assert.Equal(t, 5, r.limits.PerSecond)
	assert.Equal(t, DefaultSendLimits().PerMinute, r.limits.PerMinute)
}

func TestSecondBucketDenies(t *testing.T) {
	r := limiterAt(t, SendLimits{PerSecond: 2, PerMinute: 100, PerDay: 1000})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, _, err := r.Allow(ctx)
		require.NoError(t, err)
		require.True(t, ok, "call %d should pass", i+1)
	}

	ok, wait, err := r.Allow(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, time.Second, wait)
}

func TestMinuteBucketDenies(t *testing.T) {
	r := limiterAt(t, SendLimits{PerSecond: 100, PerMinute: 2, PerDay: 1000})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, _, err := r.Allow(ctx)
		require.NoError(t, err)
		require.True(t, ok)
	}

	ok, wait, err := r.Allow(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 30*time.Second, wait, "wait runs to the next minute boundary")
}

func TestDailyBucketDenies(t *testing.T) {
	r := limiterAt(t, SendLimits{PerSecond: 100, PerMinute: 100, PerDay: 2})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, _, err := r.Allow(ctx)
		require.NoError(t, err)
		require.True(t, ok)
	}

	ok, wait, err := r.Allow(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 8*time.Hour+55*time.Minute+30*time.Second, wait, "wait runs to midnight UTC")
}

func TestDeniedCallDoesNotConsume(t *testing.T) {
	r := limiterAt(t, SendLimits{PerSecond: 1, PerMinute: 100, PerDay: 1000})
	ctx := context.Background()

	ok, _, err := r.Allow(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	for i := 0; i < 3; i++ {
		ok, _, err = r.Allow(ctx)
		require.NoError(t, err)
		require.False(t, ok)
	}

	usage, err := r.Usage(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, usage["second_current"], "denied calls must not increment any bucket")
	assert.EqualValues(t, 1, usage["minute_current"])
}

func TestUsageCounts(t *testing.T) {
	r := limiterAt(t, SendLimits{PerSecond: 10, PerMinute: 20, PerDay: 30})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, _, err := r.Allow(ctx)
		require.NoError(t, err)
		require.True(t, ok)
	}

	usage, err := r.Usage(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, usage["second_current"])
	assert.EqualValues(t, 10, usage["second_limit"])
	assert.EqualValues(t, 3, usage["minute_current"])
	assert.EqualValues(t, 20, usage["minute_limit"])
	assert.EqualValues(t, 3, usage["daily_current"])
	assert.EqualValues(t, 30, usage["daily_limit"])
}

func TestRedisErrorSurfaces(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	r := NewSendRateLimiter(client, SendLimits{})
	mr.Close()

	_, _, err = r.Allow(context.Background())
	assert.Error(t, err)
}
