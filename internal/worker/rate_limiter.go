package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SendLimits caps provider calls per second, minute and day.
type SendLimits struct {
	PerSecond int
	PerMinute int
	PerDay    int
}

// DefaultSendLimits returns the production SendGrid tier.
func DefaultSendLimits() SendLimits {
	return SendLimits{PerSecond: 50, PerMinute: 3000, PerDay: 5000000}
}

// sendLimitScript checks every bucket and increments only when all have
// room, so concurrent senders cannot overshoot between the check and the
// increment. Returns {allowed, denialReason, current} with denial
// reasons 1=second, 2=minute, 3=day.
const sendLimitScript = `
local secondKey = KEYS[1]
local minuteKey = KEYS[2]
local dailyKey = KEYS[3]
local increment = tonumber(ARGV[1])
local secondLimit = tonumber(ARGV[2])
local minuteLimit = tonumber(ARGV[3])
local dailyLimit = tonumber(ARGV[4])
local secondTTL = tonumber(ARGV[5])
local minuteTTL = tonumber(ARGV[6])
local dailyTTL = tonumber(ARGV[7])

local secCurrent = tonumber(redis.call("GET", secondKey) or "0")
local minCurrent = tonumber(redis.call("GET", minuteKey) or "0")
local dayCurrent = tonumber(redis.call("GET", dailyKey) or "0")

if secCurrent + increment > secondLimit then
    return {0, 1, secCurrent}
end
if minCurrent + increment > minuteLimit then
    return {0, 2, minCurrent}
end
if dayCurrent + increment > dailyLimit then
    return {0, 3, dayCurrent}
end

local newSec = redis.call("INCRBY", secondKey, increment)
if newSec == increment then
    redis.call("EXPIRE", secondKey, secondTTL)
end

local newMin = redis.call("INCRBY", minuteKey, increment)
if newMin == increment then
    redis.call("EXPIRE", minuteKey, minuteTTL)
end

local newDay = redis.call("INCRBY", dailyKey, increment)
if newDay == increment then
    redis.call("EXPIRE", dailyKey, dailyTTL)
end

return {1, 0, newDay}
`

// SendRateLimiter implements sender.RateLimiter over Redis counters.
// Without a Redis client every call is allowed.
type SendRateLimiter struct {
	redis  *redis.Client
	limits SendLimits
	script *redis.Script
	now    func() time.Time
}

// NewSendRateLimiter builds a limiter. Zero limits fall back to the
// defaults per bucket.
func NewSendRateLimiter(client *redis.Client, limits SendLimits) *SendRateLimiter {
	def := DefaultSendLimits()
	if limits.PerSecond <= 0 {
		limits.PerSecond = def.PerSecond
	}
	if limits.PerMinute <= 0 {
		limits.PerMinute = def.PerMinute
	}
	if limits.PerDay <= 0 {
		limits.PerDay = def.PerDay
	}
	return &SendRateLimiter{
		redis:  client,
		limits: limits,
		script: redis.NewScript(sendLimitScript),
		now:    time.Now,
	}
}

// Allow reports whether one send may proceed now. Denials come with how
// long to wait before asking again.
func (r *SendRateLimiter) Allow(ctx context.Context) (bool, time.Duration, error) {
	if r.redis == nil {
		return true, 0, nil
	}

	now := r.now()
	keys := []string{
		fmt.Sprintf("ratelimit:send:sec:%d", now.Unix()),
		fmt.Sprintf("ratelimit:send:min:%d", now.Unix()/60),
		fmt.Sprintf("ratelimit:send:day:%s", now.UTC().Format("2006-01-02")),
	}

	result, err := r.script.Run(ctx, r.redis, keys,
		1,
		r.limits.PerSecond,
		r.limits.PerMinute,
		r.limits.PerDay,
		2,     // second TTL
		120,   // minute TTL
		90000, // daily TTL, 25 hours
	).Slice()
	if err != nil {
		return false, 0, fmt.Errorf("rate limit check failed: %w", err)
	}

	if result[0].(int64) == 1 {
		return true, 0, nil
	}
	switch result[1].(int64) {
	case 1:
		return false, time.Second, nil
	case 2:
		return false, time.Duration(60-now.Second()) * time.Second, nil
	default:
		// Daily budget exhausted; the day bucket resets at midnight UTC.
		// Callers bound the actual wait with their context.
		midnight := now.UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
		return false, midnight.Sub(now.UTC()), nil
	}
}

// Usage returns the current bucket counts next to their limits.
func (r *SendRateLimiter) Usage(ctx context.Context) (map[string]int64, error) {
	if r.redis == nil {
		return map[string]int64{}, nil
	}

	now := r.now()
	pipe := r.redis.Pipeline()
	secCmd := pipe.Get(ctx, fmt.Sprintf("ratelimit:send:sec:%d", now.Unix()))
	minCmd := pipe.Get(ctx, fmt.Sprintf("ratelimit:send:min:%d", now.Unix()/60))
	dayCmd := pipe.Get(ctx, fmt.Sprintf("ratelimit:send:day:%s", now.UTC().Format("2006-01-02")))
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	sec, _ := secCmd.Int64()
	min, _ := minCmd.Int64()
	day, _ := dayCmd.Int64()

	return map[string]int64{
		"second_current": sec,
		"second_limit":   int64(r.limits.PerSecond),
		"minute_current": min,
		"minute_limit":   int64(r.limits.PerMinute),
		"daily_current":  day,
		"daily_limit":    int64(r.limits.PerDay),
	}, nil
}
