package distlock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maxretain/lifecycle-mailer/internal/pkg/errs"
)

// Lua scripts compare the stored owner token before mutating, so a lock
// that expired and was re-acquired elsewhere is never released or
// extended by the old holder.
var (
	releaseScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		end
		return 0`)
	extendScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		end
		return 0`)
)

// RedisLock implements Lock with SET NX plus a TTL. The value is a
// random owner token checked by the release and extend scripts.
type RedisLock struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration
}

// NewRedisLock builds a lock on key with the given TTL. The TTL bounds
// how long a crashed holder can block everyone else.
func NewRedisLock(client *redis.Client, key string, ttl time.Duration) *RedisLock {
	b := make([]byte, 16)
	rand.Read(b)
	return &RedisLock{
		client: client,
		key:    fmt.Sprintf("lock:%s", key),
		token:  hex.EncodeToString(b),
		ttl:    ttl,
	}
}

// Acquire reports whether the lock was taken.
func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, errs.Storef("acquiring lock %s: %v", l.key, err)
	}
	return ok, nil
}

// Release frees the lock if this value still owns it.
func (l *RedisLock) Release(ctx context.Context) error {
	if _, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Result(); err != nil {
		return errs.Storef("releasing lock %s: %v", l.key, err)
	}
	return nil
}

// Extend pushes the lock expiry out by ttl if this value still owns it.
func (l *RedisLock) Extend(ctx context.Context, ttl time.Duration) error {
	res, err := extendScript.Run(ctx, l.client, []string{l.key}, l.token, ttl.Milliseconds()).Result()
	if err != nil {
		return errs.Storef("extending lock %s: %v", l.key, err)
	}
	if n, ok := res.(int64); ok && n == 0 {
		return errs.Storef("lock %s no longer held", l.key)
	}
	return nil
}
