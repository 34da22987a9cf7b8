// Package distlock serializes background workers across processes. With
// Redis configured the lock is cluster-wide; without it a no-op lock
// keeps single-process deployments running with the same code path.
package distlock

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lock is a best-effort distributed mutex. A Lock value belongs to one
// goroutine; concurrent holders need their own values.
type Lock interface {
	// Acquire reports whether the lock was taken.
	Acquire(ctx context.Context) (bool, error)
	// Release frees the lock if this value still owns it.
	Release(ctx context.Context) error
	// Extend pushes the expiry out for long-running work.
	Extend(ctx context.Context, ttl time.Duration) error
}

// New picks the backend: Redis when a client is configured, otherwise a
// no-op lock that always grants.
func New(client *redis.Client, key string, ttl time.Duration) Lock {
	if client != nil {
		return NewRedisLock(client, key, ttl)
	}
	return NoopLock{}
}

// NoopLock grants every acquisition. It exists so a deployment without
// Redis runs the exact worker code a clustered one does.
type NoopLock struct{}

// Acquire always succeeds.
func (NoopLock) Acquire(context.Context) (bool, error) { return true, nil }

// Release does nothing.
func (NoopLock) Release(context.Context) error { return nil }

// Extend does nothing.
func (NoopLock) Extend(context.Context, time.Duration) error { return nil }
