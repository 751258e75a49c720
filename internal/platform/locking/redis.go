package locking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// RedisLocker implements Locker with bsm/redislock. Locks expire after ttl if never released.
type RedisLocker struct {
	client *redislock.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisLocker creates a redis-backed locker
func NewRedisLocker(logger *slog.Logger, rdb redis.Scripter, ttl time.Duration) *RedisLocker {
	return &RedisLocker{
		client: redislock.New(rdb),
		ttl:    ttl,
		logger: logger,
	}
}

// TryLock obtains key, retrying at a fixed interval until timeout elapses.
func (l *RedisLocker) TryLock(ctx context.Context, key string, timeout time.Duration) (Lock, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	retries := int(timeout / retryInterval)
	lock, err := l.client.Obtain(waitCtx, key, l.ttl, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(retryInterval), retries),
	})
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) {
			return nil, ErrNotObtained
		}
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, ErrNotObtained
		}
		return nil, fmt.Errorf("failed to obtain redis lock %s: %w", key, err)
	}

	held := &redisLock{
		lock:    lock,
		ttl:     l.ttl,
		logger:  l.logger,
		lost:    make(chan struct{}),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go held.keepAlive()
	return held, nil
}

// redisLock extends its TTL every third of the TTL until released or lost.
type redisLock struct {
	lock    *redislock.Lock
	ttl     time.Duration
	logger  *slog.Logger
	lost    chan struct{}
	stop    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

func (r *redisLock) keepAlive() {
	defer close(r.stopped)

	interval := r.ttl / 3
	if interval <= 0 {
		interval = retryInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			err := r.lock.Refresh(ctx, r.ttl, nil)
			cancel()
			if err == nil {
				continue
			}
			if errors.Is(err, redislock.ErrNotObtained) {
				r.logger.Error("Redis lock expired while held", "key", r.lock.Key())
				close(r.lost)
				return
			}
			// Transient; the key still has until its TTL for the next attempt.
			r.logger.Warn("Failed to refresh redis lock", "key", r.lock.Key(), "error", err)
		}
	}
}

func (r *redisLock) Lost() <-chan struct{} {
	return r.lost
}

func (r *redisLock) Release(ctx context.Context) error {
	r.once.Do(func() { close(r.stop) })
	<-r.stopped

	err := r.lock.Release(ctx)
	if errors.Is(err, redislock.ErrLockNotHeld) {
		r.logger.Warn("Redis lock expired before release", "key", r.lock.Key())
		return nil
	}
	return err
}
