// Package locking provides the mutual exclusion used to serialize reconciliation passes
// per (tenant, stage pair) across processes.
package locking

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotObtained is returned when the lock is held elsewhere for the whole wait timeout.
	ErrNotObtained = errors.New("lock not obtained")
	// ErrLockLost is the cancellation cause of a context bound to a lock that expired while held.
	ErrLockLost = errors.New("lock lost while held")
)

// retryInterval is how often a contended lock is retried within the wait timeout.
const retryInterval = 50 * time.Millisecond

// Lock is a held lock.
type Lock interface {
	Release(ctx context.Context) error
	// Lost is closed when the lock stops being held before Release. A nil channel never fires.
	Lost() <-chan struct{}
}

// Bind derives a context that is cancelled with ErrLockLost once lock is lost.
// The returned cancel func must be called when the holder is done.
func Bind(ctx context.Context, lock Lock) (context.Context, context.CancelFunc) {
	bound, cancel := context.WithCancelCause(ctx)
	lost := lock.Lost()
	if lost == nil {
		return bound, func() { cancel(context.Canceled) }
	}
	select {
	case <-lost:
		cancel(ErrLockLost)
		return bound, func() { cancel(context.Canceled) }
	default:
	}
	stop := make(chan struct{})
	go func() {
		select {
		case <-lost:
			cancel(ErrLockLost)
		case <-stop:
		case <-bound.Done():
		}
	}()
	return bound, func() {
		close(stop)
		cancel(context.Canceled)
	}
}

// Locker obtains named locks, waiting at most timeout.
type Locker interface {
	TryLock(ctx context.Context, key string, timeout time.Duration) (Lock, error)
}

// wait blocks for the retry interval, or returns false when ctx ends first.
func wait(ctx context.Context) bool {
	timer := time.NewTimer(retryInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
