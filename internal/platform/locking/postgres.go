package locking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// sessionConn is a connection held for the lifetime of a session-level advisory lock.
type sessionConn interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Release()
}

type acquirer interface {
	acquire(ctx context.Context) (sessionConn, error)
}

type poolAcquirer struct {
	pool *pgxpool.Pool
}

func (p poolAcquirer) acquire(ctx context.Context) (sessionConn, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// PostgresLocker implements Locker with session advisory locks keyed by hashtext(key).
// Distinct keys that collide on the 32-bit hash contend for the same lock.
type PostgresLocker struct {
	conns  acquirer
	logger *slog.Logger
}

// NewPostgresLocker creates a locker that pins one pool connection per held lock.
func NewPostgresLocker(logger *slog.Logger, pool *pgxpool.Pool) *PostgresLocker {
	return &PostgresLocker{conns: poolAcquirer{pool: pool}, logger: logger}
}

// TryLock takes the advisory lock for key, retrying until timeout elapses.
func (l *PostgresLocker) TryLock(ctx context.Context, key string, timeout time.Duration) (Lock, error) {
	conn, err := l.conns.acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection for lock %s: %w", key, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		var obtained bool
		err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock(hashtext($1))`, key).Scan(&obtained)
		if err != nil {
			conn.Release()
			return nil, fmt.Errorf("failed to try advisory lock %s: %w", key, err)
		}
		if obtained {
			return &advisoryLock{conn: conn, key: key, logger: l.logger}, nil
		}
		if !wait(waitCtx) {
			conn.Release()
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return nil, ErrNotObtained
		}
	}
}

type advisoryLock struct {
	conn   sessionConn
	key    string
	logger *slog.Logger
}

// Lost returns nil: the advisory lock lives as long as the pinned session.
func (a *advisoryLock) Lost() <-chan struct{} {
	return nil
}

// Release unlocks and returns the pinned connection to the pool.
func (a *advisoryLock) Release(ctx context.Context) error {
	if a.conn == nil {
		return errors.New("advisory lock already released")
	}
	defer func() {
		a.conn.Release()
		a.conn = nil
	}()

	var released bool
	if err := a.conn.QueryRow(ctx, `SELECT pg_advisory_unlock(hashtext($1))`, a.key).Scan(&released); err != nil {
		return fmt.Errorf("failed to release advisory lock %s: %w", a.key, err)
	}
	if !released {
		a.logger.Warn("Advisory lock was not held at release", "key", a.key)
	}
	return nil
}
