package locking

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/settlement-reconciler/internal/config"
	"github.com/settlement-reconciler/internal/platform/persistence"
)

// NewFromConfig builds the locker selected by MATCHING_LOCK_BACKEND.
// The returned close func releases the redis connection, if one was opened.
func NewFromConfig(ctx context.Context, logger *slog.Logger, cfg *config.Config, pool *pgxpool.Pool) (Locker, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Matching.LockBackend {
	case config.LockBackendPostgres:
		logger.Info("Using PostgreSQL advisory locks for reconciliation passes")
		return NewPostgresLocker(logger, pool), noop, nil
	case config.LockBackendRedis:
		client, err := persistence.NewRedisClient(ctx, logger, &cfg.Redis)
		if err != nil {
			return nil, noop, err
		}
		logger.Info("Using Redis locks for reconciliation passes", "ttl", cfg.Matching.LockTTL.String())
		return NewRedisLocker(logger, client, cfg.Matching.LockTTL), client.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown lock backend %q", cfg.Matching.LockBackend)
	}
}
