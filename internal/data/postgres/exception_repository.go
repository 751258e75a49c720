package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/settlement-reconciler/internal/domain/reconciliation"
	"github.com/settlement-reconciler/internal/domain/shared"
	"github.com/settlement-reconciler/internal/platform/persistence"
)

// ExceptionRepository implements reconciliation.ExceptionRepository for PostgreSQL
type ExceptionRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewExceptionRepository creates a new PostgreSQL exception repository
func NewExceptionRepository(logger *slog.Logger, db *persistence.PostgresDB) reconciliation.ExceptionRepository {
	return &ExceptionRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// WithTx wraps the repository with a transaction
func (r *ExceptionRepository) WithTx(tx pgx.Tx) reconciliation.ExceptionRepository {
	return &ExceptionRepository{
		querier: tx,
		logger:  r.logger,
	}
}

// ListActive returns the pair's unresolved exceptions raised against the given from events.
func (r *ExceptionRepository) ListActive(ctx context.Context, tenantID string, pair shared.StagePair, fromIDs []uuid.UUID) ([]*reconciliation.Exception, error) {
	if len(fromIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT id, tenant_id, stage_pair, from_event_id, reason, candidate_ids, created_at, resolved_at
		FROM reconciliation_exceptions
		WHERE tenant_id = $1 AND stage_pair = $2 AND resolved_at IS NULL AND from_event_id = ANY($3)
	`

	rows, err := r.querier.Query(ctx, query, tenantID, pair, fromIDs)
	if err != nil {
		r.logger.Error("Failed to list reconciliation exceptions",
			"tenant_id", tenantID,
			"stage_pair", string(pair),
			"error", err,
		)
		return nil, fmt.Errorf("failed to list reconciliation exceptions: %w", err)
	}
	defer rows.Close()

	var exceptions []*reconciliation.Exception
	for rows.Next() {
		var ex reconciliation.Exception
		err := rows.Scan(
			&ex.ID,
			&ex.TenantID,
			&ex.Pair,
			&ex.FromEventID,
			&ex.Reason,
			&ex.CandidateIDs,
			&ex.CreatedAt,
			&ex.ResolvedAt,
		)
		if err != nil {
			r.logger.Error("Failed to scan reconciliation exception", "error", err)
			return nil, fmt.Errorf("failed to scan reconciliation exception: %w", err)
		}
		exceptions = append(exceptions, &ex)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("Error iterating over reconciliation exceptions", "error", err)
		return nil, fmt.Errorf("error iterating over reconciliation exceptions: %w", err)
	}

	return exceptions, nil
}

// Save records the exception, replacing the candidate list of an existing unresolved one.
func (r *ExceptionRepository) Save(ctx context.Context, ex *reconciliation.Exception) error {
	query := `
		INSERT INTO reconciliation_exceptions (id, tenant_id, stage_pair, from_event_id, reason, candidate_ids, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (stage_pair, from_event_id) WHERE resolved_at IS NULL
		DO UPDATE SET reason = EXCLUDED.reason, candidate_ids = EXCLUDED.candidate_ids
	`

	_, err := r.querier.Exec(ctx, query,
		ex.ID,
		ex.TenantID,
		ex.Pair,
		ex.FromEventID,
		ex.Reason,
		ex.CandidateIDs,
		ex.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to save reconciliation exception",
			"tenant_id", ex.TenantID,
			"from_event_id", ex.FromEventID.String(),
			"error", err,
		)
		return fmt.Errorf("failed to save reconciliation exception: %w", err)
	}

	return nil
}

// Resolve closes the from event's unresolved exception. Resolving when none is open is a no-op.
func (r *ExceptionRepository) Resolve(ctx context.Context, tenantID string, pair shared.StagePair, fromID uuid.UUID, at time.Time) error {
	query := `
		UPDATE reconciliation_exceptions
		SET resolved_at = $1
		WHERE tenant_id = $2 AND stage_pair = $3 AND from_event_id = $4 AND resolved_at IS NULL
	`

	if _, err := r.querier.Exec(ctx, query, at, tenantID, pair, fromID); err != nil {
		r.logger.Error("Failed to resolve reconciliation exception",
			"tenant_id", tenantID,
			"from_event_id", fromID.String(),
			"error", err,
		)
		return fmt.Errorf("failed to resolve reconciliation exception: %w", err)
	}

	return nil
}
