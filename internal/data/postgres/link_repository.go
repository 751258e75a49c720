package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/settlement-reconciler/internal/domain/reconciliation"
	"github.com/settlement-reconciler/internal/platform/persistence"
)

// Partial unique indexes guarding one active link per side
const (
	constraintActiveFrom = "uq_links_active_from"
	constraintActiveTo   = "uq_links_active_to"
)

// LinkRepository implements reconciliation.LinkRepository for PostgreSQL
type LinkRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewLinkRepository creates a new PostgreSQL link repository
func NewLinkRepository(logger *slog.Logger, db *persistence.PostgresDB) reconciliation.LinkRepository {
	return &LinkRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// WithTx wraps the repository with a transaction so link writes commit together.
func (r *LinkRepository) WithTx(tx pgx.Tx) reconciliation.LinkRepository {
	return &LinkRepository{
		querier: tx,
		logger:  r.logger,
	}
}

// Create inserts a link. A unique violation on either active-side index is reported as
// ErrEventAlreadyLinked for the event on that side.
func (r *LinkRepository) Create(ctx context.Context, link *reconciliation.Link) error {
	query := `
		INSERT INTO reconciliation_links (id, tenant_id, stage_pair, from_event_id, to_event_id, match_confidence,
			active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.querier.Exec(ctx, query,
		link.ID,
		link.TenantID,
		link.Pair,
		link.FromEventID,
		link.ToEventID,
		link.Confidence,
		link.Active,
		link.CreatedAt,
	)
	if err != nil {
		if constraint, ok := uniqueViolationOn(err); ok {
			switch constraint {
			case constraintActiveFrom:
				return reconciliation.ErrEventAlreadyLinked{EventID: link.FromEventID}
			case constraintActiveTo:
				return reconciliation.ErrEventAlreadyLinked{EventID: link.ToEventID}
			}
		}
		r.logger.Error("Failed to create reconciliation link",
			"tenant_id", link.TenantID,
			"from_event_id", link.FromEventID.String(),
			"to_event_id", link.ToEventID.String(),
			"error", err,
		)
		return fmt.Errorf("failed to create reconciliation link: %w", err)
	}

	return nil
}

// GetByID retrieves a link regardless of its active flag.
func (r *LinkRepository) GetByID(ctx context.Context, tenantID string, id uuid.UUID) (*reconciliation.Link, error) {
	query := `
		SELECT ` + linkColumns + `
		FROM reconciliation_links
		WHERE tenant_id = $1 AND id = $2
	`

	link, err := scanLink(r.querier.QueryRow(ctx, query, tenantID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, reconciliation.ErrLinkNotFound{LinkID: id}
		}
		r.logger.Error("Failed to get reconciliation link", "link_id", id.String(), "error", err)
		return nil, fmt.Errorf("failed to get reconciliation link: %w", err)
	}
	return link, nil
}

// Invalidate soft-deletes an active link, recording its replacement when there is one.
func (r *LinkRepository) Invalidate(ctx context.Context, tenantID string, id uuid.UUID, supersededBy *uuid.UUID, at time.Time) error {
	query := `
		UPDATE reconciliation_links
		SET active = FALSE, invalidated_at = $1, superseded_by = $2
		WHERE tenant_id = $3 AND id = $4 AND active
	`

	result, err := r.querier.Exec(ctx, query, at, supersededBy, tenantID, id)
	if err != nil {
		r.logger.Error("Failed to invalidate reconciliation link",
			"link_id", id.String(),
			"error", err,
		)
		return fmt.Errorf("failed to invalidate reconciliation link: %w", err)
	}

	if result.RowsAffected() == 0 {
		return reconciliation.ErrLinkNotFound{LinkID: id}
	}

	return nil
}

// ListActiveFrom returns the active outbound links of the given events.
func (r *LinkRepository) ListActiveFrom(ctx context.Context, tenantID string, ids []uuid.UUID) ([]*reconciliation.Link, error) {
	return r.listActive(ctx, "from_event_id", tenantID, ids)
}

// ListActiveTo returns the active inbound links of the given events.
func (r *LinkRepository) ListActiveTo(ctx context.Context, tenantID string, ids []uuid.UUID) ([]*reconciliation.Link, error) {
	return r.listActive(ctx, "to_event_id", tenantID, ids)
}

func (r *LinkRepository) listActive(ctx context.Context, column, tenantID string, ids []uuid.UUID) ([]*reconciliation.Link, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `
		SELECT ` + linkColumns + `
		FROM reconciliation_links
		WHERE tenant_id = $1 AND active AND ` + column + ` = ANY($2)
	`

	return r.list(ctx, query, tenantID, ids)
}

// ListHistory returns every link that ever touched the event, oldest first.
func (r *LinkRepository) ListHistory(ctx context.Context, tenantID string, eventID uuid.UUID) ([]*reconciliation.Link, error) {
	query := `
		SELECT ` + linkColumns + `
		FROM reconciliation_links
		WHERE tenant_id = $1 AND (from_event_id = $2 OR to_event_id = $2)
		ORDER BY created_at, id
	`

	return r.list(ctx, query, tenantID, eventID)
}

func (r *LinkRepository) list(ctx context.Context, query string, args ...interface{}) ([]*reconciliation.Link, error) {
	rows, err := r.querier.Query(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list reconciliation links", "error", err)
		return nil, fmt.Errorf("failed to list reconciliation links: %w", err)
	}

	links, err := collectLinks(rows)
	if err != nil {
		r.logger.Error("Failed to scan reconciliation links", "error", err)
		return nil, fmt.Errorf("failed to scan reconciliation links: %w", err)
	}
	return links, nil
}
