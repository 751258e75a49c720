package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/settlement-reconciler/internal/domain/settlement"
	"github.com/settlement-reconciler/internal/domain/shared"
	"github.com/settlement-reconciler/internal/platform/persistence"
)

var emptyPayload = json.RawMessage(`{}`)

// EventRepository implements settlement.Repository for PostgreSQL
type EventRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewEventRepository creates a new PostgreSQL settlement event repository
func NewEventRepository(logger *slog.Logger, db *persistence.PostgresDB) settlement.Repository {
	return &EventRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// WithTx wraps the repository with a transaction so a batch's inserts commit with its outbox rows.
func (r *EventRepository) WithTx(tx pgx.Tx) settlement.Repository {
	return &EventRepository{
		querier: tx,
		logger:  r.logger,
	}
}

// Upsert inserts the event; when (tenant_id, dedup_key) already exists the stored row is returned.
func (r *EventRepository) Upsert(ctx context.Context, event *settlement.Event) (*settlement.Event, bool, error) {
	query := `
		INSERT INTO settlement_events (id, tenant_id, stage, source, event_date, amount, reference_no, external_id,
			dedup_key, raw_payload, created_at, ingested_batch_id)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (tenant_id, dedup_key) DO NOTHING
	`

	payload := event.RawPayload
	if len(payload) == 0 {
		payload = emptyPayload
	}

	result, err := r.querier.Exec(ctx, query,
		event.ID,
		event.TenantID,
		event.Stage,
		event.Source,
		event.EventDate,
		event.Amount.String(),
		event.ReferenceNo,
		event.ExternalID,
		event.DedupKey,
		payload,
		event.CreatedAt,
		event.IngestedBatchID,
	)
	if err != nil {
		r.logger.Error("Failed to insert settlement event",
			"tenant_id", event.TenantID,
			"dedup_key", event.DedupKey,
			"error", err,
		)
		return nil, false, fmt.Errorf("failed to insert settlement event: %w", err)
	}

	if result.RowsAffected() == 1 {
		return event, true, nil
	}

	existing, err := r.getByDedupKey(ctx, event.TenantID, event.DedupKey)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *EventRepository) getByDedupKey(ctx context.Context, tenantID, dedupKey string) (*settlement.Event, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM settlement_events
		WHERE tenant_id = $1 AND dedup_key = $2
	`

	event, err := scanEvent(r.querier.QueryRow(ctx, query, tenantID, dedupKey))
	if err != nil {
		r.logger.Error("Failed to load deduplicated settlement event",
			"tenant_id", tenantID,
			"dedup_key", dedupKey,
			"error", err,
		)
		return nil, fmt.Errorf("failed to load deduplicated settlement event: %w", err)
	}
	return event, nil
}

// GetByID retrieves a tenant's event. Returns ErrEventNotFound if it does not exist.
func (r *EventRepository) GetByID(ctx context.Context, tenantID string, id uuid.UUID) (*settlement.Event, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM settlement_events
		WHERE tenant_id = $1 AND id = $2
	`

	event, err := scanEvent(r.querier.QueryRow(ctx, query, tenantID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, settlement.ErrEventNotFound{EventID: id}
		}
		r.logger.Error("Failed to get settlement event",
			"tenant_id", tenantID,
			"event_id", id.String(),
			"error", err,
		)
		return nil, fmt.Errorf("failed to get settlement event: %w", err)
	}
	return event, nil
}

// GetByIDs retrieves the subset of ids that exist for the tenant, in no particular order.
func (r *EventRepository) GetByIDs(ctx context.Context, tenantID string, ids []uuid.UUID) ([]*settlement.Event, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `
		SELECT ` + eventColumns + `
		FROM settlement_events
		WHERE tenant_id = $1 AND id = ANY($2)
	`

	return r.list(ctx, "get settlement events by id", query, tenantID, ids)
}

// ListByStageAndRange returns the stage's events dated within [from, to], ordered by date then id.
func (r *EventRepository) ListByStageAndRange(ctx context.Context, tenantID string, stage shared.Stage, from, to time.Time) ([]*settlement.Event, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM settlement_events
		WHERE tenant_id = $1 AND stage = $2 AND event_date BETWEEN $3 AND $4
		ORDER BY event_date, id
	`

	return r.list(ctx, "list settlement events by stage", query, tenantID, stage, from, to)
}

// ListUnlinked returns the stage's events without an active link on their chain-facing side.
func (r *EventRepository) ListUnlinked(ctx context.Context, tenantID string, stage shared.Stage) ([]*settlement.Event, error) {
	if !stage.IsValid() {
		return nil, shared.ErrInvalidStage
	}

	column := "from_event_id"
	if stage == shared.StageBankCredit {
		column = "to_event_id"
	}

	query := `
		SELECT ` + eventColumns + `
		FROM settlement_events e
		WHERE e.tenant_id = $1 AND e.stage = $2
			AND NOT EXISTS (
				SELECT 1 FROM reconciliation_links l
				WHERE l.active AND l.` + column + ` = e.id
			)
		ORDER BY e.event_date, e.id
	`

	return r.list(ctx, "list unlinked settlement events", query, tenantID, stage)
}

// List returns the tenant's events matching filter, ordered by date then id.
func (r *EventRepository) List(ctx context.Context, tenantID string, filter settlement.EventFilter) ([]*settlement.Event, error) {
	conditions := []string{"tenant_id = $1"}
	args := []interface{}{tenantID}

	add := func(condition string, arg interface{}) {
		args = append(args, arg)
		conditions = append(conditions, fmt.Sprintf(condition, len(args)))
	}
	if filter.Stage != "" {
		add("stage = $%d", filter.Stage)
	}
	if filter.Source != "" {
		add("lower(source) = lower($%d)", filter.Source)
	}
	if !filter.From.IsZero() {
		add("event_date >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("event_date <= $%d", filter.To)
	}
	if filter.Reference != "" {
		add("reference_no ILIKE $%d", "%"+escapeLike(filter.Reference)+"%")
	}

	query := `
		SELECT ` + eventColumns + `
		FROM settlement_events
		WHERE ` + strings.Join(conditions, " AND ") + `
		ORDER BY event_date, id
	`

	return r.list(ctx, "list settlement events", query, args...)
}

func (r *EventRepository) list(ctx context.Context, op, query string, args ...interface{}) ([]*settlement.Event, error) {
	rows, err := r.querier.Query(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to "+op, "error", err)
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}

	events, err := collectEvents(rows)
	if err != nil {
		r.logger.Error("Failed to scan settlement events", "op", op, "error", err)
		return nil, fmt.Errorf("failed to scan settlement events: %w", err)
	}
	return events, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
