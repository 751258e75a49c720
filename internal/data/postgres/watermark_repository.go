package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/settlement-reconciler/internal/domain/settlement"
	"github.com/settlement-reconciler/internal/platform/persistence"
)

// WatermarkRepository implements settlement.WatermarkRepository for PostgreSQL
type WatermarkRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewWatermarkRepository creates a new PostgreSQL watermark repository
func NewWatermarkRepository(logger *slog.Logger, db *persistence.PostgresDB) settlement.WatermarkRepository {
	return &WatermarkRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// Touch records a completed batch for the source, accumulating the imported count.
// WithTx wraps the repository with a transaction
func (r *WatermarkRepository) WithTx(tx pgx.Tx) settlement.WatermarkRepository {
	return &WatermarkRepository{
		querier: tx,
		logger:  r.logger,
	}
}

func (r *WatermarkRepository) Touch(ctx context.Context, tenantID, source string, batchID uuid.UUID, imported int, at time.Time) error {
	query := `
		INSERT INTO ingestion_watermarks (tenant_id, source, last_synced_at, last_batch_id, events_imported)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, source) DO UPDATE
		SET last_synced_at = EXCLUDED.last_synced_at,
			last_batch_id = EXCLUDED.last_batch_id,
			events_imported = ingestion_watermarks.events_imported + EXCLUDED.events_imported
	`

	if _, err := r.querier.Exec(ctx, query, tenantID, source, at, batchID, int64(imported)); err != nil {
		r.logger.Error("Failed to update ingestion watermark",
			"tenant_id", tenantID,
			"source", source,
			"error", err,
		)
		return fmt.Errorf("failed to update ingestion watermark: %w", err)
	}

	return nil
}

// ListByTenant returns the tenant's watermarks ordered by source.
func (r *WatermarkRepository) ListByTenant(ctx context.Context, tenantID string) ([]*settlement.Watermark, error) {
	query := `
		SELECT tenant_id, source, last_synced_at, last_batch_id, events_imported
		FROM ingestion_watermarks
		WHERE tenant_id = $1
		ORDER BY source
	`

	rows, err := r.querier.Query(ctx, query, tenantID)
	if err != nil {
		r.logger.Error("Failed to list ingestion watermarks", "tenant_id", tenantID, "error", err)
		return nil, fmt.Errorf("failed to list ingestion watermarks: %w", err)
	}
	defer rows.Close()

	var watermarks []*settlement.Watermark
	for rows.Next() {
		var w settlement.Watermark
		if err := rows.Scan(&w.TenantID, &w.Source, &w.LastSyncedAt, &w.LastBatchID, &w.EventsImported); err != nil {
			r.logger.Error("Failed to scan ingestion watermark", "error", err)
			return nil, fmt.Errorf("failed to scan ingestion watermark: %w", err)
		}
		watermarks = append(watermarks, &w)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over ingestion watermarks: %w", err)
	}

	return watermarks, nil
}

// ListTenants returns every tenant that has ingested at least one batch.
func (r *WatermarkRepository) ListTenants(ctx context.Context) ([]string, error) {
	query := `
		SELECT DISTINCT tenant_id
		FROM ingestion_watermarks
		ORDER BY tenant_id
	`

	rows, err := r.querier.Query(ctx, query)
	if err != nil {
		r.logger.Error("Failed to list tenants", "error", err)
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []string
	for rows.Next() {
		var tenantID string
		if err := rows.Scan(&tenantID); err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		tenants = append(tenants, tenantID)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over tenants: %w", err)
	}

	return tenants, nil
}
