package settlement

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Watermark records the last successful ingestion per tenant and source.
// It is informational and never gates what an ingestion accepts.
type Watermark struct {
	TenantID       string    `json:"tenant_id"`
	Source         string    `json:"source"`
	LastSyncedAt   time.Time `json:"last_synced_at"`
	LastBatchID    uuid.UUID `json:"last_batch_id"`
	EventsImported int64     `json:"events_imported"`
}

// WatermarkRepository persists per-source ingestion watermarks
type WatermarkRepository interface {
	Touch(ctx context.Context, tenantID, source string, batchID uuid.UUID, imported int, at time.Time) error
	ListByTenant(ctx context.Context, tenantID string) ([]*Watermark, error)
	ListTenants(ctx context.Context) ([]string, error)
	WithTx(tx pgx.Tx) WatermarkRepository
}
