package audit

import (
	"time"

	"github.com/google/uuid"
	"github.com/settlement-reconciler/internal/domain/shared"
)

// RunRecord is the audit trail of one reconciliation run
type RunRecord struct {
	RunID         uuid.UUID          `json:"run_id" bson:"run_id"`
	TenantID      string             `json:"tenant_id" bson:"tenant_id"`
	Trigger       shared.RunTrigger  `json:"trigger" bson:"trigger"`
	Pairs         []shared.StagePair `json:"pairs" bson:"pairs"`
	From          time.Time          `json:"from" bson:"from"`
	To            time.Time          `json:"to" bson:"to"`
	Linked        int                `json:"linked" bson:"linked"`
	Superseded    int                `json:"superseded" bson:"superseded"`
	Mismatched    int                `json:"mismatched" bson:"mismatched"`
	Unresolved    int                `json:"unresolved" bson:"unresolved"`
	Error         string             `json:"error,omitempty" bson:"error,omitempty"`
	CorrelationID string             `json:"correlation_id,omitempty" bson:"correlation_id,omitempty"`
	StartedAt     time.Time          `json:"started_at" bson:"started_at"`
	FinishedAt    time.Time          `json:"finished_at" bson:"finished_at"`
	DurationMs    int64              `json:"duration_ms" bson:"duration_ms"`
}

// BatchRecord is the audit trail of one ingestion batch
type BatchRecord struct {
	BatchID       uuid.UUID                `json:"batch_id" bson:"batch_id"`
	TenantID      string                   `json:"tenant_id" bson:"tenant_id"`
	Source        string                   `json:"source" bson:"source"`
	Scanned       int                      `json:"scanned" bson:"scanned"`
	Imported      int                      `json:"imported" bson:"imported"`
	Skipped       int                      `json:"skipped" bson:"skipped"`
	Errors        []shared.ValidationError `json:"errors,omitempty" bson:"errors,omitempty"`
	CorrelationID string                   `json:"correlation_id,omitempty" bson:"correlation_id,omitempty"`
	IngestedAt    time.Time                `json:"ingested_at" bson:"ingested_at"`
}
