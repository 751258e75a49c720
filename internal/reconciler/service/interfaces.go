package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/settlement-reconciler/internal/domain/audit"
	"github.com/settlement-reconciler/internal/domain/reconciliation"
	"github.com/settlement-reconciler/internal/domain/settlement"
	"github.com/settlement-reconciler/internal/domain/shared"
	"github.com/settlement-reconciler/internal/reconciler/matcher"
)

// IngestionService accepts normalized event batches from source adapters.
type IngestionService interface {
	IngestBatch(ctx context.Context, request *IngestRequest) (*IngestResult, error)
}

// ReconciliationService runs the chain matcher.
type ReconciliationService interface {
	Reconcile(ctx context.Context, request *ReconcileRequest) (*ReconcileResult, error)
	ReconcilePair(ctx context.Context, job *shared.ReconcileJob) (*PassResult, error)
}

// QueryService serves the read-only views over events and links.
type QueryService interface {
	Summarize(ctx context.Context, tenantID string, from, to time.Time) (*reconciliation.Summary, error)
	ListEvents(ctx context.Context, tenantID string, query EventQuery) (*EventPage, error)
	ExportEvents(ctx context.Context, tenantID string, query EventQuery) ([]*reconciliation.AnnotatedEvent, error)
	LinkHistory(ctx context.Context, tenantID string, eventID uuid.UUID) ([]*reconciliation.Link, error)
	ListWatermarks(ctx context.Context, tenantID string) ([]*settlement.Watermark, error)
	ListRuns(ctx context.Context, tenantID string, limit, offset int) ([]*audit.RunRecord, int64, error)
	GetBatch(ctx context.Context, tenantID string, batchID uuid.UUID) (*audit.BatchRecord, error)
}

// AdminService covers operator actions: manual links and tenant settings.
type AdminService interface {
	LinkManually(ctx context.Context, tenantID string, fromID, toID uuid.UUID) (*reconciliation.Link, error)
	GetSettings(ctx context.Context, tenantID string) (*reconciliation.Settings, error)
	PutSettings(ctx context.Context, settings *reconciliation.Settings) (*reconciliation.Settings, error)
}

// EventValidator turns one adapter row into a domain event or the reasons it was rejected.
type EventValidator interface {
	Validate(ctx context.Context, tenantID, source string, row int, raw *shared.NormalizedEvent, batchID uuid.UUID) (*settlement.Event, []shared.ValidationError)
}

// LinkCommitter applies one matcher decision atomically and returns the link it created, if any.
type LinkCommitter interface {
	Commit(ctx context.Context, tenantID string, decision matcher.Decision) (*reconciliation.Link, error)
}

// JobEnqueuer stores reconciliation jobs in the outbox as part of tx.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, tx pgx.Tx, jobs []*shared.ReconcileJob) error
}

// AuditRecorder writes run and batch audit records. Failures are logged, never returned.
type AuditRecorder interface {
	RecordRun(ctx context.Context, run *audit.RunRecord)
	RecordBatch(ctx context.Context, batch *audit.BatchRecord)
}

// ParamsResolver returns the effective matcher parameters of a tenant.
type ParamsResolver interface {
	Resolve(ctx context.Context, tenantID string) (matcher.Params, error)
}

// CandidateRanker scores every from-event against its candidate window.
type CandidateRanker interface {
	RankAll(ctx context.Context, froms []*settlement.Event, ix *matcher.Index, params matcher.Params) (map[uuid.UUID][]matcher.Candidate, error)
}
