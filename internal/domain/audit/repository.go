package audit

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists run and batch audit records with pagination support
type Repository interface {
	RecordRun(ctx context.Context, run *RunRecord) error
	RecordBatch(ctx context.Context, batch *BatchRecord) error
	ListRuns(ctx context.Context, tenantID string, limit, offset int) ([]*RunRecord, error)
	CountRuns(ctx context.Context, tenantID string) (int64, error)
	GetBatch(ctx context.Context, tenantID string, batchID uuid.UUID) (*BatchRecord, error)
}

// ErrBatchNotFound indicates a missing ingestion batch record
type ErrBatchNotFound struct {
	BatchID uuid.UUID
}

func (e ErrBatchNotFound) Error() string {
	return "ingestion batch not found: " + e.BatchID.String()
}

// Is implements the errors.Is interface for ErrBatchNotFound
func (e ErrBatchNotFound) Is(target error) bool {
	t, ok := target.(ErrBatchNotFound)
	if !ok {
		return false
	}
	if t.BatchID == uuid.Nil {
		return true
	}
	return e.BatchID == t.BatchID
}
