package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/settlement-reconciler/internal/domain/shared"
)

// Repository stores reconciliation jobs written in the same transaction as the
// events that caused them, until the poller has published them.
type Repository interface {
	Create(ctx context.Context, message *Message) error
	// GetPending returns the oldest PENDING messages first.
	GetPending(ctx context.Context, limit int) ([]*Message, error)
	UpdateStatus(ctx context.Context, id int64, status shared.OutboxStatus) error
	IncrementAttempts(ctx context.Context, id int64) error
	// PurgeProcessed deletes PROCESSED messages created before cutoff and reports how many.
	// PENDING and FAILED_TO_PUBLISH rows are kept for inspection.
	PurgeProcessed(ctx context.Context, cutoff time.Time) (int64, error)
	WithTx(tx pgx.Tx) Repository
}

// ErrMessageNotFound is returned when a status change targets a missing row
type ErrMessageNotFound struct {
	ID int64
}

func (e ErrMessageNotFound) Error() string {
	return fmt.Sprintf("outbox message %d not found", e.ID)
}

// ErrDuplicateMessage is returned when a job id is enqueued twice
type ErrDuplicateMessage struct {
	JobID uuid.UUID
}

func (e ErrDuplicateMessage) Error() string {
	return fmt.Sprintf("reconciliation job %s already enqueued", e.JobID)
}
