package components

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/settlement-reconciler/internal/domain/outbox"
	"github.com/settlement-reconciler/internal/domain/shared"
	"github.com/settlement-reconciler/internal/reconciler/service"
)

type JobEnqueuerImpl struct {
	outboxRepo outbox.Repository
	logger     *slog.Logger
}

func NewJobEnqueuer(outboxRepo outbox.Repository, logger *slog.Logger) service.JobEnqueuer {
	return &JobEnqueuerImpl{
		outboxRepo: outboxRepo,
		logger:     logger,
	}
}

// Enqueue writes one outbox row per job inside tx
func (e *JobEnqueuerImpl) Enqueue(ctx context.Context, tx pgx.Tx, jobs []*shared.ReconcileJob) error {
	outboxRepoTx := e.outboxRepo.WithTx(tx)

	for _, job := range jobs {
		logger := e.logger
		if job.CorrelationID != "" {
			logger = e.logger.With("correlation_id", job.CorrelationID)
		}

		message, err := outbox.NewMessage(job)
		if err != nil {
			logger.Error("Failed to create new outbox message (marshal payload)", "job_id", job.JobID.String(), "error", err)
			return fmt.Errorf("failed to create outbox message payload for job %s: %w", job.JobID.String(), err)
		}

		if err := outboxRepoTx.Create(ctx, message); err != nil {
			logger.Error("Failed to create outbox message",
				"job_id", job.JobID.String(),
				"tenant_id", job.TenantID,
				"error", err,
			)
			return fmt.Errorf("failed to create outbox message for job %s: %w", job.JobID.String(), err)
		}
		logger.Info("Reconciliation job enqueued",
			"job_id", job.JobID.String(),
			"stage_pair", string(job.Pair),
			"outbox_id", message.ID,
		)
	}

	return nil
}
