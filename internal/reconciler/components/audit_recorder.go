package components

import (
	"context"
	"log/slog"

	"github.com/settlement-reconciler/internal/domain/audit"
	"github.com/settlement-reconciler/internal/reconciler/service"
)

type AuditRecorderImpl struct {
	auditRepo audit.Repository
	logger    *slog.Logger
}

func NewAuditRecorder(auditRepo audit.Repository, logger *slog.Logger) service.AuditRecorder {
	return &AuditRecorderImpl{
		auditRepo: auditRepo,
		logger:    logger,
	}
}

// RecordRun stores the run in the audit log. The run has already happened, so a failure
// here is only logged.
func (r *AuditRecorderImpl) RecordRun(ctx context.Context, run *audit.RunRecord) {
	if err := r.auditRepo.RecordRun(ctx, run); err != nil {
		r.logger.Error("Failed to record reconciliation run",
			"run_id", run.RunID.String(),
			"tenant_id", run.TenantID,
			"error", err,
		)
	}
}

func (r *AuditRecorderImpl) RecordBatch(ctx context.Context, batch *audit.BatchRecord) {
	if err := r.auditRepo.RecordBatch(ctx, batch); err != nil {
		r.logger.Error("Failed to record ingestion batch",
			"batch_id", batch.BatchID.String(),
			"tenant_id", batch.TenantID,
			"error", err,
		)
	}
}
