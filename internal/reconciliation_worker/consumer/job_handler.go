package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/settlement-reconciler/internal/domain/shared"
	"github.com/settlement-reconciler/internal/platform/messaging/consumers"
	"github.com/settlement-reconciler/internal/platform/metrics"
	"github.com/settlement-reconciler/internal/reconciler/service"
)

// JobHandler runs incremental reconciliation jobs published by the outbox poller
type JobHandler struct {
	reconciliationService service.ReconciliationService
	metrics               *metrics.Metrics
	topic                 string
	logger                *slog.Logger
}

// NewJobHandler creates a new handler
func NewJobHandler(
	logger *slog.Logger,
	reconciliationService service.ReconciliationService,
	m *metrics.Metrics,
	topic string,
) *JobHandler {
	return &JobHandler{
		reconciliationService: reconciliationService,
		metrics:               m,
		topic:                 topic,
		logger:                logger,
	}
}

// HandleMessage runs one pass for the job in the message. Lock conflicts and storage
// failures are returned as-is so the consumer redelivers the job; undecodable or invalid
// jobs are marked permanent and dead-lettered.
func (h *JobHandler) HandleMessage(ctx context.Context, key []byte, value []byte) error {
	var job shared.ReconcileJob
	if err := json.Unmarshal(value, &job); err != nil {
		h.logger.Error("Failed to unmarshal reconcile job from Kafka message",
			"error", err,
			"message_key", string(key),
		)
		h.metrics.ObserveJob(h.topic, "invalid")
		return fmt.Errorf("%w: failed to unmarshal reconcile job: %v", consumers.ErrPermanent, err)
	}

	logger := h.logger.With("job_id", job.JobID.String(), "tenant_id", job.TenantID, "stage_pair", string(job.Pair))
	if job.CorrelationID != "" {
		logger = logger.With("correlation_id", job.CorrelationID)
	}

	logger.Info("Received reconcile job",
		"from", job.From.Format("2006-01-02"),
		"to", job.To.Format("2006-01-02"),
		"trigger", string(job.Trigger),
	)

	result, err := h.reconciliationService.ReconcilePair(ctx, &job)
	if err != nil {
		if errors.Is(err, shared.ErrInvalidStagePair) || errors.Is(err, shared.ErrInvalidDateRange) {
			logger.Error("Reconcile job is invalid", "error", err)
			h.metrics.ObserveJob(h.topic, "invalid")
			return fmt.Errorf("%w: %v", consumers.ErrPermanent, err)
		}
		if errors.Is(err, shared.ConflictError{}) {
			logger.Warn("Pass already running, job will be redelivered")
			h.metrics.ObserveJob(h.topic, "conflict")
			return err
		}
		logger.Error("Failed to run reconcile job", "error", err)
		h.metrics.ObserveJob(h.topic, "error")
		return fmt.Errorf("reconcile job %s failed: %w", job.JobID.String(), err)
	}

	h.metrics.ObserveJob(h.topic, "ok")
	logger.Info("Reconcile job completed",
		"linked", result.Linked,
		"superseded", result.Superseded,
		"mismatched", result.Mismatched,
		"unresolved", result.Unresolved,
	)
	return nil
}
