package outbox_poller

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/settlement-reconciler/internal/domain/outbox"
	"github.com/settlement-reconciler/internal/domain/shared"
	"github.com/settlement-reconciler/internal/platform/messaging/producers"
	"github.com/settlement-reconciler/internal/platform/metrics"
)

// JobPublisher publishes one outbox message to the reconcile topic
type JobPublisher interface {
	PublishJob(ctx context.Context, message *outbox.Message) error
}

// JobPublisherImpl implements JobPublisher
type JobPublisherImpl struct {
	outboxRepo outbox.Repository
	producer   producers.MessagePublisher
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewJobPublisher creates a new publisher
func NewJobPublisher(
	outboxRepo outbox.Repository,
	producer producers.MessagePublisher,
	m *metrics.Metrics,
	logger *slog.Logger,
) JobPublisher {
	return &JobPublisherImpl{
		outboxRepo: outboxRepo,
		producer:   producer,
		metrics:    m,
		logger:     logger,
	}
}

// PublishJob sends the job keyed by tenant and marks the message PROCESSED.
// A payload that cannot be decoded is marked FAILED_TO_PUBLISH immediately.
// If the status update fails after a successful publish the job may be sent twice;
// passes are idempotent so the duplicate is harmless.
func (p *JobPublisherImpl) PublishJob(ctx context.Context, message *outbox.Message) error {
	job, err := message.GetReconcileJob()
	if err != nil {
		p.logger.Error("Failed to unmarshal reconcile job from outbox payload",
			"outbox_id", message.ID, "job_id", message.JobID, "error", err,
		)
		if updateErr := p.outboxRepo.UpdateStatus(ctx, message.ID, shared.OutboxStatusFailedToPublish); updateErr != nil {
			p.logger.Error("Also failed to update outbox status to FAILED_TO_PUBLISH after unmarshal error", "outbox_id", message.ID, "update_error", updateErr)
		}
		p.metrics.ObserveOutbox(string(shared.OutboxStatusFailedToPublish))
		return fmt.Errorf("unmarshal payload for outbox %d failed: %w", message.ID, err)
	}

	logger := p.logger.With("outbox_id", message.ID, "job_id", job.JobID.String(), "tenant_id", job.TenantID)
	if job.CorrelationID != "" {
		logger = logger.With("correlation_id", job.CorrelationID)
	}

	if err := p.producer.Publish(ctx, job.TenantID, job); err != nil {
		logger.Error("Failed to publish reconcile job", "error", err)
		return fmt.Errorf("failed to publish reconcile job %s: %w", job.JobID, err)
	}

	if err := p.outboxRepo.UpdateStatus(ctx, message.ID, shared.OutboxStatusProcessed); err != nil {
		logger.Error("Failed to update outbox message status to PROCESSED", "error", err)
		return fmt.Errorf("job %s published, but failed to mark outbox %d as PROCESSED: %w", job.JobID, message.ID, err)
	}

	p.metrics.ObserveOutbox(string(shared.OutboxStatusProcessed))
	logger.Info("Reconcile job published",
		"stage_pair", string(job.Pair),
		"from", job.From.Format("2006-01-02"),
		"to", job.To.Format("2006-01-02"),
	)
	return nil
}
