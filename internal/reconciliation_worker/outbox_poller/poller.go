package outbox_poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/settlement-reconciler/internal/config"
	"github.com/settlement-reconciler/internal/domain/outbox"
	"github.com/settlement-reconciler/internal/domain/shared"
	"github.com/settlement-reconciler/internal/platform/metrics"
)

// Poller processes pending outbox messages
type Poller struct {
	outboxRepo       outbox.Repository
	jobPublisher     JobPublisher
	metrics          *metrics.Metrics
	logger           *slog.Logger
	pollInterval     time.Duration
	batchSize        int
	maxRetryAttempts int
	retention        time.Duration
	purgeInterval    time.Duration
	now              func() time.Time
}

const defaultPurgeInterval = time.Hour

func NewPoller(
	cfg *config.OutboxConfig,
	outboxRepo outbox.Repository,
	jobPublisher JobPublisher,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Poller {
	return &Poller{
		outboxRepo:       outboxRepo,
		jobPublisher:     jobPublisher,
		metrics:          m,
		logger:           logger,
		pollInterval:     cfg.PollingInterval,
		batchSize:        cfg.BatchSize,
		maxRetryAttempts: cfg.MaxRetryAttempts,
		retention:        cfg.Retention,
		purgeInterval:    defaultPurgeInterval,
		now:              time.Now,
	}
}

// Start begins polling until context is canceled
func (p *Poller) Start(ctx context.Context) {
	p.logger.Info("Starting Outbox Poller",
		"poll_interval", p.pollInterval.String(),
		"batch_size", p.batchSize,
		"max_retry_attempts", p.maxRetryAttempts,
		"retention", p.retention.String(),
	)
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	// A nil channel never fires, so purging stays off without retention
	var purge <-chan time.Time
	if p.retention > 0 {
		purgeTicker := time.NewTicker(p.purgeInterval)
		defer purgeTicker.Stop()
		purge = purgeTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Outbox Poller stopping due to context cancellation.")
			return
		case <-ticker.C:
			if err := p.processPendingMessages(ctx); err != nil {
				p.logger.Error("Error during batch processing of pending outbox messages", "error", err)
			}
		case <-purge:
			if err := p.purgeProcessed(ctx); err != nil {
				p.logger.Error("Error purging processed outbox messages", "error", err)
			}
		}
	}
}

// purgeProcessed deletes published jobs that fell out of the retention window
func (p *Poller) purgeProcessed(ctx context.Context) error {
	if p.retention <= 0 {
		return nil
	}
	cutoff := p.now().UTC().Add(-p.retention)
	purged, err := p.outboxRepo.PurgeProcessed(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to purge outbox: %w", err)
	}
	if purged > 0 {
		p.logger.Info("Purged processed outbox messages", "count", purged, "cutoff", cutoff.Format(time.RFC3339))
	}
	return nil
}

func (p *Poller) processPendingMessages(ctx context.Context) error {
	messages, err := p.outboxRepo.GetPending(ctx, p.batchSize)
	if err != nil {
		return fmt.Errorf("failed to get pending outbox messages: %w", err)
	}
	if len(messages) == 0 {
		return nil
	}

	p.logger.Info("Fetched pending outbox messages", "count", len(messages))

	for _, msg := range messages {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger := p.logger.With("outbox_id", msg.ID, "job_id", msg.JobID.String(), "tenant_id", msg.TenantID)

		err := p.jobPublisher.PublishJob(ctx, msg)
		if err == nil {
			continue
		}
		if errors.Is(err, context.Canceled) {
			return err
		}

		logger.Error("Failed to publish outbox message", "current_attempts", msg.Attempts, "error", err)

		if errInc := p.outboxRepo.IncrementAttempts(ctx, msg.ID); errInc != nil {
			logger.Error("Failed to increment attempts for outbox message", "error", errInc)
			continue
		}

		if msg.Attempts+1 >= p.maxRetryAttempts {
			logger.Warn("Max retry attempts reached for outbox message, marking as FAILED_TO_PUBLISH",
				"attempts_made", msg.Attempts+1,
			)
			if errUpdate := p.outboxRepo.UpdateStatus(ctx, msg.ID, shared.OutboxStatusFailedToPublish); errUpdate != nil {
				logger.Error("Failed to update outbox status to FAILED_TO_PUBLISH after max retries", "error", errUpdate)
				continue
			}
			p.metrics.ObserveOutbox(string(shared.OutboxStatusFailedToPublish))
		}
	}
	return nil
}
