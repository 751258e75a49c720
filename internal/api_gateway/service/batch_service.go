package service

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/settlement-reconciler/internal/domain/shared"
	"github.com/settlement-reconciler/internal/platform/messaging/producers"
	recon "github.com/settlement-reconciler/internal/reconciler/service"
)

// BatchServiceImpl implements the BatchService interface
type BatchServiceImpl struct {
	ingestion recon.IngestionService
	producer  producers.MessagePublisher
	logger    *slog.Logger
}

// NewBatchService creates a new batch service. producer may be nil when the gateway runs
// without Kafka, in which case Enqueue is unavailable.
func NewBatchService(logger *slog.Logger, ingestion recon.IngestionService, producer producers.MessagePublisher) BatchService {
	return &BatchServiceImpl{
		ingestion: ingestion,
		producer:  producer,
		logger:    logger,
	}
}

// Ingest runs the batch through the ingestion service in the request path
func (s *BatchServiceImpl) Ingest(ctx context.Context, batch *shared.IngestBatchRequest) (*recon.IngestResult, error) {
	return s.ingestion.IngestBatch(ctx, &recon.IngestRequest{
		BatchID:       batch.BatchID,
		TenantID:      batch.TenantID,
		Source:        batch.Source,
		Events:        batch.Events,
		CorrelationID: batch.CorrelationID,
	})
}

// Enqueue publishes the batch keyed by tenant so one tenant's batches stay ordered
func (s *BatchServiceImpl) Enqueue(ctx context.Context, batch *shared.IngestBatchRequest) (uuid.UUID, error) {
	if s.producer == nil {
		return uuid.Nil, ErrAsyncUnavailable
	}
	if batch.BatchID == uuid.Nil {
		batch.BatchID = uuid.New()
	}

	if err := s.producer.Publish(ctx, batch.TenantID, batch); err != nil {
		s.logger.Error("Failed to publish ingestion batch",
			"tenant_id", batch.TenantID,
			"source", batch.Source,
			"batch_id", batch.BatchID.String(),
			"rows", len(batch.Events),
			"error", err,
		)
		return uuid.Nil, err
	}

	s.logger.Info("Ingestion batch published",
		"tenant_id", batch.TenantID,
		"source", batch.Source,
		"batch_id", batch.BatchID.String(),
		"rows", len(batch.Events),
	)
	return batch.BatchID, nil
}
