package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/settlement-reconciler/internal/domain/settlement"
	"github.com/settlement-reconciler/internal/domain/shared"
	"github.com/settlement-reconciler/internal/platform/messaging/consumers"
	"github.com/settlement-reconciler/internal/platform/metrics"
	"github.com/settlement-reconciler/internal/reconciler/service"
)

// BatchHandler feeds adapter batches from the intake topic into ingestion
type BatchHandler struct {
	ingestionService service.IngestionService
	metrics          *metrics.Metrics
	topic            string
	logger           *slog.Logger
}

// NewBatchHandler creates a new handler
func NewBatchHandler(
	logger *slog.Logger,
	ingestionService service.IngestionService,
	m *metrics.Metrics,
	topic string,
) *BatchHandler {
	return &BatchHandler{
		ingestionService: ingestionService,
		metrics:          m,
		topic:            topic,
		logger:           logger,
	}
}

// HandleMessage ingests one batch. Redelivery is safe: rows already stored are skipped
// and the batch keeps the id it was published with.
func (h *BatchHandler) HandleMessage(ctx context.Context, key []byte, value []byte) error {
	var batch shared.IngestBatchRequest
	if err := json.Unmarshal(value, &batch); err != nil {
		h.logger.Error("Failed to unmarshal ingestion batch from Kafka message",
			"error", err,
			"message_key", string(key),
		)
		h.metrics.ObserveJob(h.topic, "invalid")
		return fmt.Errorf("%w: failed to unmarshal ingestion batch: %v", consumers.ErrPermanent, err)
	}

	logger := h.logger.With("tenant_id", batch.TenantID, "source", batch.Source, "batch_id", batch.BatchID.String())
	if batch.CorrelationID != "" {
		logger = logger.With("correlation_id", batch.CorrelationID)
	}
	logger.Info("Received ingestion batch", "rows", len(batch.Events))

	result, err := h.ingestionService.IngestBatch(ctx, &service.IngestRequest{
		BatchID:       batch.BatchID,
		TenantID:      batch.TenantID,
		Source:        batch.Source,
		Events:        batch.Events,
		CorrelationID: batch.CorrelationID,
	})
	if err != nil {
		if errors.Is(err, settlement.ErrEmptyTenant) || errors.Is(err, settlement.ErrEmptySource) {
			logger.Error("Ingestion batch is invalid", "error", err)
			h.metrics.ObserveJob(h.topic, "invalid")
			return fmt.Errorf("%w: %v", consumers.ErrPermanent, err)
		}
		logger.Error("Failed to ingest batch", "error", err)
		h.metrics.ObserveJob(h.topic, "error")
		return fmt.Errorf("ingestion batch %s failed: %w", batch.BatchID.String(), err)
	}

	h.metrics.ObserveJob(h.topic, "ok")
	logger.Info("Ingestion batch processed",
		"scanned", result.Scanned,
		"imported", result.Imported,
		"skipped", result.Skipped,
		"invalid", len(result.Errors),
	)
	return nil
}
