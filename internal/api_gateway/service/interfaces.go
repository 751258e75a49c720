package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/settlement-reconciler/internal/domain/shared"
	recon "github.com/settlement-reconciler/internal/reconciler/service"
)

// BatchService defines how the gateway hands adapter batches to the reconciler
type BatchService interface {
	// Ingest stores the batch before returning and reports per-row outcomes
	Ingest(ctx context.Context, batch *shared.IngestBatchRequest) (*recon.IngestResult, error)

	// Enqueue publishes the batch to the intake topic and returns the batch id the worker
	// will record it under. The outcome is readable later through the batch audit record.
	Enqueue(ctx context.Context, batch *shared.IngestBatchRequest) (uuid.UUID, error)
}
