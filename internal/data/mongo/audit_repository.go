package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/settlement-reconciler/internal/domain/audit"
)

const (
	// RunsCollectionName holds one document per reconciliation run
	RunsCollectionName = "reconciliation_runs"
	// BatchesCollectionName holds one document per ingestion batch
	BatchesCollectionName = "ingestion_batches"
)

// AuditRepository implements the audit.Repository interface for MongoDB
type AuditRepository struct {
	db     *mongo.Database
	logger *slog.Logger
}

// NewAuditRepository creates a new MongoDB audit repository
func NewAuditRepository(logger *slog.Logger, db *mongo.Database) *AuditRepository {
	return &AuditRepository{
		db:     db,
		logger: logger,
	}
}

var _ audit.Repository = (*AuditRepository)(nil)

// EnsureIndexes creates the indexes the listing queries rely on. It is safe to call on every start.
func (r *AuditRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.db.Collection(RunsCollectionName).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "started_at", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create run index: %w", err)
	}

	_, err = r.db.Collection(BatchesCollectionName).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "tenant_id", Value: 1}, {Key: "batch_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create batch index: %w", err)
	}

	return nil
}

// RecordRun stores the outcome of a reconciliation run.
func (r *AuditRepository) RecordRun(ctx context.Context, run *audit.RunRecord) error {
	if _, err := r.db.Collection(RunsCollectionName).InsertOne(ctx, run); err != nil {
		r.logger.Error("Failed to record reconciliation run",
			"run_id", run.RunID.String(),
			"tenant_id", run.TenantID,
			"error", err)
		return fmt.Errorf("failed to record reconciliation run: %w", err)
	}
	return nil
}

// RecordBatch stores the outcome of an ingestion batch. Recording the same batch twice is a no-op.
func (r *AuditRepository) RecordBatch(ctx context.Context, batch *audit.BatchRecord) error {
	if _, err := r.db.Collection(BatchesCollectionName).InsertOne(ctx, batch); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil
		}
		r.logger.Error("Failed to record ingestion batch",
			"batch_id", batch.BatchID.String(),
			"tenant_id", batch.TenantID,
			"error", err)
		return fmt.Errorf("failed to record ingestion batch: %w", err)
	}
	return nil
}

// ListRuns retrieves a tenant's runs, newest first.
func (r *AuditRepository) ListRuns(ctx context.Context, tenantID string, limit, offset int) ([]*audit.RunRecord, error) {
	filter := bson.M{"tenant_id": tenantID}
	opts := options.Find().
		SetSort(bson.D{{Key: "started_at", Value: -1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))

	cursor, err := r.db.Collection(RunsCollectionName).Find(ctx, filter, opts)
	if err != nil {
		r.logger.Error("Failed to list reconciliation runs",
			"tenant_id", tenantID,
			"error", err)
		return nil, fmt.Errorf("failed to list reconciliation runs: %w", err)
	}
	defer cursor.Close(ctx)

	var runs []*audit.RunRecord
	if err := cursor.All(ctx, &runs); err != nil {
		r.logger.Error("Failed to decode reconciliation runs",
			"tenant_id", tenantID,
			"error", err)
		return nil, fmt.Errorf("failed to decode reconciliation runs: %w", err)
	}

	return runs, nil
}

// CountRuns counts a tenant's recorded runs
func (r *AuditRepository) CountRuns(ctx context.Context, tenantID string) (int64, error) {
	count, err := r.db.Collection(RunsCollectionName).CountDocuments(ctx, bson.M{"tenant_id": tenantID})
	if err != nil {
		r.logger.Error("Failed to count reconciliation runs",
			"tenant_id", tenantID,
			"error", err)
		return 0, fmt.Errorf("failed to count reconciliation runs: %w", err)
	}
	return count, nil
}

// GetBatch retrieves an ingestion batch record.
// Returns ErrBatchNotFound if the batch was never recorded for the tenant.
func (r *AuditRepository) GetBatch(ctx context.Context, tenantID string, batchID uuid.UUID) (*audit.BatchRecord, error) {
	filter := bson.M{"tenant_id": tenantID, "batch_id": batchID}

	var batch audit.BatchRecord
	err := r.db.Collection(BatchesCollectionName).FindOne(ctx, filter).Decode(&batch)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, audit.ErrBatchNotFound{BatchID: batchID}
		}
		r.logger.Error("Failed to get ingestion batch",
			"batch_id", batchID.String(),
			"error", err)
		return nil, fmt.Errorf("failed to get ingestion batch: %w", err)
	}

	return &batch, nil
}
