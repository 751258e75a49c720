package mongo

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"github.com/settlement-reconciler/internal/domain/audit"
	"github.com/settlement-reconciler/internal/domain/shared"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func toDoc(t *testing.T, v interface{}) bson.D {
	t.Helper()
	raw, err := bson.Marshal(v)
	require.NoError(t, err)
	var doc bson.D
	require.NoError(t, bson.Unmarshal(raw, &doc))
	return doc
}

func newRun() *audit.RunRecord {
	started := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	return &audit.RunRecord{
		RunID:      uuid.New(),
		TenantID:   "tenant-1",
		Trigger:    shared.RunTriggerAPI,
		Pairs:      shared.StagePairs,
		From:       time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		To:         time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC),
		Linked:     4,
		Unresolved: 1,
		StartedAt:  started,
		FinishedAt: started.Add(1500 * time.Millisecond),
		DurationMs: 1500,
	}
}

func TestAuditRepository_RecordRun(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("success", func(mt *mtest.T) {
		repo := NewAuditRepository(newTestLogger(), mt.DB)
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		assert.NoError(t, repo.RecordRun(context.Background(), newRun()))
	})

	mt.Run("write error", func(mt *mtest.T) {
		repo := NewAuditRepository(newTestLogger(), mt.DB)
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{Index: 0, Code: 121, Message: "document failed validation"}))

		err := repo.RecordRun(context.Background(), newRun())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to record reconciliation run")
	})
}

func TestAuditRepository_RecordBatch(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	batch := &audit.BatchRecord{
		BatchID:    uuid.New(),
		TenantID:   "tenant-1",
		Source:     "hdfc",
		Scanned:    3,
		Imported:   2,
		Skipped:    1,
		IngestedAt: time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC),
	}

	mt.Run("duplicate is ignored", func(mt *mtest.T) {
		repo := NewAuditRepository(newTestLogger(), mt.DB)
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{Index: 0, Code: 11000, Message: "duplicate key error"}))

		assert.NoError(t, repo.RecordBatch(context.Background(), batch))
	})

	mt.Run("success", func(mt *mtest.T) {
		repo := NewAuditRepository(newTestLogger(), mt.DB)
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		assert.NoError(t, repo.RecordBatch(context.Background(), batch))
	})
}

func TestAuditRepository_ListRuns(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("success", func(mt *mtest.T) {
		repo := NewAuditRepository(newTestLogger(), mt.DB)
		first, second := newRun(), newRun()
		ns := mt.DB.Name() + "." + RunsCollectionName
		mt.AddMockResponses(
			mtest.CreateCursorResponse(1, ns, mtest.FirstBatch, toDoc(t, first)),
			mtest.CreateCursorResponse(0, ns, mtest.NextBatch, toDoc(t, second)),
		)

		runs, err := repo.ListRuns(context.Background(), "tenant-1", 20, 0)
		require.NoError(t, err)
		require.Len(t, runs, 2)
		assert.Equal(t, first.RunID, runs[0].RunID)
		assert.Equal(t, 4, runs[0].Linked)
		assert.Equal(t, shared.StagePairs, runs[0].Pairs)
		assert.Equal(t, second.RunID, runs[1].RunID)
	})

	mt.Run("command error", func(mt *mtest.T) {
		repo := NewAuditRepository(newTestLogger(), mt.DB)
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{Code: 2, Name: "BadValue", Message: "bad sort"}))

		runs, err := repo.ListRuns(context.Background(), "tenant-1", 20, 0)
		assert.Nil(t, runs)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to list reconciliation runs")
	})
}

func TestAuditRepository_CountRuns(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("success", func(mt *mtest.T) {
		repo := NewAuditRepository(newTestLogger(), mt.DB)
		ns := mt.DB.Name() + "." + RunsCollectionName
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, bson.D{{Key: "n", Value: int64(3)}}))

		count, err := repo.CountRuns(context.Background(), "tenant-1")
		require.NoError(t, err)
		assert.Equal(t, int64(3), count)
	})
}

func TestAuditRepository_GetBatch(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	batchID := uuid.New()

	mt.Run("success", func(mt *mtest.T) {
		repo := NewAuditRepository(newTestLogger(), mt.DB)
		batch := &audit.BatchRecord{
			BatchID:  batchID,
			TenantID: "tenant-1",
			Source:   "amazon",
			Scanned:  2,
			Skipped:  2,
			Errors:   []shared.ValidationError{{Row: 2, Field: "amount", Message: "not a decimal"}},
		}
		ns := mt.DB.Name() + "." + BatchesCollectionName
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, toDoc(t, batch)))

		got, err := repo.GetBatch(context.Background(), "tenant-1", batchID)
		require.NoError(t, err)
		assert.Equal(t, batchID, got.BatchID)
		assert.Equal(t, batch.Errors, got.Errors)
	})

	mt.Run("not found", func(mt *mtest.T) {
		repo := NewAuditRepository(newTestLogger(), mt.DB)
		ns := mt.DB.Name() + "." + BatchesCollectionName
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch))

		got, err := repo.GetBatch(context.Background(), "tenant-1", batchID)
		assert.Nil(t, got)
		assert.ErrorIs(t, err, audit.ErrBatchNotFound{BatchID: batchID})
	})
}
