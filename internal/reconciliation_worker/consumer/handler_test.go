package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/settlement-reconciler/internal/domain/settlement"
	"github.com/settlement-reconciler/internal/domain/shared"
	"github.com/settlement-reconciler/internal/platform/messaging/consumers"
	"github.com/settlement-reconciler/internal/platform/metrics"
	"github.com/settlement-reconciler/internal/reconciler/service"
)

type MockReconciliationService struct {
	mock.Mock
}

func (m *MockReconciliationService) Reconcile(ctx context.Context, request *service.ReconcileRequest) (*service.ReconcileResult, error) {
	args := m.Called(ctx, request)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.ReconcileResult), args.Error(1)
}

func (m *MockReconciliationService) ReconcilePair(ctx context.Context, job *shared.ReconcileJob) (*service.PassResult, error) {
	args := m.Called(ctx, job)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.PassResult), args.Error(1)
}

type MockIngestionService struct {
	mock.Mock
}

func (m *MockIngestionService) IngestBatch(ctx context.Context, request *service.IngestRequest) (*service.IngestResult, error) {
	args := m.Called(ctx, request)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.IngestResult), args.Error(1)
}

const (
	jobTopic   = "reconciliation_requests"
	batchTopic = "settlement_event_batches"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

func jobMessage(t *testing.T) (*shared.ReconcileJob, []byte) {
	t.Helper()
	job := &shared.ReconcileJob{
		JobID:         uuid.New(),
		TenantID:      "tenant-1",
		Pair:          shared.PairSettlementToIntermediary,
		From:          time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		To:            time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC),
		Trigger:       shared.RunTriggerIngestion,
		BatchID:       uuid.New(),
		CorrelationID: "corr-1",
		Timestamp:     time.Now().UTC(),
	}
	value, err := json.Marshal(job)
	require.NoError(t, err)
	return job, value
}

func TestJobHandler_HandleMessage(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		m := metrics.NewMetrics(metrics.NewRegistry())
		svc := new(MockReconciliationService)
		handler := NewJobHandler(testLogger(), svc, m, jobTopic)
		job, value := jobMessage(t)

		svc.On("ReconcilePair", mock.Anything, mock.MatchedBy(func(j *shared.ReconcileJob) bool {
			return j.JobID == job.JobID && j.Pair == job.Pair && j.From.Equal(job.From) && j.To.Equal(job.To)
		})).Return(&service.PassResult{Pair: job.Pair, Linked: 2}, nil)

		err := handler.HandleMessage(context.Background(), []byte("tenant-1"), value)
		assert.NoError(t, err)
		assert.Equal(t, 1.0, testutil.ToFloat64(m.JobsConsumed.WithLabelValues(jobTopic, "ok")))
		svc.AssertExpectations(t)
	})

	t.Run("UndecodableIsPermanent", func(t *testing.T) {
		svc := new(MockReconciliationService)
		handler := NewJobHandler(testLogger(), svc, nil, jobTopic)

		err := handler.HandleMessage(context.Background(), []byte("k"), []byte("{not json"))
		require.Error(t, err)
		assert.ErrorIs(t, err, consumers.ErrPermanent)
		svc.AssertNotCalled(t, "ReconcilePair", mock.Anything, mock.Anything)
	})

	t.Run("InvalidPairIsPermanent", func(t *testing.T) {
		svc := new(MockReconciliationService)
		handler := NewJobHandler(testLogger(), svc, nil, jobTopic)
		_, value := jobMessage(t)
		svc.On("ReconcilePair", mock.Anything, mock.Anything).Return(nil, shared.ErrInvalidStagePair)

		err := handler.HandleMessage(context.Background(), nil, value)
		assert.ErrorIs(t, err, consumers.ErrPermanent)
	})

	t.Run("ConflictIsRetried", func(t *testing.T) {
		m := metrics.NewMetrics(metrics.NewRegistry())
		svc := new(MockReconciliationService)
		handler := NewJobHandler(testLogger(), svc, m, jobTopic)
		_, value := jobMessage(t)
		svc.On("ReconcilePair", mock.Anything, mock.Anything).
			Return(nil, shared.ConflictError{TenantID: "tenant-1", Pair: shared.PairSettlementToIntermediary})

		err := handler.HandleMessage(context.Background(), nil, value)
		require.Error(t, err)
		assert.NotErrorIs(t, err, consumers.ErrPermanent)
		assert.ErrorIs(t, err, shared.ConflictError{})
		assert.Equal(t, 1.0, testutil.ToFloat64(m.JobsConsumed.WithLabelValues(jobTopic, "conflict")))
	})

	t.Run("StorageFailureIsRetried", func(t *testing.T) {
		svc := new(MockReconciliationService)
		handler := NewJobHandler(testLogger(), svc, nil, jobTopic)
		_, value := jobMessage(t)
		svc.On("ReconcilePair", mock.Anything, mock.Anything).
			Return(nil, shared.NewStorageError("list events", errors.New("timeout")))

		err := handler.HandleMessage(context.Background(), nil, value)
		require.Error(t, err)
		assert.NotErrorIs(t, err, consumers.ErrPermanent)
	})
}

func TestBatchHandler_HandleMessage(t *testing.T) {
	batch := &shared.IngestBatchRequest{
		BatchID:  uuid.New(),
		TenantID: "tenant-1",
		Source:   "hdfc",
		Events: []shared.NormalizedEvent{
			{Stage: string(shared.StageBankCredit), EventDate: "2024-03-02", Amount: "999.00", ReferenceNo: "UTR9"},
		},
		CorrelationID: "corr-2",
	}
	value, err := json.Marshal(batch)
	require.NoError(t, err)

	t.Run("Success", func(t *testing.T) {
		svc := new(MockIngestionService)
		handler := NewBatchHandler(testLogger(), svc, nil, batchTopic)
		svc.On("IngestBatch", mock.Anything, mock.MatchedBy(func(r *service.IngestRequest) bool {
			return r.BatchID == batch.BatchID && r.TenantID == "tenant-1" && r.Source == "hdfc" && len(r.Events) == 1
		})).Return(&service.IngestResult{BatchID: batch.BatchID, Scanned: 1, Imported: 1}, nil)

		assert.NoError(t, handler.HandleMessage(context.Background(), []byte("tenant-1"), value))
		svc.AssertExpectations(t)
	})

	t.Run("UndecodableIsPermanent", func(t *testing.T) {
		handler := NewBatchHandler(testLogger(), new(MockIngestionService), nil, batchTopic)

		err := handler.HandleMessage(context.Background(), nil, []byte(`{"events": 5}`))
		assert.ErrorIs(t, err, consumers.ErrPermanent)
	})

	t.Run("MissingSourceIsPermanent", func(t *testing.T) {
		svc := new(MockIngestionService)
		handler := NewBatchHandler(testLogger(), svc, nil, batchTopic)
		svc.On("IngestBatch", mock.Anything, mock.Anything).Return(nil, settlement.ErrEmptySource)

		err := handler.HandleMessage(context.Background(), nil, value)
		assert.ErrorIs(t, err, consumers.ErrPermanent)
	})

	t.Run("StorageFailureIsRetried", func(t *testing.T) {
		svc := new(MockIngestionService)
		handler := NewBatchHandler(testLogger(), svc, nil, batchTopic)
		svc.On("IngestBatch", mock.Anything, mock.Anything).
			Return(nil, shared.NewStorageError("insert events", errors.New("connection refused")))

		err := handler.HandleMessage(context.Background(), nil, value)
		require.Error(t, err)
		assert.NotErrorIs(t, err, consumers.ErrPermanent)
	})
}
