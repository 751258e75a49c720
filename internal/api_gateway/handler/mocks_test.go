package handler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/settlement-reconciler/internal/domain/audit"
	"github.com/settlement-reconciler/internal/domain/reconciliation"
	"github.com/settlement-reconciler/internal/domain/settlement"
	"github.com/settlement-reconciler/internal/domain/shared"
	"github.com/settlement-reconciler/internal/reconciler/service"
)

// PaginatedResponse is a generic version of Response for testing paginated data
type PaginatedResponse[T any] struct {
	Data          []T        `json:"data"`
	Error         *ErrorInfo `json:"error,omitempty"`
	CorrelationID string     `json:"correlation_id,omitempty"`
	Meta          *MetaInfo  `json:"meta,omitempty"`
}

type MockBatchService struct {
	mock.Mock
}

func (m *MockBatchService) Ingest(ctx context.Context, batch *shared.IngestBatchRequest) (*service.IngestResult, error) {
	args := m.Called(ctx, batch)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.IngestResult), args.Error(1)
}

func (m *MockBatchService) Enqueue(ctx context.Context, batch *shared.IngestBatchRequest) (uuid.UUID, error) {
	args := m.Called(ctx, batch)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

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

type MockQueryService struct {
	mock.Mock
}

func (m *MockQueryService) Summarize(ctx context.Context, tenantID string, from, to time.Time) (*reconciliation.Summary, error) {
	args := m.Called(ctx, tenantID, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*reconciliation.Summary), args.Error(1)
}

func (m *MockQueryService) ListEvents(ctx context.Context, tenantID string, query service.EventQuery) (*service.EventPage, error) {
	args := m.Called(ctx, tenantID, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.EventPage), args.Error(1)
}

func (m *MockQueryService) ExportEvents(ctx context.Context, tenantID string, query service.EventQuery) ([]*reconciliation.AnnotatedEvent, error) {
	args := m.Called(ctx, tenantID, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*reconciliation.AnnotatedEvent), args.Error(1)
}

func (m *MockQueryService) LinkHistory(ctx context.Context, tenantID string, eventID uuid.UUID) ([]*reconciliation.Link, error) {
	args := m.Called(ctx, tenantID, eventID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*reconciliation.Link), args.Error(1)
}

func (m *MockQueryService) ListWatermarks(ctx context.Context, tenantID string) ([]*settlement.Watermark, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*settlement.Watermark), args.Error(1)
}

func (m *MockQueryService) ListRuns(ctx context.Context, tenantID string, limit, offset int) ([]*audit.RunRecord, int64, error) {
	args := m.Called(ctx, tenantID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]*audit.RunRecord), args.Get(1).(int64), args.Error(2)
}

func (m *MockQueryService) GetBatch(ctx context.Context, tenantID string, batchID uuid.UUID) (*audit.BatchRecord, error) {
	args := m.Called(ctx, tenantID, batchID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*audit.BatchRecord), args.Error(1)
}

type MockAdminService struct {
	mock.Mock
}

func (m *MockAdminService) LinkManually(ctx context.Context, tenantID string, fromID, toID uuid.UUID) (*reconciliation.Link, error) {
	args := m.Called(ctx, tenantID, fromID, toID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*reconciliation.Link), args.Error(1)
}

func (m *MockAdminService) GetSettings(ctx context.Context, tenantID string) (*reconciliation.Settings, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*reconciliation.Settings), args.Error(1)
}

func (m *MockAdminService) PutSettings(ctx context.Context, settings *reconciliation.Settings) (*reconciliation.Settings, error) {
	args := m.Called(ctx, settings)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*reconciliation.Settings), args.Error(1)
}
