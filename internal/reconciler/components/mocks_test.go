package components

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/mock"

	"github.com/settlement-reconciler/internal/domain/audit"
	"github.com/settlement-reconciler/internal/domain/outbox"
	"github.com/settlement-reconciler/internal/domain/reconciliation"
	"github.com/settlement-reconciler/internal/domain/shared"
)

// MockTxRunner runs the callback with a nil tx unless an error is configured
type MockTxRunner struct {
	mock.Mock
}

func (m *MockTxRunner) ExecuteTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	args := m.Called(ctx)
	if err := args.Error(0); err != nil {
		return err
	}
	return fn(nil)
}

type MockLinkRepo struct {
	mock.Mock
}

func (m *MockLinkRepo) Create(ctx context.Context, link *reconciliation.Link) error {
	args := m.Called(ctx, link)
	return args.Error(0)
}

func (m *MockLinkRepo) GetByID(ctx context.Context, tenantID string, id uuid.UUID) (*reconciliation.Link, error) {
	args := m.Called(ctx, tenantID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*reconciliation.Link), args.Error(1)
}

func (m *MockLinkRepo) Invalidate(ctx context.Context, tenantID string, id uuid.UUID, supersededBy *uuid.UUID, at time.Time) error {
	args := m.Called(ctx, tenantID, id, supersededBy, at)
	return args.Error(0)
}

func (m *MockLinkRepo) ListActiveFrom(ctx context.Context, tenantID string, ids []uuid.UUID) ([]*reconciliation.Link, error) {
	args := m.Called(ctx, tenantID, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*reconciliation.Link), args.Error(1)
}

func (m *MockLinkRepo) ListActiveTo(ctx context.Context, tenantID string, ids []uuid.UUID) ([]*reconciliation.Link, error) {
	args := m.Called(ctx, tenantID, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*reconciliation.Link), args.Error(1)
}

func (m *MockLinkRepo) ListHistory(ctx context.Context, tenantID string, eventID uuid.UUID) ([]*reconciliation.Link, error) {
	args := m.Called(ctx, tenantID, eventID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*reconciliation.Link), args.Error(1)
}

func (m *MockLinkRepo) WithTx(tx pgx.Tx) reconciliation.LinkRepository {
	return m
}

type MockExceptionRepo struct {
	mock.Mock
}

func (m *MockExceptionRepo) ListActive(ctx context.Context, tenantID string, pair shared.StagePair, fromIDs []uuid.UUID) ([]*reconciliation.Exception, error) {
	args := m.Called(ctx, tenantID, pair, fromIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*reconciliation.Exception), args.Error(1)
}

func (m *MockExceptionRepo) Save(ctx context.Context, ex *reconciliation.Exception) error {
	args := m.Called(ctx, ex)
	return args.Error(0)
}

func (m *MockExceptionRepo) Resolve(ctx context.Context, tenantID string, pair shared.StagePair, fromID uuid.UUID, at time.Time) error {
	args := m.Called(ctx, tenantID, pair, fromID, at)
	return args.Error(0)
}

func (m *MockExceptionRepo) WithTx(tx pgx.Tx) reconciliation.ExceptionRepository {
	return m
}

type MockOutboxRepo struct {
	mock.Mock
}

func (m *MockOutboxRepo) Create(ctx context.Context, message *outbox.Message) error {
	args := m.Called(ctx, message)
	return args.Error(0)
}

func (m *MockOutboxRepo) GetPending(ctx context.Context, limit int) ([]*outbox.Message, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*outbox.Message), args.Error(1)
}

func (m *MockOutboxRepo) UpdateStatus(ctx context.Context, id int64, status shared.OutboxStatus) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

func (m *MockOutboxRepo) IncrementAttempts(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockOutboxRepo) PurgeProcessed(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockOutboxRepo) WithTx(tx pgx.Tx) outbox.Repository {
	args := m.Called(tx)
	return args.Get(0).(outbox.Repository)
}

type MockAuditRepo struct {
	mock.Mock
}

func (m *MockAuditRepo) RecordRun(ctx context.Context, run *audit.RunRecord) error {
	args := m.Called(ctx, run)
	return args.Error(0)
}

func (m *MockAuditRepo) RecordBatch(ctx context.Context, batch *audit.BatchRecord) error {
	args := m.Called(ctx, batch)
	return args.Error(0)
}

func (m *MockAuditRepo) ListRuns(ctx context.Context, tenantID string, limit, offset int) ([]*audit.RunRecord, error) {
	args := m.Called(ctx, tenantID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*audit.RunRecord), args.Error(1)
}

func (m *MockAuditRepo) CountRuns(ctx context.Context, tenantID string) (int64, error) {
	args := m.Called(ctx, tenantID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockAuditRepo) GetBatch(ctx context.Context, tenantID string, batchID uuid.UUID) (*audit.BatchRecord, error) {
	args := m.Called(ctx, tenantID, batchID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*audit.BatchRecord), args.Error(1)
}

type MockSettingsRepo struct {
	mock.Mock
}

func (m *MockSettingsRepo) Get(ctx context.Context, tenantID string) (*reconciliation.Settings, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*reconciliation.Settings), args.Error(1)
}

func (m *MockSettingsRepo) Save(ctx context.Context, settings *reconciliation.Settings) error {
	args := m.Called(ctx, settings)
	return args.Error(0)
}
