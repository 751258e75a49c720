package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/settlement-reconciler/internal/domain/reconciliation"
	"github.com/settlement-reconciler/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExceptionRepository_ListActive(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &ExceptionRepository{querier: mock, logger: newTestLogger()}
	pair := shared.PairSettlementToIntermediary
	ex := reconciliation.NewAmbiguityException("tenant-1", pair, uuid.New(), []uuid.UUID{uuid.New(), uuid.New()})
	fromIDs := []uuid.UUID{ex.FromEventID}
	query := regexp.QuoteMeta("WHERE tenant_id = $1 AND stage_pair = $2 AND resolved_at IS NULL AND from_event_id = ANY($3)")

	t.Run("success", func(t *testing.T) {
		rows := pgxmock.NewRows([]string{"id", "tenant_id", "stage_pair", "from_event_id", "reason", "candidate_ids", "created_at", "resolved_at"}).
			AddRow(ex.ID, ex.TenantID, ex.Pair, ex.FromEventID, ex.Reason, ex.CandidateIDs, ex.CreatedAt, ex.ResolvedAt)
		mock.ExpectQuery(query).WithArgs("tenant-1", pair, fromIDs).WillReturnRows(rows)

		got, err := repo.ListActive(ctx, "tenant-1", pair, fromIDs)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, ex, got[0])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("db error", func(t *testing.T) {
		dbErr := errors.New("db error")
		mock.ExpectQuery(query).WithArgs("tenant-1", pair, fromIDs).WillReturnError(dbErr)

		got, err := repo.ListActive(ctx, "tenant-1", pair, fromIDs)
		assert.Nil(t, got)
		assert.Contains(t, err.Error(), "failed to list reconciliation exceptions")
		assert.ErrorIs(t, err, dbErr)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no ids", func(t *testing.T) {
		got, err := repo.ListActive(ctx, "tenant-1", pair, nil)
		assert.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestExceptionRepository_Save(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &ExceptionRepository{querier: mock, logger: newTestLogger()}
	ex := reconciliation.NewAmbiguityException("tenant-1", shared.PairIntermediaryToBank, uuid.New(), []uuid.UUID{uuid.New(), uuid.New()})
	query := regexp.QuoteMeta("ON CONFLICT (stage_pair, from_event_id) WHERE resolved_at IS NULL")
	args := []interface{}{ex.ID, ex.TenantID, ex.Pair, ex.FromEventID, ex.Reason, ex.CandidateIDs, ex.CreatedAt}

	t.Run("success", func(t *testing.T) {
		mock.ExpectExec(query).WithArgs(args...).WillReturnResult(pgxmock.NewResult("INSERT", 1))

		assert.NoError(t, repo.Save(ctx, ex))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("db error", func(t *testing.T) {
		dbErr := errors.New("db error")
		mock.ExpectExec(query).WithArgs(args...).WillReturnError(dbErr)

		err := repo.Save(ctx, ex)
		assert.Contains(t, err.Error(), "failed to save reconciliation exception")
		assert.ErrorIs(t, err, dbErr)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestExceptionRepository_Resolve(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &ExceptionRepository{querier: mock, logger: newTestLogger()}
	fromID := uuid.New()
	at := time.Date(2024, 3, 7, 0, 0, 0, 0, time.UTC)
	query := regexp.QuoteMeta("UPDATE reconciliation_exceptions SET resolved_at = $1")

	t.Run("nothing open is not an error", func(t *testing.T) {
		mock.ExpectExec(query).
			WithArgs(at, "tenant-1", shared.PairSettlementToIntermediary, fromID).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		assert.NoError(t, repo.Resolve(ctx, "tenant-1", shared.PairSettlementToIntermediary, fromID, at))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("db error", func(t *testing.T) {
		dbErr := errors.New("db error")
		mock.ExpectExec(query).
			WithArgs(at, "tenant-1", shared.PairSettlementToIntermediary, fromID).
			WillReturnError(dbErr)

		err := repo.Resolve(ctx, "tenant-1", shared.PairSettlementToIntermediary, fromID, at)
		assert.ErrorIs(t, err, dbErr)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
