package handler

import (
	"errors"
	"log/slog"

	"github.com/gin-gonic/gin"

	gwservice "github.com/settlement-reconciler/internal/api_gateway/service"
	"github.com/settlement-reconciler/internal/domain/audit"
	"github.com/settlement-reconciler/internal/domain/reconciliation"
	"github.com/settlement-reconciler/internal/domain/settlement"
	"github.com/settlement-reconciler/internal/domain/shared"
	"github.com/settlement-reconciler/internal/reconciler/export"
	"github.com/settlement-reconciler/internal/reconciler/service"
)

var badRequestErrors = []error{
	shared.ErrInvalidStage,
	shared.ErrInvalidStagePair,
	shared.ErrInvalidDateRange,
	settlement.ErrEmptyTenant,
	settlement.ErrEmptySource,
	reconciliation.ErrSelfLink,
	reconciliation.ErrLookaheadOutOfRange,
	reconciliation.ErrNegativeTolerance,
	service.ErrInvalidStatus,
	service.ErrUnlinkedNeedsStage,
	service.ErrMissingTenant,
	service.ErrNotAdjacent,
	export.ErrUnsupportedFormat,
}

// respondError maps a service error onto the response envelope
func respondError(c *gin.Context, logger *slog.Logger, msg string, err error) {
	var conflict shared.ConflictError
	var storage *shared.StorageError

	switch {
	case errors.As(err, &conflict):
		logger.Warn(msg, "error", err)
		RespondConflict(c, err.Error())
	case errors.Is(err, reconciliation.ErrEventAlreadyLinked{}):
		logger.Warn(msg, "error", err)
		RespondConflict(c, err.Error())
	case errors.Is(err, settlement.ErrEventNotFound{}), errors.Is(err, audit.ErrBatchNotFound{}):
		logger.Info(msg, "error", err)
		RespondNotFound(c, err.Error())
	case isBadRequest(err):
		logger.Info(msg, "error", err)
		RespondBadRequest(c, err.Error())
	case errors.Is(err, gwservice.ErrAsyncUnavailable):
		logger.Warn(msg, "error", err)
		RespondServiceUnavailable(c, err.Error())
	case errors.As(err, &storage):
		logger.Error(msg, "error", err)
		RespondServiceUnavailable(c, "Storage temporarily unavailable, retry the request")
	default:
		logger.Error(msg, "error", err)
		RespondInternalError(c)
	}
}

func isBadRequest(err error) bool {
	for _, target := range badRequestErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
