package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/settlement-reconciler/internal/api_gateway/middleware"
	"github.com/settlement-reconciler/internal/domain/shared"
	"github.com/settlement-reconciler/internal/reconciler/service"
)

// ReconciliationHandler handles HTTP requests that run or inspect reconciliation passes
type ReconciliationHandler struct {
	reconciliationService service.ReconciliationService
	queryService          service.QueryService
	logger                *slog.Logger
}

// NewReconciliationHandler creates a new reconciliation handler
func NewReconciliationHandler(logger *slog.Logger, reconciliationService service.ReconciliationService, queryService service.QueryService) *ReconciliationHandler {
	return &ReconciliationHandler{
		reconciliationService: reconciliationService,
		queryService:          queryService,
		logger:                logger,
	}
}

// Create runs both passes synchronously. A pass already running for the tenant is a 409.
func (h *ReconciliationHandler) Create(c *gin.Context) {
	tenantID := c.Param("tenant_id")
	logger := h.logger.With("tenant_id", tenantID, "correlation_id", middleware.GetCorrelationID(c))

	var req ReconcileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Error("Invalid request body", "error", err)
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}
	from, to, err := parseRange(req.From, req.To)
	if err != nil {
		RespondBadRequest(c, "Invalid date, expected YYYY-MM-DD")
		return
	}

	result, err := h.reconciliationService.Reconcile(c.Request.Context(), &service.ReconcileRequest{
		TenantID:      tenantID,
		From:          from,
		To:            to,
		Trigger:       shared.RunTriggerAPI,
		CorrelationID: middleware.GetCorrelationID(c),
	})
	if err != nil {
		respondError(c, logger, "Failed to reconcile", err)
		return
	}
	RespondOK(c, result)
}

// ListRuns pages the audit log of reconciliation runs, newest first
func (h *ReconciliationHandler) ListRuns(c *gin.Context) {
	tenantID := c.Param("tenant_id")
	logger := h.logger.With("tenant_id", tenantID)

	var pagination PaginationParams
	if err := c.ShouldBindQuery(&pagination); err != nil {
		logger.Error("Invalid pagination parameters", "error", err)
		RespondBadRequest(c, "Invalid pagination parameters")
		return
	}

	runs, total, err := h.queryService.ListRuns(c.Request.Context(), tenantID, pagination.PerPage, (pagination.Page-1)*pagination.PerPage)
	if err != nil {
		respondError(c, logger, "Failed to list reconciliation runs", err)
		return
	}
	RespondWithPaginatedData(c, http.StatusOK, runs, pagination.Page, pagination.PerPage, int(total))
}
