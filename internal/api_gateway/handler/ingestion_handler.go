package handler

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/settlement-reconciler/internal/api_gateway/middleware"
	gwservice "github.com/settlement-reconciler/internal/api_gateway/service"
	"github.com/settlement-reconciler/internal/domain/shared"
	"github.com/settlement-reconciler/internal/reconciler/service"
)

// IngestionHandler handles HTTP requests for adapter batches
type IngestionHandler struct {
	batchService gwservice.BatchService
	queryService service.QueryService
	logger       *slog.Logger
}

// NewIngestionHandler creates a new ingestion handler
func NewIngestionHandler(logger *slog.Logger, batchService gwservice.BatchService, queryService service.QueryService) *IngestionHandler {
	return &IngestionHandler{
		batchService: batchService,
		queryService: queryService,
		logger:       logger,
	}
}

// Create ingests a batch. With ?async=true the batch is queued for the worker and the
// response is 202 with the batch id; otherwise the per-row result is returned.
func (h *IngestionHandler) Create(c *gin.Context) {
	tenantID := c.Param("tenant_id")
	logger := h.logger.With("tenant_id", tenantID, "correlation_id", middleware.GetCorrelationID(c))

	var req IngestBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Error("Invalid request body", "error", err)
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	async, err := strconv.ParseBool(c.DefaultQuery("async", "false"))
	if err != nil {
		RespondBadRequest(c, "Invalid async flag")
		return
	}

	batch := &shared.IngestBatchRequest{
		TenantID:      tenantID,
		Source:        req.Source,
		Events:        req.Events,
		CorrelationID: middleware.GetCorrelationID(c),
		Timestamp:     time.Now().UTC(),
	}
	if req.BatchID != "" {
		batch.BatchID = uuid.MustParse(req.BatchID)
	}

	if async {
		batchID, err := h.batchService.Enqueue(c.Request.Context(), batch)
		if err != nil {
			respondError(c, logger, "Failed to enqueue ingestion batch", err)
			return
		}
		RespondAccepted(c, IngestAcceptedResponse{
			BatchID: batchID.String(),
			Status:  "QUEUED",
			Rows:    len(req.Events),
		})
		return
	}

	result, err := h.batchService.Ingest(c.Request.Context(), batch)
	if err != nil {
		respondError(c, logger, "Failed to ingest batch", err)
		return
	}
	RespondOK(c, result)
}

// GetByID returns the audit record of an ingested batch
func (h *IngestionHandler) GetByID(c *gin.Context) {
	tenantID := c.Param("tenant_id")
	logger := h.logger.With("tenant_id", tenantID, "correlation_id", middleware.GetCorrelationID(c))

	idParam := c.Param("batch_id")
	batchID, err := uuid.Parse(idParam)
	if err != nil {
		logger.Error("Invalid batch ID", "batch_id", idParam, "error", err)
		RespondBadRequest(c, "Invalid batch ID")
		return
	}

	batch, err := h.queryService.GetBatch(c.Request.Context(), tenantID, batchID)
	if err != nil {
		respondError(c, logger, "Failed to get ingestion batch", err)
		return
	}
	RespondOK(c, batch)
}
