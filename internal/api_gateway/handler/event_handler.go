package handler

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/settlement-reconciler/internal/api_gateway/middleware"
	"github.com/settlement-reconciler/internal/domain/shared"
	"github.com/settlement-reconciler/internal/reconciler/export"
	"github.com/settlement-reconciler/internal/reconciler/service"
)

// EventHandler serves the read side: summary, annotated events, exports and link history
type EventHandler struct {
	queryService service.QueryService
	logger       *slog.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler(logger *slog.Logger, queryService service.QueryService) *EventHandler {
	return &EventHandler{
		queryService: queryService,
		logger:       logger,
	}
}

// Summary returns the aggregate chain counts for settlements dated within from..to
func (h *EventHandler) Summary(c *gin.Context) {
	tenantID := c.Param("tenant_id")
	logger := h.logger.With("tenant_id", tenantID, "correlation_id", middleware.GetCorrelationID(c))

	var params RangeParams
	if err := c.ShouldBindQuery(&params); err != nil {
		RespondBadRequest(c, "from and to are required")
		return
	}
	from, to, err := parseRange(params.From, params.To)
	if err != nil {
		RespondBadRequest(c, "Invalid date, expected YYYY-MM-DD")
		return
	}

	summary, err := h.queryService.Summarize(c.Request.Context(), tenantID, from, to)
	if err != nil {
		respondError(c, logger, "Failed to summarize", err)
		return
	}
	RespondOK(c, summary)
}

// List returns one page of annotated events
func (h *EventHandler) List(c *gin.Context) {
	tenantID := c.Param("tenant_id")
	logger := h.logger.With("tenant_id", tenantID, "correlation_id", middleware.GetCorrelationID(c))

	var pagination PaginationParams
	if err := c.ShouldBindQuery(&pagination); err != nil {
		RespondBadRequest(c, "Invalid pagination parameters")
		return
	}
	query, ok := h.bindQuery(c)
	if !ok {
		return
	}
	query.Page = pagination.Page
	query.PerPage = pagination.PerPage

	page, err := h.queryService.ListEvents(c.Request.Context(), tenantID, query)
	if err != nil {
		respondError(c, logger, "Failed to list events", err)
		return
	}
	RespondWithPaginatedData(c, http.StatusOK, page.Items, page.Page, page.PerPage, page.Total)
}

// Export streams every matching annotated event as CSV or XLSX
func (h *EventHandler) Export(c *gin.Context) {
	tenantID := c.Param("tenant_id")
	logger := h.logger.With("tenant_id", tenantID, "correlation_id", middleware.GetCorrelationID(c))

	format, err := export.ParseFormat(c.Query("format"))
	if err != nil {
		RespondBadRequest(c, err.Error())
		return
	}
	query, ok := h.bindQuery(c)
	if !ok {
		return
	}

	events, err := h.queryService.ExportEvents(c.Request.Context(), tenantID, query)
	if err != nil {
		respondError(c, logger, "Failed to export events", err)
		return
	}

	c.Header("Content-Type", format.ContentType())
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, format.Filename(tenantID)))
	c.Status(http.StatusOK)
	if err := export.Write(c.Writer, format, events); err != nil {
		// Headers are already sent; the client sees a truncated file.
		logger.Error("Failed to write export", "format", string(format), "rows", len(events), "error", err)
		return
	}
	logger.Info("Exported events", "format", string(format), "rows", len(events))
}

// LinkHistory returns every link, active or invalidated, touching one event
func (h *EventHandler) LinkHistory(c *gin.Context) {
	tenantID := c.Param("tenant_id")
	logger := h.logger.With("tenant_id", tenantID, "correlation_id", middleware.GetCorrelationID(c))

	idParam := c.Param("id")
	eventID, err := uuid.Parse(idParam)
	if err != nil {
		logger.Error("Invalid event ID", "id", idParam, "error", err)
		RespondBadRequest(c, "Invalid event ID")
		return
	}

	links, err := h.queryService.LinkHistory(c.Request.Context(), tenantID, eventID)
	if err != nil {
		respondError(c, logger, "Failed to get link history", err)
		return
	}
	RespondOK(c, links)
}

// Watermarks lists the per-source sync watermarks of a tenant
func (h *EventHandler) Watermarks(c *gin.Context) {
	tenantID := c.Param("tenant_id")
	logger := h.logger.With("tenant_id", tenantID)

	watermarks, err := h.queryService.ListWatermarks(c.Request.Context(), tenantID)
	if err != nil {
		respondError(c, logger, "Failed to list watermarks", err)
		return
	}
	RespondOK(c, watermarks)
}

// bindQuery reads the event filters; it writes the 400 itself and reports false on failure
func (h *EventHandler) bindQuery(c *gin.Context) (service.EventQuery, bool) {
	var params EventListParams
	if err := c.ShouldBindQuery(&params); err != nil {
		RespondBadRequest(c, "Invalid query parameters")
		return service.EventQuery{}, false
	}
	from, err := parseOptionalDate(params.From)
	if err != nil {
		RespondBadRequest(c, "Invalid from date, expected YYYY-MM-DD")
		return service.EventQuery{}, false
	}
	to, err := parseOptionalDate(params.To)
	if err != nil {
		RespondBadRequest(c, "Invalid to date, expected YYYY-MM-DD")
		return service.EventQuery{}, false
	}
	return service.EventQuery{
		Stage:     shared.Stage(params.Stage),
		Status:    shared.ChainStatus(params.Status),
		Source:    params.Source,
		From:      from,
		To:        to,
		Reference: params.Reference,
		Unlinked:  params.Unlinked,
	}, true
}
