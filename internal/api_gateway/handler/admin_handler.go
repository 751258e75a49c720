package handler

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/settlement-reconciler/internal/api_gateway/middleware"
	"github.com/settlement-reconciler/internal/domain/reconciliation"
	"github.com/settlement-reconciler/internal/reconciler/service"
)

// AdminHandler handles operator actions: manual links and tenant settings
type AdminHandler struct {
	adminService service.AdminService
	logger       *slog.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(logger *slog.Logger, adminService service.AdminService) *AdminHandler {
	return &AdminHandler{
		adminService: adminService,
		logger:       logger,
	}
}

// CreateLink records a MANUAL link, superseding the from event's current link
func (h *AdminHandler) CreateLink(c *gin.Context) {
	tenantID := c.Param("tenant_id")
	logger := h.logger.With("tenant_id", tenantID, "correlation_id", middleware.GetCorrelationID(c))

	var req CreateLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Error("Invalid request body", "error", err)
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	link, err := h.adminService.LinkManually(c.Request.Context(), tenantID,
		uuid.MustParse(req.FromEventID), uuid.MustParse(req.ToEventID))
	if err != nil {
		respondError(c, logger, "Failed to link events", err)
		return
	}
	RespondCreated(c, link)
}

// GetSettings returns the effective matcher settings of a tenant
func (h *AdminHandler) GetSettings(c *gin.Context) {
	tenantID := c.Param("tenant_id")
	logger := h.logger.With("tenant_id", tenantID)

	settings, err := h.adminService.GetSettings(c.Request.Context(), tenantID)
	if err != nil {
		respondError(c, logger, "Failed to get settings", err)
		return
	}
	RespondOK(c, settings)
}

// PutSettings replaces a tenant's lookahead and tolerance overrides
func (h *AdminHandler) PutSettings(c *gin.Context) {
	tenantID := c.Param("tenant_id")
	logger := h.logger.With("tenant_id", tenantID, "correlation_id", middleware.GetCorrelationID(c))

	var req SettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Error("Invalid request body", "error", err)
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}
	tolerance, err := decimal.NewFromString(req.FuzzyTolerance)
	if err != nil {
		RespondBadRequest(c, "fuzzy_tolerance must be a decimal")
		return
	}

	settings, err := h.adminService.PutSettings(c.Request.Context(), &reconciliation.Settings{
		TenantID:       tenantID,
		LookaheadDays:  *req.LookaheadDays,
		FuzzyTolerance: tolerance,
	})
	if err != nil {
		respondError(c, logger, "Failed to save settings", err)
		return
	}
	RespondOK(c, settings)
}
