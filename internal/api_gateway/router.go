package api_gateway

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/settlement-reconciler/internal/api_gateway/handler"
	"github.com/settlement-reconciler/internal/api_gateway/middleware"
	"github.com/settlement-reconciler/internal/platform/metrics"
	"github.com/settlement-reconciler/internal/platform/tracing"
)

const healthCheckTimeout = 2 * time.Second

// HealthCheck probes one dependency; a non-nil error marks the service degraded
type HealthCheck func(ctx context.Context) error

type handlers struct {
	ingestion      *handler.IngestionHandler
	reconciliation *handler.ReconciliationHandler
	events         *handler.EventHandler
	admin          *handler.AdminHandler
}

// setupRouter configures API routes and middleware for the application
func setupRouter(
	logger *slog.Logger,
	r *gin.Engine,
	serviceName string,
	h handlers,
	registry *prometheus.Registry,
	m *metrics.Metrics,
	checks map[string]HealthCheck,
) {
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.CorrelationID())
	r.Use(tracing.Middleware(serviceName))
	r.Use(middleware.Metrics(m))
	r.Use(middleware.Logger(logger))

	// API v1 endpoints
	v1 := r.Group("/api/v1")
	{
		tenant := v1.Group("/tenants/:tenant_id")
		{
			tenant.POST("/ingestion-batches", h.ingestion.Create)
			tenant.GET("/ingestion-batches/:batch_id", h.ingestion.GetByID)

			tenant.POST("/reconciliations", h.reconciliation.Create)
			tenant.GET("/reconciliation-runs", h.reconciliation.ListRuns)

			tenant.GET("/summary", h.events.Summary)
			tenant.GET("/events", h.events.List)
			tenant.GET("/events/export", h.events.Export)
			tenant.GET("/events/:id/links", h.events.LinkHistory)
			tenant.GET("/watermarks", h.events.Watermarks)

			tenant.POST("/links", h.admin.CreateLink)
			tenant.GET("/settings", h.admin.GetSettings)
			tenant.PUT("/settings", h.admin.PutSettings)
		}
	}

	if registry != nil {
		r.GET("/metrics", gin.WrapH(metrics.Handler(registry)))
	}

	// Health check endpoint for monitoring
	r.GET("/health", healthHandler(checks))
}

func healthHandler(checks map[string]HealthCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				results[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}

		overall := "ok"
		if status != http.StatusOK {
			overall = "degraded"
		}
		c.JSON(status, gin.H{"status": overall, "checks": results, "timestamp": time.Now().UTC()})
	}
}
