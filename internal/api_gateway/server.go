package api_gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/settlement-reconciler/internal/api_gateway/handler"
	gwservice "github.com/settlement-reconciler/internal/api_gateway/service"
	"github.com/settlement-reconciler/internal/config"
	"github.com/settlement-reconciler/internal/platform/metrics"
	"github.com/settlement-reconciler/internal/reconciler/service"
)

// Dependencies are the services and observability hooks the HTTP layer is built from
type Dependencies struct {
	Batches        gwservice.BatchService
	Reconciliation service.ReconciliationService
	Query          service.QueryService
	Admin          service.AdminService
	Registry       *prometheus.Registry
	Metrics        *metrics.Metrics
	HealthChecks   map[string]HealthCheck
}

// Server handles HTTP requests and manages the application's lifecycle
type Server struct {
	logger     *slog.Logger // For structured logging
	httpServer *http.Server // Underlying HTTP server
	httpRouter *gin.Engine  // Gin router instance
}

// NewServer creates and configures a new HTTP server with the given services
func NewServer(log *slog.Logger, cfg *config.Config, deps Dependencies) *Server {
	if cfg.Application.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	httpRouter := gin.New()

	h := handlers{
		ingestion:      handler.NewIngestionHandler(log, deps.Batches, deps.Query),
		reconciliation: handler.NewReconciliationHandler(log, deps.Reconciliation, deps.Query),
		events:         handler.NewEventHandler(log, deps.Query),
		admin:          handler.NewAdminHandler(log, deps.Admin),
	}

	setupRouter(log, httpRouter, cfg.Application.Name, h, deps.Registry, deps.Metrics, deps.HealthChecks)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpRouter,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return &Server{
		logger:     log,
		httpServer: httpServer,
		httpRouter: httpRouter,
	}
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.httpRouter
}

// Start begins listening for HTTP requests
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the HTTP server, waiting at most until ctx expires
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping HTTP server")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to stop HTTP server: %w", err)
	}
	return nil
}
