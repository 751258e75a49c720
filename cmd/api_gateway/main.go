package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/settlement-reconciler/internal/api_gateway"
	gwservice "github.com/settlement-reconciler/internal/api_gateway/service"
	"github.com/settlement-reconciler/internal/config"
	"github.com/settlement-reconciler/internal/data/mongo"
	"github.com/settlement-reconciler/internal/data/postgres"
	"github.com/settlement-reconciler/internal/logger"
	"github.com/settlement-reconciler/internal/platform/locking"
	"github.com/settlement-reconciler/internal/platform/messaging/producers"
	"github.com/settlement-reconciler/internal/platform/metrics"
	"github.com/settlement-reconciler/internal/platform/persistence"
	"github.com/settlement-reconciler/internal/platform/tracing"
	"github.com/settlement-reconciler/internal/reconciler/components"
)

func main() {
	// Create base context with cancellation
	appCtx, cancelAppCtx := context.WithCancel(context.Background())
	defer cancelAppCtx()

	// Initialize configuration
	cfg, err := config.LoadConfig("api_gateway")
	if err != nil {
		// logger is not initialized yet, so we use fmt
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.NewLogger(cfg)

	shutdownTracer, err := tracing.InitTracer(appCtx, cfg.Application.Name, cfg.Application.Env, cfg.Tracing)
	if err != nil {
		log.Error("Failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	registry := metrics.NewRegistry()
	m := metrics.NewMetrics(registry)

	// Initialize databases with app context
	postgresDB, err := persistence.NewPostgresDB(appCtx, log, &cfg.Postgres)
	if err != nil {
		log.Error("Failed to initialize PostgreSQL", "error", err)
		os.Exit(1)
	}

	mongoDB, err := persistence.NewMongoDB(appCtx, log, &cfg.MongoDB)
	if err != nil {
		log.Error("Failed to initialize MongoDB", "error", err)
		os.Exit(1)
	}

	auditRepo := mongo.NewAuditRepository(log, mongoDB.Database())
	if err := auditRepo.EnsureIndexes(appCtx); err != nil {
		log.Error("Failed to create audit indexes", "error", err)
		os.Exit(1)
	}

	locker, closeLocker, err := locking.NewFromConfig(appCtx, log, cfg, postgresDB.Pool())
	if err != nil {
		log.Error("Failed to initialize reconciliation locker", "error", err)
		os.Exit(1)
	}

	repos := components.Repositories{
		Events:     postgres.NewEventRepository(log, postgresDB),
		Watermarks: postgres.NewWatermarkRepository(log, postgresDB),
		Links:      postgres.NewLinkRepository(log, postgresDB),
		Exceptions: postgres.NewExceptionRepository(log, postgresDB),
		Settings:   postgres.NewSettingsRepository(log, postgresDB),
		Outbox:     postgres.NewOutboxRepository(log, postgresDB),
		Audit:      auditRepo,
	}

	services, err := components.CreateServices(postgresDB, repos, locker, m, log, cfg)
	if err != nil {
		log.Error("Failed to create services", "error", err)
		os.Exit(1)
	}

	// The batch producer is optional: without Kafka the gateway still ingests synchronously
	var batchPublisher producers.MessagePublisher
	batchProducer, err := producers.NewTopicProducer(appCtx, log, &cfg.Kafka, cfg.Kafka.BatchTopic)
	if err != nil {
		log.Warn("Kafka batch producer unavailable, async ingestion disabled", "error", err)
	} else {
		batchPublisher = batchProducer
	}

	// Initialize REST server
	server := api_gateway.NewServer(log, cfg, api_gateway.Dependencies{
		Batches:        gwservice.NewBatchService(log, services.Ingestion, batchPublisher),
		Reconciliation: services.Reconciliation,
		Query:          services.Query,
		Admin:          services.Admin,
		Registry:       registry,
		Metrics:        m,
		HealthChecks: map[string]api_gateway.HealthCheck{
			"postgres": postgresDB.Ping,
			"mongodb":  mongoDB.Ping,
		},
	})
	log.Info("REST server initialized")

	// Create error channel for server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		log.Info("Starting HTTP server", "port", cfg.Server.Port)
		if err := server.Start(); err != nil {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// Set up signal handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	// Wait for a shutdown signal or error
	var serverErr error
	select {
	case <-quit:
		log.Info("Shutdown signal received")
	case err := <-errChan:
		log.Error("Server error occurred", "error", err)
		serverErr = err
	}

	// Cancel the application context
	cancelAppCtx()

	// Create a shutdown context with timeout
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()

	// Graceful shutdown sequence
	log.Info("Starting graceful shutdown...")

	// Drain in-flight requests before closing what they depend on
	if err = server.Stop(shutdownCtx); err != nil {
		log.Error("Error during server shutdown", "error", err)
	}

	services.Shutdown()

	if batchProducer != nil {
		if err = batchProducer.Close(); err != nil {
			log.Error("Error closing Kafka producer", "error", err)
		}
	}

	if err = closeLocker(); err != nil {
		log.Error("Error closing lock backend", "error", err)
	}

	postgresDB.Close()

	if err = mongoDB.Close(shutdownCtx); err != nil {
		log.Error("Error closing MongoDB connection", "error", err)
	}

	if err = shutdownTracer(shutdownCtx); err != nil {
		log.Error("Error shutting down tracer", "error", err)
	}

	// Final status
	if serverErr != nil {
		log.Error("HTTP server shutdown with errors", "error", serverErr)
	}
	if err != nil {
		log.Error("Server shutdown completed with errors")
	} else {
		log.Info("Server shutdown completed successfully")
	}
}
