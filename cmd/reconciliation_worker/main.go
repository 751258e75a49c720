package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/settlement-reconciler/internal/config"
	"github.com/settlement-reconciler/internal/data/mongo"
	"github.com/settlement-reconciler/internal/data/postgres"
	"github.com/settlement-reconciler/internal/logger"
	"github.com/settlement-reconciler/internal/platform/locking"
	"github.com/settlement-reconciler/internal/platform/messaging/consumers"
	"github.com/settlement-reconciler/internal/platform/messaging/producers"
	"github.com/settlement-reconciler/internal/platform/metrics"
	"github.com/settlement-reconciler/internal/platform/persistence"
	"github.com/settlement-reconciler/internal/platform/tracing"
	"github.com/settlement-reconciler/internal/reconciler/components"
	"github.com/settlement-reconciler/internal/reconciliation_worker/consumer"
	"github.com/settlement-reconciler/internal/reconciliation_worker/outbox_poller"
	"github.com/settlement-reconciler/internal/reconciliation_worker/scheduler"
)

var consumerRetry = consumers.RetryPolicy{
	Attempts: 3,
	Backoff:  500 * time.Millisecond,
}

func main() {
	// Create base context with cancellation
	appCtx, cancelAppCtx := context.WithCancel(context.Background())
	defer cancelAppCtx()

	// Initialize configuration
	cfg, err := config.LoadConfig("reconciliation_worker")
	if err != nil {
		// logger is not initialized yet, so we use fmt
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.NewLogger(cfg)

	log.Info("Starting Reconciliation Worker",
		"app_name", cfg.Application.Name,
		"env", cfg.Application.Env,
	)

	shutdownTracer, err := tracing.InitTracer(appCtx, cfg.Application.Name+"-worker", cfg.Application.Env, cfg.Tracing)
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

	// Initialize repositories
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

	// Producer used by the outbox poller to publish reconcile jobs
	jobProducer, err := producers.NewTopicProducer(appCtx, log, &cfg.Kafka, cfg.Kafka.ReconcileTopic)
	if err != nil {
		log.Error("Failed to initialize reconcile job producer", "error", err)
		os.Exit(1)
	}

	if err := producers.EnsureTopic(appCtx, log, &cfg.Kafka, cfg.Kafka.BatchTopic); err != nil {
		log.Error("Failed to ensure batch topic", "error", err)
		os.Exit(1)
	}

	// Initialize Kafka DLQ producer
	dlqProducer, err := producers.NewDLQProducer(appCtx, log, &cfg.Kafka)
	if err != nil {
		log.Error("Failed to initialize DLQ Kafka producer", "error", err)
		os.Exit(1)
	}
	// A nil *DLQProducer must not reach the consumers as a non-nil interface
	var dlqSink consumers.DeadLetterSink
	if dlqProducer != nil {
		dlqSink = dlqProducer
	}

	jobConsumer := consumers.NewKafkaConsumer(log, &cfg.Kafka, cfg.Kafka.ReconcileTopic, consumerRetry, dlqSink)
	batchConsumer := consumers.NewKafkaConsumer(log, &cfg.Kafka, cfg.Kafka.BatchTopic, consumerRetry, dlqSink)

	jobHandler := consumer.NewJobHandler(log, services.Reconciliation, m, cfg.Kafka.ReconcileTopic)
	batchHandler := consumer.NewBatchHandler(log, services.Ingestion, m, cfg.Kafka.BatchTopic)

	// Initialize outbox poller
	jobPublisher := outbox_poller.NewJobPublisher(repos.Outbox, jobProducer, m, log)
	poller := outbox_poller.NewPoller(&cfg.Outbox, repos.Outbox, jobPublisher, m, log)

	metricsServer := newMetricsServer(cfg, registry, postgresDB, mongoDB)

	// Create error channel for service errors
	errChan := make(chan error, 3)

	// Create wait group for graceful shutdown
	var wg sync.WaitGroup

	log.Info("Starting Kafka consumers",
		"reconcile_topic", cfg.Kafka.ReconcileTopic,
		"batch_topic", cfg.Kafka.BatchTopic,
		"group", cfg.Kafka.ConsumerGroup,
	)
	if err := jobConsumer.Subscribe(appCtx, jobHandler.HandleMessage); err != nil {
		errChan <- fmt.Errorf("reconcile job consumer error: %w", err)
	}
	if err := batchConsumer.Subscribe(appCtx, batchHandler.HandleMessage); err != nil {
		errChan <- fmt.Errorf("batch consumer error: %w", err)
	}

	// Start outbox poller in a goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()
		poller.Start(appCtx)
	}()

	if cfg.Scheduler.Enabled {
		sched := scheduler.NewScheduler(&cfg.Scheduler, repos.Watermarks, services.Reconciliation, m, log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			sched.Start(appCtx)
		}()
	} else {
		log.Info("Trailing-window scheduler disabled")
	}

	go func() {
		log.Info("Starting metrics server", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("metrics server error: %w", err)
		}
	}()

	// Set up signal handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	// Wait for a shutdown signal or error
	var serviceErr error
	select {
	case <-quit:
		log.Info("Shutdown signal received")
	case err := <-errChan:
		log.Error("Service error occurred", "error", err)
		serviceErr = err
	}

	// Cancel the application context
	cancelAppCtx()

	// Create a shutdown context with timeout
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()

	// Graceful shutdown sequence
	log.Info("Starting graceful shutdown...")

	// Wait for all goroutines to finish
	log.Info("Waiting for services to stop...")
	wgChan := make(chan struct{})
	go func() {
		wg.Wait()
		close(wgChan)
	}()

	select {
	case <-wgChan:
		log.Info("All services stopped successfully")
	case <-shutdownCtx.Done():
		log.Warn("Shutdown timeout reached, forcing exit")
	}

	if err = metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down metrics server", "error", err)
	}

	// Close Kafka consumers
	if err = jobConsumer.Close(); err != nil {
		log.Error("Error closing reconcile job consumer", "error", err)
	}
	if err = batchConsumer.Close(); err != nil {
		log.Error("Error closing batch consumer", "error", err)
	}

	services.Shutdown()

	if err = jobProducer.Close(); err != nil {
		log.Error("Error closing reconcile job producer", "error", err)
	}

	// Close DLQ Kafka producer
	if dlqProducer != nil {
		if err = dlqProducer.Close(); err != nil {
			log.Error("Error closing DLQ Kafka producer", "error", err)
		}
	}

	if err = closeLocker(); err != nil {
		log.Error("Error closing lock backend", "error", err)
	}

	// Shutdown postgres connection pool
	postgresDB.Close()

	// Close MongoDB connection
	if err = mongoDB.Close(shutdownCtx); err != nil {
		log.Error("Error closing MongoDB connection", "error", err)
	}

	if err = shutdownTracer(shutdownCtx); err != nil {
		log.Error("Error shutting down tracer", "error", err)
	}

	// Final status
	if serviceErr != nil {
		log.Error("Reconciliation Worker shutdown with errors", "error", serviceErr)
	}
	if err != nil {
		log.Error("Reconciliation Worker shutdown completed with errors")
	} else {
		log.Info("Reconciliation Worker shutdown completed successfully")
	}
}
