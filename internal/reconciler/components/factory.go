package components

import (
	"fmt"
	"log/slog"

	"github.com/settlement-reconciler/internal/config"
	"github.com/settlement-reconciler/internal/domain/audit"
	"github.com/settlement-reconciler/internal/domain/outbox"
	"github.com/settlement-reconciler/internal/domain/reconciliation"
	"github.com/settlement-reconciler/internal/domain/settlement"
	"github.com/settlement-reconciler/internal/platform/locking"
	"github.com/settlement-reconciler/internal/platform/metrics"
	"github.com/settlement-reconciler/internal/platform/persistence"
	"github.com/settlement-reconciler/internal/reconciler/matcher"
	"github.com/settlement-reconciler/internal/reconciler/service"
)

// Repositories groups the stores the services are built on.
type Repositories struct {
	Events     settlement.Repository
	Watermarks settlement.WatermarkRepository
	Links      reconciliation.LinkRepository
	Exceptions reconciliation.ExceptionRepository
	Settings   reconciliation.SettingsRepository
	Outbox     outbox.Repository
	Audit      audit.Repository
}

// Services is the wired service layer shared by both binaries.
type Services struct {
	Ingestion      service.IngestionService
	Reconciliation service.ReconciliationService
	Query          service.QueryService
	Admin          service.AdminService

	ranker *matcher.Ranker
}

// Shutdown releases the candidate ranking pool.
func (s *Services) Shutdown() {
	if s.ranker != nil {
		s.ranker.Shutdown()
	}
}

// CreateServices creates every service with its components.
func CreateServices(
	db persistence.TxRunner,
	repos Repositories,
	locker locking.Locker,
	m *metrics.Metrics,
	logger *slog.Logger,
	cfg *config.Config,
) (*Services, error) {
	ranker, err := matcher.NewRanker(cfg.WorkerPool.Size, logger.With("component", "ranker"))
	if err != nil {
		return nil, fmt.Errorf("failed to create candidate ranker: %w", err)
	}

	params := NewSettingsResolver(repos.Settings, cfg.Matching, logger)
	validator := NewEventValidator(cfg.Matching.MinorUnits, logger)
	enqueuer := NewJobEnqueuer(repos.Outbox, logger)
	auditor := NewAuditRecorder(repos.Audit, logger)
	committer := NewLinkCommitter(db, repos.Links, repos.Exceptions, logger)

	services := &Services{
		Ingestion: service.NewIngestionService(
			db,
			repos.Events,
			repos.Watermarks,
			validator,
			enqueuer,
			auditor,
			params,
			m,
			logger.With("component", "ingestion"),
		),
		Reconciliation: service.NewReconciliationService(
			repos.Events,
			repos.Links,
			repos.Exceptions,
			ranker,
			committer,
			locker,
			cfg.Matching.LockTimeout,
			params,
			auditor,
			m,
			logger.With("component", "matcher"),
		),
		Query: service.NewQueryService(
			repos.Events,
			repos.Links,
			repos.Exceptions,
			repos.Watermarks,
			repos.Audit,
			params,
			logger.With("component", "query"),
		),
		Admin: service.NewAdminService(
			repos.Events,
			repos.Links,
			repos.Settings,
			committer,
			locker,
			cfg.Matching,
			logger.With("component", "admin"),
		),
		ranker: ranker,
	}

	logger.Info("Created reconciliation services", "pool_size", ranker.Capacity())
	return services, nil
}
