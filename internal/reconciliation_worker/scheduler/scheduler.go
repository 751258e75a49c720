// Package scheduler periodically re-runs reconciliation over a trailing window
// for every tenant that has ingested events, so late arrivals and tolerance
// changes are picked up without an explicit request.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/settlement-reconciler/internal/config"
	"github.com/settlement-reconciler/internal/domain/settlement"
	"github.com/settlement-reconciler/internal/domain/shared"
	"github.com/settlement-reconciler/internal/platform/metrics"
	"github.com/settlement-reconciler/internal/reconciler/service"
)

// Scheduler triggers trailing-window rescans
type Scheduler struct {
	watermarks   settlement.WatermarkRepository
	reconService service.ReconciliationService
	metrics      *metrics.Metrics
	logger       *slog.Logger
	interval     time.Duration
	windowDays   int
	now          func() time.Time
}

func NewScheduler(
	cfg *config.SchedulerConfig,
	watermarks settlement.WatermarkRepository,
	reconService service.ReconciliationService,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		watermarks:   watermarks,
		reconService: reconService,
		metrics:      m,
		logger:       logger.With("component", "scheduler"),
		interval:     cfg.Interval,
		windowDays:   cfg.WindowDays,
		now:          time.Now,
	}
}

// Start runs one rescan immediately and then on every tick until ctx is canceled
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("Starting reconciliation scheduler",
		"interval", s.interval.String(),
		"window_days", s.windowDays,
	)
	if err := s.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("Scheduled rescan failed", "error", err)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopping due to context cancellation.")
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("Scheduled rescan failed", "error", err)
			}
		}
	}
}

// RunOnce reconciles [today-windowDays, today] for every known tenant.
// A tenant whose pair lock is held elsewhere is skipped until the next tick;
// other per-tenant failures are logged and do not stop the sweep.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	tenants, err := s.watermarks.ListTenants(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tenants: %w", err)
	}
	s.metrics.SetScheduledTenants(len(tenants))

	now := s.now().UTC()
	to := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	from := to.AddDate(0, 0, -s.windowDays)
	sweepID := uuid.New().String()

	failed := 0
	for _, tenantID := range tenants {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger := s.logger.With("tenant_id", tenantID, "correlation_id", sweepID)

		result, err := s.reconService.Reconcile(ctx, &service.ReconcileRequest{
			TenantID:      tenantID,
			From:          from,
			To:            to,
			Trigger:       shared.RunTriggerSchedule,
			CorrelationID: sweepID,
		})
		if err != nil {
			if errors.Is(err, shared.ConflictError{}) {
				logger.Info("Skipping tenant, reconciliation already in progress")
				continue
			}
			if errors.Is(err, context.Canceled) {
				return err
			}
			failed++
			logger.Error("Scheduled reconciliation failed", "error", err)
			continue
		}

		logger.Info("Scheduled reconciliation finished",
			"run_id", result.RunID.String(),
			"linked", result.Linked,
			"superseded", result.Superseded,
			"mismatched", result.Mismatched,
			"unresolved", result.Unresolved,
		)
	}

	s.logger.Info("Scheduled sweep complete",
		"tenants", len(tenants),
		"failed", failed,
		"from", from.Format("2006-01-02"),
		"to", to.Format("2006-01-02"),
	)
	return nil
}
