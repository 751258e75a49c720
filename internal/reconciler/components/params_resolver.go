package components

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/settlement-reconciler/internal/config"
	"github.com/settlement-reconciler/internal/domain/reconciliation"
	"github.com/settlement-reconciler/internal/reconciler/matcher"
	"github.com/settlement-reconciler/internal/reconciler/service"
)

type SettingsResolverImpl struct {
	settingsRepo reconciliation.SettingsRepository
	defaults     config.MatchingConfig
	logger       *slog.Logger
}

func NewSettingsResolver(settingsRepo reconciliation.SettingsRepository, defaults config.MatchingConfig, logger *slog.Logger) service.ParamsResolver {
	return &SettingsResolverImpl{
		settingsRepo: settingsRepo,
		defaults:     defaults,
		logger:       logger,
	}
}

// Resolve overlays the tenant's stored settings on the configured defaults.
// Minor units are not tenant-configurable.
func (r *SettingsResolverImpl) Resolve(ctx context.Context, tenantID string) (matcher.Params, error) {
	params := matcher.Params{
		LookaheadDays:  r.defaults.LookaheadDays,
		FuzzyTolerance: r.defaults.FuzzyTolerance,
		MinorUnits:     r.defaults.MinorUnits,
	}

	settings, err := r.settingsRepo.Get(ctx, tenantID)
	if err != nil {
		var notFound reconciliation.ErrSettingsNotFound
		if errors.As(err, &notFound) {
			return params, nil
		}
		r.logger.Error("Failed to load tenant settings", "tenant_id", tenantID, "error", err)
		return matcher.Params{}, fmt.Errorf("failed to resolve matcher parameters for tenant %s: %w", tenantID, err)
	}

	params.LookaheadDays = settings.LookaheadDays
	params.FuzzyTolerance = settings.FuzzyTolerance
	return params, nil
}
