package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/settlement-reconciler/internal/domain/reconciliation"
	"github.com/settlement-reconciler/internal/platform/persistence"
	"github.com/shopspring/decimal"
)

// SettingsRepository implements reconciliation.SettingsRepository for PostgreSQL
type SettingsRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewSettingsRepository creates a new PostgreSQL tenant settings repository
func NewSettingsRepository(logger *slog.Logger, db *persistence.PostgresDB) reconciliation.SettingsRepository {
	return &SettingsRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// Get returns the tenant's overrides or ErrSettingsNotFound.
func (r *SettingsRepository) Get(ctx context.Context, tenantID string) (*reconciliation.Settings, error) {
	query := `
		SELECT tenant_id, lookahead_days, fuzzy_tolerance::text, updated_at
		FROM tenant_reconciliation_settings
		WHERE tenant_id = $1
	`

	var (
		settings  reconciliation.Settings
		tolerance string
	)
	err := r.querier.QueryRow(ctx, query, tenantID).Scan(
		&settings.TenantID,
		&settings.LookaheadDays,
		&tolerance,
		&settings.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, reconciliation.ErrSettingsNotFound{TenantID: tenantID}
		}
		r.logger.Error("Failed to get tenant settings", "tenant_id", tenantID, "error", err)
		return nil, fmt.Errorf("failed to get tenant settings: %w", err)
	}

	settings.FuzzyTolerance, err = decimal.NewFromString(tolerance)
	if err != nil {
		return nil, fmt.Errorf("invalid stored fuzzy tolerance %q: %w", tolerance, err)
	}

	return &settings, nil
}

// Save upserts the tenant's overrides.
func (r *SettingsRepository) Save(ctx context.Context, settings *reconciliation.Settings) error {
	query := `
		INSERT INTO tenant_reconciliation_settings (tenant_id, lookahead_days, fuzzy_tolerance, updated_at)
		VALUES ($1, $2, $3::numeric, $4)
		ON CONFLICT (tenant_id) DO UPDATE
		SET lookahead_days = EXCLUDED.lookahead_days,
			fuzzy_tolerance = EXCLUDED.fuzzy_tolerance,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.querier.Exec(ctx, query,
		settings.TenantID,
		settings.LookaheadDays,
		settings.FuzzyTolerance.String(),
		settings.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to save tenant settings", "tenant_id", settings.TenantID, "error", err)
		return fmt.Errorf("failed to save tenant settings: %w", err)
	}

	return nil
}
