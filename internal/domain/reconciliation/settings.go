package reconciliation

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrLookaheadOutOfRange = errors.New("lookahead days must be between 0 and 60")
	ErrNegativeTolerance   = errors.New("fuzzy tolerance must not be negative")
)

// MaxLookaheadDays bounds the candidate window a tenant may configure
const MaxLookaheadDays = 60

// Settings holds a tenant's matcher overrides
type Settings struct {
	TenantID       string          `json:"tenant_id"`
	LookaheadDays  int             `json:"lookahead_days"`
	FuzzyTolerance decimal.Decimal `json:"fuzzy_tolerance"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func (s *Settings) Validate() error {
	if s.LookaheadDays < 0 || s.LookaheadDays > MaxLookaheadDays {
		return ErrLookaheadOutOfRange
	}
	if s.FuzzyTolerance.IsNegative() {
		return ErrNegativeTolerance
	}
	return nil
}

// SettingsRepository persists tenant settings
type SettingsRepository interface {
	Get(ctx context.Context, tenantID string) (*Settings, error)
	Save(ctx context.Context, settings *Settings) error
}

// ErrSettingsNotFound means the tenant runs on configured defaults
type ErrSettingsNotFound struct {
	TenantID string
}

func (e ErrSettingsNotFound) Error() string {
	return "no reconciliation settings for tenant: " + e.TenantID
}
