package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/settlement-reconciler/internal/config"
	"github.com/settlement-reconciler/internal/domain/reconciliation"
	"github.com/settlement-reconciler/internal/domain/settlement"
	"github.com/settlement-reconciler/internal/domain/shared"
	"github.com/settlement-reconciler/internal/platform/locking"
	"github.com/settlement-reconciler/internal/reconciler/matcher"
)

var ErrNotAdjacent = errors.New("events are not in adjacent stages")

type AdminServiceImpl struct {
	events      settlement.Repository
	links       reconciliation.LinkRepository
	settings    reconciliation.SettingsRepository
	committer   LinkCommitter
	locker      locking.Locker
	lockTimeout time.Duration
	defaults    config.MatchingConfig
	logger      *slog.Logger
}

func NewAdminService(
	events settlement.Repository,
	links reconciliation.LinkRepository,
	settings reconciliation.SettingsRepository,
	committer LinkCommitter,
	locker locking.Locker,
	defaults config.MatchingConfig,
	logger *slog.Logger,
) AdminService {
	return &AdminServiceImpl{
		events:      events,
		links:       links,
		settings:    settings,
		committer:   committer,
		locker:      locker,
		lockTimeout: defaults.LockTimeout,
		defaults:    defaults,
		logger:      logger,
	}
}

// LinkManually records an operator-chosen MANUAL link from fromID to toID, replacing
// whatever the from event was linked to. The to event must be free. The pair's pass lock
// is held so that the link cannot interleave with a running pass.
func (s *AdminServiceImpl) LinkManually(ctx context.Context, tenantID string, fromID, toID uuid.UUID) (*reconciliation.Link, error) {
	logger := s.logger.With("tenant_id", tenantID, "from_event_id", fromID.String(), "to_event_id", toID.String())

	from, err := s.getEvent(ctx, tenantID, fromID)
	if err != nil {
		return nil, err
	}
	to, err := s.getEvent(ctx, tenantID, toID)
	if err != nil {
		return nil, err
	}
	pair, ok := shared.PairBetween(from.Stage, to.Stage)
	if !ok {
		return nil, ErrNotAdjacent
	}

	lock, err := s.locker.TryLock(ctx, LockKey(tenantID, pair), s.lockTimeout)
	if err != nil {
		if errors.Is(err, locking.ErrNotObtained) {
			return nil, shared.ConflictError{TenantID: tenantID, Pair: pair}
		}
		return nil, shared.NewStorageError("acquire pass lock", err)
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.lockTimeout)
		defer cancel()
		if err := lock.Release(releaseCtx); err != nil {
			logger.Warn("Failed to release pass lock", "error", err)
		}
	}()

	outbound, err := s.links.ListActiveFrom(ctx, tenantID, []uuid.UUID{fromID})
	if err != nil {
		return nil, shared.NewStorageError("load outbound links", err)
	}
	inbound, err := s.links.ListActiveTo(ctx, tenantID, []uuid.UUID{toID})
	if err != nil {
		return nil, shared.NewStorageError("load inbound links", err)
	}

	var current *reconciliation.Link
	for _, l := range outbound {
		if l.Pair == pair {
			current = l
		}
	}
	for _, l := range inbound {
		if l.Pair != pair {
			continue
		}
		if l.FromEventID == fromID {
			if l.Confidence == shared.MatchConfidenceManual {
				logger.Info("Manual link already in place", "link_id", l.ID.String())
				return l, nil
			}
			continue
		}
		return nil, reconciliation.ErrEventAlreadyLinked{EventID: toID}
	}

	decision := matcher.Decision{
		Kind:       matcher.DecisionLink,
		Pair:       pair,
		From:       from,
		To:         to,
		Confidence: shared.MatchConfidenceManual,
	}
	if current != nil {
		decision.Kind = matcher.DecisionSupersede
		decision.Replaces = current
	}

	link, err := s.committer.Commit(ctx, tenantID, decision)
	if err != nil {
		var alreadyLinked reconciliation.ErrEventAlreadyLinked
		if errors.As(err, &alreadyLinked) {
			return nil, err
		}
		return nil, shared.NewStorageError("commit manual link", err)
	}

	logger.Info("Manual link recorded", "link_id", link.ID.String(), "stage_pair", pair, "replaced", current != nil)
	return link, nil
}

func (s *AdminServiceImpl) getEvent(ctx context.Context, tenantID string, id uuid.UUID) (*settlement.Event, error) {
	e, err := s.events.GetByID(ctx, tenantID, id)
	if err != nil {
		if errors.Is(err, settlement.ErrEventNotFound{}) {
			return nil, err
		}
		return nil, shared.NewStorageError("get settlement event", err)
	}
	return e, nil
}

// GetSettings returns the tenant's overrides, or the configured defaults when none are stored.
func (s *AdminServiceImpl) GetSettings(ctx context.Context, tenantID string) (*reconciliation.Settings, error) {
	settings, err := s.settings.Get(ctx, tenantID)
	if err == nil {
		return settings, nil
	}
	var notFound reconciliation.ErrSettingsNotFound
	if errors.As(err, &notFound) {
		return &reconciliation.Settings{
			TenantID:       tenantID,
			LookaheadDays:  s.defaults.LookaheadDays,
			FuzzyTolerance: s.defaults.FuzzyTolerance,
		}, nil
	}
	return nil, shared.NewStorageError("get tenant settings", err)
}

func (s *AdminServiceImpl) PutSettings(ctx context.Context, settings *reconciliation.Settings) (*reconciliation.Settings, error) {
	settings.TenantID = strings.TrimSpace(settings.TenantID)
	if settings.TenantID == "" {
		return nil, ErrMissingTenant
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	settings.UpdatedAt = time.Now().UTC()

	if err := s.settings.Save(ctx, settings); err != nil {
		return nil, shared.NewStorageError("save tenant settings", err)
	}
	s.logger.Info("Tenant settings updated",
		"tenant_id", settings.TenantID,
		"lookahead_days", settings.LookaheadDays,
		"fuzzy_tolerance", settings.FuzzyTolerance.String(),
	)
	return settings, nil
}
