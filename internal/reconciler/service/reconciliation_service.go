package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/settlement-reconciler/internal/domain/audit"
	"github.com/settlement-reconciler/internal/domain/reconciliation"
	"github.com/settlement-reconciler/internal/domain/settlement"
	"github.com/settlement-reconciler/internal/domain/shared"
	"github.com/settlement-reconciler/internal/platform/locking"
	"github.com/settlement-reconciler/internal/platform/metrics"
	"github.com/settlement-reconciler/internal/platform/tracing"
	"github.com/settlement-reconciler/internal/reconciler/matcher"
)

type ReconciliationServiceImpl struct {
	events      settlement.Repository
	links       reconciliation.LinkRepository
	exceptions  reconciliation.ExceptionRepository
	ranker      CandidateRanker
	committer   LinkCommitter
	locker      locking.Locker
	lockTimeout time.Duration
	params      ParamsResolver
	auditor     AuditRecorder
	metrics     *metrics.Metrics
	tracer      trace.Tracer
	logger      *slog.Logger
}

func NewReconciliationService(
	events settlement.Repository,
	links reconciliation.LinkRepository,
	exceptions reconciliation.ExceptionRepository,
	ranker CandidateRanker,
	committer LinkCommitter,
	locker locking.Locker,
	lockTimeout time.Duration,
	params ParamsResolver,
	auditor AuditRecorder,
	m *metrics.Metrics,
	logger *slog.Logger,
) ReconciliationService {
	return &ReconciliationServiceImpl{
		events:      events,
		links:       links,
		exceptions:  exceptions,
		ranker:      ranker,
		committer:   committer,
		locker:      locker,
		lockTimeout: lockTimeout,
		params:      params,
		auditor:     auditor,
		metrics:     m,
		tracer:      tracing.Tracer("reconciler/matcher"),
		logger:      logger,
	}
}

// LockKey names the lock serializing passes of one pair for one tenant
func LockKey(tenantID string, pair shared.StagePair) string {
	return fmt.Sprintf("recon:%s:%s", tenantID, pair)
}

// Reconcile runs pass A over settlements dated in [From, To], then pass B over the
// intermediary transfers those settlements can reach: [From, To + lookahead].
func (s *ReconciliationServiceImpl) Reconcile(ctx context.Context, request *ReconcileRequest) (*ReconcileResult, error) {
	if err := validateRange(request.From, request.To); err != nil {
		return nil, err
	}
	from, to := settlement.TruncateDay(request.From), settlement.TruncateDay(request.To)

	run := s.startRun(request.TenantID, request.Trigger, request.CorrelationID, from, to)
	result := &ReconcileResult{RunID: run.RunID}

	params, err := s.params.Resolve(ctx, request.TenantID)
	if err != nil {
		s.finishRun(ctx, run, result, err)
		return nil, err
	}

	for _, pair := range shared.StagePairs {
		passTo := to
		if pair == shared.PairIntermediaryToBank {
			passTo = to.AddDate(0, 0, params.LookaheadDays)
		}
		pass, err := s.runPass(ctx, request.TenantID, pair, from, passTo, params, request.CorrelationID)
		if pass != nil {
			result.add(pass)
		}
		if err != nil {
			s.finishRun(ctx, run, result, err)
			return nil, err
		}
	}

	s.finishRun(ctx, run, result, nil)
	return result, nil
}

// ReconcilePair runs the single pass an incremental job asks for.
func (s *ReconciliationServiceImpl) ReconcilePair(ctx context.Context, job *shared.ReconcileJob) (*PassResult, error) {
	if !job.Pair.IsValid() {
		return nil, shared.ErrInvalidStagePair
	}
	if err := validateRange(job.From, job.To); err != nil {
		return nil, err
	}
	from, to := settlement.TruncateDay(job.From), settlement.TruncateDay(job.To)

	trigger := job.Trigger
	if trigger == "" {
		trigger = shared.RunTriggerIngestion
	}
	run := s.startRun(job.TenantID, trigger, job.CorrelationID, from, to)
	result := &ReconcileResult{RunID: run.RunID}

	params, err := s.params.Resolve(ctx, job.TenantID)
	if err != nil {
		s.finishRun(ctx, run, result, err)
		return nil, err
	}

	pass, err := s.runPass(ctx, job.TenantID, job.Pair, from, to, params, job.CorrelationID)
	if pass != nil {
		result.add(pass)
	}
	s.finishRun(ctx, run, result, err)
	if err != nil {
		return nil, err
	}
	return pass, nil
}

// runPass holds the (tenant, pair) lock for the duration of one pass. On error the partial
// result of what was already committed is returned alongside it.
func (s *ReconciliationServiceImpl) runPass(ctx context.Context, tenantID string, pair shared.StagePair, from, to time.Time,
	params matcher.Params, correlationID string) (*PassResult, error) {
	logger := s.logger.With("tenant_id", tenantID, "stage_pair", string(pair))
	if correlationID != "" {
		logger = logger.With("correlation_id", correlationID)
	}

	ctx, span := s.tracer.Start(ctx, "ReconcilePass", trace.WithAttributes(
		attribute.String("tenant_id", tenantID),
		attribute.String("stage_pair", string(pair)),
		attribute.String("from", from.Format(settlement.DateLayout)),
		attribute.String("to", to.Format(settlement.DateLayout)),
	))
	defer span.End()

	lock, err := s.locker.TryLock(ctx, LockKey(tenantID, pair), s.lockTimeout)
	if err != nil {
		if errors.Is(err, locking.ErrNotObtained) {
			s.metrics.ObserveLockConflict(string(pair))
			logger.Warn("Reconciliation already in progress")
			span.SetStatus(codes.Error, "lock not obtained")
			return nil, shared.ConflictError{TenantID: tenantID, Pair: pair}
		}
		span.RecordError(err)
		return nil, shared.NewStorageError("acquire reconciliation lock", err)
	}
	defer func() {
		// The pass may have been cancelled; release on a fresh context.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.lockTimeout)
		defer cancel()
		if err := lock.Release(releaseCtx); err != nil {
			logger.Error("Failed to release reconciliation lock", "error", err)
		}
	}()

	passCtx, unbind := locking.Bind(ctx, lock)
	defer unbind()

	started := time.Now()
	result, err := s.pass(passCtx, logger, tenantID, pair, from, to, params)
	s.metrics.ObservePass(string(pair), time.Since(started))
	if err != nil && ctx.Err() == nil && errors.Is(context.Cause(passCtx), locking.ErrLockLost) {
		writes := 0
		if result != nil {
			writes = result.Writes
		}
		logger.Error("Reconciliation lock lost mid-pass, stopping", "writes", writes)
		err = shared.NewStorageError("hold reconciliation lock", locking.ErrLockLost)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return result, err
	}
	span.SetAttributes(
		attribute.Int("linked", result.Linked),
		attribute.Int("superseded", result.Superseded),
		attribute.Int("writes", result.Writes),
	)
	return result, nil
}

func (s *ReconciliationServiceImpl) pass(ctx context.Context, logger *slog.Logger, tenantID string, pair shared.StagePair,
	from, to time.Time, params matcher.Params) (*PassResult, error) {
	snap, err := s.loadSnapshot(ctx, tenantID, pair, from, to, params)
	if err != nil {
		return nil, err
	}

	rankings, err := s.ranker.RankAll(ctx, snap.From, matcher.NewIndex(snap.To), params)
	if err != nil {
		return nil, err
	}
	decisions := matcher.Plan(snap, rankings)

	result := &PassResult{Pair: pair, From: from, To: to}
	for _, d := range decisions {
		if err := ctx.Err(); err != nil {
			logger.Warn("Reconciliation pass cancelled, committed decisions are kept", "writes", result.Writes)
			return result, err
		}

		if d.Writes() {
			if _, err := s.committer.Commit(ctx, tenantID, d); err != nil {
				if errors.Is(err, reconciliation.ErrEventAlreadyLinked{}) || errors.Is(err, reconciliation.ErrLinkNotFound{}) {
					// A manual link landed after the snapshot was taken; the next pass sees it.
					logger.Warn("Skipping decision invalidated by a concurrent link",
						"from_event_id", d.From.ID.String(),
						"decision", d.Kind.String(),
						"error", err,
					)
					continue
				}
				logger.Error("Failed to commit reconciliation decision",
					"from_event_id", d.From.ID.String(),
					"decision", d.Kind.String(),
					"error", err,
				)
				return result, shared.NewStorageError("commit reconciliation decision", err)
			}
			result.Writes++
			s.metrics.ObserveDecision(string(pair), d.Kind.String())
		}

		switch d.Kind {
		case matcher.DecisionLink:
			result.Linked++
		case matcher.DecisionSupersede:
			result.Superseded++
		case matcher.DecisionAmbiguous:
			result.Mismatched++
			if d.Writes() {
				logger.Info("Left event unlinked",
					"error", reconciliation.NewAmbiguityException(tenantID, pair, d.From.ID, d.Candidates).Err())
			}
		case matcher.DecisionUnresolved:
			result.Unresolved++
		}
	}

	logger.Info("Reconciliation pass finished",
		"from", from.Format(settlement.DateLayout),
		"to", to.Format(settlement.DateLayout),
		"from_events", len(snap.From),
		"to_events", len(snap.To),
		"linked", result.Linked,
		"superseded", result.Superseded,
		"mismatched", result.Mismatched,
		"unresolved", result.Unresolved,
		"writes", result.Writes,
	)
	return result, nil
}

// loadSnapshot reads from-events in range, to-events in [from, to + lookahead] and every
// active link of the pair touching either set.
func (s *ReconciliationServiceImpl) loadSnapshot(ctx context.Context, tenantID string, pair shared.StagePair,
	from, to time.Time, params matcher.Params) (matcher.Snapshot, error) {
	fromStage, toStage := pair.Stages()
	snap := matcher.Snapshot{TenantID: tenantID, Pair: pair}

	froms, err := s.events.ListByStageAndRange(ctx, tenantID, fromStage, from, to)
	if err != nil {
		return snap, shared.NewStorageError("load from events", err)
	}
	tos, err := s.events.ListByStageAndRange(ctx, tenantID, toStage, from, to.AddDate(0, 0, params.LookaheadDays))
	if err != nil {
		return snap, shared.NewStorageError("load to events", err)
	}

	outbound, err := s.links.ListActiveFrom(ctx, tenantID, eventIDs(froms))
	if err != nil {
		return snap, shared.NewStorageError("load outbound links", err)
	}
	inbound, err := s.links.ListActiveTo(ctx, tenantID, eventIDs(tos))
	if err != nil {
		return snap, shared.NewStorageError("load inbound links", err)
	}

	seen := make(map[uuid.UUID]bool, len(outbound)+len(inbound))
	for _, l := range append(outbound, inbound...) {
		if l.Pair != pair || seen[l.ID] {
			continue
		}
		seen[l.ID] = true
		snap.Links = append(snap.Links, l)
	}

	exceptions, err := s.exceptions.ListActive(ctx, tenantID, pair, eventIDs(froms))
	if err != nil {
		return snap, shared.NewStorageError("load exceptions", err)
	}

	snap.From, snap.To, snap.Exceptions = froms, tos, exceptions
	return snap, nil
}

func (s *ReconciliationServiceImpl) startRun(tenantID string, trigger shared.RunTrigger, correlationID string, from, to time.Time) *audit.RunRecord {
	return &audit.RunRecord{
		RunID:         uuid.New(),
		TenantID:      tenantID,
		Trigger:       trigger,
		From:          from,
		To:            to,
		CorrelationID: correlationID,
		StartedAt:     time.Now().UTC(),
	}
}

func (s *ReconciliationServiceImpl) finishRun(ctx context.Context, run *audit.RunRecord, result *ReconcileResult, err error) {
	run.FinishedAt = time.Now().UTC()
	run.DurationMs = run.FinishedAt.Sub(run.StartedAt).Milliseconds()
	for _, p := range result.Passes {
		run.Pairs = append(run.Pairs, p.Pair)
	}
	run.Linked = result.Linked
	run.Superseded = result.Superseded
	run.Mismatched = result.Mismatched
	run.Unresolved = result.Unresolved

	outcome := "success"
	switch {
	case err == nil:
	case errors.Is(err, shared.ConflictError{}):
		outcome = "conflict"
	default:
		outcome = "error"
	}
	if err != nil {
		run.Error = err.Error()
	}
	s.metrics.ObserveRun(string(run.Trigger), outcome)
	s.auditor.RecordRun(context.WithoutCancel(ctx), run)
}

func eventIDs(events []*settlement.Event) []uuid.UUID {
	ids := make([]uuid.UUID, len(events))
	for i, e := range events {
		ids[i] = e.ID
	}
	return ids
}
