package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/settlement-reconciler/internal/domain/audit"
	"github.com/settlement-reconciler/internal/domain/settlement"
	"github.com/settlement-reconciler/internal/domain/shared"
	"github.com/settlement-reconciler/internal/platform/metrics"
	"github.com/settlement-reconciler/internal/platform/persistence"
	"github.com/settlement-reconciler/internal/platform/tracing"
)

type IngestionServiceImpl struct {
	db         persistence.TxRunner
	events     settlement.Repository
	watermarks settlement.WatermarkRepository
	validator  EventValidator
	enqueuer   JobEnqueuer
	auditor    AuditRecorder
	params     ParamsResolver
	metrics    *metrics.Metrics
	tracer     trace.Tracer
	logger     *slog.Logger
}

func NewIngestionService(
	db persistence.TxRunner,
	events settlement.Repository,
	watermarks settlement.WatermarkRepository,
	validator EventValidator,
	enqueuer JobEnqueuer,
	auditor AuditRecorder,
	params ParamsResolver,
	m *metrics.Metrics,
	logger *slog.Logger,
) IngestionService {
	return &IngestionServiceImpl{
		db:         db,
		events:     events,
		watermarks: watermarks,
		validator:  validator,
		enqueuer:   enqueuer,
		auditor:    auditor,
		params:     params,
		metrics:    m,
		tracer:     tracing.Tracer("reconciler/ingestion"),
		logger:     logger,
	}
}

// IngestBatch validates every row, stores the new ones and enqueues incremental jobs for the
// date span they cover. Rows already stored are counted as skipped; invalid rows are reported
// and never abort the batch. Events, watermark and outbox rows commit in one transaction.
func (s *IngestionServiceImpl) IngestBatch(ctx context.Context, request *IngestRequest) (*IngestResult, error) {
	logger := s.logger
	if request.CorrelationID != "" {
		logger = s.logger.With("correlation_id", request.CorrelationID)
	}
	if strings.TrimSpace(request.TenantID) == "" {
		return nil, settlement.ErrEmptyTenant
	}
	if strings.TrimSpace(request.Source) == "" {
		return nil, settlement.ErrEmptySource
	}

	ctx, span := s.tracer.Start(ctx, "IngestBatch", trace.WithAttributes(
		attribute.String("tenant_id", request.TenantID),
		attribute.String("source", request.Source),
		attribute.Int("rows", len(request.Events)),
	))
	defer span.End()

	params, err := s.params.Resolve(ctx, request.TenantID)
	if err != nil {
		return nil, err
	}

	batchID := request.BatchID
	if batchID == uuid.Nil {
		batchID = uuid.New()
	}
	result := &IngestResult{
		BatchID: batchID,
		Scanned: len(request.Events),
		Errors:  []shared.ValidationError{},
	}

	var valid []*settlement.Event
	for i := range request.Events {
		event, errs := s.validator.Validate(ctx, request.TenantID, request.Source, i+1, &request.Events[i], result.BatchID)
		if len(errs) > 0 {
			result.Errors = append(result.Errors, errs...)
			continue
		}
		valid = append(valid, event)
	}

	spans := newSpanTracker()
	now := time.Now().UTC()
	err = s.db.ExecuteTx(ctx, func(tx pgx.Tx) error {
		eventsTx := s.events.WithTx(tx)
		for _, event := range valid {
			_, wasNew, err := eventsTx.Upsert(ctx, event)
			if err != nil {
				return shared.NewStorageError("upsert settlement event", err)
			}
			if !wasNew {
				result.Skipped++
				spans.skipped[event.Stage]++
				continue
			}
			result.Imported++
			spans.add(event.Stage, event.EventDate)
		}

		if err := s.watermarks.WithTx(tx).Touch(ctx, request.TenantID, request.Source, result.BatchID, result.Imported, now); err != nil {
			return shared.NewStorageError("touch ingestion watermark", err)
		}

		if result.Imported == 0 {
			result.Jobs = nil
			return nil
		}
		result.Jobs = spans.jobs(request.TenantID, result.BatchID, request.CorrelationID, params.LookaheadDays, now)
		if err := s.enqueuer.Enqueue(ctx, tx, result.Jobs); err != nil {
			return shared.NewStorageError("enqueue reconciliation jobs", err)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		logger.Error("Failed to ingest batch",
			"tenant_id", request.TenantID,
			"source", request.Source,
			"batch_id", result.BatchID.String(),
			"error", err,
		)
		return nil, err
	}

	for _, stage := range shared.Stages {
		s.metrics.ObserveIngested(string(stage), "imported", spans.counts[stage])
		s.metrics.ObserveIngested(string(stage), "skipped", spans.skipped[stage])
	}
	s.metrics.ObserveIngested("UNKNOWN", "invalid", len(result.Errors))

	s.auditor.RecordBatch(ctx, &audit.BatchRecord{
		BatchID:       result.BatchID,
		TenantID:      request.TenantID,
		Source:        request.Source,
		Scanned:       result.Scanned,
		Imported:      result.Imported,
		Skipped:       result.Skipped,
		Errors:        result.Errors,
		CorrelationID: request.CorrelationID,
		IngestedAt:    now,
	})

	logger.Info("Ingested settlement batch",
		"tenant_id", request.TenantID,
		"source", request.Source,
		"batch_id", result.BatchID.String(),
		"scanned", result.Scanned,
		"imported", result.Imported,
		"skipped", result.Skipped,
		"invalid", len(result.Errors),
		"jobs", len(result.Jobs),
	)
	return result, nil
}

// spanTracker records the date span of newly imported events per stage
type spanTracker struct {
	min     map[shared.Stage]time.Time
	max     map[shared.Stage]time.Time
	counts  map[shared.Stage]int
	skipped map[shared.Stage]int
}

func newSpanTracker() *spanTracker {
	return &spanTracker{
		min:     map[shared.Stage]time.Time{},
		max:     map[shared.Stage]time.Time{},
		counts:  map[shared.Stage]int{},
		skipped: map[shared.Stage]int{},
	}
}

func (t *spanTracker) add(stage shared.Stage, date time.Time) {
	if lo, ok := t.min[stage]; !ok || date.Before(lo) {
		t.min[stage] = date
	}
	if hi, ok := t.max[stage]; !ok || date.After(hi) {
		t.max[stage] = date
	}
	t.counts[stage]++
}

// jobs returns one job per affected pair. The range is expressed in from-event dates: new
// upstream events are covered directly, new downstream events widen the range back by the
// lookahead so every from-event that could claim them is revisited.
func (t *spanTracker) jobs(tenantID string, batchID uuid.UUID, correlationID string, lookahead int, now time.Time) []*shared.ReconcileJob {
	var out []*shared.ReconcileJob
	for _, pair := range shared.StagePairs {
		fromStage, toStage := pair.Stages()
		var from, to time.Time
		if lo, ok := t.min[fromStage]; ok {
			from, to = lo, t.max[fromStage]
		}
		if lo, ok := t.min[toStage]; ok {
			start := lo.AddDate(0, 0, -lookahead)
			if from.IsZero() || start.Before(from) {
				from = start
			}
			if to.IsZero() || t.max[toStage].After(to) {
				to = t.max[toStage]
			}
		}
		if from.IsZero() {
			continue
		}
		out = append(out, &shared.ReconcileJob{
			JobID:         uuid.New(),
			TenantID:      tenantID,
			Pair:          pair,
			From:          from,
			To:            to,
			Trigger:       shared.RunTriggerIngestion,
			BatchID:       batchID,
			CorrelationID: correlationID,
			Timestamp:     now,
		})
	}
	return out
}
