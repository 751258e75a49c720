package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/settlement-reconciler/internal/domain/audit"
	"github.com/settlement-reconciler/internal/domain/reconciliation"
	"github.com/settlement-reconciler/internal/domain/settlement"
	"github.com/settlement-reconciler/internal/domain/shared"
)

type QueryServiceImpl struct {
	events     settlement.Repository
	links      reconciliation.LinkRepository
	watermarks settlement.WatermarkRepository
	runs       audit.Repository
	params     ParamsResolver
	annotator  *annotator
	logger     *slog.Logger
}

func NewQueryService(
	events settlement.Repository,
	links reconciliation.LinkRepository,
	exceptions reconciliation.ExceptionRepository,
	watermarks settlement.WatermarkRepository,
	runs audit.Repository,
	params ParamsResolver,
	logger *slog.Logger,
) QueryService {
	return &QueryServiceImpl{
		events:     events,
		links:      links,
		watermarks: watermarks,
		runs:       runs,
		params:     params,
		annotator:  &annotator{events: events, links: links, exceptions: exceptions},
		logger:     logger,
	}
}

// Summarize counts settlements dated in [from, to] by chain state.
func (s *QueryServiceImpl) Summarize(ctx context.Context, tenantID string, from, to time.Time) (*reconciliation.Summary, error) {
	if err := validateRange(from, to); err != nil {
		return nil, err
	}
	params, err := s.params.Resolve(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	settlements, err := s.events.ListByStageAndRange(ctx, tenantID, shared.StageMarketplaceSettlement,
		settlement.TruncateDay(from), settlement.TruncateDay(to))
	if err != nil {
		return nil, shared.NewStorageError("list settlements", err)
	}

	state, err := s.annotator.load(ctx, tenantID, settlements)
	if err != nil {
		return nil, err
	}
	chains := make([]reconciliation.Chain, len(settlements))
	for i, e := range settlements {
		chains[i] = state.chain(e)
	}

	summary := reconciliation.Summarize(chains, params.FuzzyTolerance)
	return &summary, nil
}

// ListEvents annotates every event matching the query and returns the requested page.
// The status filter applies to derived state, so it is evaluated after annotation.
func (s *QueryServiceImpl) ListEvents(ctx context.Context, tenantID string, query EventQuery) (*EventPage, error) {
	query = query.normalize()
	annotated, err := s.annotated(ctx, tenantID, query)
	if err != nil {
		return nil, err
	}

	page := &EventPage{
		Items:   []*reconciliation.AnnotatedEvent{},
		Total:   len(annotated),
		Page:    query.Page,
		PerPage: query.PerPage,
	}
	start := (query.Page - 1) * query.PerPage
	if start < len(annotated) {
		end := min(start+query.PerPage, len(annotated))
		page.Items = annotated[start:end]
	}
	return page, nil
}

// ExportEvents returns every event matching the query, unpaged.
func (s *QueryServiceImpl) ExportEvents(ctx context.Context, tenantID string, query EventQuery) ([]*reconciliation.AnnotatedEvent, error) {
	return s.annotated(ctx, tenantID, query)
}

// listEvents loads the filtered events. The unlinked listing is narrowed by the store first
// and the remaining filters are applied in memory.
func (s *QueryServiceImpl) listEvents(ctx context.Context, tenantID string, unlinked bool, filter settlement.EventFilter) ([]*settlement.Event, error) {
	if !unlinked {
		events, err := s.events.List(ctx, tenantID, filter)
		if err != nil {
			return nil, shared.NewStorageError("list settlement events", err)
		}
		return events, nil
	}

	events, err := s.events.ListUnlinked(ctx, tenantID, filter.Stage)
	if err != nil {
		return nil, shared.NewStorageError("list unlinked settlement events", err)
	}
	matching := events[:0]
	for _, e := range events {
		if filter.Matches(e) {
			matching = append(matching, e)
		}
	}
	return matching, nil
}

func (s *QueryServiceImpl) annotated(ctx context.Context, tenantID string, query EventQuery) ([]*reconciliation.AnnotatedEvent, error) {
	if query.Stage != "" && !query.Stage.IsValid() {
		return nil, shared.ErrInvalidStage
	}
	if query.Status != "" && !query.Status.IsValid() {
		return nil, ErrInvalidStatus
	}
	if query.Unlinked && query.Stage == "" {
		return nil, ErrUnlinkedNeedsStage
	}
	if !query.From.IsZero() && !query.To.IsZero() && query.From.After(query.To) {
		return nil, shared.ErrInvalidDateRange
	}

	params, err := s.params.Resolve(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	filter := settlement.EventFilter{
		Stage:     query.Stage,
		Source:    strings.TrimSpace(query.Source),
		Reference: strings.TrimSpace(query.Reference),
	}
	if !query.From.IsZero() {
		filter.From = settlement.TruncateDay(query.From)
	}
	if !query.To.IsZero() {
		filter.To = settlement.TruncateDay(query.To)
	}

	events, err := s.listEvents(ctx, tenantID, query.Unlinked, filter)
	if err != nil {
		return nil, err
	}
	state, err := s.annotator.load(ctx, tenantID, events)
	if err != nil {
		return nil, err
	}

	out := make([]*reconciliation.AnnotatedEvent, 0, len(events))
	for _, e := range events {
		a := state.annotate(e, params.FuzzyTolerance)
		if query.Status != "" && a.Status != query.Status {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// LinkHistory returns every link, active or superseded, that ever touched the event.
func (s *QueryServiceImpl) LinkHistory(ctx context.Context, tenantID string, eventID uuid.UUID) ([]*reconciliation.Link, error) {
	if _, err := s.events.GetByID(ctx, tenantID, eventID); err != nil {
		if errors.Is(err, settlement.ErrEventNotFound{}) {
			return nil, err
		}
		return nil, shared.NewStorageError("get settlement event", err)
	}
	links, err := s.links.ListHistory(ctx, tenantID, eventID)
	if err != nil {
		return nil, shared.NewStorageError("list link history", err)
	}
	if links == nil {
		links = []*reconciliation.Link{}
	}
	return links, nil
}

func (s *QueryServiceImpl) ListWatermarks(ctx context.Context, tenantID string) ([]*settlement.Watermark, error) {
	watermarks, err := s.watermarks.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, shared.NewStorageError("list watermarks", err)
	}
	if watermarks == nil {
		watermarks = []*settlement.Watermark{}
	}
	return watermarks, nil
}

// ListRuns pages the audit log of reconciliation runs, newest first.
func (s *QueryServiceImpl) ListRuns(ctx context.Context, tenantID string, limit, offset int) ([]*audit.RunRecord, int64, error) {
	if limit < 1 {
		limit = DefaultPerPage
	}
	if limit > MaxPerPage {
		limit = MaxPerPage
	}
	offset = max(offset, 0)

	total, err := s.runs.CountRuns(ctx, tenantID)
	if err != nil {
		return nil, 0, shared.NewStorageError("count reconciliation runs", err)
	}
	runs, err := s.runs.ListRuns(ctx, tenantID, limit, offset)
	if err != nil {
		return nil, 0, shared.NewStorageError("list reconciliation runs", err)
	}
	if runs == nil {
		runs = []*audit.RunRecord{}
	}
	return runs, total, nil
}

// GetBatch returns the audit record of one ingestion batch. Asynchronous submissions
// are visible here once the worker has ingested them.
func (s *QueryServiceImpl) GetBatch(ctx context.Context, tenantID string, batchID uuid.UUID) (*audit.BatchRecord, error) {
	batch, err := s.runs.GetBatch(ctx, tenantID, batchID)
	if err != nil {
		if errors.Is(err, audit.ErrBatchNotFound{BatchID: batchID}) {
			return nil, err
		}
		return nil, shared.NewStorageError("get ingestion batch", err)
	}
	return batch, nil
}
