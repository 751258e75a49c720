package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/settlement-reconciler/internal/domain/audit"
	"github.com/settlement-reconciler/internal/domain/reconciliation"
	"github.com/settlement-reconciler/internal/domain/settlement"
	"github.com/settlement-reconciler/internal/domain/shared"
	"github.com/settlement-reconciler/internal/platform/locking"
	"github.com/settlement-reconciler/internal/reconciler/matcher"
)

// store is an in-memory stand-in for the postgres schema, shared by all fakes of one test
type store struct {
	mu         sync.Mutex
	events     map[uuid.UUID]*settlement.Event
	dedup      map[string]*settlement.Event
	links      []*reconciliation.Link
	exceptions []*reconciliation.Exception
	watermarks map[string]*settlement.Watermark
	jobs       []*shared.ReconcileJob
	runs       []*audit.RunRecord
	batches    []*audit.BatchRecord
	settings   map[string]*reconciliation.Settings
}

func newStore() *store {
	return &store{
		events:     map[uuid.UUID]*settlement.Event{},
		dedup:      map[string]*settlement.Event{},
		watermarks: map[string]*settlement.Watermark{},
		settings:   map[string]*reconciliation.Settings{},
	}
}

func (s *store) activeLinks(pair shared.StagePair) []*reconciliation.Link {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*reconciliation.Link
	for _, l := range s.links {
		if l.Active && l.Pair == pair {
			out = append(out, l)
		}
	}
	return out
}

func (s *store) openExceptions() []*reconciliation.Exception {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*reconciliation.Exception
	for _, ex := range s.exceptions {
		if ex.ResolvedAt == nil {
			out = append(out, ex)
		}
	}
	return out
}

type fakeEvents struct{ s *store }

func (f *fakeEvents) Upsert(_ context.Context, e *settlement.Event) (*settlement.Event, bool, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	key := e.TenantID + "/" + e.DedupKey
	if existing, ok := f.s.dedup[key]; ok {
		return existing, false, nil
	}
	f.s.dedup[key] = e
	f.s.events[e.ID] = e
	return e, true, nil
}

func (f *fakeEvents) GetByID(_ context.Context, tenantID string, id uuid.UUID) (*settlement.Event, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	e, ok := f.s.events[id]
	if !ok || e.TenantID != tenantID {
		return nil, settlement.ErrEventNotFound{EventID: id}
	}
	return e, nil
}

func (f *fakeEvents) GetByIDs(_ context.Context, tenantID string, ids []uuid.UUID) ([]*settlement.Event, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var out []*settlement.Event
	for _, id := range ids {
		if e, ok := f.s.events[id]; ok && e.TenantID == tenantID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeEvents) ListByStageAndRange(ctx context.Context, tenantID string, stage shared.Stage, from, to time.Time) ([]*settlement.Event, error) {
	return f.List(ctx, tenantID, settlement.EventFilter{Stage: stage, From: from, To: to})
}

func (f *fakeEvents) ListUnlinked(_ context.Context, tenantID string, stage shared.Stage) ([]*settlement.Event, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	linked := map[uuid.UUID]bool{}
	for _, l := range f.s.links {
		if !l.Active {
			continue
		}
		if stage == shared.StageBankCredit {
			linked[l.ToEventID] = true
		} else {
			linked[l.FromEventID] = true
		}
	}
	var out []*settlement.Event
	for _, e := range f.s.events {
		if e.TenantID == tenantID && e.Stage == stage && !linked[e.ID] {
			out = append(out, e)
		}
	}
	matcher.SortEvents(out)
	return out, nil
}

func (f *fakeEvents) List(_ context.Context, tenantID string, filter settlement.EventFilter) ([]*settlement.Event, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var out []*settlement.Event
	for _, e := range f.s.events {
		if e.TenantID == tenantID && filter.Matches(e) {
			out = append(out, e)
		}
	}
	matcher.SortEvents(out)
	return out, nil
}

func (f *fakeEvents) WithTx(pgx.Tx) settlement.Repository { return f }

type fakeLinks struct{ s *store }

func (f *fakeLinks) Create(_ context.Context, link *reconciliation.Link) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, l := range f.s.links {
		if !l.Active || l.Pair != link.Pair {
			continue
		}
		if l.FromEventID == link.FromEventID {
			return reconciliation.ErrEventAlreadyLinked{EventID: link.FromEventID}
		}
		if l.ToEventID == link.ToEventID {
			return reconciliation.ErrEventAlreadyLinked{EventID: link.ToEventID}
		}
	}
	f.s.links = append(f.s.links, link)
	return nil
}

func (f *fakeLinks) GetByID(_ context.Context, _ string, id uuid.UUID) (*reconciliation.Link, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, l := range f.s.links {
		if l.ID == id {
			return l, nil
		}
	}
	return nil, reconciliation.ErrLinkNotFound{LinkID: id}
}

func (f *fakeLinks) Invalidate(_ context.Context, _ string, id uuid.UUID, supersededBy *uuid.UUID, at time.Time) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, l := range f.s.links {
		if l.ID == id && l.Active {
			l.Active = false
			l.InvalidatedAt = &at
			l.SupersededBy = supersededBy
			return nil
		}
	}
	return reconciliation.ErrLinkNotFound{LinkID: id}
}

func (f *fakeLinks) ListActiveFrom(_ context.Context, _ string, ids []uuid.UUID) ([]*reconciliation.Link, error) {
	return f.active(func(l *reconciliation.Link) bool { return slices.Contains(ids, l.FromEventID) }), nil
}

func (f *fakeLinks) ListActiveTo(_ context.Context, _ string, ids []uuid.UUID) ([]*reconciliation.Link, error) {
	return f.active(func(l *reconciliation.Link) bool { return slices.Contains(ids, l.ToEventID) }), nil
}

func (f *fakeLinks) active(keep func(*reconciliation.Link) bool) []*reconciliation.Link {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var out []*reconciliation.Link
	for _, l := range f.s.links {
		if l.Active && keep(l) {
			out = append(out, l)
		}
	}
	return out
}

func (f *fakeLinks) ListHistory(_ context.Context, _ string, eventID uuid.UUID) ([]*reconciliation.Link, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var out []*reconciliation.Link
	for _, l := range f.s.links {
		if l.FromEventID == eventID || l.ToEventID == eventID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeLinks) WithTx(pgx.Tx) reconciliation.LinkRepository { return f }

type fakeExceptions struct{ s *store }

func (f *fakeExceptions) ListActive(_ context.Context, _ string, pair shared.StagePair, fromIDs []uuid.UUID) ([]*reconciliation.Exception, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var out []*reconciliation.Exception
	for _, ex := range f.s.exceptions {
		if ex.ResolvedAt == nil && ex.Pair == pair && slices.Contains(fromIDs, ex.FromEventID) {
			out = append(out, ex)
		}
	}
	return out, nil
}

func (f *fakeExceptions) Save(_ context.Context, ex *reconciliation.Exception) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, existing := range f.s.exceptions {
		if existing.ResolvedAt == nil && existing.Pair == ex.Pair && existing.FromEventID == ex.FromEventID {
			existing.Reason = ex.Reason
			existing.CandidateIDs = ex.CandidateIDs
			return nil
		}
	}
	f.s.exceptions = append(f.s.exceptions, ex)
	return nil
}

func (f *fakeExceptions) Resolve(_ context.Context, _ string, pair shared.StagePair, fromID uuid.UUID, at time.Time) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, ex := range f.s.exceptions {
		if ex.ResolvedAt == nil && ex.Pair == pair && ex.FromEventID == fromID {
			ex.ResolvedAt = &at
		}
	}
	return nil
}

func (f *fakeExceptions) WithTx(pgx.Tx) reconciliation.ExceptionRepository { return f }

type fakeWatermarks struct{ s *store }

func (f *fakeWatermarks) Touch(_ context.Context, tenantID, source string, batchID uuid.UUID, imported int, at time.Time) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	key := tenantID + "/" + source
	w, ok := f.s.watermarks[key]
	if !ok {
		w = &settlement.Watermark{TenantID: tenantID, Source: source}
		f.s.watermarks[key] = w
	}
	w.LastSyncedAt = at
	w.LastBatchID = batchID
	w.EventsImported += int64(imported)
	return nil
}

func (f *fakeWatermarks) ListByTenant(_ context.Context, tenantID string) ([]*settlement.Watermark, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var out []*settlement.Watermark
	for _, w := range f.s.watermarks {
		if w.TenantID == tenantID {
			out = append(out, w)
		}
	}
	return out, nil
}

func (f *fakeWatermarks) ListTenants(context.Context) ([]string, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var out []string
	for _, w := range f.s.watermarks {
		if !slices.Contains(out, w.TenantID) {
			out = append(out, w.TenantID)
		}
	}
	return out, nil
}

func (f *fakeWatermarks) WithTx(pgx.Tx) settlement.WatermarkRepository { return f }

type fakeSettings struct{ s *store }

func (f *fakeSettings) Get(_ context.Context, tenantID string) (*reconciliation.Settings, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if st, ok := f.s.settings[tenantID]; ok {
		return st, nil
	}
	return nil, reconciliation.ErrSettingsNotFound{TenantID: tenantID}
}

func (f *fakeSettings) Save(_ context.Context, st *reconciliation.Settings) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	f.s.settings[st.TenantID] = st
	return nil
}

type fakeAudit struct{ s *store }

func (f *fakeAudit) RecordRun(_ context.Context, run *audit.RunRecord) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	f.s.runs = append(f.s.runs, run)
}

func (f *fakeAudit) RecordBatch(_ context.Context, batch *audit.BatchRecord) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	f.s.batches = append(f.s.batches, batch)
}

type fakeAuditRepo struct{ s *store }

func (f *fakeAuditRepo) RecordRun(ctx context.Context, run *audit.RunRecord) error {
	(&fakeAudit{f.s}).RecordRun(ctx, run)
	return nil
}

func (f *fakeAuditRepo) RecordBatch(ctx context.Context, batch *audit.BatchRecord) error {
	(&fakeAudit{f.s}).RecordBatch(ctx, batch)
	return nil
}

func (f *fakeAuditRepo) ListRuns(_ context.Context, tenantID string, limit, offset int) ([]*audit.RunRecord, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var out []*audit.RunRecord
	for i := len(f.s.runs) - 1; i >= 0; i-- {
		if f.s.runs[i].TenantID == tenantID {
			out = append(out, f.s.runs[i])
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	return out[offset:min(offset+limit, len(out))], nil
}

func (f *fakeAuditRepo) CountRuns(_ context.Context, tenantID string) (int64, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var n int64
	for _, r := range f.s.runs {
		if r.TenantID == tenantID {
			n++
		}
	}
	return n, nil
}

func (f *fakeAuditRepo) GetBatch(_ context.Context, tenantID string, batchID uuid.UUID) (*audit.BatchRecord, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, b := range f.s.batches {
		if b.TenantID == tenantID && b.BatchID == batchID {
			return b, nil
		}
	}
	return nil, audit.ErrBatchNotFound{BatchID: batchID}
}

type fakeEnqueuer struct{ s *store }

func (f *fakeEnqueuer) Enqueue(_ context.Context, _ pgx.Tx, jobs []*shared.ReconcileJob) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	f.s.jobs = append(f.s.jobs, jobs...)
	return nil
}

// fakeTx runs fn without a transaction; the fakes ignore tx
type fakeTx struct{}

func (fakeTx) ExecuteTx(_ context.Context, fn func(tx pgx.Tx) error) error {
	return fn(nil)
}

// fakeCommitter applies decisions to the store the way the postgres committer does
type fakeCommitter struct {
	links      *fakeLinks
	exceptions *fakeExceptions
}

func (c *fakeCommitter) Commit(ctx context.Context, tenantID string, d matcher.Decision) (*reconciliation.Link, error) {
	now := time.Now().UTC()
	switch d.Kind {
	case matcher.DecisionLink, matcher.DecisionSupersede:
		link, err := reconciliation.NewLink(tenantID, d.Pair, d.From.ID, d.To.ID, d.Confidence)
		if err != nil {
			return nil, err
		}
		if d.Replaces != nil {
			if err := c.links.Invalidate(ctx, tenantID, d.Replaces.ID, &link.ID, now); err != nil {
				return nil, err
			}
		}
		if err := c.links.Create(ctx, link); err != nil {
			return nil, err
		}
		return link, c.exceptions.Resolve(ctx, tenantID, d.Pair, d.From.ID, now)
	case matcher.DecisionAmbiguous:
		return nil, c.exceptions.Save(ctx, reconciliation.NewAmbiguityException(tenantID, d.Pair, d.From.ID, d.Candidates))
	default:
		return nil, c.exceptions.Resolve(ctx, tenantID, d.Pair, d.From.ID, now)
	}
}

// fakeValidator accepts well-formed rows only
type fakeValidator struct{ minorUnits int32 }

func (v fakeValidator) Validate(_ context.Context, tenantID, source string, row int, raw *shared.NormalizedEvent, batchID uuid.UUID) (*settlement.Event, []shared.ValidationError) {
	date, err := time.Parse(settlement.DateLayout, raw.EventDate)
	if err != nil {
		return nil, []shared.ValidationError{{Row: row, Field: "event_date", Message: err.Error()}}
	}
	amount, err := decimal.NewFromString(raw.Amount)
	if err != nil {
		return nil, []shared.ValidationError{{Row: row, Field: "amount", Message: err.Error()}}
	}
	e, err := settlement.NewEvent(tenantID, source, shared.Stage(raw.Stage), date, amount, raw.ReferenceNo, raw.ExternalID,
		raw.RawPayload, batchID, v.minorUnits)
	if err != nil {
		field := "stage"
		if errors.Is(err, settlement.ErrAmountOutOfRange) {
			field = "amount"
		}
		return nil, []shared.ValidationError{{Row: row, Field: field, Message: err.Error()}}
	}
	return e, nil
}

type staticParams struct{ params matcher.Params }

func (p staticParams) Resolve(context.Context, string) (matcher.Params, error) {
	return p.params, nil
}

// fakeLocker is an in-process locker; a held key is never obtained again until released
type fakeLocker struct {
	mu   sync.Mutex
	held map[string]bool
	// expired hands out locks that are already lost
	expired bool
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: map[string]bool{}}
}

func (l *fakeLocker) TryLock(_ context.Context, key string, _ time.Duration) (locking.Lock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, locking.ErrNotObtained
	}
	l.held[key] = true
	lock := &fakeLock{locker: l, key: key}
	if l.expired {
		lock.lost = make(chan struct{})
		close(lock.lost)
	}
	return lock, nil
}

type fakeLock struct {
	locker *fakeLocker
	key    string
	lost   chan struct{}
}

func (l *fakeLock) Lost() <-chan struct{} {
	return l.lost
}

func (l *fakeLock) Release(context.Context) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()
	delete(l.locker.held, l.key)
	return nil
}

const testTenant = "tenant-1"

// harness wires every service over one in-memory store
type harness struct {
	store     *store
	locker    *fakeLocker
	params    matcher.Params
	ingestion IngestionService
	recon     ReconciliationService
	query     QueryService
	admin     AdminService
}

func defaultParams() matcher.Params {
	return matcher.Params{LookaheadDays: 5, FuzzyTolerance: decimal.NewFromInt(200), MinorUnits: 2}
}

func newHarness(t *testing.T, params matcher.Params) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := newStore()
	events := &fakeEvents{s}
	links := &fakeLinks{s}
	exceptions := &fakeExceptions{s}
	watermarks := &fakeWatermarks{s}
	auditor := &fakeAudit{s}
	resolver := staticParams{params}
	committer := &fakeCommitter{links: links, exceptions: exceptions}
	locker := newFakeLocker()

	ranker, err := matcher.NewRanker(4, logger)
	require.NoError(t, err)
	t.Cleanup(ranker.Shutdown)

	return &harness{
		store:     s,
		locker:    locker,
		params:    params,
		ingestion: NewIngestionService(fakeTx{}, events, watermarks, fakeValidator{params.MinorUnits}, &fakeEnqueuer{s}, auditor, resolver, nil, logger),
		recon: NewReconciliationService(events, links, exceptions, ranker, committer, locker, time.Second,
			resolver, auditor, nil, logger),
		query: NewQueryService(events, links, exceptions, watermarks, &fakeAuditRepo{s}, resolver, logger),
		admin: NewAdminService(events, links, &fakeSettings{s}, committer, locker, matchingDefaults(params), logger),
	}
}

func row(stage shared.Stage, date, amount, ref string) shared.NormalizedEvent {
	return shared.NormalizedEvent{
		Stage:       string(stage),
		EventDate:   date,
		Amount:      amount,
		ReferenceNo: ref,
		RawPayload:  json.RawMessage(`{"source_row":true}`),
	}
}

func (h *harness) ingest(t *testing.T, source string, rows ...shared.NormalizedEvent) *IngestResult {
	t.Helper()
	result, err := h.ingestion.IngestBatch(context.Background(), &IngestRequest{TenantID: testTenant, Source: source, Events: rows})
	require.NoError(t, err)
	return result
}

func (h *harness) reconcile(t *testing.T, from, to string) *ReconcileResult {
	t.Helper()
	result, err := h.recon.Reconcile(context.Background(), &ReconcileRequest{
		TenantID: testTenant,
		From:     date(t, from),
		To:       date(t, to),
		Trigger:  shared.RunTriggerAPI,
	})
	require.NoError(t, err)
	return result
}

func (h *harness) eventByRef(t *testing.T, stage shared.Stage, ref string) *settlement.Event {
	t.Helper()
	events, err := (&fakeEvents{h.store}).List(context.Background(), testTenant, settlement.EventFilter{Stage: stage, Reference: ref})
	require.NoError(t, err)
	require.Len(t, events, 1)
	return events[0]
}

func date(t *testing.T, value string) time.Time {
	t.Helper()
	d, err := time.Parse(settlement.DateLayout, value)
	require.NoError(t, err)
	return d
}
