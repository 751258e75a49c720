package service

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/settlement-reconciler/internal/domain/reconciliation"
	"github.com/settlement-reconciler/internal/domain/shared"
)

const (
	DefaultPerPage = 50
	MaxPerPage     = 500
)

// IngestRequest is one batch of normalized events from a single source
type IngestRequest struct {
	BatchID       uuid.UUID // optional; generated when nil
	TenantID      string
	Source        string
	Events        []shared.NormalizedEvent
	CorrelationID string
}

// IngestResult reports what happened to every row of a batch
type IngestResult struct {
	BatchID  uuid.UUID                `json:"batch_id"`
	Scanned  int                      `json:"scanned"`
	Imported int                      `json:"imported"`
	Skipped  int                      `json:"skipped"`
	Errors   []shared.ValidationError `json:"errors"`
	Jobs     []*shared.ReconcileJob   `json:"jobs,omitempty"`
}

// ReconcileRequest asks for both passes over settlements dated within [From, To]
type ReconcileRequest struct {
	TenantID      string
	From          time.Time
	To            time.Time
	Trigger       shared.RunTrigger
	CorrelationID string
}

// PassResult counts the outcome of one pass
type PassResult struct {
	Pair       shared.StagePair `json:"stage_pair"`
	From       time.Time        `json:"from"`
	To         time.Time        `json:"to"`
	Linked     int              `json:"linked"`
	Superseded int              `json:"superseded"`
	Mismatched int              `json:"mismatched"`
	Unresolved int              `json:"unresolved"`
	Writes     int              `json:"writes"`
}

// ReconcileResult aggregates both passes of a run
type ReconcileResult struct {
	RunID      uuid.UUID     `json:"run_id"`
	Linked     int           `json:"linked"`
	Superseded int           `json:"superseded"`
	Mismatched int           `json:"mismatched"`
	Unresolved int           `json:"unresolved"`
	Passes     []*PassResult `json:"passes"`
}

func (r *ReconcileResult) add(p *PassResult) {
	r.Linked += p.Linked
	r.Superseded += p.Superseded
	r.Mismatched += p.Mismatched
	r.Unresolved += p.Unresolved
	r.Passes = append(r.Passes, p)
}

// EventQuery filters and pages an annotated event listing
type EventQuery struct {
	Stage     shared.Stage
	Status    shared.ChainStatus
	Source    string
	From      time.Time
	To        time.Time
	Reference string
	Unlinked  bool // only events without an active link on their chain-facing side; needs Stage
	Page      int
	PerPage   int
}

// normalize applies paging defaults
func (q EventQuery) normalize() EventQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PerPage < 1 {
		q.PerPage = DefaultPerPage
	}
	if q.PerPage > MaxPerPage {
		q.PerPage = MaxPerPage
	}
	return q
}

// EventPage is one page of annotated events
type EventPage struct {
	Items   []*reconciliation.AnnotatedEvent `json:"items"`
	Total   int                              `json:"total"`
	Page    int                              `json:"page"`
	PerPage int                              `json:"per_page"`
}

func validateRange(from, to time.Time) error {
	if from.IsZero() || to.IsZero() || from.After(to) {
		return shared.ErrInvalidDateRange
	}
	return nil
}

var (
	ErrInvalidStatus      = errors.New("invalid chain status")
	ErrUnlinkedNeedsStage = errors.New("the unlinked filter requires a stage")
	ErrMissingTenant      = errors.New("tenant id is required")
)
