package handler

import (
	"time"

	"github.com/settlement-reconciler/internal/domain/settlement"
	"github.com/settlement-reconciler/internal/domain/shared"
)

// IngestBatchRequest is one adapter batch of normalized events.
// Rows are validated individually by the ingestion service, never by binding.
type IngestBatchRequest struct {
	Source  string                   `json:"source" binding:"required,max=100"`
	BatchID string                   `json:"batch_id,omitempty" binding:"omitempty,uuid"`
	Events  []shared.NormalizedEvent `json:"events" binding:"required,max=50000"`
}

// IngestAcceptedResponse is returned when a batch is queued for the worker
type IngestAcceptedResponse struct {
	BatchID string `json:"batch_id"`
	Status  string `json:"status"`
	Rows    int    `json:"rows"`
}

// ReconcileRequest asks for both passes over settlements dated within [from, to]
type ReconcileRequest struct {
	From string `json:"from" binding:"required"`
	To   string `json:"to" binding:"required"`
}

// CreateLinkRequest asks for a manual link between two events in adjacent stages
type CreateLinkRequest struct {
	FromEventID string `json:"from_event_id" binding:"required,uuid"`
	ToEventID   string `json:"to_event_id" binding:"required,uuid"`
}

// SettingsRequest replaces a tenant's matcher overrides
type SettingsRequest struct {
	LookaheadDays  *int   `json:"lookahead_days" binding:"required"`
	FuzzyTolerance string `json:"fuzzy_tolerance" binding:"required"`
}

// RangeParams is a mandatory date range given as query parameters
type RangeParams struct {
	From string `form:"from" binding:"required"`
	To   string `form:"to" binding:"required"`
}

// EventListParams filters the annotated event listing
type EventListParams struct {
	Stage     string `form:"stage"`
	Status    string `form:"status"`
	Source    string `form:"source"`
	From      string `form:"from"`
	To        string `form:"to"`
	Reference string `form:"reference"`
	Unlinked  bool   `form:"unlinked"`
	Format    string `form:"format"`
}

// PaginationParams represents pagination parameters for list endpoints
type PaginationParams struct {
	Page    int `form:"page,default=1" binding:"min=1"`
	PerPage int `form:"per_page,default=50" binding:"min=1,max=500"`
}

// parseDate accepts a calendar date or an RFC 3339 timestamp and keeps the date part
func parseDate(value string) (time.Time, error) {
	if d, err := time.Parse(settlement.DateLayout, value); err == nil {
		return d, nil
	}
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, err
	}
	return settlement.TruncateDay(ts), nil
}

// parseOptionalDate returns the zero time for an empty value
func parseOptionalDate(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	return parseDate(value)
}

func parseRange(from, to string) (time.Time, time.Time, error) {
	f, err := parseDate(from)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	t, err := parseDate(to)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return f, t, nil
}
