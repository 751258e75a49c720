package settlement

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/settlement-reconciler/internal/domain/shared"
)

// EventFilter narrows an event listing. Zero values mean "no constraint".
type EventFilter struct {
	Stage     shared.Stage
	Source    string
	From      time.Time
	To        time.Time
	Reference string // case-insensitive substring
}

// Matches applies the filter to an already loaded event.
func (f EventFilter) Matches(e *Event) bool {
	switch {
	case f.Stage != "" && e.Stage != f.Stage:
		return false
	case f.Source != "" && !strings.EqualFold(e.Source, f.Source):
		return false
	case !f.From.IsZero() && e.EventDate.Before(f.From):
		return false
	case !f.To.IsZero() && e.EventDate.After(f.To):
		return false
	case f.Reference != "" && !strings.Contains(strings.ToLower(e.ReferenceNo), strings.ToLower(f.Reference)):
		return false
	}
	return true
}

// Repository defines settlement event persistence operations
type Repository interface {
	// Upsert inserts the event unless (tenant_id, dedup_key) exists, in which case the stored
	// row is returned with wasNew=false.
	Upsert(ctx context.Context, event *Event) (stored *Event, wasNew bool, err error)
	GetByID(ctx context.Context, tenantID string, id uuid.UUID) (*Event, error)
	GetByIDs(ctx context.Context, tenantID string, ids []uuid.UUID) ([]*Event, error)
	ListByStageAndRange(ctx context.Context, tenantID string, stage shared.Stage, from, to time.Time) ([]*Event, error)
	// ListUnlinked returns events of the stage with no active link on their chain-facing side:
	// outbound for settlements and intermediary transfers, inbound for bank credits.
	ListUnlinked(ctx context.Context, tenantID string, stage shared.Stage) ([]*Event, error)
	List(ctx context.Context, tenantID string, filter EventFilter) ([]*Event, error)
	WithTx(tx pgx.Tx) Repository
}

// ErrEventNotFound indicates a missing settlement event
type ErrEventNotFound struct {
	EventID uuid.UUID
}

func (e ErrEventNotFound) Error() string {
	return "settlement event not found: " + e.EventID.String()
}

// Is implements the errors.Is interface for ErrEventNotFound
func (e ErrEventNotFound) Is(target error) bool {
	t, ok := target.(ErrEventNotFound)
	if !ok {
		return false
	}
	if t.EventID == uuid.Nil {
		return true
	}
	return e.EventID == t.EventID
}
