package reconciliation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/settlement-reconciler/internal/domain/shared"
)

// LinkRepository manages reconciliation link persistence
type LinkRepository interface {
	Create(ctx context.Context, link *Link) error
	GetByID(ctx context.Context, tenantID string, id uuid.UUID) (*Link, error)
	// Invalidate deactivates an active link; it fails with ErrLinkNotFound if the link is
	// already inactive so that concurrent writers cannot both supersede it.
	Invalidate(ctx context.Context, tenantID string, id uuid.UUID, supersededBy *uuid.UUID, at time.Time) error
	// ListActiveFrom returns active links whose from event is in ids (any pair)
	ListActiveFrom(ctx context.Context, tenantID string, ids []uuid.UUID) ([]*Link, error)
	// ListActiveTo returns active links whose to event is in ids (any pair)
	ListActiveTo(ctx context.Context, tenantID string, ids []uuid.UUID) ([]*Link, error)
	// ListHistory returns every link, active or not, touching the event, oldest first
	ListHistory(ctx context.Context, tenantID string, eventID uuid.UUID) ([]*Link, error)
	WithTx(tx pgx.Tx) LinkRepository
}

// ExceptionRepository manages unresolved matcher exceptions
type ExceptionRepository interface {
	// ListActive returns unresolved exceptions of the pair for the given from events
	ListActive(ctx context.Context, tenantID string, pair shared.StagePair, fromIDs []uuid.UUID) ([]*Exception, error)
	// Save inserts the exception or replaces the candidates of the existing unresolved one
	Save(ctx context.Context, exception *Exception) error
	// Resolve closes the unresolved exception of the from event, if any
	Resolve(ctx context.Context, tenantID string, pair shared.StagePair, fromID uuid.UUID, at time.Time) error
	WithTx(tx pgx.Tx) ExceptionRepository
}

// ErrLinkNotFound indicates a missing (or no longer active) link
type ErrLinkNotFound struct {
	LinkID uuid.UUID
}

func (e ErrLinkNotFound) Error() string {
	return "active reconciliation link not found: " + e.LinkID.String()
}

// Is implements the errors.Is interface for ErrLinkNotFound
func (e ErrLinkNotFound) Is(target error) bool {
	t, ok := target.(ErrLinkNotFound)
	if !ok {
		return false
	}
	if t.LinkID == uuid.Nil {
		return true
	}
	return e.LinkID == t.LinkID
}

// ErrEventAlreadyLinked indicates the one-to-one constraint would be violated
type ErrEventAlreadyLinked struct {
	EventID uuid.UUID
}

func (e ErrEventAlreadyLinked) Error() string {
	return "event already has an active link: " + e.EventID.String()
}

// Is implements the errors.Is interface for ErrEventAlreadyLinked
func (e ErrEventAlreadyLinked) Is(target error) bool {
	t, ok := target.(ErrEventAlreadyLinked)
	if !ok {
		return false
	}
	if t.EventID == uuid.Nil {
		return true
	}
	return e.EventID == t.EventID
}
