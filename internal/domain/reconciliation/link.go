package reconciliation

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/settlement-reconciler/internal/domain/shared"
)

var (
	ErrSelfLink            = errors.New("an event cannot be linked to itself")
	ErrLinkNotSupersedable = errors.New("only active links can be superseded")
)

// Link connects an event to its counterpart in the adjacent downstream stage.
// Rows are never updated in place except to invalidate them.
type Link struct {
	ID            uuid.UUID              `json:"id"`
	TenantID      string                 `json:"tenant_id"`
	Pair          shared.StagePair       `json:"stage_pair"`
	FromEventID   uuid.UUID              `json:"from_event_id"`
	ToEventID     uuid.UUID              `json:"to_event_id"`
	Confidence    shared.MatchConfidence `json:"match_confidence"`
	Active        bool                   `json:"active"`
	CreatedAt     time.Time              `json:"created_at"`
	InvalidatedAt *time.Time             `json:"invalidated_at,omitempty"`
	SupersededBy  *uuid.UUID             `json:"superseded_by,omitempty"`
}

// NewLink creates an active link
func NewLink(tenantID string, pair shared.StagePair, fromID, toID uuid.UUID, confidence shared.MatchConfidence) (*Link, error) {
	if !pair.IsValid() {
		return nil, shared.ErrInvalidStagePair
	}
	if fromID == toID {
		return nil, ErrSelfLink
	}
	return &Link{
		ID:          uuid.New(),
		TenantID:    tenantID,
		Pair:        pair,
		FromEventID: fromID,
		ToEventID:   toID,
		Confidence:  confidence,
		Active:      true,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// Supersede marks the link inactive in favour of replacement
func (l *Link) Supersede(replacement uuid.UUID, at time.Time) error {
	if !l.Active {
		return ErrLinkNotSupersedable
	}
	l.Active = false
	l.InvalidatedAt = &at
	l.SupersededBy = &replacement
	return nil
}

// AutoSupersedable reports whether the matcher may replace this link on its own.
// Manual and exact links are only ever replaced by an operator.
func (l *Link) AutoSupersedable() bool {
	return l.Active && l.Confidence == shared.MatchConfidenceFuzzy
}
