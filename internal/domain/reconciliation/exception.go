package reconciliation

import (
	"bytes"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/settlement-reconciler/internal/domain/shared"
)

// Exception records that the matcher could not decide a from-event's counterpart.
// At most one unresolved exception exists per (tenant, pair, from event).
type Exception struct {
	ID           uuid.UUID             `json:"id"`
	TenantID     string                `json:"tenant_id"`
	Pair         shared.StagePair      `json:"stage_pair"`
	FromEventID  uuid.UUID             `json:"from_event_id"`
	Reason       shared.MismatchReason `json:"reason"`
	CandidateIDs []uuid.UUID           `json:"candidate_ids"`
	CreatedAt    time.Time             `json:"created_at"`
	ResolvedAt   *time.Time            `json:"resolved_at,omitempty"`
}

// NewAmbiguityException records indistinguishable best candidates for fromID
func NewAmbiguityException(tenantID string, pair shared.StagePair, fromID uuid.UUID, candidates []uuid.UUID) *Exception {
	return &Exception{
		ID:           uuid.New(),
		TenantID:     tenantID,
		Pair:         pair,
		FromEventID:  fromID,
		Reason:       shared.MismatchReasonAmbiguous,
		CandidateIDs: SortedIDs(candidates),
		CreatedAt:    time.Now().UTC(),
	}
}

// Err describes the exception as an error wrapping its cause.
func (e *Exception) Err() error {
	if e.Reason == shared.MismatchReasonAmbiguous {
		return fmt.Errorf("%w: %d candidates for event %s", shared.ErrAmbiguousMatch, len(e.CandidateIDs), e.FromEventID)
	}
	return fmt.Errorf("unresolved %s exception for event %s", e.Reason, e.FromEventID)
}

// SameCandidates reports whether the exception already names exactly these candidates
func (e *Exception) SameCandidates(ids []uuid.UUID) bool {
	return slices.Equal(SortedIDs(e.CandidateIDs), SortedIDs(ids))
}

// SortedIDs returns a sorted copy of ids
func SortedIDs(ids []uuid.UUID) []uuid.UUID {
	out := slices.Clone(ids)
	slices.SortFunc(out, CompareIDs)
	return out
}

// CompareIDs orders uuids bytewise; used wherever a deterministic order is required.
func CompareIDs(a, b uuid.UUID) int {
	return bytes.Compare(a[:], b[:])
}
