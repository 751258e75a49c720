package matcher

import (
	"slices"

	"github.com/google/uuid"
	"github.com/settlement-reconciler/internal/domain/reconciliation"
	"github.com/settlement-reconciler/internal/domain/settlement"
	"github.com/settlement-reconciler/internal/domain/shared"
)

// DecisionKind is what a pass decided for one from-event
type DecisionKind int

const (
	// DecisionKeep leaves an existing active link untouched
	DecisionKeep DecisionKind = iota
	// DecisionLink creates the first active link of the from-event
	DecisionLink
	// DecisionSupersede replaces a fuzzy link with an exact one
	DecisionSupersede
	// DecisionAmbiguous records that the best candidates are indistinguishable
	DecisionAmbiguous
	// DecisionUnresolved means there is no candidate at all
	DecisionUnresolved
)

func (k DecisionKind) String() string {
	switch k {
	case DecisionKeep:
		return "keep"
	case DecisionLink:
		return "link"
	case DecisionSupersede:
		return "supersede"
	case DecisionAmbiguous:
		return "ambiguous"
	case DecisionUnresolved:
		return "unresolved"
	}
	return "unknown"
}

// Decision is the planned outcome for one from-event
type Decision struct {
	Kind       DecisionKind
	Pair       shared.StagePair
	From       *settlement.Event
	To         *settlement.Event
	Confidence shared.MatchConfidence
	Replaces   *reconciliation.Link      // link invalidated by a supersede
	Candidates []uuid.UUID               // tied candidates of an ambiguous decision, sorted
	Exception  *reconciliation.Exception // unresolved exception currently stored for From
}

// Writes reports whether committing the decision changes stored state.
// A pass over unchanged data plans only decisions for which Writes is false.
func (d Decision) Writes() bool {
	switch d.Kind {
	case DecisionLink, DecisionSupersede:
		return true
	case DecisionAmbiguous:
		return d.Exception == nil || !d.Exception.SameCandidates(d.Candidates)
	default:
		return d.Exception != nil
	}
}

// Snapshot is the state one pass works from
type Snapshot struct {
	TenantID   string
	Pair       shared.StagePair
	From       []*settlement.Event
	To         []*settlement.Event
	Links      []*reconciliation.Link      // active links of the pair touching From or To
	Exceptions []*reconciliation.Exception // unresolved exceptions of the pair on From
}

// Plan assigns counterparts one-to-one. The exact round runs first over all from-events in
// date order, then the fuzzy round over whatever is still open. Decisions come back in commit
// order. rankings must hold the Rank result of every from-event.
func Plan(snap Snapshot, rankings map[uuid.UUID][]Candidate) []Decision {
	linkByFrom := make(map[uuid.UUID]*reconciliation.Link, len(snap.Links))
	taken := make(map[uuid.UUID]bool, len(snap.Links))
	for _, l := range snap.Links {
		if !l.Active || l.Pair != snap.Pair {
			continue
		}
		linkByFrom[l.FromEventID] = l
		taken[l.ToEventID] = true
	}
	exceptionByFrom := make(map[uuid.UUID]*reconciliation.Exception, len(snap.Exceptions))
	for _, ex := range snap.Exceptions {
		exceptionByFrom[ex.FromEventID] = ex
	}

	froms := slices.Clone(snap.From)
	SortEvents(froms)

	decided := make(map[uuid.UUID]bool, len(froms))
	var decisions []Decision
	add := func(d Decision) {
		d.Pair = snap.Pair
		d.Exception = exceptionByFrom[d.From.ID]
		decided[d.From.ID] = true
		decisions = append(decisions, d)
	}

	// Exact round.
	for _, f := range froms {
		best, tied := pick(rankings[f.ID], taken, true)
		if existing, ok := linkByFrom[f.ID]; ok {
			if !existing.AutoSupersedable() || best == nil || len(tied) > 1 {
				continue
			}
			add(Decision{Kind: DecisionSupersede, From: f, To: best.Event, Confidence: shared.MatchConfidenceExact, Replaces: existing})
			delete(taken, existing.ToEventID)
			taken[best.Event.ID] = true
			continue
		}
		if best == nil {
			continue
		}
		if len(tied) > 1 {
			add(Decision{Kind: DecisionAmbiguous, From: f, Candidates: reconciliation.SortedIDs(tied)})
			reserve(taken, tied)
			continue
		}
		add(Decision{Kind: DecisionLink, From: f, To: best.Event, Confidence: shared.MatchConfidenceExact})
		taken[best.Event.ID] = true
	}

	// Fuzzy round.
	for _, f := range froms {
		if decided[f.ID] {
			continue
		}
		if _, ok := linkByFrom[f.ID]; ok {
			add(Decision{Kind: DecisionKeep, From: f})
			continue
		}
		best, tied := pick(rankings[f.ID], taken, false)
		switch {
		case best == nil:
			add(Decision{Kind: DecisionUnresolved, From: f})
		case len(tied) > 1:
			add(Decision{Kind: DecisionAmbiguous, From: f, Candidates: reconciliation.SortedIDs(tied)})
			reserve(taken, tied)
		default:
			confidence := shared.MatchConfidenceFuzzy
			if best.Score.Exact {
				confidence = shared.MatchConfidenceExact
			}
			add(Decision{Kind: DecisionLink, From: f, To: best.Event, Confidence: confidence})
			taken[best.Event.ID] = true
		}
	}

	return decisions
}

// pick returns the best available candidate and the ids of every available candidate scoring
// equal to it (including itself). ranked must be sorted best first.
func pick(ranked []Candidate, taken map[uuid.UUID]bool, exactOnly bool) (*Candidate, []uuid.UUID) {
	var best *Candidate
	var tied []uuid.UUID
	for i := range ranked {
		c := &ranked[i]
		if taken[c.Event.ID] || (exactOnly && !c.Score.Exact) {
			continue
		}
		if best == nil {
			best = c
			tied = append(tied, c.Event.ID)
			continue
		}
		if c.Score.Compare(best.Score) != 0 {
			break
		}
		tied = append(tied, c.Event.ID)
	}
	return best, tied
}

// reserve withholds contested candidates from weaker claims for the rest of the pass
func reserve(taken map[uuid.UUID]bool, ids []uuid.UUID) {
	for _, id := range ids {
		taken[id] = true
	}
}
