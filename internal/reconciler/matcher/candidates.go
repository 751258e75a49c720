package matcher

import (
	"slices"
	"sort"
	"time"

	"github.com/settlement-reconciler/internal/domain/reconciliation"
	"github.com/settlement-reconciler/internal/domain/settlement"
)

// Candidate is an eligible downstream event with its score
type Candidate struct {
	Event *settlement.Event
	Score Score
}

// Index holds downstream events ordered by date then id for window lookups
type Index struct {
	events []*settlement.Event
}

func NewIndex(events []*settlement.Event) *Index {
	sorted := slices.Clone(events)
	SortEvents(sorted)
	return &Index{events: sorted}
}

// Window returns the events dated within [from, to], in index order
func (ix *Index) Window(from, to time.Time) []*settlement.Event {
	lo := sort.Search(len(ix.events), func(i int) bool { return !ix.events[i].EventDate.Before(from) })
	hi := sort.Search(len(ix.events), func(i int) bool { return ix.events[i].EventDate.After(to) })
	if lo >= hi {
		return nil
	}
	return ix.events[lo:hi]
}

func (ix *Index) Len() int {
	return len(ix.events)
}

// Rank returns every eligible candidate for from, best first. Candidates with equal
// scores are ordered by date then id so that the result is deterministic.
func Rank(from *settlement.Event, ix *Index, params Params) []Candidate {
	start := settlement.TruncateDay(from.EventDate)
	end := start.AddDate(0, 0, params.LookaheadDays)

	var out []Candidate
	for _, to := range ix.Window(start, end) {
		if to.ID == from.ID || !Eligible(from, to, params) {
			continue
		}
		out = append(out, Candidate{Event: to, Score: ScoreCandidate(from, to, params.MinorUnits)})
	}

	slices.SortStableFunc(out, func(a, b Candidate) int {
		if c := b.Score.Compare(a.Score); c != 0 {
			return c
		}
		return compareEvents(a.Event, b.Event)
	})
	return out
}

// SortEvents orders events by date, then id
func SortEvents(events []*settlement.Event) {
	slices.SortFunc(events, compareEvents)
}

func compareEvents(a, b *settlement.Event) int {
	if c := a.EventDate.Compare(b.EventDate); c != 0 {
		return c
	}
	return reconciliation.CompareIDs(a.ID, b.ID)
}
