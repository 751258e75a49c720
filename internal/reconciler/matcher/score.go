// Package matcher decides which downstream event each upstream event is linked to.
// Scoring and planning are pure; the ranker fans scoring out over an ants pool.
package matcher

import (
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
	"github.com/settlement-reconciler/internal/domain/settlement"
	"github.com/shopspring/decimal"
)

// nearMatchRatio is the largest edit distance, relative to the longer reference,
// still treated as a near match. References shorter than minNearMatchLen never near-match.
const (
	nearMatchRatio  = 0.2
	minNearMatchLen = 6
)

// Params are the effective matcher settings for one tenant
type Params struct {
	LookaheadDays  int
	FuzzyTolerance decimal.Decimal
	MinorUnits     int32
}

// ReferenceMatch grades how well two references agree
type ReferenceMatch int

const (
	ReferenceNone ReferenceMatch = iota
	ReferenceNear
	ReferenceContains
)

// Score is the outcome of comparing one from-event with one candidate
type Score struct {
	Exact      bool
	DayGap     int
	Reference  ReferenceMatch
	AmountDiff decimal.Decimal
}

// Compare orders scores: exact beats fuzzy, then a smaller day gap, then a stronger reference.
// It returns a positive number when s is better than o and zero when they are indistinguishable.
func (s Score) Compare(o Score) int {
	if s.Exact != o.Exact {
		if s.Exact {
			return 1
		}
		return -1
	}
	if s.DayGap != o.DayGap {
		return o.DayGap - s.DayGap
	}
	return int(s.Reference) - int(o.Reference)
}

// ScoreCandidate compares from with a downstream candidate. It does not check eligibility.
func ScoreCandidate(from, to *settlement.Event, minorUnits int32) Score {
	diff := from.Amount.Round(minorUnits).Sub(to.Amount.Round(minorUnits)).Abs()
	return Score{
		Exact:      diff.IsZero(),
		DayGap:     settlement.DaysBetween(from.EventDate, to.EventDate),
		Reference:  CompareReferences(from.ReferenceNo, to.ReferenceNo),
		AmountDiff: diff,
	}
}

// Eligible reports whether to is a candidate for from: dated on or after from within the
// lookahead window, with an amount difference inside the fuzzy tolerance.
func Eligible(from, to *settlement.Event, params Params) bool {
	gap := settlement.DaysBetween(from.EventDate, to.EventDate)
	if gap < 0 || gap > params.LookaheadDays {
		return false
	}
	diff := from.Amount.Round(params.MinorUnits).Sub(to.Amount.Round(params.MinorUnits)).Abs()
	return diff.LessThanOrEqual(params.FuzzyTolerance)
}

// CompareReferences grades two free-text references after normalization.
func CompareReferences(a, b string) ReferenceMatch {
	na, nb := normalizeReference(a), normalizeReference(b)
	if na == "" || nb == "" {
		return ReferenceNone
	}
	if strings.Contains(na, nb) || strings.Contains(nb, na) {
		return ReferenceContains
	}
	longest := max(len(na), len(nb))
	if min(len(na), len(nb)) < minNearMatchLen {
		return ReferenceNone
	}
	dist := levenshtein.ComputeDistance(na, nb)
	if float64(dist)/float64(longest) <= nearMatchRatio {
		return ReferenceNear
	}
	return ReferenceNone
}

// normalizeReference keeps only lower-cased letters and digits
func normalizeReference(ref string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(ref) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
