package reconciliation

import (
	"github.com/google/uuid"
	"github.com/settlement-reconciler/internal/domain/settlement"
	"github.com/settlement-reconciler/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// Hop is one active link together with the event it points at
type Hop struct {
	Link  *Link
	Event *settlement.Event
}

// Chain is everything known downstream of one marketplace settlement
type Chain struct {
	Settlement   *settlement.Event
	Intermediary *Hop // active SETTLEMENT_TO_INTERMEDIARY link, if any
	Bank         *Hop // active INTERMEDIARY_TO_BANK link of the intermediary, if any

	SettlementAmbiguous   bool // unresolved exception on the settlement for pass A
	IntermediaryAmbiguous bool // unresolved exception on the linked intermediary for pass B
}

// Status derives the settlement's chain status. It is never stored.
func (c Chain) Status(tolerance decimal.Decimal) (shared.ChainStatus, shared.MismatchReason) {
	if c.Intermediary == nil {
		if c.SettlementAmbiguous {
			return shared.ChainStatusMismatched, shared.MismatchReasonAmbiguous
		}
		return shared.ChainStatusPendingIntermediary, shared.MismatchReasonNone
	}

	hopA := AbsDiff(c.Settlement.Amount, c.Intermediary.Event.Amount)
	if hopA.GreaterThan(tolerance) {
		return shared.ChainStatusMismatched, shared.MismatchReasonAmount
	}

	if c.Bank == nil {
		if c.IntermediaryAmbiguous {
			return shared.ChainStatusMismatched, shared.MismatchReasonAmbiguous
		}
		return shared.ChainStatusPendingBank, shared.MismatchReasonNone
	}

	total := hopA.Add(AbsDiff(c.Intermediary.Event.Amount, c.Bank.Event.Amount))
	if total.GreaterThan(tolerance) {
		return shared.ChainStatusMismatched, shared.MismatchReasonAmount
	}
	return shared.ChainStatusMatched, shared.MismatchReasonNone
}

// AbsDiff returns |a - b|
func AbsDiff(a, b decimal.Decimal) decimal.Decimal {
	return a.Sub(b).Abs()
}

// DownstreamStatus annotates an intermediary transfer with the state of its bank hop.
func DownstreamStatus(from *settlement.Event, hop *Hop, ambiguous bool, tolerance decimal.Decimal) (shared.ChainStatus, shared.MismatchReason) {
	if hop == nil {
		if ambiguous {
			return shared.ChainStatusMismatched, shared.MismatchReasonAmbiguous
		}
		return shared.ChainStatusPendingBank, shared.MismatchReasonNone
	}
	if AbsDiff(from.Amount, hop.Event.Amount).GreaterThan(tolerance) {
		return shared.ChainStatusMismatched, shared.MismatchReasonAmount
	}
	return shared.ChainStatusMatched, shared.MismatchReasonNone
}

// InboundStatus annotates a bank credit: matched when a transfer points at it, unlinked otherwise.
func InboundStatus(to *settlement.Event, hop *Hop, tolerance decimal.Decimal) (shared.ChainStatus, shared.MismatchReason) {
	if hop == nil {
		return shared.ChainStatusUnlinked, shared.MismatchReasonNone
	}
	if AbsDiff(to.Amount, hop.Event.Amount).GreaterThan(tolerance) {
		return shared.ChainStatusMismatched, shared.MismatchReasonAmount
	}
	return shared.ChainStatusMatched, shared.MismatchReasonNone
}

// Summary holds the aggregate counts over settlements in a date range
type Summary struct {
	SettlementsTotal     int `json:"settlements_total"`
	LinkedToIntermediary int `json:"linked_to_intermediary"`
	LinkedToBank         int `json:"linked_to_bank"`
	PendingSettlements   int `json:"pending_settlements"`
	PendingIntermediary  int `json:"pending_intermediary"`
	Mismatches           int `json:"mismatches"`
}

// Summarize folds chains into counts.
// SettlementsTotal always equals LinkedToIntermediary + PendingIntermediary.
func Summarize(chains []Chain, tolerance decimal.Decimal) Summary {
	var s Summary
	for _, c := range chains {
		s.SettlementsTotal++
		if c.Intermediary != nil {
			s.LinkedToIntermediary++
			if c.Bank != nil {
				s.LinkedToBank++
			}
		} else {
			s.PendingIntermediary++
		}

		status, _ := c.Status(tolerance)
		switch status {
		case shared.ChainStatusPendingIntermediary, shared.ChainStatusPendingBank:
			s.PendingSettlements++
		case shared.ChainStatusMismatched:
			s.Mismatches++
		}
	}
	return s
}

// Counterpart is the linked event shown next to an annotated event
type Counterpart struct {
	EventID     uuid.UUID              `json:"event_id"`
	Stage       shared.Stage           `json:"stage"`
	ReferenceNo string                 `json:"reference_no,omitempty"`
	EventDate   string                 `json:"event_date"`
	Amount      decimal.Decimal        `json:"amount"`
	Confidence  shared.MatchConfidence `json:"match_confidence"`
}

// NewCounterpart describes hop's event from the perspective of the other end
func NewCounterpart(hop *Hop) *Counterpart {
	if hop == nil {
		return nil
	}
	return &Counterpart{
		EventID:     hop.Event.ID,
		Stage:       hop.Event.Stage,
		ReferenceNo: hop.Event.ReferenceNo,
		EventDate:   hop.Event.EventDate.Format(settlement.DateLayout),
		Amount:      hop.Event.Amount,
		Confidence:  hop.Link.Confidence,
	}
}

// AnnotatedEvent is an event with its derived status and linked neighbours
type AnnotatedEvent struct {
	Event      *settlement.Event     `json:"event"`
	Status     shared.ChainStatus    `json:"status"`
	Reason     shared.MismatchReason `json:"mismatch_reason,omitempty"`
	Upstream   *Counterpart          `json:"upstream,omitempty"`
	Downstream *Counterpart          `json:"downstream,omitempty"`
}
