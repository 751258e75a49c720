package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/settlement-reconciler/internal/domain/reconciliation"
	"github.com/settlement-reconciler/internal/domain/settlement"
	"github.com/settlement-reconciler/internal/domain/shared"
)

// annotator derives chain state for a set of events with a bounded number of queries:
// one hop outbound and inbound from the events themselves, plus the bank hop of
// settlements' intermediaries.
type annotator struct {
	events     settlement.Repository
	links      reconciliation.LinkRepository
	exceptions reconciliation.ExceptionRepository
}

// chainState holds everything loaded for one annotation round
type chainState struct {
	outbound  map[uuid.UUID]*reconciliation.Hop // by from event id
	inbound   map[uuid.UUID]*reconciliation.Hop // by to event id, Hop.Event is the upstream event
	ambiguous map[shared.StagePair]map[uuid.UUID]bool
}

func (a *annotator) load(ctx context.Context, tenantID string, events []*settlement.Event) (*chainState, error) {
	state := &chainState{
		outbound: map[uuid.UUID]*reconciliation.Hop{},
		inbound:  map[uuid.UUID]*reconciliation.Hop{},
		ambiguous: map[shared.StagePair]map[uuid.UUID]bool{
			shared.PairSettlementToIntermediary: {},
			shared.PairIntermediaryToBank:       {},
		},
	}
	if len(events) == 0 {
		return state, nil
	}

	known := make(map[uuid.UUID]*settlement.Event, len(events))
	for _, e := range events {
		known[e.ID] = e
	}
	ids := eventIDs(events)

	outbound, err := a.links.ListActiveFrom(ctx, tenantID, ids)
	if err != nil {
		return nil, shared.NewStorageError("load outbound links", err)
	}
	inbound, err := a.links.ListActiveTo(ctx, tenantID, ids)
	if err != nil {
		return nil, shared.NewStorageError("load inbound links", err)
	}

	// Intermediaries reached from settlements need their own downstream hop.
	var secondHop []uuid.UUID
	for _, l := range outbound {
		if l.Pair == shared.PairSettlementToIntermediary {
			if _, ok := known[l.ToEventID]; !ok {
				secondHop = append(secondHop, l.ToEventID)
			}
		}
	}
	if len(secondHop) > 0 {
		more, err := a.links.ListActiveFrom(ctx, tenantID, secondHop)
		if err != nil {
			return nil, shared.NewStorageError("load downstream links", err)
		}
		outbound = append(outbound, more...)
	}

	var missing []uuid.UUID
	want := func(id uuid.UUID) {
		if _, ok := known[id]; !ok {
			known[id] = nil
			missing = append(missing, id)
		}
	}
	for _, l := range outbound {
		want(l.ToEventID)
	}
	for _, l := range inbound {
		want(l.FromEventID)
	}
	if len(missing) > 0 {
		fetched, err := a.events.GetByIDs(ctx, tenantID, missing)
		if err != nil {
			return nil, shared.NewStorageError("load linked events", err)
		}
		for _, e := range fetched {
			known[e.ID] = e
		}
	}

	for _, l := range outbound {
		if to := known[l.ToEventID]; to != nil {
			state.outbound[l.FromEventID] = &reconciliation.Hop{Link: l, Event: to}
		}
	}
	for _, l := range inbound {
		if from := known[l.FromEventID]; from != nil {
			state.inbound[l.ToEventID] = &reconciliation.Hop{Link: l, Event: from}
		}
	}

	// Ambiguity is recorded on from events: settlements for pass A, intermediaries for pass B.
	var settlementIDs, intermediaryIDs []uuid.UUID
	for _, e := range events {
		switch e.Stage {
		case shared.StageMarketplaceSettlement:
			settlementIDs = append(settlementIDs, e.ID)
		case shared.StageIntermediaryTransfer:
			intermediaryIDs = append(intermediaryIDs, e.ID)
		}
	}
	intermediaryIDs = append(intermediaryIDs, secondHop...)

	for pair, fromIDs := range map[shared.StagePair][]uuid.UUID{
		shared.PairSettlementToIntermediary: settlementIDs,
		shared.PairIntermediaryToBank:       intermediaryIDs,
	} {
		if len(fromIDs) == 0 {
			continue
		}
		open, err := a.exceptions.ListActive(ctx, tenantID, pair, fromIDs)
		if err != nil {
			return nil, shared.NewStorageError("load exceptions", err)
		}
		for _, ex := range open {
			state.ambiguous[pair][ex.FromEventID] = true
		}
	}
	return state, nil
}

// chain assembles the settlement's chain from loaded state
func (st *chainState) chain(e *settlement.Event) reconciliation.Chain {
	c := reconciliation.Chain{
		Settlement:          e,
		SettlementAmbiguous: st.ambiguous[shared.PairSettlementToIntermediary][e.ID],
	}
	if hop := st.outbound[e.ID]; hop != nil && hop.Link.Pair == shared.PairSettlementToIntermediary {
		c.Intermediary = hop
		if bank := st.outbound[hop.Event.ID]; bank != nil && bank.Link.Pair == shared.PairIntermediaryToBank {
			c.Bank = bank
		}
		c.IntermediaryAmbiguous = st.ambiguous[shared.PairIntermediaryToBank][hop.Event.ID]
	}
	return c
}

// annotate derives the status of any event from loaded state
func (st *chainState) annotate(e *settlement.Event, tolerance decimal.Decimal) *reconciliation.AnnotatedEvent {
	out := &reconciliation.AnnotatedEvent{Event: e}
	switch e.Stage {
	case shared.StageMarketplaceSettlement:
		c := st.chain(e)
		out.Status, out.Reason = c.Status(tolerance)
		out.Downstream = reconciliation.NewCounterpart(c.Intermediary)
	case shared.StageIntermediaryTransfer:
		down := st.outbound[e.ID]
		out.Status, out.Reason = reconciliation.DownstreamStatus(e, down, st.ambiguous[shared.PairIntermediaryToBank][e.ID], tolerance)
		out.Upstream = reconciliation.NewCounterpart(st.inbound[e.ID])
		out.Downstream = reconciliation.NewCounterpart(down)
	case shared.StageBankCredit:
		up := st.inbound[e.ID]
		out.Status, out.Reason = reconciliation.InboundStatus(e, up, tolerance)
		out.Upstream = reconciliation.NewCounterpart(up)
	}
	return out
}
