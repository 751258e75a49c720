package postgres

import (
	"encoding/json"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/settlement-reconciler/internal/domain/reconciliation"
	"github.com/settlement-reconciler/internal/domain/settlement"
	"github.com/settlement-reconciler/internal/domain/shared"
	"github.com/shopspring/decimal"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

var eventRowColumns = []string{"id", "tenant_id", "stage", "source", "event_date", "amount", "reference_no",
	"external_id", "dedup_key", "raw_payload", "created_at", "ingested_batch_id"}

func newTestEvent(stage shared.Stage, amount string) *settlement.Event {
	return &settlement.Event{
		ID:              uuid.New(),
		TenantID:        "tenant-1",
		Stage:           stage,
		Source:          "amazon",
		EventDate:       time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Amount:          decimal.RequireFromString(amount),
		ReferenceNo:     "UTR-1001",
		DedupKey:        "dedup-" + amount,
		RawPayload:      json.RawMessage(`{"row":1}`),
		CreatedAt:       time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC),
		IngestedBatchID: uuid.New(),
	}
}

func eventRows(events ...*settlement.Event) *pgxmock.Rows {
	rows := pgxmock.NewRows(eventRowColumns)
	for _, e := range events {
		rows.AddRow(e.ID, e.TenantID, e.Stage, e.Source, e.EventDate, e.Amount.String(), e.ReferenceNo,
			e.ExternalID, e.DedupKey, []byte(e.RawPayload), e.CreatedAt, e.IngestedBatchID)
	}
	return rows
}

var linkRowColumns = []string{"id", "tenant_id", "stage_pair", "from_event_id", "to_event_id", "match_confidence",
	"active", "created_at", "invalidated_at", "superseded_by"}

func newTestLink(confidence shared.MatchConfidence) *reconciliation.Link {
	return &reconciliation.Link{
		ID:          uuid.New(),
		TenantID:    "tenant-1",
		Pair:        shared.PairSettlementToIntermediary,
		FromEventID: uuid.New(),
		ToEventID:   uuid.New(),
		Confidence:  confidence,
		Active:      true,
		CreatedAt:   time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC),
	}
}

func linkRows(links ...*reconciliation.Link) *pgxmock.Rows {
	rows := pgxmock.NewRows(linkRowColumns)
	for _, l := range links {
		rows.AddRow(l.ID, l.TenantID, l.Pair, l.FromEventID, l.ToEventID, l.Confidence, l.Active, l.CreatedAt,
			l.InvalidatedAt, l.SupersededBy)
	}
	return rows
}
