package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/settlement-reconciler/internal/domain/reconciliation"
	"github.com/settlement-reconciler/internal/domain/settlement"
	"github.com/shopspring/decimal"
)

const uniqueViolation = "23505"

// uniqueViolationOn reports whether err is a unique violation, returning the constraint name.
func uniqueViolationOn(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return pgErr.ConstraintName, true
	}
	return "", false
}

const eventColumns = `id, tenant_id, stage, source, event_date, amount::text, reference_no, external_id,
		dedup_key, raw_payload, created_at, ingested_batch_id`

func scanEvent(row pgx.Row) (*settlement.Event, error) {
	var (
		event  settlement.Event
		amount string
		raw    []byte
	)
	err := row.Scan(
		&event.ID,
		&event.TenantID,
		&event.Stage,
		&event.Source,
		&event.EventDate,
		&amount,
		&event.ReferenceNo,
		&event.ExternalID,
		&event.DedupKey,
		&raw,
		&event.CreatedAt,
		&event.IngestedBatchID,
	)
	if err != nil {
		return nil, err
	}

	event.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid stored amount %q: %w", amount, err)
	}
	event.RawPayload = raw
	return &event, nil
}

func collectEvents(rows pgx.Rows) ([]*settlement.Event, error) {
	defer rows.Close()

	var events []*settlement.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

const linkColumns = `id, tenant_id, stage_pair, from_event_id, to_event_id, match_confidence, active,
		created_at, invalidated_at, superseded_by`

func scanLink(row pgx.Row) (*reconciliation.Link, error) {
	var link reconciliation.Link
	err := row.Scan(
		&link.ID,
		&link.TenantID,
		&link.Pair,
		&link.FromEventID,
		&link.ToEventID,
		&link.Confidence,
		&link.Active,
		&link.CreatedAt,
		&link.InvalidatedAt,
		&link.SupersededBy,
	)
	if err != nil {
		return nil, err
	}
	return &link, nil
}

func collectLinks(rows pgx.Rows) ([]*reconciliation.Link, error) {
	defer rows.Close()

	var links []*reconciliation.Link
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, link)
	}
	return links, rows.Err()
}
