// Package export renders annotated event listings as CSV or XLSX downloads.
package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/settlement-reconciler/internal/domain/reconciliation"
	"github.com/settlement-reconciler/internal/domain/settlement"
)

type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

const sheetName = "Events"

var ErrUnsupportedFormat = errors.New("unsupported export format, expected csv or xlsx")

// ParseFormat defaults to CSV when value is empty.
func ParseFormat(value string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(value))) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatXLSX:
		return FormatXLSX, nil
	}
	return "", ErrUnsupportedFormat
}

func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}

// Filename names the attachment after the tenant
func (f Format) Filename(tenantID string) string {
	return fmt.Sprintf("settlement-events-%s.%s", tenantID, f)
}

var header = []string{
	"event_id", "stage", "source", "event_date", "amount", "reference_no", "external_id",
	"status", "reason",
	"upstream_event_id", "upstream_reference_no", "upstream_event_date", "upstream_amount", "upstream_confidence",
	"downstream_event_id", "downstream_reference_no", "downstream_event_date", "downstream_amount", "downstream_confidence",
	"ingested_batch_id",
}

// Write renders events in the requested format
func Write(w io.Writer, format Format, events []*reconciliation.AnnotatedEvent) error {
	switch format {
	case FormatCSV:
		return writeCSV(w, events)
	case FormatXLSX:
		return writeXLSX(w, events)
	}
	return ErrUnsupportedFormat
}

func writeCSV(w io.Writer, events []*reconciliation.AnnotatedEvent) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, e := range events {
		if err := cw.Write(record(e)); err != nil {
			return fmt.Errorf("failed to write csv row for event %s: %w", e.Event.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeXLSX(w io.Writer, events []*reconciliation.AnnotatedEvent) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	sw, err := f.NewStreamWriter(sheetName)
	if err != nil {
		return fmt.Errorf("failed to open sheet writer: %w", err)
	}
	if err := sw.SetRow("A1", toCells(header)); err != nil {
		return fmt.Errorf("failed to write xlsx header: %w", err)
	}
	for i, e := range events {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, toCells(record(e))); err != nil {
			return fmt.Errorf("failed to write xlsx row for event %s: %w", e.Event.ID, err)
		}
	}
	if err := sw.Flush(); err != nil {
		return fmt.Errorf("failed to flush xlsx sheet: %w", err)
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write xlsx file: %w", err)
	}
	return nil
}

// Amounts stay strings in both formats so that no precision is lost to floats.
func record(a *reconciliation.AnnotatedEvent) []string {
	e := a.Event
	row := []string{
		e.ID.String(),
		string(e.Stage),
		e.Source,
		e.EventDate.Format(settlement.DateLayout),
		e.Amount.StringFixed(2),
		e.ReferenceNo,
		e.ExternalID,
		string(a.Status),
		string(a.Reason),
	}
	row = append(row, counterpart(a.Upstream)...)
	row = append(row, counterpart(a.Downstream)...)
	return append(row, e.IngestedBatchID.String())
}

func counterpart(c *reconciliation.Counterpart) []string {
	if c == nil {
		return []string{"", "", "", "", ""}
	}
	return []string{
		c.EventID.String(),
		c.ReferenceNo,
		c.EventDate,
		c.Amount.StringFixed(2),
		string(c.Confidence),
	}
}

func toCells(values []string) []interface{} {
	cells := make([]interface{}, len(values))
	for i, v := range values {
		cells[i] = v
	}
	return cells
}
