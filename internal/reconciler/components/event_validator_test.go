package components

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/settlement-reconciler/internal/domain/shared"
)

func TestEventValidator_Validate(t *testing.T) {
	validator := NewEventValidator(2, slog.Default())
	batchID := uuid.New()

	t.Run("accepts a complete row", func(t *testing.T) {
		raw := &shared.NormalizedEvent{
			Stage:       "INTERMEDIARY_TRANSFER",
			EventDate:   "2024-03-02",
			Amount:      " 99850.004 ",
			ReferenceNo: " SETL-001 ",
			ExternalID:  "pout_9",
			RawPayload:  json.RawMessage(`{"utr":"N123"}`),
		}
		event, errs := validator.Validate(context.Background(), "tenant-1", "razorpay", 1, raw, batchID)
		require.Empty(t, errs)
		require.NotNil(t, event)
		assert.Equal(t, shared.StageIntermediaryTransfer, event.Stage)
		assert.Equal(t, "2024-03-02", event.EventDate.Format("2006-01-02"))
		assert.True(t, decimal.RequireFromString("99850").Equal(event.Amount))
		assert.Equal(t, "SETL-001", event.ReferenceNo)
		assert.Equal(t, batchID, event.IngestedBatchID)
		assert.NotEmpty(t, event.DedupKey)
	})

	t.Run("accepts RFC 3339 timestamps and negative amounts", func(t *testing.T) {
		raw := &shared.NormalizedEvent{Stage: "BANK_CREDIT", EventDate: "2024-03-02T23:10:00+05:30", Amount: "-120.50"}
		event, errs := validator.Validate(context.Background(), "tenant-1", "hdfc", 4, raw, batchID)
		require.Empty(t, errs)
		assert.Equal(t, "2024-03-02", event.EventDate.Format("2006-01-02"))
		assert.True(t, decimal.RequireFromString("-120.5").Equal(event.Amount))
	})

	tests := []struct {
		name   string
		raw    shared.NormalizedEvent
		fields []string
	}{
		{"missing mandatory fields", shared.NormalizedEvent{}, []string{"stage", "event_date", "amount"}},
		{"unknown stage", shared.NormalizedEvent{Stage: "REFUND", EventDate: "2024-03-01", Amount: "1"}, []string{"stage"}},
		{"malformed amount", shared.NormalizedEvent{Stage: "BANK_CREDIT", EventDate: "2024-03-01", Amount: "1,000"}, []string{"amount"}},
		{"unparsable date", shared.NormalizedEvent{Stage: "BANK_CREDIT", EventDate: "01/03/2024", Amount: "1"}, []string{"event_date"}},
		{"invalid raw payload", shared.NormalizedEvent{Stage: "BANK_CREDIT", EventDate: "2024-03-01", Amount: "1", RawPayload: json.RawMessage(`{`)}, []string{"raw_payload"}},
		{"amount beyond the stored precision", shared.NormalizedEvent{Stage: "BANK_CREDIT", EventDate: "2024-03-01", Amount: "1e20"}, []string{"amount"}},
		{"amount with a huge exponent", shared.NormalizedEvent{Stage: "BANK_CREDIT", EventDate: "2024-03-01", Amount: "1e300000000"}, []string{"amount"}},
		{"amount with a tiny exponent", shared.NormalizedEvent{Stage: "BANK_CREDIT", EventDate: "2024-03-01", Amount: "-1e-300000000"}, []string{"amount"}},
		{"amount rounding up to the limit", shared.NormalizedEvent{Stage: "BANK_CREDIT", EventDate: "2024-03-01", Amount: "9999999999999999.999"}, []string{"amount"}},
		{"bad date and amount together", shared.NormalizedEvent{Stage: "BANK_CREDIT", EventDate: "yesterday", Amount: "ten"}, []string{"event_date", "amount"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			event, errs := validator.Validate(context.Background(), "tenant-1", "hdfc", 7, &tc.raw, batchID)
			assert.Nil(t, event)
			require.Len(t, errs, len(tc.fields))
			for i, field := range tc.fields {
				assert.Equal(t, 7, errs[i].Row)
				assert.Equal(t, field, errs[i].Field)
				assert.NotEmpty(t, errs[i].Message)
			}
		})
	}
}
