package components

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/settlement-reconciler/internal/domain/settlement"
	"github.com/settlement-reconciler/internal/domain/shared"
	"github.com/settlement-reconciler/internal/reconciler/service"
)

type EventValidatorImpl struct {
	validate   *validator.Validate
	minorUnits int32
	logger     *slog.Logger
}

func NewEventValidator(minorUnits int32, logger *slog.Logger) service.EventValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their wire names.
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &EventValidatorImpl{
		validate:   v,
		minorUnits: minorUnits,
		logger:     logger,
	}
}

// Validate checks one adapter row. Every problem found on the row is reported, not just the first.
func (v *EventValidatorImpl) Validate(ctx context.Context, tenantID, source string, row int, raw *shared.NormalizedEvent,
	batchID uuid.UUID) (*settlement.Event, []shared.ValidationError) {
	var errs []shared.ValidationError
	fail := func(field, message string) {
		errs = append(errs, shared.ValidationError{Row: row, Field: field, Message: message})
	}

	if err := v.validate.StructCtx(ctx, raw); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			fail("", err.Error())
			return nil, errs
		}
		for _, fe := range fieldErrs {
			fail(fe.Field(), tagMessage(fe))
		}
	}

	var eventDate time.Time
	if raw.EventDate != "" {
		d, err := parseEventDate(raw.EventDate)
		if err != nil {
			fail("event_date", err.Error())
		}
		eventDate = d
	}

	var amount decimal.Decimal
	if raw.Amount != "" {
		a, err := decimal.NewFromString(strings.TrimSpace(raw.Amount))
		switch {
		case err != nil:
			fail("amount", fmt.Sprintf("malformed amount %q", raw.Amount))
		case settlement.CheckAmount(a) != nil:
			fail("amount", fmt.Sprintf("amount %q is out of range, magnitude must be below 1e%d", raw.Amount, settlement.MaxAmountIntegerDigits))
		default:
			amount = a
		}
	}

	if len(raw.RawPayload) > 0 && !json.Valid(raw.RawPayload) {
		fail("raw_payload", "raw payload must be valid JSON")
	}

	if len(errs) > 0 {
		v.logger.Debug("Rejected settlement event row", "tenant_id", tenantID, "source", source, "row", row, "errors", len(errs))
		return nil, errs
	}

	event, err := settlement.NewEvent(tenantID, source, shared.Stage(raw.Stage), eventDate, amount,
		raw.ReferenceNo, raw.ExternalID, raw.RawPayload, batchID, v.minorUnits)
	if err != nil {
		field := ""
		if errors.Is(err, settlement.ErrAmountOutOfRange) {
			field = "amount"
		}
		fail(field, err.Error())
		return nil, errs
	}
	return event, nil
}

// parseEventDate accepts a calendar date or an RFC 3339 timestamp; only the date part is kept.
func parseEventDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if d, err := time.Parse(settlement.DateLayout, value); err == nil {
		return d, nil
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return settlement.TruncateDay(ts), nil
	}
	return time.Time{}, fmt.Errorf("unparsable date %q, expected YYYY-MM-DD", value)
}

func tagMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	}
	return fmt.Sprintf("failed %s validation", fe.Tag())
}
