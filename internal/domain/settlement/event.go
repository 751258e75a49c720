package settlement

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/settlement-reconciler/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// DateLayout is the day-precision format used on the wire and in exports
const DateLayout = "2006-01-02"

var (
	ErrEmptyTenant = errors.New("tenant id cannot be empty")
	ErrEmptySource = errors.New("source cannot be empty")
	ErrMissingDate = errors.New("event date is required")

	ErrAmountOutOfRange = errors.New("amount out of range")
)

// Amounts are stored as NUMERIC(20, 4).
const (
	MaxAmountIntegerDigits = 16
	maxAmountScale         = 32
)

var amountLimit = decimal.New(1, MaxAmountIntegerDigits)

// CheckAmount rejects amounts the event store cannot hold. The exponent is checked first
// so that values like 1e300000000 are refused without being expanded.
func CheckAmount(amount decimal.Decimal) error {
	if exp := amount.Exponent(); exp > MaxAmountIntegerDigits || exp < -maxAmountScale {
		return fmt.Errorf("%w: exponent %d", ErrAmountOutOfRange, exp)
	}
	if amount.Abs().GreaterThanOrEqual(amountLimit) {
		return fmt.Errorf("%w: magnitude must be below 1e%d", ErrAmountOutOfRange, MaxAmountIntegerDigits)
	}
	return nil
}

// Event is one normalized settlement signal from a single source
type Event struct {
	ID              uuid.UUID       `json:"id"`
	TenantID        string          `json:"tenant_id"`
	Stage           shared.Stage    `json:"stage"`
	Source          string          `json:"source"`
	EventDate       time.Time       `json:"event_date"`
	Amount          decimal.Decimal `json:"amount"`
	ReferenceNo     string          `json:"reference_no,omitempty"`
	ExternalID      string          `json:"external_id,omitempty"`
	DedupKey        string          `json:"dedup_key"`
	RawPayload      json.RawMessage `json:"raw_payload,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	IngestedBatchID uuid.UUID       `json:"ingested_batch_id"`
}

// NewEvent builds an event with its date truncated to the day, its amount rounded to the
// currency minor unit and its dedup key computed.
func NewEvent(tenantID, source string, stage shared.Stage, eventDate time.Time, amount decimal.Decimal,
	referenceNo, externalID string, raw json.RawMessage, batchID uuid.UUID, minorUnits int32) (*Event, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, ErrEmptyTenant
	}
	if strings.TrimSpace(source) == "" {
		return nil, ErrEmptySource
	}
	if !stage.IsValid() {
		return nil, shared.ErrInvalidStage
	}
	if eventDate.IsZero() {
		return nil, ErrMissingDate
	}
	if err := CheckAmount(amount); err != nil {
		return nil, err
	}
	rounded := amount.Round(minorUnits)
	if err := CheckAmount(rounded); err != nil {
		return nil, err
	}

	e := &Event{
		ID:              uuid.New(),
		TenantID:        tenantID,
		Stage:           stage,
		Source:          strings.TrimSpace(source),
		EventDate:       TruncateDay(eventDate),
		Amount:          rounded,
		ReferenceNo:     strings.TrimSpace(referenceNo),
		ExternalID:      strings.TrimSpace(externalID),
		RawPayload:      raw,
		CreatedAt:       time.Now().UTC(),
		IngestedBatchID: batchID,
	}
	e.DedupKey = ComputeDedupKey(e, minorUnits)
	return e, nil
}

// TruncateDay drops the time of day, keeping the calendar date the time was expressed in.
func TruncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NormalizeReference case-folds a reference and collapses internal whitespace.
func NormalizeReference(ref string) string {
	return strings.ToLower(strings.Join(strings.Fields(ref), " "))
}

// ComputeDedupKey derives the deterministic identity of a logical event.
// Two deliveries of the same event from the same source always produce the same key.
func ComputeDedupKey(e *Event, minorUnits int32) string {
	parts := []string{
		e.TenantID,
		string(e.Stage),
		strings.ToLower(strings.TrimSpace(e.Source)),
		NormalizeReference(e.ReferenceNo),
		e.Amount.StringFixed(minorUnits),
		TruncateDay(e.EventDate).Format(DateLayout),
	}
	if ext := strings.TrimSpace(e.ExternalID); ext != "" {
		parts = append(parts, strings.ToLower(ext))
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// DaysBetween returns the whole number of days from a to b; negative when b is earlier.
func DaysBetween(a, b time.Time) int {
	return int(TruncateDay(b).Sub(TruncateDay(a)).Hours() / 24)
}
