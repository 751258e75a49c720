package shared

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ReconcileJob defines a Kafka message asking the worker to run one pass over a date range
type ReconcileJob struct {
	JobID         uuid.UUID  `json:"job_id"`
	TenantID      string     `json:"tenant_id"`
	Pair          StagePair  `json:"stage_pair"`
	From          time.Time  `json:"from"`
	To            time.Time  `json:"to"`
	Trigger       RunTrigger `json:"trigger"`
	BatchID       uuid.UUID  `json:"batch_id,omitempty"`
	CorrelationID string     `json:"correlation_id,omitempty"`
	Timestamp     time.Time  `json:"timestamp"`
}

// NormalizedEvent is a settlement signal as delivered by a source adapter
type NormalizedEvent struct {
	Stage       string          `json:"stage" validate:"required,oneof=MARKETPLACE_SETTLEMENT INTERMEDIARY_TRANSFER BANK_CREDIT"`
	EventDate   string          `json:"event_date" validate:"required"`
	Amount      string          `json:"amount" validate:"required"`
	ReferenceNo string          `json:"reference_no,omitempty" validate:"max=255"`
	ExternalID  string          `json:"external_id,omitempty" validate:"max=255"`
	RawPayload  json.RawMessage `json:"raw_payload,omitempty"`
}

// IngestBatchRequest is the Kafka message adapters publish to the batch intake topic
type IngestBatchRequest struct {
	BatchID       uuid.UUID         `json:"batch_id"`
	TenantID      string            `json:"tenant_id"`
	Source        string            `json:"source"`
	Events        []NormalizedEvent `json:"events"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
}
