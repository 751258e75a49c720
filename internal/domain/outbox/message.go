package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/settlement-reconciler/internal/domain/shared"
)

// Message stores a reconciliation job until the poller has published it
type Message struct {
	ID            int64               `json:"id"`
	JobID         uuid.UUID           `json:"job_id"`
	TenantID      string              `json:"tenant_id"`
	Pair          shared.StagePair    `json:"stage_pair"`
	Payload       json.RawMessage     `json:"payload"`
	Status        shared.OutboxStatus `json:"status"`
	Attempts      int                 `json:"attempts"`
	CreatedAt     time.Time           `json:"created_at"`
	LastAttemptAt *time.Time          `json:"last_attempt_at,omitempty"`
}

func NewMessage(job *shared.ReconcileJob) (*Message, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return nil, err
	}

	return &Message{
		JobID:     job.JobID,
		TenantID:  job.TenantID,
		Pair:      job.Pair,
		Payload:   payload,
		Status:    shared.OutboxStatusPending,
		Attempts:  0,
		CreatedAt: time.Now(),
	}, nil
}

func (m *Message) IncrementAttempts() {
	m.Attempts++
	now := time.Now()
	m.LastAttemptAt = &now
}

func (m *Message) MarkAsProcessed() {
	m.Status = shared.OutboxStatusProcessed
	now := time.Now()
	m.LastAttemptAt = &now
}

func (m *Message) MarkAsFailed() {
	m.Status = shared.OutboxStatusFailedToPublish
	now := time.Now()
	m.LastAttemptAt = &now
}

// GetReconcileJob extracts the job from the payload
func (m *Message) GetReconcileJob() (*shared.ReconcileJob, error) {
	var job shared.ReconcileJob
	if err := json.Unmarshal(m.Payload, &job); err != nil {
		return nil, err
	}
	return &job, nil
}
