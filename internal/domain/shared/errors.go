package shared

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidStage     = errors.New("invalid stage")
	ErrInvalidStagePair = errors.New("invalid stage pair")
	ErrInvalidDateRange = errors.New("invalid date range: from must not be after to")

	// ErrAmbiguousMatch is recorded against a from-event as data state; Reconcile never returns it.
	ErrAmbiguousMatch = errors.New("ambiguous match: multiple indistinguishable candidates")
)

// ValidationError describes why a single ingested item was rejected
type ValidationError struct {
	Row     int    `json:"row" bson:"row"`
	Field   string `json:"field" bson:"field"`
	Message string `json:"message" bson:"message"`
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("row %d: %s", e.Row, e.Message)
	}
	return fmt.Sprintf("row %d: %s: %s", e.Row, e.Field, e.Message)
}

// ConflictError indicates the (tenant, pair) reconciliation lock is held elsewhere
type ConflictError struct {
	TenantID string
	Pair     StagePair
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("reconciliation already in progress for tenant %s (%s)", e.TenantID, e.Pair)
}

// Is matches any ConflictError when the target carries no tenant
func (e ConflictError) Is(target error) bool {
	t, ok := target.(ConflictError)
	if !ok {
		return false
	}
	if t.TenantID == "" {
		return true
	}
	return e.TenantID == t.TenantID && (t.Pair == "" || e.Pair == t.Pair)
}

// StorageError wraps a persistence failure. Callers may retry the operation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError returns nil when err is nil so it can wrap call results directly.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}
