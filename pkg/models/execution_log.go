package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

type EventKind string

const (
	StartedEvent           EventKind = "STARTED"
	StepEnteredEvent       EventKind = "STEP_ENTERED"
	StepStartedEvent       EventKind = "STEP_STARTED"
	StepCompletedEvent     EventKind = "STEP_COMPLETED"
	StepFailedEvent        EventKind = "STEP_FAILED"
	ApprovalRequestedEvent EventKind = "APPROVAL_REQUESTED"
	ApprovalResolvedEvent  EventKind = "APPROVAL_RESOLVED"
	InstanceCompletedEvent EventKind = "INSTANCE_COMPLETED"
	InstanceFailedEvent    EventKind = "INSTANCE_FAILED"
	ExecutorDiscardedEvent EventKind = "EXECUTOR_DISCARDED"
)

// Payload is free-form structured detail attached to a log entry,
// stored as a JSONB column.
type Payload map[string]interface{}

func (p Payload) Value() (driver.Value, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p)
}

func (p *Payload) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*p = nil
		return nil
	case []byte:
		return json.Unmarshal(v, p)
	case string:
		return json.Unmarshal([]byte(v), p)
	default:
		return errors.Errorf("cannot scan %T into Payload", src)
	}
}

// ExecutionLogEntry is one immutable record in an instance's audit trail.
// The per-instance Seq order matches the engine's transition order; the
// log, not the instance row, is the source of truth on re-entry.
type ExecutionLogEntry struct {
	ID         int64     `json:"id" db:"id"` // Auto-incremented
	InstanceID string    `json:"instance_id" db:"instance_id"`
	Seq        int       `json:"seq" db:"seq"`                             // Per-instance sequence, 1-based
	BindingID  *string   `json:"binding_id,omitempty" db:"binding_id"`     // nil for instance-level events
	Kind       EventKind `json:"kind" db:"kind"`
	Payload    Payload   `json:"payload,omitempty" db:"payload"`
	LoggedAt   time.Time `json:"logged_at" db:"logged_at"`
}
