package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

type StepType string

const (
	AutomatedStepType StepType = "AUTOMATED"
	ManualStepType    StepType = "MANUAL"
	ApprovalStepType  StepType = "APPROVAL"
)

// ActionDescriptor is an opaque unit of work consumed by the automated
// executor. The engine never inspects Params; it only honors Retryable.
type ActionDescriptor struct {
	Type      string                 `json:"type"`
	Retryable bool                   `json:"retryable,omitempty"`
	Params    map[string]interface{} `json:"params,omitempty"`
}

// ActionList is stored as a JSONB column.
type ActionList []ActionDescriptor

func (a ActionList) Value() (driver.Value, error) {
	if a == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(a)
}

func (a *ActionList) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*a = nil
		return nil
	case []byte:
		return json.Unmarshal(v, a)
	case string:
		return json.Unmarshal([]byte(v), a)
	default:
		return errors.Errorf("cannot scan %T into ActionList", src)
	}
}

// WorkflowStepDefinition is a reusable unit of work referenced by templates.
// Definitions outlive any one template.
type WorkflowStepDefinition struct {
	ID          string     `json:"id" db:"id"`                    // UUID
	Name        string     `json:"name" db:"name"`                // Display name (e.g., "Resume Analysis")
	Description string     `json:"description" db:"description"`  // Optional longer description
	StepType    StepType   `json:"step_type" db:"step_type"`      // AUTOMATED, MANUAL or APPROVAL
	Actions     ActionList `json:"actions" db:"actions"`          // Ordered opaque action descriptors
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}

// WorkflowTemplate is an ordered, immutable definition of hiring steps.
// Once a live instance references it, edits create a new template.
type WorkflowTemplate struct {
	ID        string        `json:"id" db:"id"`               // UUID
	Name      string        `json:"name" db:"name"`           // Descriptive name (e.g., "Standard Engineering Hire")
	Category  string        `json:"category" db:"category"`   // Grouping (e.g., "engineering")
	CreatedAt time.Time     `json:"created_at" db:"created_at"`
	Bindings  []StepBinding `json:"bindings,omitempty"`       // Populated at read time, ordered by order_number
}

// StepBinding places a step definition into a template at a specific
// position, plus the per-binding execution policy. Bindings are never
// mutated after creation; a new template version supersedes them.
type StepBinding struct {
	ID               string `json:"id" db:"id"`                               // UUID
	TemplateID       string `json:"template_id" db:"template_id"`             // Owning template
	StepID           string `json:"step_id" db:"step_id"`                     // Referenced step definition
	OrderNumber      int    `json:"order_number" db:"order_number"`           // 1-based, strictly increasing within a template
	AutoStart        bool   `json:"auto_start" db:"auto_start"`               // Execute without an external start trigger
	DelaySeconds     *int64 `json:"delay_seconds,omitempty" db:"delay_seconds"` // Optional wait after the step becomes current
	RequiresApproval bool   `json:"requires_approval" db:"requires_approval"` // Gate behind a human approval quorum
	ApprovalsNeeded  *int   `json:"approvals_needed,omitempty" db:"approvals_needed"` // Required iff RequiresApproval

	Step *WorkflowStepDefinition `json:"step,omitempty" db:"-"` // Populated at read time
}

// Delay returns the configured delay, zero when unset.
func (b StepBinding) Delay() time.Duration {
	if b.DelaySeconds == nil {
		return 0
	}
	return time.Duration(*b.DelaySeconds) * time.Second
}
