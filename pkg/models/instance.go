package models

import "time"

type InstanceStatus string

const (
	ActiveInstanceStatus    InstanceStatus = "ACTIVE"
	CompletedInstanceStatus InstanceStatus = "COMPLETED"
	FailedInstanceStatus    InstanceStatus = "FAILED"
)

// Terminal reports whether no further transitions are accepted.
func (s InstanceStatus) Terminal() bool {
	return s == CompletedInstanceStatus || s == FailedInstanceStatus
}

// StepPhase tracks where the current binding sits within its lifecycle.
// It is a derived cache of the execution log, like CurrentBindingID.
type StepPhase string

const (
	EnteredStepPhase          StepPhase = "ENTERED"           // Parked: waiting on delay or external start
	ExecutingStepPhase        StepPhase = "EXECUTING"         // Dispatched to the automated executor
	AwaitingApprovalStepPhase StepPhase = "AWAITING_APPROVAL" // Open approval request
	AwaitingManualStepPhase   StepPhase = "AWAITING_MANUAL"   // Waiting for an explicit complete trigger
)

// WorkflowInstance is one candidate's run through one template for one job.
// At most one ACTIVE instance exists per (job, candidate) pair.
type WorkflowInstance struct {
	ID               string         `json:"id" db:"id"`                 // UUID
	TemplateID       string         `json:"template_id" db:"template_id"`
	JobID            string         `json:"job_id" db:"job_id"`
	CandidateID      string         `json:"candidate_id" db:"candidate_id"`
	Status           InstanceStatus `json:"status" db:"status"`
	CurrentBindingID *string        `json:"current_binding_id,omitempty" db:"current_binding_id"` // nil: not started or finished
	StepPhase        *StepPhase     `json:"step_phase,omitempty" db:"step_phase"`                 // nil when no current binding
	StepEnteredAt    *time.Time     `json:"step_entered_at,omitempty" db:"step_entered_at"`       // Delay accounting for the current binding
	Attempts         int            `json:"attempts" db:"attempts"` // Executor attempts on the current binding
	StartedAt        time.Time      `json:"started_at" db:"started_at"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty" db:"completed_at"` // Set exactly once, on a terminal transition
	Version          int64          `json:"version" db:"version"`                     // Compare-and-set guard for AdvanceInstance
}

// InstanceState is the read-only reporting projection.
type InstanceState struct {
	Instance WorkflowInstance    `json:"instance"`
	Log      []ExecutionLogEntry `json:"log"`
}
