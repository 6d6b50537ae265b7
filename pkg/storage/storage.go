package storage

import (
	"github.com/hireflow/hireflow/pkg/models"
	"github.com/pkg/errors"
)

var (
	// ErrNotFound is returned when a referenced entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned on a unique-key collision, e.g. an inbound
	// message UID that was already recorded.
	ErrDuplicate = errors.New("duplicate")
	// ErrAlreadyActive is returned by SaveInstance when a non-terminal
	// instance already exists for the (job, candidate) pair.
	ErrAlreadyActive = errors.New("active instance already exists for job and candidate")
	// ErrConflict is returned when a compare-and-set write lost the race.
	// Callers must re-fetch state and re-evaluate, never blind-retry.
	ErrConflict = errors.New("concurrent modification")
	// ErrDuplicateOrder is returned at template authoring time when two
	// bindings share an order number.
	ErrDuplicateOrder = errors.New("duplicate order number within template")
)

// InstanceUpdate is the state applied by AdvanceInstance under the
// version guard.
type InstanceUpdate struct {
	CurrentBindingID *string
	StepPhase        *models.StepPhase
	StepEnteredAt    bool // Reset step_entered_at to now
	Attempts         int
	Status           models.InstanceStatus
}

// Store defines the storage operations for Hireflow.
type Store interface {
	Begin() (Store, error)
	Commit() error
	Rollback() error
	Close() error

	// Catalog operations (read-mostly reference data)
	SaveStepDefinition(d models.WorkflowStepDefinition) error
	GetStepDefinition(id string) (models.WorkflowStepDefinition, error)
	ListStepDefinitions() ([]models.WorkflowStepDefinition, error)
	SaveTemplate(t models.WorkflowTemplate) error
	GetTemplate(id string) (models.WorkflowTemplate, error)
	SaveStepBinding(b models.StepBinding) error
	GetStepBinding(id string) (models.StepBinding, error)
	ListStepBindings(templateID string) ([]models.StepBinding, error) // Ordered by order_number ascending

	// Directory operations (correlator lookups)
	SaveJob(j models.Job) error
	GetJob(id string) (models.Job, error)
	GetJobByShortID(shortID string) (models.Job, error)
	SaveCandidate(c models.Candidate) error
	GetCandidateByEmail(email string) (models.Candidate, error)

	// Instance operations
	SaveInstance(inst models.WorkflowInstance) error // ErrAlreadyActive on pair-uniqueness violation
	GetInstance(id string) (models.WorkflowInstance, error)
	FindActiveInstance(jobID, candidateID string) (models.WorkflowInstance, error)
	ListInstances() ([]models.WorkflowInstance, error)
	AdvanceInstance(id string, version int64, upd InstanceUpdate) error // ErrConflict on version mismatch
	CompleteInstance(id string, status models.InstanceStatus) error    // Idempotent; no-op when already terminal

	// Approval operations
	SaveApprovalRequest(r models.ApprovalRequest) error
	GetApprovalRequest(id string) (models.ApprovalRequest, error)
	FindPendingApprovalRequest(instanceID, bindingID string) (models.ApprovalRequest, error)
	RecordDecision(d models.ApprovalDecision) error // Upsert: last decision per responder wins
	ListDecisions(requestID string) ([]models.ApprovalDecision, error)
	ResolveApprovalRequest(id string, status models.ApprovalStatus) error

	// Execution log operations
	AppendLog(e models.ExecutionLogEntry) error
	ListLog(instanceID string) ([]models.ExecutionLogEntry, error) // Ordered by seq ascending

	// Inbound message dedup
	SaveInboundMessage(m models.InboundMessage) error // ErrDuplicate when the UID was already seen
}
