package models

import "time"

type ApprovalStatus string

const (
	PendingApprovalStatus  ApprovalStatus = "PENDING"
	ApprovedApprovalStatus ApprovalStatus = "APPROVED"
	RejectedApprovalStatus ApprovalStatus = "REJECTED"
)

// Terminal reports whether the request accepts no further decisions.
func (s ApprovalStatus) Terminal() bool {
	return s == ApprovedApprovalStatus || s == RejectedApprovalStatus
}

type Decision string

const (
	ApproveDecision Decision = "APPROVE"
	RejectDecision  Decision = "REJECT"
)

// ApprovalRequest gates a binding behind a quorum of human approvals.
// Resolved requests are kept for audit, never deleted.
type ApprovalRequest struct {
	ID              string         `json:"id" db:"id"` // UUID
	InstanceID      string         `json:"instance_id" db:"instance_id"`
	BindingID       string         `json:"binding_id" db:"binding_id"`
	ApprovalsNeeded int            `json:"approvals_needed" db:"approvals_needed"`
	Status          ApprovalStatus `json:"status" db:"status"`
	RequestedAt     time.Time      `json:"requested_at" db:"requested_at"`
	ResolvedAt      *time.Time     `json:"resolved_at,omitempty" db:"resolved_at"`
}

// ApprovalDecision is one responder's current decision on a request.
// A responder may change their mind before quorum; the latest value wins.
type ApprovalDecision struct {
	RequestID   string    `json:"request_id" db:"request_id"`
	ResponderID string    `json:"responder_id" db:"responder_id"`
	Decision    Decision  `json:"decision" db:"decision"`
	Comments    string    `json:"comments,omitempty" db:"comments"`
	RespondedAt time.Time `json:"responded_at" db:"responded_at"`
}

// ApprovalCounts is the reporting view of a request's decision tally.
type ApprovalCounts struct {
	Pending  int `json:"pending"`
	Approved int `json:"approved"`
	Rejected int `json:"rejected"`
}
