package service

import (
	"time"

	"github.com/google/uuid"
	"github.com/hireflow/hireflow/pkg/models"
	"github.com/hireflow/hireflow/pkg/storage"
	"github.com/pkg/errors"
)

// ErrAlreadyResolved is returned when a decision arrives after the
// request reached quorum. Surfaced to the submitter as a no-op.
var ErrAlreadyResolved = errors.New("approval request already resolved")

// ApprovalService tracks human decisions against a required threshold.
// Decisions on the same request are serialized so two responders cannot
// both trigger (or both miss) the resolution transition.
type ApprovalService struct {
	store  storage.Store
	logger Logger
	locks  *entityLocks
}

func NewApprovalService(store storage.Store, logger Logger) *ApprovalService {
	return &ApprovalService{
		store:  store,
		logger: logger,
		locks:  newEntityLocks(),
	}
}

// Open creates a pending request for a binding entry.
func (s *ApprovalService) Open(txStore storage.Store, instanceID, bindingID string, needed int) (models.ApprovalRequest, error) {
	if needed < 1 {
		return models.ApprovalRequest{}, errors.Errorf("approvals needed must be positive, got %d", needed)
	}
	req := models.ApprovalRequest{
		ID:              uuid.NewString(),
		InstanceID:      instanceID,
		BindingID:       bindingID,
		ApprovalsNeeded: needed,
		Status:          models.PendingApprovalStatus,
		RequestedAt:     time.Now(),
	}
	if err := txStore.SaveApprovalRequest(req); err != nil {
		return models.ApprovalRequest{}, errors.Wrapf(err, "save approval request for instance %s", instanceID)
	}
	return req, nil
}

// SubmitDecision records a responder's decision, overwriting any prior
// decision by the same responder, and resolves the request when the
// tally warrants it: approve count reaching the threshold approves, a
// single reject rejects. Returns the request as of after the decision.
func (s *ApprovalService) SubmitDecision(requestID, responderID string, decision models.Decision, comments string) (req models.ApprovalRequest, err error) {
	if responderID == "" {
		return models.ApprovalRequest{}, errors.New("responder id cannot be empty")
	}
	if decision != models.ApproveDecision && decision != models.RejectDecision {
		return models.ApprovalRequest{}, errors.Errorf("invalid decision '%s'", decision)
	}

	unlock := s.locks.acquire(requestID)
	defer unlock()

	req, err = s.store.GetApprovalRequest(requestID)
	if err != nil {
		return models.ApprovalRequest{}, err
	}
	if req.Status.Terminal() {
		return req, ErrAlreadyResolved
	}

	txStore, err := s.store.Begin()
	if err != nil {
		return models.ApprovalRequest{}, errors.Wrap(err, "begin transaction")
	}
	defer func() {
		if err != nil {
			if rollbackErr := txStore.Rollback(); rollbackErr != nil {
				s.logger.Errorf("Failed to rollback after error: %v (original error: %v)", rollbackErr, err)
			}
			return
		}
		if commitErr := txStore.Commit(); commitErr != nil {
			s.logger.Errorf("Failed to commit: %v", commitErr)
			err = commitErr
		}
	}()

	if err = txStore.RecordDecision(models.ApprovalDecision{
		RequestID:   requestID,
		ResponderID: responderID,
		Decision:    decision,
		Comments:    comments,
		RespondedAt: time.Now(),
	}); err != nil {
		return models.ApprovalRequest{}, errors.Wrapf(err, "record decision on request %s", requestID)
	}

	decisions, err := txStore.ListDecisions(requestID)
	if err != nil {
		return models.ApprovalRequest{}, errors.Wrapf(err, "list decisions on request %s", requestID)
	}
	approved, rejected := tally(decisions)

	resolved := models.PendingApprovalStatus
	switch {
	case rejected > 0:
		// Fail-fast gate: rejection needs no quorum.
		resolved = models.RejectedApprovalStatus
	case approved >= req.ApprovalsNeeded:
		resolved = models.ApprovedApprovalStatus
	}
	if resolved != models.PendingApprovalStatus {
		if err = txStore.ResolveApprovalRequest(requestID, resolved); err != nil {
			return models.ApprovalRequest{}, errors.Wrapf(err, "resolve request %s", requestID)
		}
		now := time.Now()
		req.ResolvedAt = &now
		s.logger.Infof("Approval request %s resolved as %s (%d approved, %d rejected, %d needed)",
			requestID, resolved, approved, rejected, req.ApprovalsNeeded)
	}
	req.Status = resolved
	return req, nil
}

// Status returns the request's current status.
func (s *ApprovalService) Status(requestID string) (models.ApprovalStatus, error) {
	req, err := s.store.GetApprovalRequest(requestID)
	if err != nil {
		return "", err
	}
	return req.Status, nil
}

// Counts reports the decision tally. Pending is the number of approvals
// still outstanding against the threshold.
func (s *ApprovalService) Counts(requestID string) (models.ApprovalCounts, error) {
	req, err := s.store.GetApprovalRequest(requestID)
	if err != nil {
		return models.ApprovalCounts{}, err
	}
	decisions, err := s.store.ListDecisions(requestID)
	if err != nil {
		return models.ApprovalCounts{}, errors.Wrapf(err, "list decisions on request %s", requestID)
	}
	approved, rejected := tally(decisions)
	pending := req.ApprovalsNeeded - approved
	if pending < 0 {
		pending = 0
	}
	return models.ApprovalCounts{Pending: pending, Approved: approved, Rejected: rejected}, nil
}

func tally(decisions []models.ApprovalDecision) (approved, rejected int) {
	for _, d := range decisions {
		switch d.Decision {
		case models.ApproveDecision:
			approved++
		case models.RejectDecision:
			rejected++
		}
	}
	return approved, rejected
}
