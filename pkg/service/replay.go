package service

import "github.com/hireflow/hireflow/pkg/models"

// ReplayedState is an instance's position recomputed from its execution
// log alone. The instance row caches the same fields; after a crash the
// log is authoritative and this replay is the recovery path.
type ReplayedState struct {
	Status           models.InstanceStatus
	CurrentBindingID *string
	StepPhase        *models.StepPhase
}

// ReplayLog folds an instance's ordered log entries into its state.
// Replaying from empty must reconstruct the same current binding and
// status as the live instance row at any point in time.
func ReplayLog(entries []models.ExecutionLogEntry) ReplayedState {
	state := ReplayedState{Status: models.ActiveInstanceStatus}
	for _, e := range entries {
		switch e.Kind {
		case models.StartedEvent:
			state.Status = models.ActiveInstanceStatus
		case models.StepEnteredEvent:
			state.CurrentBindingID = e.BindingID
			phase := models.EnteredStepPhase
			state.StepPhase = &phase
		case models.StepStartedEvent:
			phase := models.ExecutingStepPhase
			if mode, ok := e.Payload["mode"].(string); ok && mode == "manual" {
				phase = models.AwaitingManualStepPhase
			}
			state.StepPhase = &phase
		case models.ApprovalRequestedEvent:
			phase := models.AwaitingApprovalStepPhase
			state.StepPhase = &phase
		case models.StepCompletedEvent, models.ApprovalResolvedEvent:
			// Position changes ride on the following step-entered or
			// instance-completed entry in the same transaction.
		case models.StepFailedEvent:
			if retrying, ok := e.Payload["retrying"].(bool); ok && retrying {
				phase := models.ExecutingStepPhase
				state.StepPhase = &phase
			}
		case models.InstanceCompletedEvent:
			state.Status = models.CompletedInstanceStatus
			state.CurrentBindingID = nil
			state.StepPhase = nil
		case models.InstanceFailedEvent:
			state.Status = models.FailedInstanceStatus
			state.CurrentBindingID = nil
			state.StepPhase = nil
		case models.ExecutorDiscardedEvent:
			// Informational only.
		}
	}
	return state
}

// ReplayInstance recomputes an instance's state from its persisted log.
func (e *ExecutionEngine) ReplayInstance(instanceID string) (ReplayedState, error) {
	entries, err := e.store.ListLog(instanceID)
	if err != nil {
		return ReplayedState{}, err
	}
	return ReplayLog(entries), nil
}
