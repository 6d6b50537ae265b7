package service

import (
	"time"

	"github.com/google/uuid"
	"github.com/hireflow/hireflow/pkg/models"
	"github.com/hireflow/hireflow/pkg/storage"
	"github.com/pkg/errors"
)

const (
	// DefaultMaxAttempts bounds executor retries per binding, counting
	// the first attempt.
	DefaultMaxAttempts = 3
)

// ExecutionEngine advances workflow instances through their template's
// ordered bindings. At most one transition runs per instance at a time;
// every transition appends to the execution log in the same transaction
// as the state write, so the log stays the source of truth on re-entry.
//
// Triggers (timers, inbound messages, approval decisions, executor
// callbacks) are discrete re-invocations: invoking the engine on an
// instance already past the relevant step is a no-op.
type ExecutionEngine struct {
	store       storage.Store
	catalog     *CatalogService
	approvals   *ApprovalService
	dispatcher  *Dispatcher
	logger      Logger
	locks       *entityLocks
	now         func() time.Time
	maxAttempts int
}

func NewExecutionEngine(store storage.Store, catalog *CatalogService, approvals *ApprovalService, dispatcher *Dispatcher, logger Logger) *ExecutionEngine {
	e := &ExecutionEngine{
		store:       store,
		catalog:     catalog,
		approvals:   approvals,
		dispatcher:  dispatcher,
		logger:      logger,
		locks:       newEntityLocks(),
		now:         time.Now,
		maxAttempts: DefaultMaxAttempts,
	}
	dispatcher.SetResultHandler(e.HandleExecutorResult)
	return e
}

// StartInstance creates an instance for the (job, candidate) pair and
// enters the template's first binding. storage.ErrAlreadyActive is
// returned when a non-terminal instance already exists for the pair.
func (e *ExecutionEngine) StartInstance(templateID, jobID, candidateID string) (models.WorkflowInstance, error) {
	first, ok, err := e.catalog.FirstBinding(templateID)
	if err != nil {
		return models.WorkflowInstance{}, errors.Wrapf(err, "first binding of template %s", templateID)
	}
	if !ok {
		return models.WorkflowInstance{}, errors.Errorf("template %s has no bindings", templateID)
	}

	inst := models.WorkflowInstance{
		ID:          uuid.NewString(),
		TemplateID:  templateID,
		JobID:       jobID,
		CandidateID: candidateID,
		Status:      models.ActiveInstanceStatus,
		StartedAt:   e.now(),
	}

	unlock := e.locks.acquire(inst.ID)
	if err := e.transitionStart(inst, first, true); err != nil {
		unlock()
		return models.WorkflowInstance{}, err
	}
	unlock()

	e.evaluate(inst.ID, false)
	e.logger.Infof("Started instance %s (job %s, candidate %s)", inst.ID, jobID, candidateID)
	return e.store.GetInstance(inst.ID)
}

// transitionStart writes the instance row (when creating), the started
// entry and the first step-entered entry in one transaction, so an
// interrupted start never leaves an ACTIVE row without a current
// binding. The pair-uniqueness constraint makes concurrent creation
// safe: exactly one caller commits, the rest observe ErrAlreadyActive.
func (e *ExecutionEngine) transitionStart(inst models.WorkflowInstance, first models.StepBinding, create bool) (err error) {
	txStore, err := e.store.Begin()
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer func() { err = e.finish(txStore, err) }()

	if create {
		if err = txStore.SaveInstance(inst); err != nil {
			return err
		}
	}
	if err = txStore.AppendLog(models.ExecutionLogEntry{
		InstanceID: inst.ID,
		Kind:       models.StartedEvent,
		Payload:    models.Payload{"template_id": inst.TemplateID, "job_id": inst.JobID, "candidate_id": inst.CandidateID},
		LoggedAt:   e.now(),
	}); err != nil {
		return err
	}
	return e.enterBinding(txStore, inst, first)
}

// enterFirstBinding replays the start transition for an ACTIVE instance
// that never entered its first binding (an earlier start interrupted
// between the row write and the log commit).
func (e *ExecutionEngine) enterFirstBinding(inst models.WorkflowInstance) error {
	first, ok, err := e.catalog.FirstBinding(inst.TemplateID)
	if err != nil {
		return errors.Wrapf(err, "first binding of template %s", inst.TemplateID)
	}
	if !ok {
		return errors.Errorf("template %s has no bindings", inst.TemplateID)
	}

	unlock := e.locks.acquire(inst.ID)
	current, err := e.store.GetInstance(inst.ID)
	if err != nil {
		unlock()
		return err
	}
	if current.Status.Terminal() || current.CurrentBindingID != nil {
		unlock()
		return nil
	}
	if err := e.transitionStart(current, first, false); err != nil {
		unlock()
		return err
	}
	unlock()

	e.evaluate(inst.ID, false)
	e.logger.Infof("Recovered instance %s into its first binding", inst.ID)
	return nil
}

// StartOrResume is the idempotent entry point used by the correlator:
// it returns the existing active instance for the pair or creates one
// from the job's template. created reports which happened.
func (e *ExecutionEngine) StartOrResume(jobID, candidateID string) (inst models.WorkflowInstance, created bool, err error) {
	if existing, findErr := e.store.FindActiveInstance(jobID, candidateID); findErr == nil {
		if existing.CurrentBindingID == nil {
			// An earlier start was interrupted after the row was written
			// but before the first binding was entered. Finish it here
			// rather than handing back a row no trigger can advance.
			if repairErr := e.enterFirstBinding(existing); repairErr != nil {
				return models.WorkflowInstance{}, false, repairErr
			}
			if existing, findErr = e.store.GetInstance(existing.ID); findErr != nil {
				return models.WorkflowInstance{}, false, findErr
			}
		}
		return existing, false, nil
	} else if !errors.Is(findErr, storage.ErrNotFound) {
		return models.WorkflowInstance{}, false, findErr
	}

	job, err := e.store.GetJob(jobID)
	if err != nil {
		return models.WorkflowInstance{}, false, errors.Wrapf(err, "job %s", jobID)
	}
	inst, err = e.StartInstance(job.TemplateID, jobID, candidateID)
	if errors.Is(err, storage.ErrAlreadyActive) {
		// Lost the race to a concurrent trigger; join its instance.
		existing, findErr := e.store.FindActiveInstance(jobID, candidateID)
		if findErr != nil {
			return models.WorkflowInstance{}, false, findErr
		}
		return existing, false, nil
	}
	if err != nil {
		return models.WorkflowInstance{}, false, err
	}
	return inst, true, nil
}

// FireDelayTimer is the re-invocation hook for parked delayed steps.
// Safe to call redundantly: it is a no-op unless the instance is still
// parked on the named binding with its delay elapsed.
func (e *ExecutionEngine) FireDelayTimer(instanceID, bindingID string) error {
	unlock := e.locks.acquire(instanceID)
	defer unlock()

	inst, err := e.store.GetInstance(instanceID)
	if err != nil {
		return err
	}
	if inst.Status.Terminal() || inst.CurrentBindingID == nil || *inst.CurrentBindingID != bindingID {
		return nil
	}
	if inst.StepPhase == nil || *inst.StepPhase != models.EnteredStepPhase {
		return nil
	}
	return e.evaluateLocked(inst, false)
}

// ExternalStartStep is the explicit start trigger for a parked binding
// with auto_start disabled (e.g., an inbound email confirming
// prerequisites). No-op when the instance is not parked.
func (e *ExecutionEngine) ExternalStartStep(instanceID string) error {
	unlock := e.locks.acquire(instanceID)
	defer unlock()

	inst, err := e.store.GetInstance(instanceID)
	if err != nil {
		return err
	}
	if inst.Status.Terminal() || inst.StepPhase == nil || *inst.StepPhase != models.EnteredStepPhase {
		return nil
	}
	return e.evaluateLocked(inst, true)
}

// CompleteManualStep records the explicit external "complete" trigger
// for a manual step awaiting completion.
func (e *ExecutionEngine) CompleteManualStep(instanceID, bindingID string, output models.Payload) error {
	unlock := e.locks.acquire(instanceID)
	defer unlock()

	inst, err := e.store.GetInstance(instanceID)
	if err != nil {
		return err
	}
	if inst.Status.Terminal() || inst.CurrentBindingID == nil || *inst.CurrentBindingID != bindingID {
		return errors.Wrapf(storage.ErrConflict, "instance %s is not on binding %s", instanceID, bindingID)
	}
	if inst.StepPhase == nil || *inst.StepPhase != models.AwaitingManualStepPhase {
		return errors.Wrapf(storage.ErrConflict, "instance %s is not awaiting manual completion", instanceID)
	}
	binding, err := e.store.GetStepBinding(bindingID)
	if err != nil {
		return err
	}
	return e.completeStep(inst, binding, output)
}

// SubmitApprovalDecision routes a responder's decision through the
// quorum tracker and, when the decision resolves the request, applies
// the resulting instance transition: approved completes the gated
// step, rejected fails the instance.
func (e *ExecutionEngine) SubmitApprovalDecision(requestID, responderID string, decision models.Decision, comments string) (models.ApprovalStatus, error) {
	req, err := e.approvals.SubmitDecision(requestID, responderID, decision, comments)
	if err != nil {
		return req.Status, err
	}
	if !req.Status.Terminal() {
		return req.Status, nil
	}

	unlock := e.locks.acquire(req.InstanceID)
	defer unlock()

	inst, err := e.store.GetInstance(req.InstanceID)
	if err != nil {
		return req.Status, err
	}
	// A concurrent path may have concluded the instance; the resolved
	// request stays on record either way.
	if inst.Status.Terminal() || inst.CurrentBindingID == nil || *inst.CurrentBindingID != req.BindingID {
		return req.Status, nil
	}
	if inst.StepPhase == nil || *inst.StepPhase != models.AwaitingApprovalStepPhase {
		return req.Status, nil
	}

	binding, err := e.store.GetStepBinding(req.BindingID)
	if err != nil {
		return req.Status, err
	}
	resolvedPayload := models.Payload{"request_id": req.ID, "resolution": string(req.Status)}
	if req.Status == models.ApprovedApprovalStatus {
		return req.Status, e.completeStepWith(inst, binding, resolvedPayload, models.ApprovalResolvedEvent)
	}
	return req.Status, e.failInstance(inst, &binding, "approval rejected", models.Payload{"request_id": req.ID})
}

// HandleExecutorResult is the asynchronous callback from the automated
// executor. Late results for instances that moved on are logged and
// discarded, never applied.
func (e *ExecutionEngine) HandleExecutorResult(instanceID, bindingID string, attempt int, output models.Payload, retryable bool, execErr error) {
	unlock := e.locks.acquire(instanceID)
	defer unlock()

	inst, err := e.store.GetInstance(instanceID)
	if err != nil {
		e.logger.Errorf("Executor result for unknown instance %s: %v", instanceID, err)
		return
	}
	stale := inst.Status.Terminal() ||
		inst.CurrentBindingID == nil || *inst.CurrentBindingID != bindingID ||
		inst.StepPhase == nil || *inst.StepPhase != models.ExecutingStepPhase ||
		inst.Attempts != attempt
	if stale {
		e.discardExecutorResult(inst, bindingID, attempt, execErr)
		return
	}

	binding, err := e.store.GetStepBinding(bindingID)
	if err != nil {
		e.logger.Errorf("Executor result for unknown binding %s: %v", bindingID, err)
		return
	}

	if execErr == nil {
		if err := e.completeStep(inst, binding, output); err != nil {
			e.logger.Errorf("Failed to complete step for instance %s: %v", instanceID, err)
		}
		return
	}

	if retryable && attempt < e.maxAttempts {
		if err := e.retryBinding(inst, binding, attempt, execErr); err != nil {
			e.logger.Errorf("Failed to retry step for instance %s: %v", instanceID, err)
		}
		return
	}
	if err := e.failInstance(inst, &binding, execErr.Error(), models.Payload{"attempt": attempt}); err != nil {
		e.logger.Errorf("Failed to fail instance %s: %v", instanceID, err)
	}
}

func (e *ExecutionEngine) discardExecutorResult(inst models.WorkflowInstance, bindingID string, attempt int, execErr error) {
	payload := models.Payload{"binding_id": bindingID, "attempt": attempt}
	if execErr != nil {
		payload["error"] = execErr.Error()
	}
	if err := e.store.AppendLog(models.ExecutionLogEntry{
		InstanceID: inst.ID,
		BindingID:  &bindingID,
		Kind:       models.ExecutorDiscardedEvent,
		Payload:    payload,
		LoggedAt:   e.now(),
	}); err != nil {
		e.logger.Errorf("Failed to log discarded executor result for instance %s: %v", inst.ID, err)
	}
	e.logger.Infof("Discarded stale executor result for instance %s (binding %s, attempt %d)", inst.ID, bindingID, attempt)
}

// GetInstanceState returns the reporting projection: the instance row
// plus its full execution log.
func (e *ExecutionEngine) GetInstanceState(instanceID string) (models.InstanceState, error) {
	inst, err := e.store.GetInstance(instanceID)
	if err != nil {
		return models.InstanceState{}, err
	}
	entries, err := e.store.ListLog(instanceID)
	if err != nil {
		return models.InstanceState{}, errors.Wrapf(err, "list log for instance %s", instanceID)
	}
	return models.InstanceState{Instance: inst, Log: entries}, nil
}

// evaluate re-examines a parked instance and proceeds when its gates
// (delay, auto_start) allow. Callers outside a lock use this wrapper.
func (e *ExecutionEngine) evaluate(instanceID string, force bool) {
	unlock := e.locks.acquire(instanceID)
	defer unlock()

	inst, err := e.store.GetInstance(instanceID)
	if err != nil {
		e.logger.Errorf("Evaluate: instance %s: %v", instanceID, err)
		return
	}
	if inst.Status.Terminal() || inst.StepPhase == nil || *inst.StepPhase != models.EnteredStepPhase {
		return
	}
	if err := e.evaluateLocked(inst, force); err != nil {
		e.logger.Errorf("Evaluate: instance %s: %v", instanceID, err)
	}
}

// evaluateLocked holds the instance lock and assumes phase ENTERED.
func (e *ExecutionEngine) evaluateLocked(inst models.WorkflowInstance, force bool) error {
	binding, err := e.store.GetStepBinding(*inst.CurrentBindingID)
	if err != nil {
		return errors.Wrapf(err, "binding %s", *inst.CurrentBindingID)
	}
	if delay := binding.Delay(); delay > 0 && inst.StepEnteredAt != nil {
		if e.now().Before(inst.StepEnteredAt.Add(delay)) {
			// Still parked; an external timer re-invokes after the delay.
			return nil
		}
	}
	if !binding.AutoStart && !force {
		return nil
	}
	return e.beginExecution(inst, binding)
}

// beginExecution moves an entered binding into its working phase:
// an approval gate, an automated dispatch, or a manual wait.
func (e *ExecutionEngine) beginExecution(inst models.WorkflowInstance, binding models.StepBinding) error {
	if binding.RequiresApproval {
		return e.openApprovalGate(inst, binding)
	}
	step, err := e.store.GetStepDefinition(binding.StepID)
	if err != nil {
		return errors.Wrapf(err, "step definition %s", binding.StepID)
	}
	if step.StepType == models.AutomatedStepType {
		return e.dispatchAutomated(inst, binding, step, 1)
	}
	return e.awaitManual(inst, binding)
}

func (e *ExecutionEngine) openApprovalGate(inst models.WorkflowInstance, binding models.StepBinding) (err error) {
	needed := 1
	if binding.ApprovalsNeeded != nil {
		needed = *binding.ApprovalsNeeded
	}

	txStore, err := e.store.Begin()
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer func() { err = e.finish(txStore, err) }()

	req, err := e.approvals.Open(txStore, inst.ID, binding.ID, needed)
	if err != nil {
		return err
	}
	if err = txStore.AppendLog(models.ExecutionLogEntry{
		InstanceID: inst.ID,
		BindingID:  &binding.ID,
		Kind:       models.ApprovalRequestedEvent,
		Payload:    models.Payload{"request_id": req.ID, "approvals_needed": needed},
		LoggedAt:   e.now(),
	}); err != nil {
		return err
	}
	phase := models.AwaitingApprovalStepPhase
	if err = txStore.AdvanceInstance(inst.ID, inst.Version, storage.InstanceUpdate{
		CurrentBindingID: &binding.ID,
		StepPhase:        &phase,
		Attempts:         0,
		Status:           models.ActiveInstanceStatus,
	}); err != nil {
		return err
	}
	e.logger.Infof("Opened approval request %s for instance %s (needs %d)", req.ID, inst.ID, needed)
	return nil
}

func (e *ExecutionEngine) dispatchAutomated(inst models.WorkflowInstance, binding models.StepBinding, step models.WorkflowStepDefinition, attempt int) (err error) {
	txStore, err := e.store.Begin()
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	commit := func() (err error) {
		defer func() { err = e.finish(txStore, err) }()
		if err = txStore.AppendLog(models.ExecutionLogEntry{
			InstanceID: inst.ID,
			BindingID:  &binding.ID,
			Kind:       models.StepStartedEvent,
			Payload:    models.Payload{"mode": "automated", "attempt": attempt, "step": step.Name},
			LoggedAt:   e.now(),
		}); err != nil {
			return err
		}
		phase := models.ExecutingStepPhase
		return txStore.AdvanceInstance(inst.ID, inst.Version, storage.InstanceUpdate{
			CurrentBindingID: &binding.ID,
			StepPhase:        &phase,
			Attempts:         attempt,
			Status:           models.ActiveInstanceStatus,
		})
	}
	if err = commit(); err != nil {
		return err
	}
	// Dispatch only after the transition is committed; the executor
	// reports back asynchronously.
	e.dispatcher.Dispatch(inst.ID, binding.ID, attempt, step.Actions)
	return nil
}

func (e *ExecutionEngine) awaitManual(inst models.WorkflowInstance, binding models.StepBinding) (err error) {
	txStore, err := e.store.Begin()
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer func() { err = e.finish(txStore, err) }()

	if err = txStore.AppendLog(models.ExecutionLogEntry{
		InstanceID: inst.ID,
		BindingID:  &binding.ID,
		Kind:       models.StepStartedEvent,
		Payload:    models.Payload{"mode": "manual"},
		LoggedAt:   e.now(),
	}); err != nil {
		return err
	}
	phase := models.AwaitingManualStepPhase
	return txStore.AdvanceInstance(inst.ID, inst.Version, storage.InstanceUpdate{
		CurrentBindingID: &binding.ID,
		StepPhase:        &phase,
		Attempts:         0,
		Status:           models.ActiveInstanceStatus,
	})
}

func (e *ExecutionEngine) retryBinding(inst models.WorkflowInstance, binding models.StepBinding, attempt int, execErr error) error {
	txStore, err := e.store.Begin()
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	failLogged := func() (err error) {
		defer func() { err = e.finish(txStore, err) }()
		return txStore.AppendLog(models.ExecutionLogEntry{
			InstanceID: inst.ID,
			BindingID:  &binding.ID,
			Kind:       models.StepFailedEvent,
			Payload:    models.Payload{"attempt": attempt, "error": execErr.Error(), "retrying": true},
			LoggedAt:   e.now(),
		})
	}
	if err := failLogged(); err != nil {
		return err
	}
	step, err := e.store.GetStepDefinition(binding.StepID)
	if err != nil {
		return errors.Wrapf(err, "step definition %s", binding.StepID)
	}
	inst, err = e.store.GetInstance(inst.ID)
	if err != nil {
		return err
	}
	e.logger.Infof("Retrying automated step for instance %s (attempt %d/%d)", inst.ID, attempt+1, e.maxAttempts)
	return e.dispatchAutomated(inst, binding, step, attempt+1)
}

// completeStep finishes the current binding and either enters the next
// one or concludes the instance. The log entries and the state write
// commit in one transaction.
func (e *ExecutionEngine) completeStep(inst models.WorkflowInstance, binding models.StepBinding, output models.Payload) error {
	return e.completeStepWith(inst, binding, output, models.StepCompletedEvent)
}

func (e *ExecutionEngine) completeStepWith(inst models.WorkflowInstance, binding models.StepBinding, output models.Payload, prefix models.EventKind) (err error) {
	next, hasNext, err := e.catalog.NextBinding(inst.TemplateID, binding.OrderNumber)
	if err != nil {
		return errors.Wrapf(err, "next binding after order %d", binding.OrderNumber)
	}

	txStore, err := e.store.Begin()
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer func() { err = e.finish(txStore, err) }()

	if prefix == models.ApprovalResolvedEvent {
		if err = txStore.AppendLog(models.ExecutionLogEntry{
			InstanceID: inst.ID,
			BindingID:  &binding.ID,
			Kind:       models.ApprovalResolvedEvent,
			Payload:    output,
			LoggedAt:   e.now(),
		}); err != nil {
			return err
		}
	}
	if err = txStore.AppendLog(models.ExecutionLogEntry{
		InstanceID: inst.ID,
		BindingID:  &binding.ID,
		Kind:       models.StepCompletedEvent,
		Payload:    output,
		LoggedAt:   e.now(),
	}); err != nil {
		return err
	}

	if !hasNext {
		if err = txStore.AppendLog(models.ExecutionLogEntry{
			InstanceID: inst.ID,
			Kind:       models.InstanceCompletedEvent,
			LoggedAt:   e.now(),
		}); err != nil {
			return err
		}
		if err = txStore.CompleteInstance(inst.ID, models.CompletedInstanceStatus); err != nil {
			return err
		}
		e.logger.Infof("Instance %s completed", inst.ID)
		return nil
	}

	if err = e.enterBinding(txStore, inst, next); err != nil {
		return err
	}
	// Chain into the next binding once this transaction commits.
	defer e.deferredEvaluate(inst.ID)
	return nil
}

// deferredEvaluate re-examines the instance on a fresh goroutine so the
// caller's lock and transaction are released first.
func (e *ExecutionEngine) deferredEvaluate(instanceID string) {
	go e.evaluate(instanceID, false)
}

// enterBinding logs step-entered and points the instance at the
// binding, parked, within the caller's transaction.
func (e *ExecutionEngine) enterBinding(txStore storage.Store, inst models.WorkflowInstance, binding models.StepBinding) error {
	if err := txStore.AppendLog(models.ExecutionLogEntry{
		InstanceID: inst.ID,
		BindingID:  &binding.ID,
		Kind:       models.StepEnteredEvent,
		Payload:    models.Payload{"order_number": binding.OrderNumber},
		LoggedAt:   e.now(),
	}); err != nil {
		return err
	}
	phase := models.EnteredStepPhase
	return txStore.AdvanceInstance(inst.ID, inst.Version, storage.InstanceUpdate{
		CurrentBindingID: &binding.ID,
		StepPhase:        &phase,
		StepEnteredAt:    true,
		Attempts:         0,
		Status:           models.ActiveInstanceStatus,
	})
}

// failInstance concludes the instance as failed. The workflow halts; no
// further bindings are entered and the terminal state is final.
func (e *ExecutionEngine) failInstance(inst models.WorkflowInstance, binding *models.StepBinding, reason string, detail models.Payload) (err error) {
	txStore, err := e.store.Begin()
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer func() { err = e.finish(txStore, err) }()

	if binding != nil {
		payload := models.Payload{"error": reason}
		for k, v := range detail {
			payload[k] = v
		}
		if err = txStore.AppendLog(models.ExecutionLogEntry{
			InstanceID: inst.ID,
			BindingID:  &binding.ID,
			Kind:       models.StepFailedEvent,
			Payload:    payload,
			LoggedAt:   e.now(),
		}); err != nil {
			return err
		}
	}
	if err = txStore.AppendLog(models.ExecutionLogEntry{
		InstanceID: inst.ID,
		Kind:       models.InstanceFailedEvent,
		Payload:    models.Payload{"reason": reason},
		LoggedAt:   e.now(),
	}); err != nil {
		return err
	}
	if err = txStore.CompleteInstance(inst.ID, models.FailedInstanceStatus); err != nil {
		return err
	}
	e.logger.Infof("Instance %s failed: %s", inst.ID, reason)
	return nil
}

// finish commits the transaction when err is nil, rolls back otherwise.
func (e *ExecutionEngine) finish(txStore storage.Store, err error) error {
	if err != nil {
		if rollbackErr := txStore.Rollback(); rollbackErr != nil {
			e.logger.Errorf("Failed to rollback after error: %v (original error: %v)", rollbackErr, err)
		}
		return err
	}
	if commitErr := txStore.Commit(); commitErr != nil {
		e.logger.Errorf("Failed to commit: %v", commitErr)
		return commitErr
	}
	return nil
}
