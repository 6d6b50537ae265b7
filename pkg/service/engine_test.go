package service_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hireflow/hireflow/pkg/models"
	"github.com/hireflow/hireflow/pkg/service"
	"github.com/hireflow/hireflow/pkg/storage"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

type logger struct{}

func (l logger) Infof(format string, args ...interface{}) {
	// no-op
}

func (l logger) Errorf(format string, args ...interface{}) {
	// no-op
}

// scriptedExecutor fails an action type a configured number of times
// before succeeding, and records every invocation.
type scriptedExecutor struct {
	mu       sync.Mutex
	failures map[string]int
	calls    []string
}

func newScriptedExecutor() *scriptedExecutor {
	return &scriptedExecutor{failures: make(map[string]int)}
}

func (x *scriptedExecutor) failTimes(actionType string, n int) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.failures[actionType] = n
}

func (x *scriptedExecutor) callCount() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.calls)
}

func (x *scriptedExecutor) Execute(ctx context.Context, instanceID string, action models.ActionDescriptor) (models.Payload, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.calls = append(x.calls, action.Type)
	if n := x.failures[action.Type]; n > 0 {
		x.failures[action.Type] = n - 1
		return nil, errors.Errorf("action '%s' blew up", action.Type)
	}
	return models.Payload{action.Type: "ok"}, nil
}

type engineFixture struct {
	store      storage.Store
	catalog    *service.CatalogService
	approvals  *service.ApprovalService
	dispatcher *service.Dispatcher
	engine     *service.ExecutionEngine
	exec       *scriptedExecutor
}

func newEngineFixture(t *testing.T) *engineFixture {
	store := storage.NewMockStore()
	exec := newScriptedExecutor()
	catalog := service.NewCatalogService(store, logger{})
	approvals := service.NewApprovalService(store, logger{})
	dispatcher := service.NewDispatcher(context.Background(), exec, logger{})
	engine := service.NewExecutionEngine(store, catalog, approvals, dispatcher, logger{})
	dispatcher.Start(2)
	t.Cleanup(dispatcher.Stop)
	return &engineFixture{
		store:      store,
		catalog:    catalog,
		approvals:  approvals,
		dispatcher: dispatcher,
		engine:     engine,
		exec:       exec,
	}
}

type stepSpec struct {
	stepType  models.StepType
	autoStart bool
	approvals int
	delay     int64
	retryable bool
}

func (f *engineFixture) buildTemplate(t *testing.T, steps ...stepSpec) models.WorkflowTemplate {
	specs := make([]service.BindingSpec, 0, len(steps))
	for i, s := range steps {
		def, err := f.catalog.CreateStepDefinition(
			fmt.Sprintf("Step %d", i+1), "", s.stepType,
			models.ActionList{{Type: fmt.Sprintf("action-%d", i+1), Retryable: s.retryable}})
		assert.NoError(t, err)
		spec := service.BindingSpec{
			StepID:      def.ID,
			OrderNumber: i + 1,
			AutoStart:   s.autoStart,
		}
		if s.approvals > 0 {
			n := s.approvals
			spec.RequiresApproval = true
			spec.ApprovalsNeeded = &n
		}
		if s.delay > 0 {
			d := s.delay
			spec.DelaySeconds = &d
		}
		specs = append(specs, spec)
	}
	tmpl, err := f.catalog.CreateTemplate("Pipeline", "hiring", specs)
	assert.NoError(t, err)
	return tmpl
}

func (f *engineFixture) mustGet(t *testing.T, id string) models.WorkflowInstance {
	inst, err := f.store.GetInstance(id)
	assert.NoError(t, err)
	return inst
}

func (f *engineFixture) statusIs(id string, want models.InstanceStatus) func() bool {
	return func() bool {
		inst, err := f.store.GetInstance(id)
		return err == nil && inst.Status == want
	}
}

func logKinds(entries []models.ExecutionLogEntry) []models.EventKind {
	kinds := make([]models.EventKind, 0, len(entries))
	for _, e := range entries {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

func TestExecutionEngine_AutomatedPipeline(t *testing.T) {
	t.Run("CompletesAllSteps", func(t *testing.T) {
		f := newEngineFixture(t)
		tmpl := f.buildTemplate(t,
			stepSpec{stepType: models.AutomatedStepType, autoStart: true},
			stepSpec{stepType: models.AutomatedStepType, autoStart: true},
		)

		inst, err := f.engine.StartInstance(tmpl.ID, "job-1", "cand-1")
		assert.NoError(t, err)

		assert.Eventually(t, f.statusIs(inst.ID, models.CompletedInstanceStatus), 2*time.Second, 10*time.Millisecond)

		final := f.mustGet(t, inst.ID)
		assert.Nil(t, final.CurrentBindingID)
		assert.Nil(t, final.StepPhase)
		assert.NotNil(t, final.CompletedAt)

		entries, err := f.store.ListLog(inst.ID)
		assert.NoError(t, err)
		assert.Equal(t, []models.EventKind{
			models.StartedEvent,
			models.StepEnteredEvent,
			models.StepStartedEvent,
			models.StepCompletedEvent,
			models.StepEnteredEvent,
			models.StepStartedEvent,
			models.StepCompletedEvent,
			models.InstanceCompletedEvent,
		}, logKinds(entries))

		// Sequence numbers are dense from 1.
		for i, e := range entries {
			assert.Equal(t, i+1, e.Seq)
		}
	})

	t.Run("StepOutputsLandInLog", func(t *testing.T) {
		f := newEngineFixture(t)
		tmpl := f.buildTemplate(t, stepSpec{stepType: models.AutomatedStepType, autoStart: true})

		inst, err := f.engine.StartInstance(tmpl.ID, "job-1", "cand-1")
		assert.NoError(t, err)
		assert.Eventually(t, f.statusIs(inst.ID, models.CompletedInstanceStatus), 2*time.Second, 10*time.Millisecond)

		entries, _ := f.store.ListLog(inst.ID)
		var completed *models.ExecutionLogEntry
		for i := range entries {
			if entries[i].Kind == models.StepCompletedEvent {
				completed = &entries[i]
			}
		}
		assert.NotNil(t, completed)
		assert.Equal(t, "ok", completed.Payload["action-1"])
	})
}

func TestExecutionEngine_PairUniqueness(t *testing.T) {
	f := newEngineFixture(t)
	tmpl := f.buildTemplate(t, stepSpec{stepType: models.ManualStepType, autoStart: true})

	first, err := f.engine.StartInstance(tmpl.ID, "job-1", "cand-1")
	assert.NoError(t, err)

	_, err = f.engine.StartInstance(tmpl.ID, "job-1", "cand-1")
	assert.ErrorIs(t, err, storage.ErrAlreadyActive)

	// A different candidate on the same job is a separate pair.
	_, err = f.engine.StartInstance(tmpl.ID, "job-1", "cand-2")
	assert.NoError(t, err)

	// Concluding the first instance frees the pair for a new run.
	err = f.engine.CompleteManualStep(first.ID, *first.CurrentBindingID, nil)
	assert.NoError(t, err)
	assert.Eventually(t, f.statusIs(first.ID, models.CompletedInstanceStatus), 2*time.Second, 10*time.Millisecond)

	_, err = f.engine.StartInstance(tmpl.ID, "job-1", "cand-1")
	assert.NoError(t, err)
}

func TestExecutionEngine_ManualStep(t *testing.T) {
	t.Run("AwaitsExplicitCompletion", func(t *testing.T) {
		f := newEngineFixture(t)
		tmpl := f.buildTemplate(t,
			stepSpec{stepType: models.ManualStepType, autoStart: true},
			stepSpec{stepType: models.AutomatedStepType, autoStart: true},
		)

		inst, err := f.engine.StartInstance(tmpl.ID, "job-1", "cand-1")
		assert.NoError(t, err)
		assert.NotNil(t, inst.StepPhase)
		assert.Equal(t, models.AwaitingManualStepPhase, *inst.StepPhase)

		err = f.engine.CompleteManualStep(inst.ID, *inst.CurrentBindingID, models.Payload{"interview": "passed"})
		assert.NoError(t, err)
		assert.Eventually(t, f.statusIs(inst.ID, models.CompletedInstanceStatus), 2*time.Second, 10*time.Millisecond)
	})

	t.Run("WrongBindingConflicts", func(t *testing.T) {
		f := newEngineFixture(t)
		tmpl := f.buildTemplate(t, stepSpec{stepType: models.ManualStepType, autoStart: true})

		inst, err := f.engine.StartInstance(tmpl.ID, "job-1", "cand-1")
		assert.NoError(t, err)

		err = f.engine.CompleteManualStep(inst.ID, "not-the-current-binding", nil)
		assert.ErrorIs(t, err, storage.ErrConflict)
	})

	t.Run("CompleteAfterTerminalConflicts", func(t *testing.T) {
		f := newEngineFixture(t)
		tmpl := f.buildTemplate(t, stepSpec{stepType: models.ManualStepType, autoStart: true})

		inst, err := f.engine.StartInstance(tmpl.ID, "job-1", "cand-1")
		assert.NoError(t, err)
		bindingID := *inst.CurrentBindingID

		assert.NoError(t, f.engine.CompleteManualStep(inst.ID, bindingID, nil))
		assert.Eventually(t, f.statusIs(inst.ID, models.CompletedInstanceStatus), 2*time.Second, 10*time.Millisecond)

		err = f.engine.CompleteManualStep(inst.ID, bindingID, nil)
		assert.ErrorIs(t, err, storage.ErrConflict)
	})
}

func TestExecutionEngine_ExternalStart(t *testing.T) {
	f := newEngineFixture(t)
	tmpl := f.buildTemplate(t, stepSpec{stepType: models.ManualStepType, autoStart: false})

	inst, err := f.engine.StartInstance(tmpl.ID, "job-1", "cand-1")
	assert.NoError(t, err)
	// Not auto-start: the instance parks on entry.
	assert.Equal(t, models.EnteredStepPhase, *inst.StepPhase)

	assert.NoError(t, f.engine.ExternalStartStep(inst.ID))
	inst = f.mustGet(t, inst.ID)
	assert.Equal(t, models.AwaitingManualStepPhase, *inst.StepPhase)

	// Redundant trigger past the parked phase is a no-op.
	assert.NoError(t, f.engine.ExternalStartStep(inst.ID))
	again := f.mustGet(t, inst.ID)
	assert.Equal(t, inst.Version, again.Version)
}

func TestExecutionEngine_DelayGate(t *testing.T) {
	f := newEngineFixture(t)
	tmpl := f.buildTemplate(t, stepSpec{stepType: models.AutomatedStepType, autoStart: true, delay: 3600})

	inst, err := f.engine.StartInstance(tmpl.ID, "job-1", "cand-1")
	assert.NoError(t, err)
	// Delay not elapsed: stays parked even though auto_start is set.
	assert.Equal(t, models.EnteredStepPhase, *inst.StepPhase)

	// A premature timer fire changes nothing.
	assert.NoError(t, f.engine.FireDelayTimer(inst.ID, *inst.CurrentBindingID))
	inst = f.mustGet(t, inst.ID)
	assert.Equal(t, models.EnteredStepPhase, *inst.StepPhase)

	// A timer for a binding the instance is not on is a no-op.
	assert.NoError(t, f.engine.FireDelayTimer(inst.ID, "some-other-binding"))

	assert.Equal(t, 0, f.exec.callCount())
}

func TestExecutionEngine_Retry(t *testing.T) {
	t.Run("RetriesThenSucceeds", func(t *testing.T) {
		f := newEngineFixture(t)
		tmpl := f.buildTemplate(t, stepSpec{stepType: models.AutomatedStepType, autoStart: true, retryable: true})
		f.exec.failTimes("action-1", 2)

		inst, err := f.engine.StartInstance(tmpl.ID, "job-1", "cand-1")
		assert.NoError(t, err)
		assert.Eventually(t, f.statusIs(inst.ID, models.CompletedInstanceStatus), 2*time.Second, 10*time.Millisecond)
		assert.Equal(t, 3, f.exec.callCount())

		entries, _ := f.store.ListLog(inst.ID)
		retries := 0
		for _, e := range entries {
			if e.Kind == models.StepFailedEvent {
				assert.Equal(t, true, e.Payload["retrying"])
				retries++
			}
		}
		assert.Equal(t, 2, retries)
	})

	t.Run("ExhaustsAttempts", func(t *testing.T) {
		f := newEngineFixture(t)
		tmpl := f.buildTemplate(t, stepSpec{stepType: models.AutomatedStepType, autoStart: true, retryable: true})
		f.exec.failTimes("action-1", 10)

		inst, err := f.engine.StartInstance(tmpl.ID, "job-1", "cand-1")
		assert.NoError(t, err)
		assert.Eventually(t, f.statusIs(inst.ID, models.FailedInstanceStatus), 2*time.Second, 10*time.Millisecond)
		assert.Equal(t, service.DefaultMaxAttempts, f.exec.callCount())

		entries, _ := f.store.ListLog(inst.ID)
		assert.Equal(t, models.InstanceFailedEvent, entries[len(entries)-1].Kind)
	})

	t.Run("NonRetryableFailsImmediately", func(t *testing.T) {
		f := newEngineFixture(t)
		tmpl := f.buildTemplate(t,
			stepSpec{stepType: models.AutomatedStepType, autoStart: true},
			stepSpec{stepType: models.AutomatedStepType, autoStart: true},
		)
		f.exec.failTimes("action-1", 1)

		inst, err := f.engine.StartInstance(tmpl.ID, "job-1", "cand-1")
		assert.NoError(t, err)
		assert.Eventually(t, f.statusIs(inst.ID, models.FailedInstanceStatus), 2*time.Second, 10*time.Millisecond)
		assert.Equal(t, 1, f.exec.callCount())

		// The workflow halted: the second binding was never entered.
		entries, _ := f.store.ListLog(inst.ID)
		entered := 0
		for _, e := range entries {
			if e.Kind == models.StepEnteredEvent {
				entered++
			}
		}
		assert.Equal(t, 1, entered)
	})
}

func TestExecutionEngine_ApprovalGate(t *testing.T) {
	setup := func(t *testing.T) (*engineFixture, models.WorkflowInstance, models.ApprovalRequest) {
		f := newEngineFixture(t)
		tmpl := f.buildTemplate(t,
			stepSpec{stepType: models.ApprovalStepType, autoStart: true, approvals: 2},
			stepSpec{stepType: models.AutomatedStepType, autoStart: true},
		)
		inst, err := f.engine.StartInstance(tmpl.ID, "job-1", "cand-1")
		assert.NoError(t, err)
		assert.Equal(t, models.AwaitingApprovalStepPhase, *inst.StepPhase)

		req, err := f.store.FindPendingApprovalRequest(inst.ID, *inst.CurrentBindingID)
		assert.NoError(t, err)
		assert.Equal(t, 2, req.ApprovalsNeeded)
		return f, inst, req
	}

	t.Run("QuorumApprovesAndAdvances", func(t *testing.T) {
		f, inst, req := setup(t)

		status, err := f.engine.SubmitApprovalDecision(req.ID, "alice", models.ApproveDecision, "strong candidate")
		assert.NoError(t, err)
		assert.Equal(t, models.PendingApprovalStatus, status)

		// The same responder approving twice counts once.
		status, err = f.engine.SubmitApprovalDecision(req.ID, "alice", models.ApproveDecision, "")
		assert.NoError(t, err)
		assert.Equal(t, models.PendingApprovalStatus, status)

		status, err = f.engine.SubmitApprovalDecision(req.ID, "bob", models.ApproveDecision, "")
		assert.NoError(t, err)
		assert.Equal(t, models.ApprovedApprovalStatus, status)

		assert.Eventually(t, f.statusIs(inst.ID, models.CompletedInstanceStatus), 2*time.Second, 10*time.Millisecond)

		entries, _ := f.store.ListLog(inst.ID)
		kinds := logKinds(entries)
		assert.Contains(t, kinds, models.ApprovalRequestedEvent)
		assert.Contains(t, kinds, models.ApprovalResolvedEvent)
	})

	t.Run("SingleRejectFailsInstance", func(t *testing.T) {
		f, inst, req := setup(t)

		status, err := f.engine.SubmitApprovalDecision(req.ID, "carol", models.RejectDecision, "not a fit")
		assert.NoError(t, err)
		assert.Equal(t, models.RejectedApprovalStatus, status)

		final := f.mustGet(t, inst.ID)
		assert.Equal(t, models.FailedInstanceStatus, final.Status)
	})

	t.Run("ChangeOfMindLastDecisionWins", func(t *testing.T) {
		f, inst, req := setup(t)

		status, err := f.engine.SubmitApprovalDecision(req.ID, "alice", models.ApproveDecision, "")
		assert.NoError(t, err)
		assert.Equal(t, models.PendingApprovalStatus, status)

		// Alice changes her mind: her approve is replaced, and the
		// reject resolves the request.
		status, err = f.engine.SubmitApprovalDecision(req.ID, "alice", models.RejectDecision, "second thoughts")
		assert.NoError(t, err)
		assert.Equal(t, models.RejectedApprovalStatus, status)

		final := f.mustGet(t, inst.ID)
		assert.Equal(t, models.FailedInstanceStatus, final.Status)
	})

	t.Run("DecisionAfterResolutionRejected", func(t *testing.T) {
		f, _, req := setup(t)

		_, err := f.engine.SubmitApprovalDecision(req.ID, "carol", models.RejectDecision, "")
		assert.NoError(t, err)

		_, err = f.engine.SubmitApprovalDecision(req.ID, "dave", models.ApproveDecision, "")
		assert.ErrorIs(t, err, service.ErrAlreadyResolved)
	})
}

func TestExecutionEngine_StartOrResume(t *testing.T) {
	t.Run("ConcurrentTriggersCreateOne", func(t *testing.T) {
		f := newEngineFixture(t)
		tmpl := f.buildTemplate(t, stepSpec{stepType: models.ManualStepType, autoStart: false})
		assert.NoError(t, f.store.SaveJob(models.Job{ID: "job-1", Title: "Engineer", ShortID: "JOB-AAAA", TemplateID: tmpl.ID}))

		const callers = 8
		var wg sync.WaitGroup
		created := make([]bool, callers)
		ids := make([]string, callers)
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				inst, wasCreated, err := f.engine.StartOrResume("job-1", "cand-1")
				assert.NoError(t, err)
				created[i] = wasCreated
				ids[i] = inst.ID
			}(i)
		}
		wg.Wait()

		creations := 0
		for i := 0; i < callers; i++ {
			if created[i] {
				creations++
			}
			assert.Equal(t, ids[0], ids[i])
		}
		assert.Equal(t, 1, creations)
	})

	t.Run("UnknownJob", func(t *testing.T) {
		f := newEngineFixture(t)
		_, _, err := f.engine.StartOrResume("missing-job", "cand-1")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}

// flakyStore fails a configured number of log appends, simulating a
// transient storage outage, then behaves normally. Transaction handles
// share the failure budget with the parent.
type flakyStore struct {
	storage.Store
	appendFailures *int32
}

func (s *flakyStore) Begin() (storage.Store, error) {
	tx, err := s.Store.Begin()
	if err != nil {
		return nil, err
	}
	return &flakyStore{Store: tx, appendFailures: s.appendFailures}, nil
}

func (s *flakyStore) AppendLog(entry models.ExecutionLogEntry) error {
	if atomic.AddInt32(s.appendFailures, -1) >= 0 {
		return errors.New("storage unavailable")
	}
	return s.Store.AppendLog(entry)
}

// A start interrupted by a storage failure must not wedge the
// (job, candidate) pair: once storage recovers, the next trigger
// through StartOrResume enters the first binding and the instance
// proceeds normally.
func TestExecutionEngine_InterruptedStartIsRecoverable(t *testing.T) {
	base := storage.NewMockStore()
	failures := int32(1)
	store := &flakyStore{Store: base, appendFailures: &failures}
	exec := newScriptedExecutor()
	catalog := service.NewCatalogService(store, logger{})
	approvals := service.NewApprovalService(store, logger{})
	dispatcher := service.NewDispatcher(context.Background(), exec, logger{})
	engine := service.NewExecutionEngine(store, catalog, approvals, dispatcher, logger{})
	dispatcher.Start(1)
	t.Cleanup(dispatcher.Stop)

	def, err := catalog.CreateStepDefinition("Interview", "", models.ManualStepType, nil)
	assert.NoError(t, err)
	tmpl, err := catalog.CreateTemplate("Pipeline", "hiring", []service.BindingSpec{
		{StepID: def.ID, OrderNumber: 1, AutoStart: true},
	})
	assert.NoError(t, err)
	assert.NoError(t, store.SaveJob(models.Job{ID: "job-1", Title: "Engineer", ShortID: "JOB-AAAA", TemplateID: tmpl.ID}))

	_, err = engine.StartInstance(tmpl.ID, "job-1", "cand-1")
	assert.Error(t, err)

	// Storage is healthy again; the idempotent entry point repairs
	// whatever the interrupted start left behind.
	inst, _, err := engine.StartOrResume("job-1", "cand-1")
	assert.NoError(t, err)
	assert.Equal(t, models.ActiveInstanceStatus, inst.Status)
	assert.NotNil(t, inst.CurrentBindingID)
	assert.NotNil(t, inst.StepPhase)

	assert.Eventually(t, func() bool {
		got, err := base.GetInstance(inst.ID)
		return err == nil && got.StepPhase != nil && *got.StepPhase == models.AwaitingManualStepPhase
	}, 2*time.Second, 10*time.Millisecond)

	// The pair is not stuck behind the uniqueness constraint: the
	// recovered instance runs to completion like any other.
	got, err := base.GetInstance(inst.ID)
	assert.NoError(t, err)
	assert.NoError(t, engine.CompleteManualStep(inst.ID, *got.CurrentBindingID, nil))
	assert.Eventually(t, func() bool {
		got, err := base.GetInstance(inst.ID)
		return err == nil && got.Status == models.CompletedInstanceStatus
	}, 2*time.Second, 10*time.Millisecond)
}

func TestExecutionEngine_StaleExecutorResult(t *testing.T) {
	f := newEngineFixture(t)
	tmpl := f.buildTemplate(t, stepSpec{stepType: models.ManualStepType, autoStart: true})

	inst, err := f.engine.StartInstance(tmpl.ID, "job-1", "cand-1")
	assert.NoError(t, err)
	bindingID := *inst.CurrentBindingID

	// A result arriving while the step is not executing is discarded,
	// never applied.
	f.engine.HandleExecutorResult(inst.ID, bindingID, 1, models.Payload{"x": 1}, false, nil)

	after := f.mustGet(t, inst.ID)
	assert.Equal(t, models.AwaitingManualStepPhase, *after.StepPhase)
	assert.Equal(t, models.ActiveInstanceStatus, after.Status)

	entries, _ := f.store.ListLog(inst.ID)
	assert.Equal(t, models.ExecutorDiscardedEvent, entries[len(entries)-1].Kind)
}
