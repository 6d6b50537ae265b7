package storage_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	internal_storage "github.com/hireflow/hireflow/internal/storage"
	"github.com/hireflow/hireflow/internal/testutil"
	"github.com/hireflow/hireflow/pkg/models"
	"github.com/hireflow/hireflow/pkg/storage"
	"github.com/stretchr/testify/assert"
)

type fixtureIDs struct {
	templateID  string
	stepID      string
	bindingID   string
	jobID       string
	candidateID string
}

// seedCatalog inserts the reference rows instances depend on.
func seedCatalog(t *testing.T, store *internal_storage.PostgresStore) fixtureIDs {
	t.Helper()
	ids := fixtureIDs{
		templateID:  uuid.NewString(),
		stepID:      uuid.NewString(),
		bindingID:   uuid.NewString(),
		jobID:       uuid.NewString(),
		candidateID: uuid.NewString(),
	}
	assert.NoError(t, store.SaveStepDefinition(models.WorkflowStepDefinition{
		ID:       ids.stepID,
		Name:     "Screening",
		StepType: models.AutomatedStepType,
		Actions:  models.ActionList{{Type: "requirement_check", Retryable: true}},
	}))
	assert.NoError(t, store.SaveTemplate(models.WorkflowTemplate{
		ID:   ids.templateID,
		Name: "Pipeline",
	}))
	assert.NoError(t, store.SaveStepBinding(models.StepBinding{
		ID:          ids.bindingID,
		TemplateID:  ids.templateID,
		StepID:      ids.stepID,
		OrderNumber: 1,
		AutoStart:   true,
	}))
	assert.NoError(t, store.SaveJob(models.Job{
		ID:         ids.jobID,
		Title:      "Engineer",
		ShortID:    "JOB-" + uuid.NewString()[:8],
		TemplateID: ids.templateID,
	}))
	assert.NoError(t, store.SaveCandidate(models.Candidate{
		ID:    ids.candidateID,
		Email: uuid.NewString() + "@example.com",
	}))
	return ids
}

func newInstance(ids fixtureIDs) models.WorkflowInstance {
	return models.WorkflowInstance{
		ID:          uuid.NewString(),
		TemplateID:  ids.templateID,
		JobID:       ids.jobID,
		CandidateID: ids.candidateID,
		Status:      models.ActiveInstanceStatus,
		StartedAt:   time.Now(),
	}
}

func TestPostgresStore(t *testing.T) {
	testDB := testutil.SetupTestDB(t)
	defer testDB.Teardown(t)

	store, err := internal_storage.NewPostgresStore(testDB.ConnStr)
	assert.NoError(t, err)
	defer store.Close()

	t.Run("CatalogRoundTrip", func(t *testing.T) {
		ids := seedCatalog(t, store)

		def, err := store.GetStepDefinition(ids.stepID)
		assert.NoError(t, err)
		assert.Equal(t, "Screening", def.Name)
		assert.Len(t, def.Actions, 1)
		assert.True(t, def.Actions[0].Retryable)

		binding, err := store.GetStepBinding(ids.bindingID)
		assert.NoError(t, err)
		assert.NotNil(t, binding.Step)
		assert.Equal(t, "Screening", binding.Step.Name)

		bindings, err := store.ListStepBindings(ids.templateID)
		assert.NoError(t, err)
		assert.Len(t, bindings, 1)
	})

	t.Run("DuplicateOrderNumber", func(t *testing.T) {
		ids := seedCatalog(t, store)
		err := store.SaveStepBinding(models.StepBinding{
			ID:          uuid.NewString(),
			TemplateID:  ids.templateID,
			StepID:      ids.stepID,
			OrderNumber: 1,
		})
		assert.ErrorIs(t, err, storage.ErrDuplicateOrder)
	})

	t.Run("DuplicateJobShortID", func(t *testing.T) {
		ids := seedCatalog(t, store)
		job, err := store.GetJob(ids.jobID)
		assert.NoError(t, err)
		err = store.SaveJob(models.Job{
			ID:         uuid.NewString(),
			Title:      "Another",
			ShortID:    job.ShortID,
			TemplateID: ids.templateID,
		})
		assert.ErrorIs(t, err, storage.ErrDuplicate)

		got, err := store.GetJobByShortID(job.ShortID)
		assert.NoError(t, err)
		assert.Equal(t, ids.jobID, got.ID)
	})

	t.Run("PairUniqueness", func(t *testing.T) {
		ids := seedCatalog(t, store)
		inst := newInstance(ids)
		assert.NoError(t, store.SaveInstance(inst))

		dup := newInstance(ids)
		assert.ErrorIs(t, store.SaveInstance(dup), storage.ErrAlreadyActive)

		// Concluding the instance frees the pair.
		assert.NoError(t, store.CompleteInstance(inst.ID, models.CompletedInstanceStatus))
		assert.NoError(t, store.SaveInstance(newInstance(ids)))
	})

	t.Run("AdvanceInstanceCAS", func(t *testing.T) {
		ids := seedCatalog(t, store)
		inst := newInstance(ids)
		assert.NoError(t, store.SaveInstance(inst))

		phase := models.EnteredStepPhase
		upd := storage.InstanceUpdate{
			CurrentBindingID: &ids.bindingID,
			StepPhase:        &phase,
			StepEnteredAt:    true,
			Attempts:         0,
			Status:           models.ActiveInstanceStatus,
		}
		assert.NoError(t, store.AdvanceInstance(inst.ID, 0, upd))

		// Replaying the same version loses the CAS.
		assert.ErrorIs(t, store.AdvanceInstance(inst.ID, 0, upd), storage.ErrConflict)

		got, err := store.GetInstance(inst.ID)
		assert.NoError(t, err)
		assert.Equal(t, int64(1), got.Version)
		assert.NotNil(t, got.CurrentBindingID)
		assert.Equal(t, ids.bindingID, *got.CurrentBindingID)
		assert.NotNil(t, got.StepEnteredAt)

		assert.ErrorIs(t, store.AdvanceInstance(uuid.NewString(), 0, upd), storage.ErrNotFound)
	})

	t.Run("CompleteInstanceIdempotent", func(t *testing.T) {
		ids := seedCatalog(t, store)
		inst := newInstance(ids)
		assert.NoError(t, store.SaveInstance(inst))

		assert.NoError(t, store.CompleteInstance(inst.ID, models.FailedInstanceStatus))
		assert.NoError(t, store.CompleteInstance(inst.ID, models.CompletedInstanceStatus))

		got, err := store.GetInstance(inst.ID)
		assert.NoError(t, err)
		// The second call is a no-op: the first terminal status sticks.
		assert.Equal(t, models.FailedInstanceStatus, got.Status)
		assert.Nil(t, got.CurrentBindingID)
		assert.NotNil(t, got.CompletedAt)
	})

	t.Run("ApprovalDecisionUpsert", func(t *testing.T) {
		ids := seedCatalog(t, store)
		inst := newInstance(ids)
		assert.NoError(t, store.SaveInstance(inst))

		req := models.ApprovalRequest{
			ID:              uuid.NewString(),
			InstanceID:      inst.ID,
			BindingID:       ids.bindingID,
			ApprovalsNeeded: 2,
			Status:          models.PendingApprovalStatus,
			RequestedAt:     time.Now(),
		}
		assert.NoError(t, store.SaveApprovalRequest(req))

		found, err := store.FindPendingApprovalRequest(inst.ID, ids.bindingID)
		assert.NoError(t, err)
		assert.Equal(t, req.ID, found.ID)

		assert.NoError(t, store.RecordDecision(models.ApprovalDecision{
			RequestID: req.ID, ResponderID: "alice", Decision: models.ApproveDecision, RespondedAt: time.Now(),
		}))
		assert.NoError(t, store.RecordDecision(models.ApprovalDecision{
			RequestID: req.ID, ResponderID: "alice", Decision: models.RejectDecision, Comments: "changed my mind", RespondedAt: time.Now(),
		}))

		decisions, err := store.ListDecisions(req.ID)
		assert.NoError(t, err)
		assert.Len(t, decisions, 1)
		assert.Equal(t, models.RejectDecision, decisions[0].Decision)
		assert.Equal(t, "changed my mind", decisions[0].Comments)

		assert.NoError(t, store.ResolveApprovalRequest(req.ID, models.RejectedApprovalStatus))
		assert.ErrorIs(t, store.ResolveApprovalRequest(req.ID, models.ApprovedApprovalStatus), storage.ErrConflict)

		_, err = store.FindPendingApprovalRequest(inst.ID, ids.bindingID)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("ExecutionLogSequencing", func(t *testing.T) {
		ids := seedCatalog(t, store)
		inst := newInstance(ids)
		assert.NoError(t, store.SaveInstance(inst))
		other := newInstance(fixtureIDs{
			templateID:  ids.templateID,
			jobID:       ids.jobID,
			candidateID: ids.candidateID,
		})
		// Different pair to dodge the uniqueness index.
		otherCandidate := uuid.NewString()
		assert.NoError(t, store.SaveCandidate(models.Candidate{ID: otherCandidate, Email: uuid.NewString() + "@example.com"}))
		other.CandidateID = otherCandidate
		assert.NoError(t, store.SaveInstance(other))

		for i := 0; i < 3; i++ {
			assert.NoError(t, store.AppendLog(models.ExecutionLogEntry{
				InstanceID: inst.ID,
				Kind:       models.StepEnteredEvent,
				Payload:    models.Payload{"order_number": i + 1},
				LoggedAt:   time.Now(),
			}))
		}
		assert.NoError(t, store.AppendLog(models.ExecutionLogEntry{
			InstanceID: other.ID,
			Kind:       models.StartedEvent,
			LoggedAt:   time.Now(),
		}))

		entries, err := store.ListLog(inst.ID)
		assert.NoError(t, err)
		assert.Len(t, entries, 3)
		for i, e := range entries {
			// Per-instance sequences are dense from 1, independent of
			// other instances' logs.
			assert.Equal(t, i+1, e.Seq)
		}

		otherEntries, err := store.ListLog(other.ID)
		assert.NoError(t, err)
		assert.Len(t, otherEntries, 1)
		assert.Equal(t, 1, otherEntries[0].Seq)
	})

	t.Run("InboundMessageDedup", func(t *testing.T) {
		msg := models.InboundMessage{
			MessageUID: uuid.NewString(),
			Sender:     "jane@example.com",
			Subject:    "[JOB-TEST] Application",
			ReceivedAt: time.Now(),
		}
		assert.NoError(t, store.SaveInboundMessage(msg))
		assert.ErrorIs(t, store.SaveInboundMessage(msg), storage.ErrDuplicate)
	})

	t.Run("TransactionRollback", func(t *testing.T) {
		txStore, err := store.Begin()
		assert.NoError(t, err)
		defID := uuid.NewString()
		assert.NoError(t, txStore.SaveStepDefinition(models.WorkflowStepDefinition{
			ID:       defID,
			Name:     "Ephemeral",
			StepType: models.ManualStepType,
		}))
		assert.NoError(t, txStore.Rollback())

		_, err = store.GetStepDefinition(defID)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("TransactionCommit", func(t *testing.T) {
		txStore, err := store.Begin()
		assert.NoError(t, err)
		defID := uuid.NewString()
		assert.NoError(t, txStore.SaveStepDefinition(models.WorkflowStepDefinition{
			ID:       defID,
			Name:     "Durable",
			StepType: models.ManualStepType,
		}))
		assert.NoError(t, txStore.Commit())

		got, err := store.GetStepDefinition(defID)
		assert.NoError(t, err)
		assert.Equal(t, "Durable", got.Name)
	})
}
