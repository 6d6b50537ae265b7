package storage

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hireflow/hireflow/pkg/models"
)

// mockState is the shared in-memory data. Transaction handles point at
// the same state, so writes apply immediately and Commit/Rollback are
// bookkeeping only. The single mutex keeps the semantics the engine
// relies on (pair uniqueness, version CAS, decision upsert) atomic
// under concurrent triggers.
type mockState struct {
	mu          sync.Mutex
	definitions map[string]models.WorkflowStepDefinition
	templates   map[string]models.WorkflowTemplate
	bindings    []models.StepBinding
	jobs        map[string]models.Job
	candidates  map[string]models.Candidate
	instances   map[string]*models.WorkflowInstance
	approvals   map[string]*models.ApprovalRequest
	decisions   []models.ApprovalDecision
	log         []models.ExecutionLogEntry
	inbound     map[string]models.InboundMessage
	nextLogID   int64
}

// mockStore implements Store over mockState.
type mockStore struct {
	state     *mockState
	committed bool // Transaction handle state
}

// NewMockStore returns an empty in-memory store for tests.
func NewMockStore() Store {
	return &mockStore{
		state: &mockState{
			definitions: make(map[string]models.WorkflowStepDefinition),
			templates:   make(map[string]models.WorkflowTemplate),
			jobs:        make(map[string]models.Job),
			candidates:  make(map[string]models.Candidate),
			instances:   make(map[string]*models.WorkflowInstance),
			approvals:   make(map[string]*models.ApprovalRequest),
			inbound:     make(map[string]models.InboundMessage),
		},
	}
}

func (m *mockStore) Begin() (Store, error) {
	return &mockStore{state: m.state}, nil
}

func (m *mockStore) Commit() error {
	if m.committed {
		return ErrConflict
	}
	m.committed = true
	return nil
}

func (m *mockStore) Rollback() error {
	// Changes are applied eagerly; nothing to undo.
	return nil
}

func (m *mockStore) Close() error {
	return nil
}

func (m *mockStore) SaveStepDefinition(d models.WorkflowStepDefinition) error {
	s := m.state
	s.mu.Lock()
	defer s.mu.Unlock()
	s.definitions[d.ID] = d
	return nil
}

func (m *mockStore) GetStepDefinition(id string) (models.WorkflowStepDefinition, error) {
	s := m.state
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.definitions[id]
	if !ok {
		return models.WorkflowStepDefinition{}, ErrNotFound
	}
	return d, nil
}

func (m *mockStore) ListStepDefinitions() ([]models.WorkflowStepDefinition, error) {
	s := m.state
	s.mu.Lock()
	defer s.mu.Unlock()
	defs := make([]models.WorkflowStepDefinition, 0, len(s.definitions))
	for _, d := range s.definitions {
		defs = append(defs, d)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs, nil
}

func (m *mockStore) SaveTemplate(t models.WorkflowTemplate) error {
	s := m.state
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[t.ID] = t
	return nil
}

func (m *mockStore) GetTemplate(id string) (models.WorkflowTemplate, error) {
	s := m.state
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.templates[id]
	if !ok {
		return models.WorkflowTemplate{}, ErrNotFound
	}
	return t, nil
}

func (m *mockStore) SaveStepBinding(b models.StepBinding) error {
	s := m.state
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.bindings {
		if existing.TemplateID == b.TemplateID && existing.OrderNumber == b.OrderNumber {
			return ErrDuplicateOrder
		}
	}
	s.bindings = append(s.bindings, b)
	return nil
}

func (m *mockStore) GetStepBinding(id string) (models.StepBinding, error) {
	s := m.state
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.bindings {
		if b.ID == id {
			s.attachStep(&b)
			return b, nil
		}
	}
	return models.StepBinding{}, ErrNotFound
}

func (m *mockStore) ListStepBindings(templateID string) ([]models.StepBinding, error) {
	s := m.state
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.StepBinding
	for _, b := range s.bindings {
		if b.TemplateID == templateID {
			s.attachStep(&b)
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderNumber < out[j].OrderNumber })
	return out, nil
}

func (s *mockState) attachStep(b *models.StepBinding) {
	if d, ok := s.definitions[b.StepID]; ok {
		b.Step = &d
	}
}

func (m *mockStore) SaveJob(j models.Job) error {
	s := m.state
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.jobs {
		if existing.ShortID == j.ShortID && existing.ID != j.ID {
			return ErrDuplicate
		}
	}
	s.jobs[j.ID] = j
	return nil
}

func (m *mockStore) GetJob(id string) (models.Job, error) {
	s := m.state
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return models.Job{}, ErrNotFound
	}
	return j, nil
}

func (m *mockStore) GetJobByShortID(shortID string) (models.Job, error) {
	s := m.state
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.ShortID == shortID {
			return j, nil
		}
	}
	return models.Job{}, ErrNotFound
}

func (m *mockStore) SaveCandidate(c models.Candidate) error {
	s := m.state
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candidates[c.ID] = c
	return nil
}

func (m *mockStore) GetCandidateByEmail(email string) (models.Candidate, error) {
	s := m.state
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.candidates {
		if strings.EqualFold(c.Email, email) {
			return c, nil
		}
	}
	return models.Candidate{}, ErrNotFound
}

func (m *mockStore) SaveInstance(inst models.WorkflowInstance) error {
	s := m.state
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.instances {
		if existing.JobID == inst.JobID && existing.CandidateID == inst.CandidateID && !existing.Status.Terminal() {
			return ErrAlreadyActive
		}
	}
	cp := inst
	s.instances[inst.ID] = &cp
	return nil
}

func (m *mockStore) GetInstance(id string) (models.WorkflowInstance, error) {
	s := m.state
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[id]
	if !ok {
		return models.WorkflowInstance{}, ErrNotFound
	}
	return *inst, nil
}

func (m *mockStore) FindActiveInstance(jobID, candidateID string) (models.WorkflowInstance, error) {
	s := m.state
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, inst := range s.instances {
		if inst.JobID == jobID && inst.CandidateID == candidateID && !inst.Status.Terminal() {
			return *inst, nil
		}
	}
	return models.WorkflowInstance{}, ErrNotFound
}

func (m *mockStore) ListInstances() ([]models.WorkflowInstance, error) {
	s := m.state
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.WorkflowInstance, 0, len(s.instances))
	for _, inst := range s.instances {
		out = append(out, *inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (m *mockStore) AdvanceInstance(id string, version int64, upd InstanceUpdate) error {
	s := m.state
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[id]
	if !ok {
		return ErrNotFound
	}
	if inst.Version != version || inst.Status.Terminal() {
		return ErrConflict
	}
	inst.CurrentBindingID = upd.CurrentBindingID
	inst.StepPhase = upd.StepPhase
	inst.Attempts = upd.Attempts
	inst.Status = upd.Status
	if upd.StepEnteredAt {
		now := time.Now()
		inst.StepEnteredAt = &now
	}
	inst.Version++
	return nil
}

func (m *mockStore) CompleteInstance(id string, status models.InstanceStatus) error {
	s := m.state
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[id]
	if !ok {
		return ErrNotFound
	}
	if inst.Status.Terminal() {
		return nil
	}
	now := time.Now()
	inst.Status = status
	inst.CompletedAt = &now
	inst.CurrentBindingID = nil
	inst.StepPhase = nil
	inst.Version++
	return nil
}

func (m *mockStore) SaveApprovalRequest(r models.ApprovalRequest) error {
	s := m.state
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := r
	s.approvals[r.ID] = &cp
	return nil
}

func (m *mockStore) GetApprovalRequest(id string) (models.ApprovalRequest, error) {
	s := m.state
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.approvals[id]
	if !ok {
		return models.ApprovalRequest{}, ErrNotFound
	}
	return *r, nil
}

func (m *mockStore) FindPendingApprovalRequest(instanceID, bindingID string) (models.ApprovalRequest, error) {
	s := m.state
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.approvals {
		if r.InstanceID == instanceID && r.BindingID == bindingID && r.Status == models.PendingApprovalStatus {
			return *r, nil
		}
	}
	return models.ApprovalRequest{}, ErrNotFound
}

func (m *mockStore) RecordDecision(d models.ApprovalDecision) error {
	s := m.state
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.decisions {
		if existing.RequestID == d.RequestID && existing.ResponderID == d.ResponderID {
			s.decisions[i] = d
			return nil
		}
	}
	s.decisions = append(s.decisions, d)
	return nil
}

func (m *mockStore) ListDecisions(requestID string) ([]models.ApprovalDecision, error) {
	s := m.state
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ApprovalDecision
	for _, d := range s.decisions {
		if d.RequestID == requestID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *mockStore) ResolveApprovalRequest(id string, status models.ApprovalStatus) error {
	s := m.state
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.approvals[id]
	if !ok {
		return ErrNotFound
	}
	if r.Status.Terminal() {
		return ErrConflict
	}
	now := time.Now()
	r.Status = status
	r.ResolvedAt = &now
	return nil
}

func (m *mockStore) AppendLog(e models.ExecutionLogEntry) error {
	s := m.state
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextLogID++
	e.ID = s.nextLogID
	seq := 1
	for _, existing := range s.log {
		if existing.InstanceID == e.InstanceID {
			seq++
		}
	}
	e.Seq = seq
	if e.LoggedAt.IsZero() {
		e.LoggedAt = time.Now()
	}
	s.log = append(s.log, e)
	return nil
}

func (m *mockStore) ListLog(instanceID string) ([]models.ExecutionLogEntry, error) {
	s := m.state
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ExecutionLogEntry
	for _, e := range s.log {
		if e.InstanceID == instanceID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (m *mockStore) SaveInboundMessage(msg models.InboundMessage) error {
	s := m.state
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inbound[msg.MessageUID]; ok {
		return ErrDuplicate
	}
	s.inbound[msg.MessageUID] = msg
	return nil
}
