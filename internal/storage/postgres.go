package storage

import (
	"database/sql"
	"fmt"

	"github.com/hireflow/hireflow/pkg/models"
	"github.com/hireflow/hireflow/pkg/storage"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type DBInterface interface {
	Get(dest interface{}, query string, args ...interface{}) error
	Select(dest interface{}, query string, args ...interface{}) error
	QueryRowx(query string, args ...interface{}) *sqlx.Row
	Exec(query string, args ...interface{}) (sql.Result, error)
}

type PostgresStore struct {
	db DBInterface
}

func NewPostgresStore(connStr string) (*PostgresStore, error) {
	db, err := sqlx.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Begin() (storage.Store, error) {
	if db, ok := s.db.(*sqlx.DB); ok {
		tx, err := db.Beginx()
		if err != nil {
			return nil, err
		}
		return &PostgresStore{db: tx}, nil
	}
	return nil, fmt.Errorf("cannot begin transaction on unknown type")
}

func (s *PostgresStore) Commit() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Commit()
	}
	return fmt.Errorf("cannot commit: not a transaction")
}

func (s *PostgresStore) Rollback() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Rollback()
	}
	return fmt.Errorf("cannot rollback: not a transaction")
}

func (s *PostgresStore) Close() error {
	if db, ok := s.db.(*sqlx.DB); ok {
		return db.Close()
	}
	return nil // No-op for *sqlx.Tx
}

// isUniqueViolation reports whether err is a unique-key violation on
// the named constraint ("" matches any).
func isUniqueViolation(err error, constraint string) bool {
	pqErr, ok := err.(*pq.Error)
	if !ok || pqErr.Code != "23505" {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}

func (s *PostgresStore) SaveStepDefinition(d models.WorkflowStepDefinition) error {
	_, err := s.db.Exec(`INSERT INTO workflow_steps (id, name, description, step_type, actions, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		d.ID, d.Name, d.Description, d.StepType, d.Actions, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("save step definition: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetStepDefinition(id string) (models.WorkflowStepDefinition, error) {
	var d models.WorkflowStepDefinition
	err := s.db.Get(&d, "SELECT * FROM workflow_steps WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.WorkflowStepDefinition{}, storage.ErrNotFound
	}
	if err != nil {
		return models.WorkflowStepDefinition{}, err
	}
	return d, nil
}

func (s *PostgresStore) ListStepDefinitions() ([]models.WorkflowStepDefinition, error) {
	defs := []models.WorkflowStepDefinition{}
	err := s.db.Select(&defs, "SELECT * FROM workflow_steps ORDER BY name")
	if err != nil {
		return nil, err
	}
	return defs, nil
}

func (s *PostgresStore) SaveTemplate(t models.WorkflowTemplate) error {
	_, err := s.db.Exec(`INSERT INTO workflow_templates (id, name, category, created_at) VALUES ($1, $2, $3, $4)`,
		t.ID, t.Name, t.Category, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("save template: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTemplate(id string) (models.WorkflowTemplate, error) {
	var t models.WorkflowTemplate
	err := s.db.Get(&t, "SELECT id, name, category, created_at FROM workflow_templates WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.WorkflowTemplate{}, storage.ErrNotFound
	}
	if err != nil {
		return models.WorkflowTemplate{}, err
	}
	return t, nil
}

func (s *PostgresStore) SaveStepBinding(b models.StepBinding) error {
	_, err := s.db.Exec(`INSERT INTO workflow_step_bindings
		(id, template_id, step_id, order_number, auto_start, delay_seconds, requires_approval, approvals_needed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		b.ID, b.TemplateID, b.StepID, b.OrderNumber, b.AutoStart, b.DelaySeconds, b.RequiresApproval, b.ApprovalsNeeded)
	if err != nil {
		if isUniqueViolation(err, "workflow_step_bindings_template_id_order_number_key") {
			return storage.ErrDuplicateOrder
		}
		return fmt.Errorf("save step binding: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetStepBinding(id string) (models.StepBinding, error) {
	var b models.StepBinding
	err := s.db.Get(&b, "SELECT * FROM workflow_step_bindings WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.StepBinding{}, storage.ErrNotFound
	}
	if err != nil {
		return models.StepBinding{}, err
	}
	if err := s.attachStep(&b); err != nil {
		return models.StepBinding{}, err
	}
	return b, nil
}

func (s *PostgresStore) ListStepBindings(templateID string) ([]models.StepBinding, error) {
	bindings := []models.StepBinding{}
	err := s.db.Select(&bindings, "SELECT * FROM workflow_step_bindings WHERE template_id = $1 ORDER BY order_number", templateID)
	if err != nil {
		return nil, err
	}
	for i := range bindings {
		if err := s.attachStep(&bindings[i]); err != nil {
			return nil, err
		}
	}
	return bindings, nil
}

func (s *PostgresStore) attachStep(b *models.StepBinding) error {
	def, err := s.GetStepDefinition(b.StepID)
	if err != nil {
		return fmt.Errorf("binding %s references step %s: %w", b.ID, b.StepID, err)
	}
	b.Step = &def
	return nil
}

func (s *PostgresStore) SaveJob(j models.Job) error {
	_, err := s.db.Exec(`INSERT INTO jobs (id, title, short_id, template_id, created_at) VALUES ($1, $2, $3, $4, $5)`,
		j.ID, j.Title, j.ShortID, j.TemplateID, j.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, "jobs_short_id_key") {
			return storage.ErrDuplicate
		}
		return fmt.Errorf("save job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(id string) (models.Job, error) {
	var j models.Job
	err := s.db.Get(&j, "SELECT * FROM jobs WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.Job{}, storage.ErrNotFound
	}
	return j, err
}

func (s *PostgresStore) GetJobByShortID(shortID string) (models.Job, error) {
	var j models.Job
	err := s.db.Get(&j, "SELECT * FROM jobs WHERE short_id = $1", shortID)
	if err == sql.ErrNoRows {
		return models.Job{}, storage.ErrNotFound
	}
	return j, err
}

func (s *PostgresStore) SaveCandidate(c models.Candidate) error {
	_, err := s.db.Exec(`INSERT INTO candidates (id, email, first_name, last_name, created_at) VALUES ($1, $2, $3, $4, $5)`,
		c.ID, c.Email, c.FirstName, c.LastName, c.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, "candidates_email_key") {
			return storage.ErrDuplicate
		}
		return fmt.Errorf("save candidate: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetCandidateByEmail(email string) (models.Candidate, error) {
	var c models.Candidate
	err := s.db.Get(&c, "SELECT * FROM candidates WHERE lower(email) = lower($1)", email)
	if err == sql.ErrNoRows {
		return models.Candidate{}, storage.ErrNotFound
	}
	return c, err
}

// SaveInstance inserts a new instance. The partial unique index over
// (job_id, candidate_id) for ACTIVE rows enforces pair uniqueness.
func (s *PostgresStore) SaveInstance(inst models.WorkflowInstance) error {
	_, err := s.db.Exec(`INSERT INTO workflow_instances
		(id, template_id, job_id, candidate_id, status, current_binding_id, step_phase, step_entered_at, attempts, started_at, completed_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		inst.ID, inst.TemplateID, inst.JobID, inst.CandidateID, inst.Status, inst.CurrentBindingID,
		inst.StepPhase, inst.StepEnteredAt, inst.Attempts, inst.StartedAt, inst.CompletedAt, inst.Version)
	if err != nil {
		if isUniqueViolation(err, "workflow_instances_active_pair_idx") {
			return storage.ErrAlreadyActive
		}
		return fmt.Errorf("save instance: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetInstance(id string) (models.WorkflowInstance, error) {
	var inst models.WorkflowInstance
	err := s.db.Get(&inst, "SELECT * FROM workflow_instances WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.WorkflowInstance{}, storage.ErrNotFound
	}
	return inst, err
}

func (s *PostgresStore) FindActiveInstance(jobID, candidateID string) (models.WorkflowInstance, error) {
	var inst models.WorkflowInstance
	err := s.db.Get(&inst,
		"SELECT * FROM workflow_instances WHERE job_id = $1 AND candidate_id = $2 AND status = $3",
		jobID, candidateID, models.ActiveInstanceStatus)
	if err == sql.ErrNoRows {
		return models.WorkflowInstance{}, storage.ErrNotFound
	}
	return inst, err
}

func (s *PostgresStore) ListInstances() ([]models.WorkflowInstance, error) {
	instances := []models.WorkflowInstance{}
	err := s.db.Select(&instances, "SELECT * FROM workflow_instances ORDER BY started_at")
	if err != nil {
		return nil, err
	}
	return instances, nil
}

// AdvanceInstance is a compare-and-set on the version column; a lost
// race or a concurrently concluded instance yields ErrConflict.
func (s *PostgresStore) AdvanceInstance(id string, version int64, upd storage.InstanceUpdate) error {
	res, err := s.db.Exec(`UPDATE workflow_instances
		SET current_binding_id = $1,
		    step_phase = $2,
		    step_entered_at = CASE WHEN $3 THEN CURRENT_TIMESTAMP ELSE step_entered_at END,
		    attempts = $4,
		    status = $5,
		    version = version + 1
		WHERE id = $6 AND version = $7 AND status = $8`,
		upd.CurrentBindingID, upd.StepPhase, upd.StepEnteredAt, upd.Attempts, upd.Status,
		id, version, models.ActiveInstanceStatus)
	if err != nil {
		return fmt.Errorf("advance instance %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, getErr := s.GetInstance(id); getErr != nil {
			return getErr
		}
		return storage.ErrConflict
	}
	return nil
}

// CompleteInstance concludes an instance; a second call on an already
// terminal instance is a no-op.
func (s *PostgresStore) CompleteInstance(id string, status models.InstanceStatus) error {
	res, err := s.db.Exec(`UPDATE workflow_instances
		SET status = $1, completed_at = CURRENT_TIMESTAMP, current_binding_id = NULL, step_phase = NULL, version = version + 1
		WHERE id = $2 AND status = $3`,
		status, id, models.ActiveInstanceStatus)
	if err != nil {
		return fmt.Errorf("complete instance %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, getErr := s.GetInstance(id); getErr != nil {
			return getErr
		}
	}
	return nil
}

func (s *PostgresStore) SaveApprovalRequest(r models.ApprovalRequest) error {
	_, err := s.db.Exec(`INSERT INTO approval_requests
		(id, instance_id, binding_id, approvals_needed, status, requested_at, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ID, r.InstanceID, r.BindingID, r.ApprovalsNeeded, r.Status, r.RequestedAt, r.ResolvedAt)
	if err != nil {
		return fmt.Errorf("save approval request: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetApprovalRequest(id string) (models.ApprovalRequest, error) {
	var r models.ApprovalRequest
	err := s.db.Get(&r, "SELECT * FROM approval_requests WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.ApprovalRequest{}, storage.ErrNotFound
	}
	return r, err
}

func (s *PostgresStore) FindPendingApprovalRequest(instanceID, bindingID string) (models.ApprovalRequest, error) {
	var r models.ApprovalRequest
	err := s.db.Get(&r,
		"SELECT * FROM approval_requests WHERE instance_id = $1 AND binding_id = $2 AND status = $3",
		instanceID, bindingID, models.PendingApprovalStatus)
	if err == sql.ErrNoRows {
		return models.ApprovalRequest{}, storage.ErrNotFound
	}
	return r, err
}

// RecordDecision upserts a responder's decision: the latest value wins.
func (s *PostgresStore) RecordDecision(d models.ApprovalDecision) error {
	_, err := s.db.Exec(`INSERT INTO approval_decisions (request_id, responder_id, decision, comments, responded_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (request_id, responder_id)
		DO UPDATE SET decision = EXCLUDED.decision, comments = EXCLUDED.comments, responded_at = EXCLUDED.responded_at`,
		d.RequestID, d.ResponderID, d.Decision, d.Comments, d.RespondedAt)
	if err != nil {
		return fmt.Errorf("record decision: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListDecisions(requestID string) ([]models.ApprovalDecision, error) {
	decisions := []models.ApprovalDecision{}
	err := s.db.Select(&decisions, "SELECT * FROM approval_decisions WHERE request_id = $1 ORDER BY responded_at", requestID)
	if err != nil {
		return nil, err
	}
	return decisions, nil
}

func (s *PostgresStore) ResolveApprovalRequest(id string, status models.ApprovalStatus) error {
	res, err := s.db.Exec(`UPDATE approval_requests SET status = $1, resolved_at = CURRENT_TIMESTAMP
		WHERE id = $2 AND status = $3`,
		status, id, models.PendingApprovalStatus)
	if err != nil {
		return fmt.Errorf("resolve approval request %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, getErr := s.GetApprovalRequest(id); getErr != nil {
			return getErr
		}
		return storage.ErrConflict
	}
	return nil
}

// AppendLog assigns the next per-instance sequence number within the
// insert. Per-instance single-writer discipline (the engine lock) keeps
// the subselect race-free.
func (s *PostgresStore) AppendLog(e models.ExecutionLogEntry) error {
	_, err := s.db.Exec(`INSERT INTO execution_log (instance_id, seq, binding_id, kind, payload, logged_at)
		SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, $3, $4, $5 FROM execution_log WHERE instance_id = $1`,
		e.InstanceID, e.BindingID, e.Kind, e.Payload, e.LoggedAt)
	if err != nil {
		return fmt.Errorf("append log for instance %s: %w", e.InstanceID, err)
	}
	return nil
}

func (s *PostgresStore) ListLog(instanceID string) ([]models.ExecutionLogEntry, error) {
	entries := []models.ExecutionLogEntry{}
	err := s.db.Select(&entries, "SELECT * FROM execution_log WHERE instance_id = $1 ORDER BY seq", instanceID)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *PostgresStore) SaveInboundMessage(m models.InboundMessage) error {
	res, err := s.db.Exec(`INSERT INTO inbound_messages (message_uid, sender, subject, received_at)
		VALUES ($1, $2, $3, $4) ON CONFLICT (message_uid) DO NOTHING`,
		m.MessageUID, m.Sender, m.Subject, m.ReceivedAt)
	if err != nil {
		return fmt.Errorf("save inbound message: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return storage.ErrDuplicate
	}
	return nil
}
