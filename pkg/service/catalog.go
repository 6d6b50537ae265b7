package service

import (
	"time"

	"github.com/google/uuid"
	"github.com/hireflow/hireflow/pkg/models"
	"github.com/hireflow/hireflow/pkg/storage"
	"github.com/pkg/errors"
)

// BindingSpec describes one step placement when authoring a template.
type BindingSpec struct {
	StepID           string
	OrderNumber      int
	AutoStart        bool
	DelaySeconds     *int64
	RequiresApproval bool
	ApprovalsNeeded  *int
}

// CatalogService owns the read-mostly store of templates, step
// definitions and bindings. Templates are validated at authoring time;
// traversal assumes strictly increasing order numbers.
type CatalogService struct {
	store  storage.Store
	logger Logger
}

func NewCatalogService(store storage.Store, logger Logger) *CatalogService {
	return &CatalogService{store: store, logger: logger}
}

// CreateStepDefinition registers a reusable unit of work.
func (s *CatalogService) CreateStepDefinition(name, description string, stepType models.StepType, actions models.ActionList) (models.WorkflowStepDefinition, error) {
	if name == "" {
		return models.WorkflowStepDefinition{}, errors.New("step definition name cannot be empty")
	}
	switch stepType {
	case models.AutomatedStepType, models.ManualStepType, models.ApprovalStepType:
	default:
		return models.WorkflowStepDefinition{}, errors.Errorf("invalid step type '%s'", stepType)
	}
	def := models.WorkflowStepDefinition{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		StepType:    stepType,
		Actions:     actions,
		CreatedAt:   time.Now(),
	}
	if err := s.store.SaveStepDefinition(def); err != nil {
		return models.WorkflowStepDefinition{}, errors.Wrapf(err, "save step definition '%s'", name)
	}
	s.logger.Infof("Created step definition '%s' (%s)", name, def.ID)
	return def, nil
}

// GetStepDefinition fetches a step definition by id.
func (s *CatalogService) GetStepDefinition(id string) (models.WorkflowStepDefinition, error) {
	return s.store.GetStepDefinition(id)
}

// CreateTemplate persists a template with its bindings in one
// transaction. Duplicate or non-positive order numbers and references
// to missing definitions are integrity errors rejected here, never
// resolved at traversal time.
func (s *CatalogService) CreateTemplate(name, category string, steps []BindingSpec) (tmpl models.WorkflowTemplate, err error) {
	if name == "" {
		return models.WorkflowTemplate{}, errors.New("template name cannot be empty")
	}
	if len(steps) == 0 {
		return models.WorkflowTemplate{}, errors.New("template requires at least one step binding")
	}
	if err := validateBindingSpecs(steps); err != nil {
		return models.WorkflowTemplate{}, err
	}

	txStore, err := s.store.Begin()
	if err != nil {
		return models.WorkflowTemplate{}, errors.Wrap(err, "begin transaction")
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

	tmpl = models.WorkflowTemplate{
		ID:        uuid.NewString(),
		Name:      name,
		Category:  category,
		CreatedAt: time.Now(),
	}
	if err = txStore.SaveTemplate(tmpl); err != nil {
		return models.WorkflowTemplate{}, errors.Wrapf(err, "save template '%s'", name)
	}
	for _, spec := range steps {
		if _, err = txStore.GetStepDefinition(spec.StepID); err != nil {
			return models.WorkflowTemplate{}, errors.Wrapf(err, "step definition %s referenced at order %d", spec.StepID, spec.OrderNumber)
		}
		binding := models.StepBinding{
			ID:               uuid.NewString(),
			TemplateID:       tmpl.ID,
			StepID:           spec.StepID,
			OrderNumber:      spec.OrderNumber,
			AutoStart:        spec.AutoStart,
			DelaySeconds:     spec.DelaySeconds,
			RequiresApproval: spec.RequiresApproval,
			ApprovalsNeeded:  spec.ApprovalsNeeded,
		}
		if err = txStore.SaveStepBinding(binding); err != nil {
			return models.WorkflowTemplate{}, errors.Wrapf(err, "save binding at order %d", spec.OrderNumber)
		}
		tmpl.Bindings = append(tmpl.Bindings, binding)
	}
	s.logger.Infof("Created template '%s' with %d bindings", name, len(steps))
	return tmpl, nil
}

func validateBindingSpecs(steps []BindingSpec) error {
	seen := make(map[int]struct{}, len(steps))
	for _, spec := range steps {
		if spec.OrderNumber < 1 {
			return errors.Errorf("order number must be positive, got %d", spec.OrderNumber)
		}
		if _, ok := seen[spec.OrderNumber]; ok {
			return errors.Wrapf(storage.ErrDuplicateOrder, "order %d", spec.OrderNumber)
		}
		seen[spec.OrderNumber] = struct{}{}
		if spec.DelaySeconds != nil && *spec.DelaySeconds < 0 {
			return errors.Errorf("delay seconds must be non-negative, got %d", *spec.DelaySeconds)
		}
		if spec.RequiresApproval {
			if spec.ApprovalsNeeded == nil || *spec.ApprovalsNeeded < 1 {
				return errors.Errorf("approvals needed must be a positive integer at order %d", spec.OrderNumber)
			}
		} else if spec.ApprovalsNeeded != nil {
			return errors.Errorf("approvals needed set without requires_approval at order %d", spec.OrderNumber)
		}
	}
	return nil
}

// GetTemplate fetches a template with its ordered bindings.
func (s *CatalogService) GetTemplate(id string) (models.WorkflowTemplate, error) {
	tmpl, err := s.store.GetTemplate(id)
	if err != nil {
		return models.WorkflowTemplate{}, err
	}
	bindings, err := s.store.ListStepBindings(id)
	if err != nil {
		return models.WorkflowTemplate{}, errors.Wrapf(err, "list bindings for template %s", id)
	}
	tmpl.Bindings = bindings
	return tmpl, nil
}

// OrderedBindings returns the template's bindings by ascending order number.
func (s *CatalogService) OrderedBindings(templateID string) ([]models.StepBinding, error) {
	return s.store.ListStepBindings(templateID)
}

// FirstBinding returns the binding with the smallest order number.
// ok is false for a template with no bindings.
func (s *CatalogService) FirstBinding(templateID string) (models.StepBinding, bool, error) {
	bindings, err := s.store.ListStepBindings(templateID)
	if err != nil {
		return models.StepBinding{}, false, err
	}
	if len(bindings) == 0 {
		return models.StepBinding{}, false, nil
	}
	return bindings[0], true, nil
}

// NextBinding returns the binding with the smallest order number
// strictly greater than currentOrder; ok is false when currentOrder is last.
func (s *CatalogService) NextBinding(templateID string, currentOrder int) (models.StepBinding, bool, error) {
	bindings, err := s.store.ListStepBindings(templateID)
	if err != nil {
		return models.StepBinding{}, false, err
	}
	for _, b := range bindings {
		if b.OrderNumber > currentOrder {
			return b, true, nil
		}
	}
	return models.StepBinding{}, false, nil
}
