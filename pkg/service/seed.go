package service

import (
	"github.com/hireflow/hireflow/pkg/models"
	"github.com/pkg/errors"
)

type seedStep struct {
	name        string
	description string
	stepType    models.StepType
	actions     models.ActionList
	autoStart   bool
	approvals   int // 0: no approval gate
	delay       int64
}

var defaultSeedSteps = []seedStep{
	{
		name:        "Resume Analysis",
		description: "AI-powered analysis of the candidate resume: skills extraction, experience evaluation and job fit scoring",
		stepType:    models.AutomatedStepType,
		actions: models.ActionList{
			{Type: "ai_analysis", Retryable: true, Params: map[string]interface{}{"target": "resume", "output": "skills_score"}},
			{Type: "ai_analysis", Retryable: true, Params: map[string]interface{}{"target": "resume", "output": "experience_score"}},
			{Type: "ai_analysis", Retryable: true, Params: map[string]interface{}{"target": "resume", "output": "job_fit_score"}},
		},
		autoStart: true,
	},
	{
		name:        "Initial Screening",
		description: "Basic screening against the job's minimum requirements",
		stepType:    models.AutomatedStepType,
		actions: models.ActionList{
			{Type: "requirement_check", Retryable: true, Params: map[string]interface{}{"criteria": "minimum_experience"}},
			{Type: "requirement_check", Retryable: true, Params: map[string]interface{}{"criteria": "required_skills"}},
		},
		autoStart: true,
	},
	{
		name:        "Technical Assessment",
		description: "Technical skills evaluation through a take-home assignment",
		stepType:    models.ManualStepType,
		actions: models.ActionList{
			{Type: "send_assessment", Params: map[string]interface{}{"assessment_type": "coding_test"}},
			{Type: "evaluate_results", Params: map[string]interface{}{"criteria": "technical_skills"}},
		},
		delay: 86400,
	},
	{
		name:        "HR Interview",
		description: "Human resources interview focusing on cultural fit and motivation",
		stepType:    models.ManualStepType,
		actions: models.ActionList{
			{Type: "schedule_interview", Params: map[string]interface{}{"interview_type": "hr"}},
		},
	},
	{
		name:        "Final Review",
		description: "Comprehensive review of all assessment results and interview feedback",
		stepType:    models.ApprovalStepType,
		actions: models.ActionList{
			{Type: "compile_feedback", Params: map[string]interface{}{"sources": "all_interviews"}},
		},
		autoStart: true,
		approvals: 2,
	},
	{
		name:        "Send Offer",
		description: "Delivery of the job offer to the candidate",
		stepType:    models.AutomatedStepType,
		actions: models.ActionList{
			{Type: "send_offer_email", Params: map[string]interface{}{"template": "standard_offer"}},
		},
		autoStart: true,
	},
}

// SeedDefaultCatalog installs the standard hiring step definitions and
// a default template binding them in order. Intended for fresh
// deployments and local development.
func (s *CatalogService) SeedDefaultCatalog() (models.WorkflowTemplate, error) {
	specs := make([]BindingSpec, 0, len(defaultSeedSteps))
	for i, step := range defaultSeedSteps {
		def, err := s.CreateStepDefinition(step.name, step.description, step.stepType, step.actions)
		if err != nil {
			return models.WorkflowTemplate{}, errors.Wrapf(err, "seed step '%s'", step.name)
		}
		spec := BindingSpec{
			StepID:      def.ID,
			OrderNumber: i + 1,
			AutoStart:   step.autoStart,
		}
		if step.approvals > 0 {
			n := step.approvals
			spec.RequiresApproval = true
			spec.ApprovalsNeeded = &n
		}
		if step.delay > 0 {
			d := step.delay
			spec.DelaySeconds = &d
		}
		specs = append(specs, spec)
	}
	return s.CreateTemplate("Standard Hiring Pipeline", "hiring", specs)
}
