package web

import "github.com/opsdesk/stepflow/pkg/models"

const (
	ActorHeader        = "X-Actor-ID"
	OrganizationHeader = "X-Organization-ID"
)

// StepRequest describes one step of a definition in a create or update body.
type StepRequest struct {
	ID             string             `json:"id"`
	Name           string             `json:"name"             validate:"required,min=1"`
	Description    string             `json:"description"`
	StepOrder      int                `json:"step_order"       validate:"required,min=1"`
	StepType       models.StepType    `json:"step_type"        validate:"required"`
	Config         map[string]any     `json:"config"`
	IsRequired     bool               `json:"is_required"`
	TimeoutMinutes int                `json:"timeout_minutes"  validate:"min=0"`
	RetryConfig    models.RetryConfig `json:"retry_config"`
	DependsOnSteps []string           `json:"depends_on_steps"`
}

// DefinitionRequest is the body of POST /workflows and PUT /workflows/:id.
type DefinitionRequest struct {
	Name          string         `json:"name"           validate:"required,min=3"`
	Description   string         `json:"description"`
	Category      string         `json:"category"       validate:"required"`
	IsActive      *bool          `json:"is_active"`
	TriggerType   string         `json:"trigger_type"`
	TriggerConfig map[string]any `json:"trigger_config"`
	Steps         []StepRequest  `json:"steps"          validate:"dive"`
}

// CreateInstanceRequest is the body of POST /workflows/:id/instances.
type CreateInstanceRequest struct {
	InitialContext map[string]any `json:"initial_context"`
}

// ExecuteStepRequest is the body of POST /instances/:id/steps/:stepId/execute.
type ExecuteStepRequest struct {
	InputData map[string]any `json:"input_data"`
}

// ToDefinition builds the definition model. New definitions are active
// unless the request says otherwise.
func (r DefinitionRequest) ToDefinition(organizationID, actorID string) *models.WorkflowDefinition {
	definition := &models.WorkflowDefinition{
		OrganizationID: organizationID,
		Name:           r.Name,
		Description:    r.Description,
		Category:       r.Category,
		IsActive:       r.IsActive == nil || *r.IsActive,
		TriggerType:    r.TriggerType,
		TriggerConfig:  r.TriggerConfig,
		CreatedBy:      actorID,
		Steps:          make([]*models.WorkflowStep, 0, len(r.Steps)),
	}

	for _, step := range r.Steps {
		definition.Steps = append(definition.Steps, &models.WorkflowStep{
			ID:             step.ID,
			Name:           step.Name,
			Description:    step.Description,
			StepOrder:      step.StepOrder,
			StepType:       step.StepType,
			Config:         step.Config,
			IsRequired:     step.IsRequired,
			TimeoutMinutes: step.TimeoutMinutes,
			RetryConfig:    step.RetryConfig,
			DependsOnSteps: step.DependsOnSteps,
		})
	}

	return definition
}
