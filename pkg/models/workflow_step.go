package models

import "time"

// StepType identifies which processor handles a step.
type StepType string

const (
	StepTypeFormInput     StepType = "form_input"
	StepTypeAIProcessing  StepType = "ai_processing"
	StepTypeToolExecution StepType = "tool_execution"
	StepTypeApprovalGate  StepType = "approval_gate"
	StepTypeDataTransform StepType = "data_transform"
	StepTypeConditional   StepType = "conditional"
)

// StepTypes lists every supported step type.
var StepTypes = []StepType{
	StepTypeFormInput,
	StepTypeAIProcessing,
	StepTypeToolExecution,
	StepTypeApprovalGate,
	StepTypeDataTransform,
	StepTypeConditional,
}

// IsInteractive reports whether the step waits on user-supplied input.
func (t StepType) IsInteractive() bool {
	return t == StepTypeFormInput || t == StepTypeApprovalGate
}

// RetryConfig bounds how many times a failing step may be re-attempted.
// RetryDelaySeconds is a scheduling hint for callers; the engine never waits.
type RetryConfig struct {
	MaxRetries        int `json:"maxRetries"        yaml:"maxRetries"        validate:"min=0"`
	RetryDelaySeconds int `json:"retryDelaySeconds" yaml:"retryDelaySeconds" validate:"min=0"`
}

// WorkflowStep is one unit of work within a definition.
type WorkflowStep struct {
	ID             string         `json:"id"              yaml:"id"              validate:"required"`
	WorkflowID     string         `json:"workflow_id"     yaml:"-"`
	Name           string         `json:"name"            yaml:"name"            validate:"required,min=1"`
	Description    string         `json:"description"     yaml:"description"`
	StepOrder      int            `json:"step_order"      yaml:"step_order"      validate:"required,min=1"`
	StepType       StepType       `json:"step_type"       yaml:"step_type"       validate:"required,oneof=form_input ai_processing tool_execution approval_gate data_transform conditional"`
	Config         map[string]any `json:"config"          yaml:"config"`
	IsRequired     bool           `json:"is_required"     yaml:"is_required"`
	TimeoutMinutes int            `json:"timeout_minutes" yaml:"timeout_minutes" validate:"min=0"`
	RetryConfig    RetryConfig    `json:"retry_config"    yaml:"retry_config"`
	DependsOnSteps []string       `json:"depends_on_steps,omitempty" yaml:"depends_on_steps"`
	CreatedAt      time.Time      `json:"created_at"      yaml:"-"`
}
