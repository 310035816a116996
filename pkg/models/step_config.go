package models

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var (
	ErrUnknownStepType = errors.New("unknown step type")
	ErrInvalidConfig   = errors.New("invalid step config")
)

var configValidator = validator.New(validator.WithRequiredStructEnabled())

// StepConfig is the typed configuration of a step. There is one variant per
// StepType.
type StepConfig interface {
	StepType() StepType
}

// FieldType enumerates the supported form field kinds.
type FieldType string

const (
	FieldTypeText     FieldType = "text"
	FieldTypeTextarea FieldType = "textarea"
	FieldTypeEmail    FieldType = "email"
	FieldTypeNumber   FieldType = "number"
	FieldTypeDate     FieldType = "date"
	FieldTypeSelect   FieldType = "select"
	FieldTypeCheckbox FieldType = "checkbox"
)

type FormField struct {
	Name      string    `json:"name"                validate:"required"`
	Label     string    `json:"label,omitempty"`
	Type      FieldType `json:"type"                validate:"required,oneof=text textarea email number date select checkbox"`
	Required  bool      `json:"required,omitempty"`
	MinLength *int      `json:"minLength,omitempty" validate:"omitempty,min=0"`
	MaxLength *int      `json:"maxLength,omitempty" validate:"omitempty,min=0"`
	Min       *float64  `json:"min,omitempty"`
	Max       *float64  `json:"max,omitempty"`
	Options   []string  `json:"options,omitempty"   validate:"required_if=Type select"`
}

type FormInputConfig struct {
	Fields []FormField `json:"fields" validate:"required,min=1,dive"`
}

func (FormInputConfig) StepType() StepType { return StepTypeFormInput }

type AIProcessingConfig struct {
	PromptTemplate string `json:"promptTemplate"         validate:"required"`
	OutputKey      string `json:"outputKey"              validate:"required"`
	SystemPrompt   string `json:"systemPrompt,omitempty"`
	Model          string `json:"model,omitempty"`
}

func (AIProcessingConfig) StepType() StepType { return StepTypeAIProcessing }

type ToolExecutionConfig struct {
	ToolSlug      string            `json:"toolSlug"                validate:"required"`
	Parameters    map[string]any    `json:"parameters,omitempty"`
	OutputMapping map[string]string `json:"outputMapping,omitempty"` // context key -> dot path into the result
}

func (ToolExecutionConfig) StepType() StepType { return StepTypeToolExecution }

type ApprovalGateConfig struct {
	Approvers []string `json:"approvers,omitempty"`
	Message   string   `json:"message,omitempty"`
}

func (ApprovalGateConfig) StepType() StepType { return StepTypeApprovalGate }

// TransformActionType enumerates data_transform actions.
type TransformActionType string

const (
	TransformActionSet          TransformActionType = "set"
	TransformActionAppend       TransformActionType = "append"
	TransformActionNotification TransformActionType = "notification"
	TransformActionLog          TransformActionType = "log"
	TransformActionTransform    TransformActionType = "transform"
)

type TransformAction struct {
	Type      TransformActionType `json:"type"                validate:"required,oneof=set append notification log transform"`
	Target    string              `json:"target,omitempty"    validate:"required_if=Type set,required_if=Type append"`
	Value     any                 `json:"value,omitempty"`
	Recipient string              `json:"recipient,omitempty" validate:"required_if=Type notification"`
	Subject   string              `json:"subject,omitempty"`
	Body      string              `json:"body,omitempty"`
	Message   string              `json:"message,omitempty"`
	Level     string              `json:"level,omitempty"     validate:"omitempty,oneof=debug info warn error"`
}

type DataTransformConfig struct {
	Actions []TransformAction `json:"actions" validate:"dive"`
}

func (DataTransformConfig) StepType() StepType { return StepTypeDataTransform }

type ConditionalConfig struct {
	Condition   string `json:"condition,omitempty"`
	TrueStepID  string `json:"trueStepId,omitempty"`
	FalseStepID string `json:"falseStepId,omitempty"`
}

func (ConditionalConfig) StepType() StepType { return StepTypeConditional }

// DecodeStepConfig converts the dynamic config payload of a step into its
// typed variant and validates it.
func DecodeStepConfig(stepType StepType, raw map[string]any) (StepConfig, error) {
	var cfg StepConfig

	switch stepType {
	case StepTypeFormInput:
		cfg = &FormInputConfig{}
	case StepTypeAIProcessing:
		cfg = &AIProcessingConfig{}
	case StepTypeToolExecution:
		cfg = &ToolExecutionConfig{}
	case StepTypeApprovalGate:
		cfg = &ApprovalGateConfig{}
	case StepTypeDataTransform:
		cfg = &DataTransformConfig{}
	case StepTypeConditional:
		cfg = &ConditionalConfig{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStepType, stepType)
	}

	if raw == nil {
		raw = map[string]any{}
	}

	payload, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if err := json.Unmarshal(payload, cfg); err != nil {
		return nil, fmt.Errorf("%w for %s: %w", ErrInvalidConfig, stepType, err)
	}

	if err := configValidator.Struct(cfg); err != nil {
		return nil, fmt.Errorf("%w for %s: %w", ErrInvalidConfig, stepType, err)
	}

	return cfg, nil
}
