// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/opsdesk/stepflow/pkg/models"
)

// CreateTestDefinition creates an active definition with no steps that can
// be overridden.
func CreateTestDefinition(overrides ...func(*models.WorkflowDefinition)) *models.WorkflowDefinition {
	definition := &models.WorkflowDefinition{
		ID:             uuid.NewString(),
		OrganizationID: "org-1",
		Name:           "Test Workflow",
		Description:    "Workflow used in tests",
		Category:       "testing",
		IsActive:       true,
		Version:        1,
		CreatedBy:      "author-1",
	}

	for _, override := range overrides {
		override(definition)
	}

	for _, step := range definition.Steps {
		step.WorkflowID = definition.ID
	}

	return definition
}

// WithSteps sets the definition steps.
func WithSteps(steps ...*models.WorkflowStep) func(*models.WorkflowDefinition) {
	return func(d *models.WorkflowDefinition) {
		d.Steps = steps
	}
}

// WithInactive marks the definition inactive.
func WithInactive() func(*models.WorkflowDefinition) {
	return func(d *models.WorkflowDefinition) {
		d.IsActive = false
	}
}

// CreateTestStep creates a step of the given type at the given order with a
// configuration that decodes for that type.
func CreateTestStep(order int, stepType models.StepType, overrides ...func(*models.WorkflowStep)) *models.WorkflowStep {
	step := &models.WorkflowStep{
		ID:        fmt.Sprintf("step-%d", order),
		Name:      fmt.Sprintf("Step %d", order),
		StepOrder: order,
		StepType:  stepType,
		Config:    DefaultConfig(stepType),
	}

	for _, override := range overrides {
		override(step)
	}

	return step
}

// WithStepID sets the step identifier.
func WithStepID(id string) func(*models.WorkflowStep) {
	return func(s *models.WorkflowStep) {
		s.ID = id
	}
}

// WithStepConfig sets the raw step configuration.
func WithStepConfig(config map[string]any) func(*models.WorkflowStep) {
	return func(s *models.WorkflowStep) {
		s.Config = config
	}
}

// WithMaxRetries sets the retry bound of the step.
func WithMaxRetries(maxRetries int) func(*models.WorkflowStep) {
	return func(s *models.WorkflowStep) {
		s.RetryConfig.MaxRetries = maxRetries
	}
}

// DefaultConfig returns a minimal valid configuration for a step type.
func DefaultConfig(stepType models.StepType) map[string]any {
	switch stepType {
	case models.StepTypeFormInput:
		return map[string]any{
			"fields": []any{
				map[string]any{"name": "company", "label": "Company", "type": "text", "required": true},
			},
		}
	case models.StepTypeAIProcessing:
		return map[string]any{"promptTemplate": "Summarise {{company}}", "outputKey": "summary"}
	case models.StepTypeToolExecution:
		return map[string]any{"toolSlug": "crm.lookup", "parameters": map[string]any{"company": "{{company}}"}}
	case models.StepTypeDataTransform:
		return map[string]any{
			"actions": []any{
				map[string]any{"type": "set", "target": "status", "value": "processed"},
			},
		}
	default:
		return map[string]any{}
	}
}
