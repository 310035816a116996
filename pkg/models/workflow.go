// Package models defines the core domain models for step-sequenced business workflows
package models

import (
	"slices"
	"time"
)

// WorkflowDefinition is the immutable template an instance is executed from.
// Every edit produces a new Version; earlier versions stay readable so running
// instances keep resolving the steps they were pinned to.
type WorkflowDefinition struct {
	ID             string          `json:"id"`
	OrganizationID string          `json:"organization_id"`
	Name           string          `json:"name"                     validate:"required,min=3"`
	Description    string          `json:"description"`
	Category       string          `json:"category"                 validate:"required"`
	IsActive       bool            `json:"is_active"`
	TriggerType    string          `json:"trigger_type,omitempty"`   // manual, schedule, event, ...
	TriggerConfig  map[string]any  `json:"trigger_config,omitempty"` // Opaque trigger metadata
	Version        int             `json:"version"`
	Steps          []*WorkflowStep `json:"steps"                    validate:"dive"`
	CreatedBy      string          `json:"created_by"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// SortedSteps returns the steps ordered by StepOrder ascending.
func (d *WorkflowDefinition) SortedSteps() []*WorkflowStep {
	sorted := slices.Clone(d.Steps)
	slices.SortStableFunc(sorted, func(a, b *WorkflowStep) int {
		return a.StepOrder - b.StepOrder
	})

	return sorted
}

// FirstStep returns the step with the lowest order.
func (d *WorkflowDefinition) FirstStep() (*WorkflowStep, bool) {
	sorted := d.SortedSteps()
	if len(sorted) == 0 {
		return nil, false
	}

	return sorted[0], true
}

// StepByID finds a step by its identifier.
func (d *WorkflowDefinition) StepByID(stepID string) (*WorkflowStep, bool) {
	for _, step := range d.Steps {
		if step != nil && step.ID == stepID {
			return step, true
		}
	}

	return nil, false
}

// NextStep returns the step whose order is exactly current.StepOrder+1.
// A gap in the ordering ends the sequence.
func (d *WorkflowDefinition) NextStep(current *WorkflowStep) (*WorkflowStep, bool) {
	for _, step := range d.SortedSteps() {
		if step.StepOrder == current.StepOrder+1 {
			return step, true
		}
	}

	return nil, false
}
