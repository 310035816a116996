// Package protocol defines the contracts between the execution engine, the
// step handlers and the external collaborators they delegate to.
package protocol

import (
	"context"

	"github.com/opsdesk/stepflow/pkg/models"
)

// StepInput is what a handler receives for a single step run.
type StepInput struct {
	Step        *models.WorkflowStep
	Config      models.StepConfig
	InputData   map[string]any
	ContextData map[string]any
	ActorID     string
}

// StepHandler executes one step type. Implementations are stateless: all
// state arrives in StepInput and leaves in the StepResult.
type StepHandler interface {
	Type() models.StepType
	Execute(ctx context.Context, input StepInput) (*models.StepResult, error)
}
