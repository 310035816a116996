// Package conditional marks a step whose branch has to be resolved outside
// the engine.
package conditional

import (
	"context"

	"github.com/opsdesk/stepflow/pkg/models"
	"github.com/opsdesk/stepflow/pkg/protocol"
)

type Handler struct{}

func NewHandler() *Handler {
	return &Handler{}
}

func (h *Handler) Type() models.StepType {
	return models.StepTypeConditional
}

// Execute does not evaluate the condition. It signals that the caller must
// choose the next step.
func (h *Handler) Execute(_ context.Context, _ protocol.StepInput) (*models.StepResult, error) {
	return &models.StepResult{
		Output:         map[string]any{},
		ContextUpdates: map[string]any{},
		NextAction:     models.NextActionConditionalEvaluation,
	}, nil
}
