// Package aiprocessing renders a prompt from the workflow context and asks the
// completion service for a result.
package aiprocessing

import (
	"context"
	"fmt"

	"github.com/opsdesk/stepflow/pkg/models"
	"github.com/opsdesk/stepflow/pkg/protocol"
	"github.com/opsdesk/stepflow/pkg/template"
)

type Handler struct {
	completion protocol.CompletionService
}

func NewHandler(completion protocol.CompletionService) *Handler {
	return &Handler{completion: completion}
}

func (h *Handler) Type() models.StepType {
	return models.StepTypeAIProcessing
}

func (h *Handler) Execute(ctx context.Context, input protocol.StepInput) (*models.StepResult, error) {
	cfg, ok := input.Config.(*models.AIProcessingConfig)
	if !ok {
		return nil, protocol.NewExecutionError(input.Step.ID, fmt.Sprintf("unexpected config %T", input.Config), nil)
	}

	if h.completion == nil {
		return nil, protocol.NewExecutionError(input.Step.ID, "completion service not configured", nil)
	}

	prompt := template.Interpolate(cfg.PromptTemplate, input.ContextData)

	text, err := h.completion.Complete(ctx, prompt, nil)
	if err != nil {
		return nil, protocol.NewExecutionError(input.Step.ID, "completion failed", err)
	}

	return &models.StepResult{
		Output:         map[string]any{cfg.OutputKey: text},
		ContextUpdates: map[string]any{cfg.OutputKey: text},
	}, nil
}
