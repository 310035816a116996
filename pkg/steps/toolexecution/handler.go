// Package toolexecution invokes an external tool with parameters resolved
// from the workflow context.
package toolexecution

import (
	"context"
	"fmt"

	"github.com/opsdesk/stepflow/pkg/models"
	"github.com/opsdesk/stepflow/pkg/protocol"
	"github.com/opsdesk/stepflow/pkg/template"
)

// ResultKey is the context key the raw tool result is stored under.
func ResultKey(toolSlug string) string {
	return toolSlug + "_result"
}

type Handler struct {
	tools protocol.ToolInvoker
}

func NewHandler(tools protocol.ToolInvoker) *Handler {
	return &Handler{tools: tools}
}

func (h *Handler) Type() models.StepType {
	return models.StepTypeToolExecution
}

func (h *Handler) Execute(ctx context.Context, input protocol.StepInput) (*models.StepResult, error) {
	cfg, ok := input.Config.(*models.ToolExecutionConfig)
	if !ok {
		return nil, protocol.NewExecutionError(input.Step.ID, fmt.Sprintf("unexpected config %T", input.Config), nil)
	}

	if h.tools == nil {
		return nil, protocol.NewExecutionError(input.Step.ID, "tool invoker not configured", nil)
	}

	params := make(map[string]any, len(cfg.Parameters))
	for name, value := range cfg.Parameters {
		params[name] = template.InterpolateValue(value, input.ContextData)
	}

	result, err := h.tools.Invoke(ctx, cfg.ToolSlug, params, input.ActorID)
	if err != nil {
		return nil, protocol.NewExecutionError(input.Step.ID, fmt.Sprintf("tool %s invocation failed", cfg.ToolSlug), err)
	}

	if result == nil || !result.Success {
		message := fmt.Sprintf("tool %s failed", cfg.ToolSlug)
		if result != nil && result.Error != "" {
			message = result.Error
		}

		return nil, protocol.NewExecutionError(input.Step.ID, message, nil)
	}

	updates := map[string]any{ResultKey(cfg.ToolSlug): result.Data}

	for contextKey, path := range cfg.OutputMapping {
		value, _ := template.ExtractPath(result.Data, path)
		updates[contextKey] = value
	}

	output := map[string]any{"result": result.Data}
	if data, isMap := result.Data.(map[string]any); isMap {
		output = data
	}

	return &models.StepResult{
		Output:         output,
		ContextUpdates: updates,
	}, nil
}
