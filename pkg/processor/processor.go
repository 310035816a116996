// Package processor executes a single workflow step by dispatching it to the
// handler registered for its type.
package processor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/opsdesk/stepflow/pkg/models"
	"github.com/opsdesk/stepflow/pkg/protocol"
)

// HandlerResolver returns the handler for a step type.
type HandlerResolver interface {
	Handler(stepType models.StepType) (protocol.StepHandler, error)
}

// StepRequest carries everything needed to run one step.
type StepRequest struct {
	Step        *models.WorkflowStep
	InputData   map[string]any
	ContextData map[string]any
	ActorID     string
}

// Processor is stateless; it holds only its collaborators.
type Processor struct {
	handlers HandlerResolver
	logger   *slog.Logger
}

func New(handlers HandlerResolver, logger *slog.Logger) *Processor {
	return &Processor{
		handlers: handlers,
		logger:   logger.With("module", "processor"),
	}
}

// ProcessStep decodes the step configuration and runs the handler. Failures
// are returned as *protocol.ValidationError or *protocol.ExecutionError; a
// configuration that does not decode is a ValidationError.
func (p *Processor) ProcessStep(ctx context.Context, req StepRequest) (*models.StepResult, error) {
	if req.Step == nil {
		return nil, protocol.NewExecutionError("", "step is required", nil)
	}

	logger := p.logger.With("step_id", req.Step.ID, "step_type", req.Step.StepType)

	cfg, err := models.DecodeStepConfig(req.Step.StepType, req.Step.Config)
	if err != nil {
		validationErr := protocol.NewValidationError(req.Step.ID)
		validationErr.Add("config", err.Error())
		validationErr.Err = err

		return nil, validationErr
	}

	handler, err := p.handlers.Handler(req.Step.StepType)
	if err != nil {
		return nil, protocol.NewExecutionError(req.Step.ID, "no handler for step", err)
	}

	logger.DebugContext(ctx, "Processing step")

	result, err := handler.Execute(ctx, protocol.StepInput{
		Step:        req.Step,
		Config:      cfg,
		InputData:   emptyIfNil(req.InputData),
		ContextData: emptyIfNil(req.ContextData),
		ActorID:     req.ActorID,
	})
	if err != nil {
		if protocol.IsValidationError(err) || protocol.IsExecutionError(err) {
			return nil, err
		}

		return nil, protocol.NewExecutionError(req.Step.ID, fmt.Sprintf("step %s failed", req.Step.ID), err)
	}

	if result == nil {
		result = &models.StepResult{}
	}

	if result.Output == nil {
		result.Output = map[string]any{}
	}

	if result.ContextUpdates == nil {
		result.ContextUpdates = map[string]any{}
	}

	return result, nil
}

func emptyIfNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}

	return m
}
