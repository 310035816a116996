package processor_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/opsdesk/stepflow/pkg/mocks"
	"github.com/opsdesk/stepflow/pkg/models"
	"github.com/opsdesk/stepflow/pkg/processor"
	"github.com/opsdesk/stepflow/pkg/protocol"
	"github.com/opsdesk/stepflow/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newProcessor(completion *mocks.MockCompletionService, tools *mocks.MockToolInvoker) *processor.Processor {
	reg := registry.NewRegistry(slog.Default())
	reg.RegisterDefaultSteps(completion, tools)

	return processor.New(reg, slog.Default())
}

func TestProcessStep_DispatchesByType(t *testing.T) {
	completion := &mocks.MockCompletionService{}
	completion.On("Complete", mock.Anything, "Describe Acme", mock.Anything).Return("A company", nil)

	p := newProcessor(completion, &mocks.MockToolInvoker{})

	result, err := p.ProcessStep(context.Background(), processor.StepRequest{
		Step: &models.WorkflowStep{
			ID:       "describe",
			StepType: models.StepTypeAIProcessing,
			Config:   map[string]any{"promptTemplate": "Describe {{company}}", "outputKey": "description"},
		},
		ContextData: map[string]any{"company": "Acme"},
	})
	require.NoError(t, err)
	assert.Equal(t, "A company", result.ContextUpdates["description"])
}

func TestProcessStep_Conditional(t *testing.T) {
	p := newProcessor(&mocks.MockCompletionService{}, &mocks.MockToolInvoker{})

	result, err := p.ProcessStep(context.Background(), processor.StepRequest{
		Step: &models.WorkflowStep{ID: "route", StepType: models.StepTypeConditional},
	})
	require.NoError(t, err)
	assert.Equal(t, models.NextActionConditionalEvaluation, result.NextAction)
	assert.NotNil(t, result.Output)
	assert.NotNil(t, result.ContextUpdates)
}

func TestProcessStep_InvalidConfig(t *testing.T) {
	p := newProcessor(&mocks.MockCompletionService{}, &mocks.MockToolInvoker{})

	_, err := p.ProcessStep(context.Background(), processor.StepRequest{
		Step: &models.WorkflowStep{ID: "broken", StepType: models.StepTypeAIProcessing, Config: map[string]any{}},
	})
	require.Error(t, err)
	assert.True(t, protocol.IsValidationError(err))
	assert.False(t, protocol.IsExecutionError(err))
	assert.ErrorIs(t, err, models.ErrInvalidConfig)

	var validationErr *protocol.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, []string{"config"}, validationErr.FieldNames())
}

func TestProcessStep_ValidationErrorPassesThrough(t *testing.T) {
	p := newProcessor(&mocks.MockCompletionService{}, &mocks.MockToolInvoker{})

	_, err := p.ProcessStep(context.Background(), processor.StepRequest{
		Step: &models.WorkflowStep{
			ID:       "collect",
			StepType: models.StepTypeFormInput,
			Config: map[string]any{"fields": []any{
				map[string]any{"name": "first", "type": "text", "required": true},
				map[string]any{"name": "last", "type": "text", "required": true},
			}},
		},
		InputData: map[string]any{},
	})
	require.Error(t, err)

	var validationErr *protocol.ValidationError
	require.True(t, errors.As(err, &validationErr))
	assert.Equal(t, []string{"first", "last"}, validationErr.FieldNames())
}

func TestProcessStep_UnexpectedHandlerErrorIsExecutionError(t *testing.T) {
	handler := &mocks.MockStepHandler{StepType: models.StepTypeConditional}
	handler.On("Execute", mock.Anything, mock.Anything).Return(nil, errors.New("boom"))

	reg := registry.NewRegistry(slog.Default())
	reg.Register(handler)

	_, err := processor.New(reg, slog.Default()).ProcessStep(context.Background(), processor.StepRequest{
		Step: &models.WorkflowStep{ID: "route", StepType: models.StepTypeConditional},
	})
	require.Error(t, err)
	assert.True(t, protocol.IsExecutionError(err))
	assert.Contains(t, err.Error(), "boom")
}

func TestProcessStep_UnregisteredType(t *testing.T) {
	reg := registry.NewRegistry(slog.Default())

	_, err := processor.New(reg, slog.Default()).ProcessStep(context.Background(), processor.StepRequest{
		Step: &models.WorkflowStep{ID: "route", StepType: models.StepTypeConditional},
	})
	assert.True(t, protocol.IsExecutionError(err))
}
