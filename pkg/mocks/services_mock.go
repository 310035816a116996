package mocks

import (
	"context"

	"github.com/opsdesk/stepflow/pkg/models"
	"github.com/opsdesk/stepflow/pkg/processor"
	"github.com/opsdesk/stepflow/pkg/protocol"
	"github.com/stretchr/testify/mock"
)

// MockCompletionService is a mock implementation of protocol.CompletionService.
type MockCompletionService struct {
	mock.Mock
}

func (m *MockCompletionService) Complete(ctx context.Context, prompt string, history []protocol.Message) (string, error) {
	args := m.Called(ctx, prompt, history)

	return args.String(0), args.Error(1)
}

// MockToolInvoker is a mock implementation of protocol.ToolInvoker.
type MockToolInvoker struct {
	mock.Mock
}

func (m *MockToolInvoker) Invoke(ctx context.Context, toolSlug string, params map[string]any, actorID string) (*protocol.ToolResult, error) {
	args := m.Called(ctx, toolSlug, params, actorID)

	result, _ := args.Get(0).(*protocol.ToolResult)

	return result, args.Error(1)
}

// MockStepHandler is a mock implementation of protocol.StepHandler.
type MockStepHandler struct {
	mock.Mock

	StepType models.StepType
}

func (m *MockStepHandler) Type() models.StepType {
	return m.StepType
}

func (m *MockStepHandler) Execute(ctx context.Context, input protocol.StepInput) (*models.StepResult, error) {
	args := m.Called(ctx, input)

	result, _ := args.Get(0).(*models.StepResult)

	return result, args.Error(1)
}

// MockStepProcessor is a mock implementation of workflow.StepProcessor.
type MockStepProcessor struct {
	mock.Mock
}

func (m *MockStepProcessor) ProcessStep(ctx context.Context, req processor.StepRequest) (*models.StepResult, error) {
	args := m.Called(ctx, req)

	result, _ := args.Get(0).(*models.StepResult)

	return result, args.Error(1)
}
