package mocks

import (
	"context"

	"github.com/opsdesk/stepflow/pkg/models"
	"github.com/opsdesk/stepflow/pkg/persistence"
	"github.com/stretchr/testify/mock"
)

// MockPersistence is a mock implementation of persistence.Persistence. The
// repository fields are returned as-is by the accessors.
type MockPersistence struct {
	mock.Mock

	Definitions    *MockDefinitionRepository
	Instances      *MockInstanceRepository
	StepExecutions *MockStepExecutionRepository
}

func NewMockPersistence() *MockPersistence {
	return &MockPersistence{
		Definitions:    &MockDefinitionRepository{},
		Instances:      &MockInstanceRepository{},
		StepExecutions: &MockStepExecutionRepository{},
	}
}

func (m *MockPersistence) DefinitionRepository() persistence.DefinitionRepository {
	return m.Definitions
}

func (m *MockPersistence) InstanceRepository() persistence.InstanceRepository {
	return m.Instances
}

func (m *MockPersistence) StepExecutionRepository() persistence.StepExecutionRepository {
	return m.StepExecutions
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

// MockDefinitionRepository is a mock implementation of persistence.DefinitionRepository.
type MockDefinitionRepository struct {
	mock.Mock
}

func (m *MockDefinitionRepository) Save(ctx context.Context, definition *models.WorkflowDefinition) error {
	args := m.Called(ctx, definition)

	return args.Error(0)
}

func (m *MockDefinitionRepository) Latest(ctx context.Context, workflowID string) (*models.WorkflowDefinition, error) {
	args := m.Called(ctx, workflowID)

	definition, _ := args.Get(0).(*models.WorkflowDefinition)

	return definition, args.Error(1)
}

func (m *MockDefinitionRepository) Version(ctx context.Context, workflowID string, version int) (*models.WorkflowDefinition, error) {
	args := m.Called(ctx, workflowID, version)

	definition, _ := args.Get(0).(*models.WorkflowDefinition)

	return definition, args.Error(1)
}

func (m *MockDefinitionRepository) List(ctx context.Context, organizationID string) ([]*models.WorkflowDefinition, error) {
	args := m.Called(ctx, organizationID)

	definitions, _ := args.Get(0).([]*models.WorkflowDefinition)

	return definitions, args.Error(1)
}

func (m *MockDefinitionRepository) SetActive(ctx context.Context, workflowID string, active bool) error {
	args := m.Called(ctx, workflowID, active)

	return args.Error(0)
}

// MockInstanceRepository is a mock implementation of persistence.InstanceRepository.
type MockInstanceRepository struct {
	mock.Mock
}

func (m *MockInstanceRepository) Create(ctx context.Context, instance *models.WorkflowInstance) error {
	args := m.Called(ctx, instance)

	return args.Error(0)
}

func (m *MockInstanceRepository) GetByID(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	args := m.Called(ctx, id)

	instance, _ := args.Get(0).(*models.WorkflowInstance)

	return instance, args.Error(1)
}

func (m *MockInstanceRepository) Update(ctx context.Context, instance *models.WorkflowInstance) error {
	args := m.Called(ctx, instance)

	return args.Error(0)
}

func (m *MockInstanceRepository) ListByInitiator(ctx context.Context, userID, organizationID string) ([]*models.WorkflowInstance, error) {
	args := m.Called(ctx, userID, organizationID)

	instances, _ := args.Get(0).([]*models.WorkflowInstance)

	return instances, args.Error(1)
}

func (m *MockInstanceRepository) CountByWorkflow(ctx context.Context, workflowID string) (int, error) {
	args := m.Called(ctx, workflowID)

	return args.Int(0), args.Error(1)
}

// MockStepExecutionRepository is a mock implementation of persistence.StepExecutionRepository.
type MockStepExecutionRepository struct {
	mock.Mock
}

func (m *MockStepExecutionRepository) Create(ctx context.Context, execution *models.WorkflowStepExecution) error {
	args := m.Called(ctx, execution)

	return args.Error(0)
}

func (m *MockStepExecutionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowStepExecution, error) {
	args := m.Called(ctx, id)

	execution, _ := args.Get(0).(*models.WorkflowStepExecution)

	return execution, args.Error(1)
}

func (m *MockStepExecutionRepository) Update(ctx context.Context, execution *models.WorkflowStepExecution) error {
	args := m.Called(ctx, execution)

	return args.Error(0)
}

func (m *MockStepExecutionRepository) ListByInstance(ctx context.Context, instanceID string) ([]*models.WorkflowStepExecution, error) {
	args := m.Called(ctx, instanceID)

	executions, _ := args.Get(0).([]*models.WorkflowStepExecution)

	return executions, args.Error(1)
}

func (m *MockStepExecutionRepository) LatestForStep(ctx context.Context, instanceID, stepID string) (*models.WorkflowStepExecution, error) {
	args := m.Called(ctx, instanceID, stepID)

	execution, _ := args.Get(0).(*models.WorkflowStepExecution)

	return execution, args.Error(1)
}
