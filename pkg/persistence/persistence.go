// Package persistence provides the storage abstraction for workflow
// definitions, instances and step executions.
package persistence

import (
	"context"

	"github.com/opsdesk/stepflow/pkg/models"
)

type Persistence interface {
	DefinitionRepository() DefinitionRepository
	InstanceRepository() InstanceRepository
	StepExecutionRepository() StepExecutionRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// DefinitionRepository stores immutable definition versions. Saving a
// definition adds a version; it never rewrites an existing one.
type DefinitionRepository interface {
	// Save stores definition.Version as a new version. Storing a version that
	// already exists fails with ErrDefinitionVersionExists.
	Save(ctx context.Context, definition *models.WorkflowDefinition) error
	Latest(ctx context.Context, workflowID string) (*models.WorkflowDefinition, error)
	Version(ctx context.Context, workflowID string, version int) (*models.WorkflowDefinition, error)
	// List returns the latest version of every definition in the organization.
	// An empty organization lists all definitions.
	List(ctx context.Context, organizationID string) ([]*models.WorkflowDefinition, error)
	// SetActive flips the activation flag on every version of the definition.
	SetActive(ctx context.Context, workflowID string, active bool) error
}

type InstanceRepository interface {
	Create(ctx context.Context, instance *models.WorkflowInstance) error
	GetByID(ctx context.Context, id string) (*models.WorkflowInstance, error)
	// Update writes the instance if the stored version equals instance.Version
	// and increments instance.Version. A mismatch returns ErrVersionConflict.
	Update(ctx context.Context, instance *models.WorkflowInstance) error
	// ListByInitiator returns instances newest first.
	ListByInitiator(ctx context.Context, userID, organizationID string) ([]*models.WorkflowInstance, error)
	CountByWorkflow(ctx context.Context, workflowID string) (int, error)
}

type StepExecutionRepository interface {
	Create(ctx context.Context, execution *models.WorkflowStepExecution) error
	GetByID(ctx context.Context, id string) (*models.WorkflowStepExecution, error)
	Update(ctx context.Context, execution *models.WorkflowStepExecution) error
	// ListByInstance returns executions ordered by execution order.
	ListByInstance(ctx context.Context, instanceID string) ([]*models.WorkflowStepExecution, error)
	// LatestForStep returns the execution with the highest order for the step.
	LatestForStep(ctx context.Context, instanceID, stepID string) (*models.WorkflowStepExecution, error)
}
