package file

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/opsdesk/stepflow/pkg/models"
	"github.com/opsdesk/stepflow/pkg/persistence"
)

// StepExecutionRepository stores executions under
// step_executions/<instance id>/<execution id>.json.
type StepExecutionRepository struct {
	store *Persistence
}

func (sr *StepExecutionRepository) filePath(instanceID, id string) string {
	return sr.store.path(stepExecutionsDir, instanceID, id+".json")
}

func (sr *StepExecutionRepository) Create(_ context.Context, execution *models.WorkflowStepExecution) error {
	if err := validateIDs(execution.InstanceID, execution.ID); err != nil {
		return sr.err("Create", execution, err)
	}

	sr.store.mu.Lock()
	defer sr.store.mu.Unlock()

	now := time.Now().UTC()
	if execution.CreatedAt.IsZero() {
		execution.CreatedAt = now
	}

	execution.UpdatedAt = now

	if err := writeJSON(sr.filePath(execution.InstanceID, execution.ID), execution); err != nil {
		return sr.err("Create", execution, err)
	}

	return nil
}

// GetByID scans instance directories since the file name alone does not
// carry the instance.
func (sr *StepExecutionRepository) GetByID(_ context.Context, id string) (*models.WorkflowStepExecution, error) {
	missing := &persistence.StepExecutionError{Op: "GetByID", ExecutionID: id, Err: persistence.ErrStepExecutionNotFound}

	if err := validateID(id); err != nil {
		return nil, missing
	}

	sr.store.mu.Lock()
	defer sr.store.mu.Unlock()

	matches, err := filepath.Glob(sr.store.path(stepExecutionsDir, "*", id+".json"))
	if err != nil {
		return nil, fmt.Errorf("failed to search step execution %s: %w", id, err)
	}

	if len(matches) == 0 {
		return nil, missing
	}

	var execution models.WorkflowStepExecution
	if err := readJSON(matches[0], &execution); err != nil {
		return nil, fmt.Errorf("failed to load step execution %s: %w", id, err)
	}

	return &execution, nil
}

func (sr *StepExecutionRepository) Update(_ context.Context, execution *models.WorkflowStepExecution) error {
	if err := validateIDs(execution.InstanceID, execution.ID); err != nil {
		return sr.err("Update", execution, persistence.ErrStepExecutionNotFound)
	}

	sr.store.mu.Lock()
	defer sr.store.mu.Unlock()

	filePath := sr.filePath(execution.InstanceID, execution.ID)
	if !exists(filePath) {
		return sr.err("Update", execution, persistence.ErrStepExecutionNotFound)
	}

	execution.UpdatedAt = time.Now().UTC()

	if err := writeJSON(filePath, execution); err != nil {
		return sr.err("Update", execution, err)
	}

	return nil
}

func (sr *StepExecutionRepository) ListByInstance(_ context.Context, instanceID string) ([]*models.WorkflowStepExecution, error) {
	if err := validateID(instanceID); err != nil {
		return make([]*models.WorkflowStepExecution, 0), nil
	}

	sr.store.mu.Lock()
	defer sr.store.mu.Unlock()

	return sr.list(instanceID)
}

func (sr *StepExecutionRepository) LatestForStep(_ context.Context, instanceID, stepID string) (*models.WorkflowStepExecution, error) {
	missing := &persistence.StepExecutionError{
		Op: "LatestForStep", InstanceID: instanceID, StepID: stepID, Err: persistence.ErrStepExecutionNotFound,
	}

	if err := validateID(instanceID); err != nil {
		return nil, missing
	}

	sr.store.mu.Lock()
	defer sr.store.mu.Unlock()

	executions, err := sr.list(instanceID)
	if err != nil {
		return nil, err
	}

	for i := len(executions) - 1; i >= 0; i-- {
		if executions[i].StepID == stepID {
			return executions[i], nil
		}
	}

	return nil, missing
}

func (sr *StepExecutionRepository) list(instanceID string) ([]*models.WorkflowStepExecution, error) {
	files, err := jsonFiles(sr.store.path(stepExecutionsDir, instanceID))
	if err != nil {
		return nil, fmt.Errorf("failed to list step executions of %s: %w", instanceID, err)
	}

	executions := make([]*models.WorkflowStepExecution, 0, len(files))

	for _, file := range files {
		var execution models.WorkflowStepExecution
		if err := readJSON(file, &execution); err != nil {
			return nil, fmt.Errorf("failed to load step execution: %w", err)
		}

		executions = append(executions, &execution)
	}

	sort.SliceStable(executions, func(i, j int) bool {
		return executions[i].ExecutionOrder < executions[j].ExecutionOrder
	})

	return executions, nil
}

func (sr *StepExecutionRepository) err(op string, execution *models.WorkflowStepExecution, err error) error {
	return &persistence.StepExecutionError{
		Op:          op,
		InstanceID:  execution.InstanceID,
		ExecutionID: execution.ID,
		StepID:      execution.StepID,
		Err:         err,
	}
}

func validateIDs(ids ...string) error {
	for _, id := range ids {
		if err := validateID(id); err != nil {
			return err
		}
	}

	return nil
}
