package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opsdesk/stepflow/pkg/models"
	"github.com/opsdesk/stepflow/pkg/persistence"
)

// StepExecutionRepository handles step execution database operations.
type StepExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStepExecutionRepository creates a new step execution repository.
func NewStepExecutionRepository(db *sql.DB, logger *slog.Logger) *StepExecutionRepository {
	return &StepExecutionRepository{db: db, logger: logger}
}

const stepExecutionColumns = `
			id
		  , instance_id
		  , step_id
		  , execution_order
		  , status
		  , input_data
		  , output_data
		  , error_message
		  , execution_time_ms
		  , retry_count
		  , started_at
		  , completed_at
		  , created_at
		  , updated_at`

func (r *StepExecutionRepository) Create(ctx context.Context, execution *models.WorkflowStepExecution) error {
	now := time.Now().UTC()
	if execution.CreatedAt.IsZero() {
		execution.CreatedAt = now
	}

	execution.UpdatedAt = now

	inputJSON, outputJSON, err := marshalExecutionData(execution)
	if err != nil {
		return r.err("Create", execution, err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO workflow_step_executions (id, instance_id, step_id, execution_order, status, input_data,
			output_data, error_message, execution_time_ms, retry_count, started_at, completed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		execution.ID,
		execution.InstanceID,
		execution.StepID,
		execution.ExecutionOrder,
		string(execution.Status),
		inputJSON,
		outputJSON,
		execution.ErrorMessage,
		execution.ExecutionTimeMs,
		execution.RetryCount,
		execution.StartedAt,
		execution.CompletedAt,
		execution.CreatedAt,
		execution.UpdatedAt,
	)
	if err != nil {
		return r.err("Create", execution, err)
	}

	return nil
}

func (r *StepExecutionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowStepExecution, error) {
	query := `SELECT` + stepExecutionColumns + `
		FROM workflow_step_executions
		WHERE id = $1
	`

	execution, err := r.scanExecution(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &persistence.StepExecutionError{Op: "GetByID", ExecutionID: id, Err: persistence.ErrStepExecutionNotFound}
		}

		return nil, &persistence.StepExecutionError{Op: "GetByID", ExecutionID: id, Err: err}
	}

	return execution, nil
}

func (r *StepExecutionRepository) Update(ctx context.Context, execution *models.WorkflowStepExecution) error {
	inputJSON, outputJSON, err := marshalExecutionData(execution)
	if err != nil {
		return r.err("Update", execution, err)
	}

	updatedAt := time.Now().UTC()

	result, err := r.db.ExecContext(ctx, `
		UPDATE workflow_step_executions SET
			status = $2,
			input_data = $3,
			output_data = $4,
			error_message = $5,
			execution_time_ms = $6,
			retry_count = $7,
			started_at = $8,
			completed_at = $9,
			updated_at = $10
		WHERE id = $1
	`,
		execution.ID,
		string(execution.Status),
		inputJSON,
		outputJSON,
		execution.ErrorMessage,
		execution.ExecutionTimeMs,
		execution.RetryCount,
		execution.StartedAt,
		execution.CompletedAt,
		updatedAt,
	)
	if err != nil {
		return r.err("Update", execution, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return r.err("Update", execution, err)
	}

	if affected == 0 {
		return r.err("Update", execution, persistence.ErrStepExecutionNotFound)
	}

	execution.UpdatedAt = updatedAt

	return nil
}

func (r *StepExecutionRepository) ListByInstance(ctx context.Context, instanceID string) ([]*models.WorkflowStepExecution, error) {
	query := `SELECT` + stepExecutionColumns + `
		FROM workflow_step_executions
		WHERE instance_id = $1
		ORDER BY execution_order
	`

	rows, err := r.db.QueryContext(ctx, query, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query step executions: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	executions := make([]*models.WorkflowStepExecution, 0)

	for rows.Next() {
		execution, err := r.scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step execution: %w", err)
		}

		executions = append(executions, execution)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating step executions: %w", err)
	}

	return executions, nil
}

func (r *StepExecutionRepository) LatestForStep(ctx context.Context, instanceID, stepID string) (*models.WorkflowStepExecution, error) {
	query := `SELECT` + stepExecutionColumns + `
		FROM workflow_step_executions
		WHERE instance_id = $1 AND step_id = $2
		ORDER BY execution_order DESC
		LIMIT 1
	`

	execution, err := r.scanExecution(r.db.QueryRowContext(ctx, query, instanceID, stepID))
	if err != nil {
		stepErr := &persistence.StepExecutionError{Op: "LatestForStep", InstanceID: instanceID, StepID: stepID, Err: err}
		if errors.Is(err, sql.ErrNoRows) {
			stepErr.Err = persistence.ErrStepExecutionNotFound
		}

		return nil, stepErr
	}

	return execution, nil
}

func (r *StepExecutionRepository) scanExecution(row scanner) (*models.WorkflowStepExecution, error) {
	var (
		execution  models.WorkflowStepExecution
		status     string
		inputJSON  []byte
		outputJSON []byte
	)

	err := row.Scan(
		&execution.ID,
		&execution.InstanceID,
		&execution.StepID,
		&execution.ExecutionOrder,
		&status,
		&inputJSON,
		&outputJSON,
		&execution.ErrorMessage,
		&execution.ExecutionTimeMs,
		&execution.RetryCount,
		&execution.StartedAt,
		&execution.CompletedAt,
		&execution.CreatedAt,
		&execution.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	execution.Status = models.StepExecutionStatus(status)

	if err := unmarshalJSON(inputJSON, &execution.InputData); err != nil {
		return nil, fmt.Errorf("failed to unmarshal input data: %w", err)
	}

	if err := unmarshalJSON(outputJSON, &execution.OutputData); err != nil {
		return nil, fmt.Errorf("failed to unmarshal output data: %w", err)
	}

	return &execution, nil
}

func (r *StepExecutionRepository) err(op string, execution *models.WorkflowStepExecution, err error) error {
	return &persistence.StepExecutionError{
		Op:          op,
		InstanceID:  execution.InstanceID,
		ExecutionID: execution.ID,
		StepID:      execution.StepID,
		Err:         err,
	}
}

func marshalExecutionData(execution *models.WorkflowStepExecution) ([]byte, []byte, error) {
	inputJSON, err := marshalJSON(execution.InputData)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal input data: %w", err)
	}

	outputJSON, err := marshalJSON(execution.OutputData)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal output data: %w", err)
	}

	return inputJSON, outputJSON, nil
}
