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

// DefinitionRepository handles definition-related database operations.
type DefinitionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewDefinitionRepository creates a new definition repository.
func NewDefinitionRepository(db *sql.DB, logger *slog.Logger) *DefinitionRepository {
	return &DefinitionRepository{db: db, logger: logger}
}

const definitionColumns = `
			id
		  , version
		  , organization_id
		  , name
		  , description
		  , category
		  , is_active
		  , trigger_type
		  , trigger_config
		  , created_by
		  , created_at
		  , updated_at`

// Save inserts a definition version together with its steps.
func (r *DefinitionRepository) Save(ctx context.Context, definition *models.WorkflowDefinition) (err error) {
	now := time.Now().UTC()
	if definition.CreatedAt.IsZero() {
		definition.CreatedAt = now
	}

	if definition.UpdatedAt.IsZero() {
		definition.UpdatedAt = now
	}

	triggerConfigJSON, err := marshalJSON(definition.TriggerConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger config: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO workflow_definitions (id, version, organization_id, name, description, category,
			is_active, trigger_type, trigger_config, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		definition.ID,
		definition.Version,
		definition.OrganizationID,
		definition.Name,
		definition.Description,
		definition.Category,
		definition.IsActive,
		definition.TriggerType,
		triggerConfigJSON,
		definition.CreatedBy,
		definition.CreatedAt,
		definition.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return persistence.NewDefinitionError("Save", definition.ID, definition.Version, persistence.ErrDefinitionVersionExists)
		}

		return persistence.NewDefinitionError("Save", definition.ID, definition.Version, err)
	}

	for _, step := range definition.Steps {
		step.WorkflowID = definition.ID
		if step.CreatedAt.IsZero() {
			step.CreatedAt = now
		}

		err = r.insertStep(ctx, tx, definition.Version, step)
		if err != nil {
			return persistence.NewDefinitionError("Save", definition.ID, definition.Version, err)
		}
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit definition %s: %w", definition.ID, err)
	}

	return nil
}

func (r *DefinitionRepository) insertStep(ctx context.Context, tx *sql.Tx, version int, step *models.WorkflowStep) error {
	configJSON, err := marshalJSON(step.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal config of step %s: %w", step.ID, err)
	}

	dependsOn := step.DependsOnSteps
	if dependsOn == nil {
		dependsOn = []string{}
	}

	dependsOnJSON, err := marshalJSON(dependsOn)
	if err != nil {
		return fmt.Errorf("failed to marshal dependencies of step %s: %w", step.ID, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO workflow_steps (workflow_id, workflow_version, id, name, description, step_order, step_type,
			config, is_required, timeout_minutes, max_retries, retry_delay_seconds, depends_on_steps, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		step.WorkflowID,
		version,
		step.ID,
		step.Name,
		step.Description,
		step.StepOrder,
		string(step.StepType),
		configJSON,
		step.IsRequired,
		step.TimeoutMinutes,
		step.RetryConfig.MaxRetries,
		step.RetryConfig.RetryDelaySeconds,
		dependsOnJSON,
		step.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert step %s: %w", step.ID, err)
	}

	return nil
}

func (r *DefinitionRepository) Latest(ctx context.Context, workflowID string) (*models.WorkflowDefinition, error) {
	query := `SELECT` + definitionColumns + `
		FROM workflow_definitions
		WHERE id = $1
		ORDER BY version DESC
		LIMIT 1
	`

	return r.getOne(ctx, "Latest", workflowID, 0, query, workflowID)
}

func (r *DefinitionRepository) Version(ctx context.Context, workflowID string, version int) (*models.WorkflowDefinition, error) {
	query := `SELECT` + definitionColumns + `
		FROM workflow_definitions
		WHERE id = $1 AND version = $2
	`

	return r.getOne(ctx, "Version", workflowID, version, query, workflowID, version)
}

func (r *DefinitionRepository) getOne(ctx context.Context, op, workflowID string, version int, query string, args ...any) (*models.WorkflowDefinition, error) {
	definition, err := r.scanDefinition(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewDefinitionError(op, workflowID, version, persistence.ErrDefinitionNotFound)
		}

		return nil, persistence.NewDefinitionError(op, workflowID, version, err)
	}

	definition.Steps, err = r.loadSteps(ctx, definition.ID, definition.Version)
	if err != nil {
		return nil, persistence.NewDefinitionError(op, workflowID, version, err)
	}

	return definition, nil
}

func (r *DefinitionRepository) List(ctx context.Context, organizationID string) ([]*models.WorkflowDefinition, error) {
	query := `
		SELECT * FROM (
			SELECT DISTINCT ON (id)` + definitionColumns + `
			FROM workflow_definitions
			WHERE ($1 = '' OR organization_id = $1)
			ORDER BY id, version DESC
		) latest
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, query, organizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query definitions: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	definitions := make([]*models.WorkflowDefinition, 0)

	for rows.Next() {
		definition, err := r.scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan definition: %w", err)
		}

		definitions = append(definitions, definition)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating definitions: %w", err)
	}

	for _, definition := range definitions {
		definition.Steps, err = r.loadSteps(ctx, definition.ID, definition.Version)
		if err != nil {
			return nil, persistence.NewDefinitionError("List", definition.ID, definition.Version, err)
		}
	}

	return definitions, nil
}

func (r *DefinitionRepository) SetActive(ctx context.Context, workflowID string, active bool) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE workflow_definitions SET is_active = $2, updated_at = $3 WHERE id = $1",
		workflowID, active, time.Now().UTC(),
	)
	if err != nil {
		return persistence.NewDefinitionError("SetActive", workflowID, 0, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewDefinitionError("SetActive", workflowID, 0, err)
	}

	if affected == 0 {
		return persistence.NewDefinitionError("SetActive", workflowID, 0, persistence.ErrDefinitionNotFound)
	}

	return nil
}

func (r *DefinitionRepository) loadSteps(ctx context.Context, workflowID string, version int) ([]*models.WorkflowStep, error) {
	query := `
		SELECT
			id
		  , name
		  , description
		  , step_order
		  , step_type
		  , config
		  , is_required
		  , timeout_minutes
		  , max_retries
		  , retry_delay_seconds
		  , depends_on_steps
		  , created_at
		FROM workflow_steps
		WHERE workflow_id = $1 AND workflow_version = $2
		ORDER BY step_order
	`

	rows, err := r.db.QueryContext(ctx, query, workflowID, version)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	steps := make([]*models.WorkflowStep, 0)

	for rows.Next() {
		var (
			step          models.WorkflowStep
			stepType      string
			configJSON    []byte
			dependsOnJSON []byte
		)

		err := rows.Scan(
			&step.ID,
			&step.Name,
			&step.Description,
			&step.StepOrder,
			&stepType,
			&configJSON,
			&step.IsRequired,
			&step.TimeoutMinutes,
			&step.RetryConfig.MaxRetries,
			&step.RetryConfig.RetryDelaySeconds,
			&dependsOnJSON,
			&step.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}

		step.WorkflowID = workflowID
		step.StepType = models.StepType(stepType)

		if err := unmarshalJSON(configJSON, &step.Config); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config of step %s: %w", step.ID, err)
		}

		if err := unmarshalJSON(dependsOnJSON, &step.DependsOnSteps); err != nil {
			return nil, fmt.Errorf("failed to unmarshal dependencies of step %s: %w", step.ID, err)
		}

		if len(step.DependsOnSteps) == 0 {
			step.DependsOnSteps = nil
		}

		steps = append(steps, &step)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating steps: %w", err)
	}

	return steps, nil
}

func (r *DefinitionRepository) scanDefinition(row scanner) (*models.WorkflowDefinition, error) {
	var (
		definition        models.WorkflowDefinition
		triggerConfigJSON []byte
	)

	err := row.Scan(
		&definition.ID,
		&definition.Version,
		&definition.OrganizationID,
		&definition.Name,
		&definition.Description,
		&definition.Category,
		&definition.IsActive,
		&definition.TriggerType,
		&triggerConfigJSON,
		&definition.CreatedBy,
		&definition.CreatedAt,
		&definition.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := unmarshalJSON(triggerConfigJSON, &definition.TriggerConfig); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trigger config: %w", err)
	}

	return &definition, nil
}
