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

// InstanceRepository handles instance-related database operations.
type InstanceRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewInstanceRepository creates a new instance repository.
func NewInstanceRepository(db *sql.DB, logger *slog.Logger) *InstanceRepository {
	return &InstanceRepository{db: db, logger: logger}
}

const instanceColumns = `
			id
		  , workflow_id
		  , workflow_version
		  , organization_id
		  , current_step_id
		  , status
		  , initiated_by
		  , context_data
		  , metadata
		  , version
		  , started_at
		  , completed_at
		  , created_at
		  , updated_at`

func (r *InstanceRepository) Create(ctx context.Context, instance *models.WorkflowInstance) error {
	now := time.Now().UTC()
	if instance.CreatedAt.IsZero() {
		instance.CreatedAt = now
	}

	if instance.StartedAt.IsZero() {
		instance.StartedAt = instance.CreatedAt
	}

	instance.UpdatedAt = now

	if instance.Version == 0 {
		instance.Version = 1
	}

	contextJSON, metadataJSON, err := marshalInstanceData(instance)
	if err != nil {
		return persistence.NewInstanceError("Create", instance.ID, err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO workflow_instances (id, workflow_id, workflow_version, organization_id, current_step_id,
			status, initiated_by, context_data, metadata, version, started_at, completed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		instance.ID,
		instance.WorkflowID,
		instance.WorkflowVersion,
		instance.OrganizationID,
		instance.CurrentStepID,
		string(instance.Status),
		instance.InitiatedBy,
		contextJSON,
		metadataJSON,
		instance.Version,
		instance.StartedAt,
		instance.CompletedAt,
		instance.CreatedAt,
		instance.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return persistence.NewInstanceError("Create", instance.ID, persistence.ErrInstanceAlreadyExists)
		}

		return persistence.NewInstanceError("Create", instance.ID, err)
	}

	return nil
}

func (r *InstanceRepository) GetByID(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	query := `SELECT` + instanceColumns + `
		FROM workflow_instances
		WHERE id = $1
	`

	instance, err := r.scanInstance(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewInstanceError("GetByID", id, persistence.ErrInstanceNotFound)
		}

		return nil, persistence.NewInstanceError("GetByID", id, err)
	}

	return instance, nil
}

// Update is a compare-and-set on the version column.
func (r *InstanceRepository) Update(ctx context.Context, instance *models.WorkflowInstance) error {
	contextJSON, metadataJSON, err := marshalInstanceData(instance)
	if err != nil {
		return persistence.NewInstanceError("Update", instance.ID, err)
	}

	updatedAt := time.Now().UTC()

	result, err := r.db.ExecContext(ctx, `
		UPDATE workflow_instances SET
			current_step_id = $3,
			status = $4,
			context_data = $5,
			metadata = $6,
			completed_at = $7,
			updated_at = $8,
			version = version + 1
		WHERE id = $1 AND version = $2
	`,
		instance.ID,
		instance.Version,
		instance.CurrentStepID,
		string(instance.Status),
		contextJSON,
		metadataJSON,
		instance.CompletedAt,
		updatedAt,
	)
	if err != nil {
		return persistence.NewInstanceError("Update", instance.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewInstanceError("Update", instance.ID, err)
	}

	if affected == 0 {
		var exists bool

		err := r.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM workflow_instances WHERE id = $1)", instance.ID).Scan(&exists)
		if err != nil {
			return persistence.NewInstanceError("Update", instance.ID, err)
		}

		if !exists {
			return persistence.NewInstanceError("Update", instance.ID, persistence.ErrInstanceNotFound)
		}

		return persistence.NewInstanceError("Update", instance.ID, persistence.ErrVersionConflict)
	}

	instance.Version++
	instance.UpdatedAt = updatedAt

	return nil
}

func (r *InstanceRepository) ListByInitiator(ctx context.Context, userID, organizationID string) ([]*models.WorkflowInstance, error) {
	query := `SELECT` + instanceColumns + `
		FROM workflow_instances
		WHERE initiated_by = $1 AND ($2 = '' OR organization_id = $2)
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, userID, organizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query instances: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	instances := make([]*models.WorkflowInstance, 0)

	for rows.Next() {
		instance, err := r.scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}

		instances = append(instances, instance)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating instances: %w", err)
	}

	return instances, nil
}

func (r *InstanceRepository) CountByWorkflow(ctx context.Context, workflowID string) (int, error) {
	var count int

	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM workflow_instances WHERE workflow_id = $1", workflowID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count instances of %s: %w", workflowID, err)
	}

	return count, nil
}

func (r *InstanceRepository) scanInstance(row scanner) (*models.WorkflowInstance, error) {
	var (
		instance     models.WorkflowInstance
		status       string
		contextJSON  []byte
		metadataJSON []byte
	)

	err := row.Scan(
		&instance.ID,
		&instance.WorkflowID,
		&instance.WorkflowVersion,
		&instance.OrganizationID,
		&instance.CurrentStepID,
		&status,
		&instance.InitiatedBy,
		&contextJSON,
		&metadataJSON,
		&instance.Version,
		&instance.StartedAt,
		&instance.CompletedAt,
		&instance.CreatedAt,
		&instance.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	instance.Status = models.InstanceStatus(status)

	if err := unmarshalJSON(contextJSON, &instance.ContextData); err != nil {
		return nil, fmt.Errorf("failed to unmarshal context data: %w", err)
	}

	if err := unmarshalJSON(metadataJSON, &instance.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}

	if instance.ContextData == nil {
		instance.ContextData = make(map[string]any)
	}

	return &instance, nil
}

func marshalInstanceData(instance *models.WorkflowInstance) ([]byte, []byte, error) {
	contextJSON, err := marshalJSON(instance.ContextData)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal context data: %w", err)
	}

	metadataJSON, err := marshalJSON(instance.Metadata)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	return contextJSON, metadataJSON, nil
}
