package file

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/opsdesk/stepflow/pkg/models"
	"github.com/opsdesk/stepflow/pkg/persistence"
)

type InstanceRepository struct {
	store *Persistence
}

func (ir *InstanceRepository) filePath(id string) string {
	return ir.store.path(instancesDir, id+".json")
}

func (ir *InstanceRepository) Create(_ context.Context, instance *models.WorkflowInstance) error {
	if err := validateID(instance.ID); err != nil {
		return persistence.NewInstanceError("Create", instance.ID, err)
	}

	ir.store.mu.Lock()
	defer ir.store.mu.Unlock()

	filePath := ir.filePath(instance.ID)
	if exists(filePath) {
		return persistence.NewInstanceError("Create", instance.ID, persistence.ErrInstanceAlreadyExists)
	}

	now := time.Now().UTC()
	if instance.CreatedAt.IsZero() {
		instance.CreatedAt = now
	}

	instance.UpdatedAt = now

	if instance.Version == 0 {
		instance.Version = 1
	}

	if err := writeJSON(filePath, instance); err != nil {
		return persistence.NewInstanceError("Create", instance.ID, err)
	}

	return nil
}

func (ir *InstanceRepository) GetByID(_ context.Context, id string) (*models.WorkflowInstance, error) {
	if err := validateID(id); err != nil {
		return nil, persistence.NewInstanceError("GetByID", id, persistence.ErrInstanceNotFound)
	}

	ir.store.mu.Lock()
	defer ir.store.mu.Unlock()

	return ir.read("GetByID", id)
}

func (ir *InstanceRepository) Update(_ context.Context, instance *models.WorkflowInstance) error {
	if err := validateID(instance.ID); err != nil {
		return persistence.NewInstanceError("Update", instance.ID, persistence.ErrInstanceNotFound)
	}

	ir.store.mu.Lock()
	defer ir.store.mu.Unlock()

	stored, err := ir.read("Update", instance.ID)
	if err != nil {
		return err
	}

	if stored.Version != instance.Version {
		return persistence.NewInstanceError("Update", instance.ID, persistence.ErrVersionConflict)
	}

	next := *instance
	next.Version++
	next.UpdatedAt = time.Now().UTC()

	if err := writeJSON(ir.filePath(instance.ID), &next); err != nil {
		return persistence.NewInstanceError("Update", instance.ID, err)
	}

	instance.Version = next.Version
	instance.UpdatedAt = next.UpdatedAt

	return nil
}

func (ir *InstanceRepository) ListByInitiator(_ context.Context, userID, organizationID string) ([]*models.WorkflowInstance, error) {
	ir.store.mu.Lock()
	defer ir.store.mu.Unlock()

	all, err := ir.all()
	if err != nil {
		return nil, err
	}

	instances := make([]*models.WorkflowInstance, 0)

	for _, instance := range all {
		if instance.InitiatedBy != userID {
			continue
		}

		if organizationID != "" && instance.OrganizationID != organizationID {
			continue
		}

		instances = append(instances, instance)
	}

	sort.SliceStable(instances, func(i, j int) bool {
		return instances[i].CreatedAt.After(instances[j].CreatedAt)
	})

	return instances, nil
}

func (ir *InstanceRepository) CountByWorkflow(_ context.Context, workflowID string) (int, error) {
	ir.store.mu.Lock()
	defer ir.store.mu.Unlock()

	all, err := ir.all()
	if err != nil {
		return 0, err
	}

	count := 0

	for _, instance := range all {
		if instance.WorkflowID == workflowID {
			count++
		}
	}

	return count, nil
}

func (ir *InstanceRepository) read(op, id string) (*models.WorkflowInstance, error) {
	var instance models.WorkflowInstance

	err := readJSON(ir.filePath(id), &instance)
	if err != nil {
		if isNotExist(err) {
			return nil, persistence.NewInstanceError(op, id, persistence.ErrInstanceNotFound)
		}

		return nil, persistence.NewInstanceError(op, id, err)
	}

	return &instance, nil
}

func (ir *InstanceRepository) all() ([]*models.WorkflowInstance, error) {
	files, err := jsonFiles(ir.store.path(instancesDir))
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}

	instances := make([]*models.WorkflowInstance, 0, len(files))

	for _, file := range files {
		var instance models.WorkflowInstance
		if err := readJSON(file, &instance); err != nil {
			return nil, fmt.Errorf("failed to load instance: %w", err)
		}

		instances = append(instances, &instance)
	}

	return instances, nil
}
