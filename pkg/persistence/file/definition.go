package file

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/opsdesk/stepflow/pkg/models"
	"github.com/opsdesk/stepflow/pkg/persistence"
)

// DefinitionRepository keeps one file per definition version under
// definitions/<workflow id>/v<version>.json.
type DefinitionRepository struct {
	store *Persistence
}

func (dr *DefinitionRepository) versionPath(workflowID string, version int) string {
	return dr.store.path(definitionsDir, workflowID, "v"+strconv.Itoa(version)+".json")
}

func (dr *DefinitionRepository) Save(_ context.Context, definition *models.WorkflowDefinition) error {
	if err := validateID(definition.ID); err != nil {
		return persistence.NewDefinitionError("Save", definition.ID, definition.Version, err)
	}

	dr.store.mu.Lock()
	defer dr.store.mu.Unlock()

	filePath := dr.versionPath(definition.ID, definition.Version)
	if exists(filePath) {
		return persistence.NewDefinitionError("Save", definition.ID, definition.Version, persistence.ErrDefinitionVersionExists)
	}

	now := time.Now().UTC()
	if definition.CreatedAt.IsZero() {
		definition.CreatedAt = now
	}

	if definition.UpdatedAt.IsZero() {
		definition.UpdatedAt = now
	}

	for _, step := range definition.Steps {
		step.WorkflowID = definition.ID
		if step.CreatedAt.IsZero() {
			step.CreatedAt = now
		}
	}

	if err := writeJSON(filePath, definition); err != nil {
		return persistence.NewDefinitionError("Save", definition.ID, definition.Version, err)
	}

	return nil
}

func (dr *DefinitionRepository) Latest(_ context.Context, workflowID string) (*models.WorkflowDefinition, error) {
	if err := validateID(workflowID); err != nil {
		return nil, persistence.NewDefinitionError("Latest", workflowID, 0, persistence.ErrDefinitionNotFound)
	}

	dr.store.mu.Lock()
	defer dr.store.mu.Unlock()

	versions, err := dr.versions(workflowID)
	if err != nil {
		return nil, persistence.NewDefinitionError("Latest", workflowID, 0, err)
	}

	if len(versions) == 0 {
		return nil, persistence.NewDefinitionError("Latest", workflowID, 0, persistence.ErrDefinitionNotFound)
	}

	return versions[len(versions)-1], nil
}

func (dr *DefinitionRepository) Version(_ context.Context, workflowID string, version int) (*models.WorkflowDefinition, error) {
	if err := validateID(workflowID); err != nil {
		return nil, persistence.NewDefinitionError("Version", workflowID, version, persistence.ErrDefinitionNotFound)
	}

	dr.store.mu.Lock()
	defer dr.store.mu.Unlock()

	var definition models.WorkflowDefinition

	err := readJSON(dr.versionPath(workflowID, version), &definition)
	if err != nil {
		if isNotExist(err) {
			return nil, persistence.NewDefinitionError("Version", workflowID, version, persistence.ErrDefinitionNotFound)
		}

		return nil, persistence.NewDefinitionError("Version", workflowID, version, err)
	}

	return &definition, nil
}

func (dr *DefinitionRepository) List(_ context.Context, organizationID string) ([]*models.WorkflowDefinition, error) {
	dr.store.mu.Lock()
	defer dr.store.mu.Unlock()

	entries, err := os.ReadDir(dr.store.path(definitionsDir))
	if err != nil {
		if isNotExist(err) {
			return make([]*models.WorkflowDefinition, 0), nil
		}

		return nil, fmt.Errorf("failed to list definitions: %w", err)
	}

	definitions := make([]*models.WorkflowDefinition, 0, len(entries))

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		versions, err := dr.versions(entry.Name())
		if err != nil {
			return nil, persistence.NewDefinitionError("List", entry.Name(), 0, err)
		}

		if len(versions) == 0 {
			continue
		}

		latest := versions[len(versions)-1]
		if organizationID != "" && latest.OrganizationID != organizationID {
			continue
		}

		definitions = append(definitions, latest)
	}

	sort.Slice(definitions, func(i, j int) bool {
		return definitions[i].CreatedAt.Before(definitions[j].CreatedAt)
	})

	return definitions, nil
}

func (dr *DefinitionRepository) SetActive(_ context.Context, workflowID string, active bool) error {
	if err := validateID(workflowID); err != nil {
		return persistence.NewDefinitionError("SetActive", workflowID, 0, persistence.ErrDefinitionNotFound)
	}

	dr.store.mu.Lock()
	defer dr.store.mu.Unlock()

	versions, err := dr.versions(workflowID)
	if err != nil {
		return persistence.NewDefinitionError("SetActive", workflowID, 0, err)
	}

	if len(versions) == 0 {
		return persistence.NewDefinitionError("SetActive", workflowID, 0, persistence.ErrDefinitionNotFound)
	}

	now := time.Now().UTC()

	for _, definition := range versions {
		definition.IsActive = active
		definition.UpdatedAt = now

		if err := writeJSON(dr.versionPath(workflowID, definition.Version), definition); err != nil {
			return persistence.NewDefinitionError("SetActive", workflowID, definition.Version, err)
		}
	}

	return nil
}

// versions loads every stored version ordered ascending. Callers hold the lock.
func (dr *DefinitionRepository) versions(workflowID string) ([]*models.WorkflowDefinition, error) {
	files, err := jsonFiles(dr.store.path(definitionsDir, workflowID))
	if err != nil {
		return nil, err
	}

	versions := make([]*models.WorkflowDefinition, 0, len(files))

	for _, file := range files {
		var definition models.WorkflowDefinition
		if err := readJSON(file, &definition); err != nil {
			return nil, err
		}

		versions = append(versions, &definition)
	}

	sort.Slice(versions, func(i, j int) bool {
		return versions[i].Version < versions[j].Version
	})

	return versions, nil
}
