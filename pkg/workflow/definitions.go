package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/opsdesk/stepflow/pkg/models"
	"github.com/opsdesk/stepflow/pkg/persistence"
)

// DefinitionService is the authoring side of workflow definitions. Every
// update stores a new immutable version.
type DefinitionService struct {
	definitions persistence.DefinitionRepository
	instances   persistence.InstanceRepository
	logger      *slog.Logger
}

func NewDefinitionService(store persistence.Persistence, logger *slog.Logger) *DefinitionService {
	return &DefinitionService{
		definitions: store.DefinitionRepository(),
		instances:   store.InstanceRepository(),
		logger:      logger.With("module", "definitions"),
	}
}

// Create stores the first version of a new definition.
func (s *DefinitionService) Create(ctx context.Context, definition *models.WorkflowDefinition) (*models.WorkflowDefinition, error) {
	if definition.ID == "" {
		definition.ID = uuid.NewString()
	}

	now := time.Now().UTC()
	definition.Version = 1
	definition.CreatedAt = now
	definition.UpdatedAt = now

	prepareSteps(definition, now)

	err := ValidateDefinition(definition)
	if err != nil {
		return nil, err
	}

	err = s.definitions.Save(ctx, definition)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "Workflow definition created", "workflow_id", definition.ID, "steps", len(definition.Steps))

	return definition, nil
}

// Update stores definition as the next version of workflowID. Once instances
// exist, steps of the previous version cannot be removed.
func (s *DefinitionService) Update(ctx context.Context, workflowID string, definition *models.WorkflowDefinition) (*models.WorkflowDefinition, error) {
	existing, err := s.definitions.Latest(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	count, err := s.instances.CountByWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if count > 0 {
		if removed := removedSteps(existing, definition); len(removed) > 0 {
			return nil, fmt.Errorf("%w: %v", ErrStepRemovalNotAllowed, removed)
		}
	}

	now := time.Now().UTC()
	definition.ID = workflowID
	definition.Version = existing.Version + 1
	definition.OrganizationID = existing.OrganizationID
	definition.CreatedAt = existing.CreatedAt
	definition.UpdatedAt = now

	if definition.CreatedBy == "" {
		definition.CreatedBy = existing.CreatedBy
	}

	prepareSteps(definition, now)

	err = ValidateDefinition(definition)
	if err != nil {
		return nil, err
	}

	err = s.definitions.Save(ctx, definition)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "Workflow definition updated", "workflow_id", workflowID, "version", definition.Version)

	return definition, nil
}

func (s *DefinitionService) FetchByID(ctx context.Context, workflowID string) (*models.WorkflowDefinition, error) {
	return s.definitions.Latest(ctx, workflowID)
}

func (s *DefinitionService) FetchVersion(ctx context.Context, workflowID string, version int) (*models.WorkflowDefinition, error) {
	return s.definitions.Version(ctx, workflowID, version)
}

func (s *DefinitionService) List(ctx context.Context, organizationID string) ([]*models.WorkflowDefinition, error) {
	definitions, err := s.definitions.List(ctx, organizationID)
	if err != nil {
		return make([]*models.WorkflowDefinition, 0), err
	}

	return definitions, nil
}

func (s *DefinitionService) SetActive(ctx context.Context, workflowID string, active bool) error {
	err := s.definitions.SetActive(ctx, workflowID, active)
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "Workflow definition activation changed", "workflow_id", workflowID, "active", active)

	return nil
}

// GetDefinitionWithSteps implements protocol.DefinitionAccessor.
func (s *DefinitionService) GetDefinitionWithSteps(ctx context.Context, workflowID string) (*models.WorkflowDefinition, error) {
	return s.FetchByID(ctx, workflowID)
}

// GetDefinitionVersion implements protocol.DefinitionAccessor.
func (s *DefinitionService) GetDefinitionVersion(ctx context.Context, workflowID string, version int) (*models.WorkflowDefinition, error) {
	return s.FetchVersion(ctx, workflowID, version)
}

// ValidateDefinition checks the struct tags, that step orders run 1..N
// without gaps, that step ids are unique, that dependencies point at other
// existing steps and that every step configuration decodes for its type.
func ValidateDefinition(definition *models.WorkflowDefinition) error {
	var problems []string

	err := requestValidator.Struct(definition)
	if err != nil {
		var validationErrors validator.ValidationErrors
		if !errors.As(err, &validationErrors) {
			return fmt.Errorf("%w: %w", ErrInvalidDefinition, err)
		}

		for _, fieldErr := range validationErrors {
			problems = append(problems, fmt.Sprintf("%s failed on %s", fieldErr.Namespace(), fieldErr.Tag()))
		}
	}

	ids := make(map[string]bool, len(definition.Steps))
	orders := make([]int, 0, len(definition.Steps))

	for _, step := range definition.Steps {
		if step == nil {
			problems = append(problems, "step must not be null")

			continue
		}

		if ids[step.ID] {
			problems = append(problems, fmt.Sprintf("duplicate step id %q", step.ID))
		}

		ids[step.ID] = true
		orders = append(orders, step.StepOrder)
	}

	slices.Sort(orders)

	for i, order := range orders {
		if order != i+1 {
			problems = append(problems, fmt.Sprintf("step orders must be 1..%d without gaps or duplicates, got %v", len(orders), orders))

			break
		}
	}

	for _, step := range definition.Steps {
		if step == nil {
			continue
		}

		for _, dependency := range step.DependsOnSteps {
			switch {
			case dependency == step.ID:
				problems = append(problems, fmt.Sprintf("step %q depends on itself", step.ID))
			case !ids[dependency]:
				problems = append(problems, fmt.Sprintf("step %q depends on unknown step %q", step.ID, dependency))
			}
		}

		if step.RetryConfig.MaxRetries < 0 {
			problems = append(problems, fmt.Sprintf("step %q has negative maxRetries", step.ID))
		}

		if _, err := models.DecodeStepConfig(step.StepType, step.Config); err != nil {
			problems = append(problems, fmt.Sprintf("step %q: %v", step.ID, err))
		}
	}

	if len(problems) > 0 {
		return &DefinitionValidationError{WorkflowID: definition.ID, Problems: problems}
	}

	return nil
}

func prepareSteps(definition *models.WorkflowDefinition, now time.Time) {
	for _, step := range definition.Steps {
		if step == nil {
			continue
		}

		step.WorkflowID = definition.ID
		if step.ID == "" {
			step.ID = uuid.NewString()
		}

		if step.CreatedAt.IsZero() {
			step.CreatedAt = now
		}
	}
}

func removedSteps(previous, next *models.WorkflowDefinition) []string {
	removed := make([]string, 0)

	for _, step := range previous.Steps {
		if _, ok := next.StepByID(step.ID); !ok {
			removed = append(removed, step.ID)
		}
	}

	return removed
}
