package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/opsdesk/stepflow/pkg/cmd"
	"github.com/opsdesk/stepflow/pkg/log"
	"github.com/opsdesk/stepflow/pkg/models"
	"github.com/opsdesk/stepflow/pkg/persistence"
	"github.com/opsdesk/stepflow/pkg/workflow"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// definitionFile is the YAML layout accepted by the import command.
type definitionFile struct {
	ID             string                 `yaml:"id"`
	OrganizationID string                 `yaml:"organization_id"`
	Name           string                 `yaml:"name"`
	Description    string                 `yaml:"description"`
	Category       string                 `yaml:"category"`
	Active         *bool                  `yaml:"is_active"`
	TriggerType    string                 `yaml:"trigger_type"`
	TriggerConfig  map[string]any         `yaml:"trigger_config"`
	CreatedBy      string                 `yaml:"created_by"`
	Steps          []*models.WorkflowStep `yaml:"steps"`
}

func (f definitionFile) definition() *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		ID:             f.ID,
		OrganizationID: f.OrganizationID,
		Name:           f.Name,
		Description:    f.Description,
		Category:       f.Category,
		IsActive:       f.Active == nil || *f.Active,
		TriggerType:    f.TriggerType,
		TriggerConfig:  f.TriggerConfig,
		CreatedBy:      f.CreatedBy,
		Steps:          f.Steps,
	}
}

func ImportCommand() *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "Load workflow definitions from YAML files",
		ArgsUsage: "<file.yaml>...",
		Action: func(ctx context.Context, command *cli.Command) error {
			logger := log.WithModule("import")

			if command.NArg() == 0 {
				return fmt.Errorf("at least one definition file is required")
			}

			store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := store.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			definitions := workflow.NewDefinitionService(store, logger)

			for _, path := range command.Args().Slice() {
				definition, err := importFile(ctx, logger, definitions, path)
				if err != nil {
					return fmt.Errorf("failed to import %s: %w", path, err)
				}

				logger.InfoContext(ctx, "Imported workflow definition",
					"file", path,
					"workflow_id", definition.ID,
					"version", definition.Version,
				)
			}

			return nil
		},
	}
}

// importFile creates the definition, or stores a new version when a
// definition with the same id already exists.
func importFile(
	ctx context.Context,
	logger *slog.Logger,
	definitions *workflow.DefinitionService,
	path string,
) (*models.WorkflowDefinition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file definitionFile

	err = yaml.Unmarshal(raw, &file)
	if err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}

	definition := file.definition()

	if definition.ID != "" {
		_, err := definitions.FetchByID(ctx, definition.ID)

		switch {
		case err == nil:
			logger.DebugContext(ctx, "Definition exists, storing a new version", "workflow_id", definition.ID)

			return definitions.Update(ctx, definition.ID, definition)
		case !persistence.IsDefinitionNotFound(err):
			return nil, err
		}
	}

	return definitions.Create(ctx, definition)
}
