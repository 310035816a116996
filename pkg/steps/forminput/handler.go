// Package forminput validates user submitted form data against the field
// list of a form_input step.
package forminput

import (
	"context"
	"fmt"

	"github.com/opsdesk/stepflow/pkg/models"
	"github.com/opsdesk/stepflow/pkg/protocol"
	"github.com/xeipuuv/gojsonschema"
)

type Handler struct{}

func NewHandler() *Handler {
	return &Handler{}
}

func (h *Handler) Type() models.StepType {
	return models.StepTypeFormInput
}

// Execute validates the submitted data. Every failing field is reported in a
// single ValidationError. Only declared fields are returned.
func (h *Handler) Execute(_ context.Context, input protocol.StepInput) (*models.StepResult, error) {
	cfg, ok := input.Config.(*models.FormInputConfig)
	if !ok {
		return nil, protocol.NewExecutionError(input.Step.ID, fmt.Sprintf("unexpected config %T", input.Config), nil)
	}

	data := declaredFields(cfg, input.InputData)

	schemaLoader := gojsonschema.NewGoLoader(cfg.Schema())
	dataLoader := gojsonschema.NewGoLoader(filled(data))

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return nil, protocol.NewExecutionError(input.Step.ID, "failed to validate form input", err)
	}

	if !result.Valid() {
		validationErr := protocol.NewValidationError(input.Step.ID)

		for _, desc := range result.Errors() {
			field := desc.Field()

			if desc.Type() == "required" {
				if property, ok := desc.Details()["property"].(string); ok {
					field = property
				}

				validationErr.Add(field, "is required")

				continue
			}

			validationErr.Add(field, desc.Description())
		}

		return nil, validationErr
	}

	return &models.StepResult{
		Output:         data,
		ContextUpdates: copyMap(data),
	}, nil
}

// declaredFields keeps the schema fields of the submission, empty values
// included.
func declaredFields(cfg *models.FormInputConfig, input map[string]any) map[string]any {
	data := make(map[string]any, len(cfg.Fields))

	for _, field := range cfg.Fields {
		if value, ok := input[field.Name]; ok {
			data[field.Name] = value
		}
	}

	return data
}

// filled drops empty strings and nulls, which count as not submitted when
// the schema is checked.
func filled(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))

	for name, value := range data {
		if isEmpty(value) {
			continue
		}

		out[name] = value
	}

	return out
}

func isEmpty(value any) bool {
	if value == nil {
		return true
	}

	s, ok := value.(string)

	return ok && s == ""
}

func copyMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}

	return out
}
