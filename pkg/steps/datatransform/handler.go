// Package datatransform applies an ordered list of context mutations and
// side-effect descriptions.
package datatransform

import (
	"context"
	"fmt"
	"log/slog"
	"maps"

	"github.com/opsdesk/stepflow/pkg/models"
	"github.com/opsdesk/stepflow/pkg/protocol"
	"github.com/opsdesk/stepflow/pkg/template"
)

const (
	NotificationsKey = "notifications"
	LogsKey          = "logs"
)

type Handler struct {
	logger *slog.Logger
}

func NewHandler(logger *slog.Logger) *Handler {
	return &Handler{logger: logger.With("step_type", string(models.StepTypeDataTransform))}
}

func (h *Handler) Type() models.StepType {
	return models.StepTypeDataTransform
}

// Execute runs the actions in order. Each action sees the updates made by
// the ones before it.
func (h *Handler) Execute(ctx context.Context, input protocol.StepInput) (*models.StepResult, error) {
	cfg, ok := input.Config.(*models.DataTransformConfig)
	if !ok {
		return nil, protocol.NewExecutionError(input.Step.ID, fmt.Sprintf("unexpected config %T", input.Config), nil)
	}

	working := maps.Clone(input.ContextData)
	if working == nil {
		working = make(map[string]any)
	}

	updates := make(map[string]any)
	notifications := make([]any, 0)
	logs := make([]any, 0)

	for i, action := range cfg.Actions {
		switch action.Type {
		case models.TransformActionSet:
			value := template.InterpolateValue(action.Value, working)
			working[action.Target] = value
			updates[action.Target] = value

		case models.TransformActionAppend:
			list := appendValue(working[action.Target], template.InterpolateValue(action.Value, working))
			working[action.Target] = list
			updates[action.Target] = list

		case models.TransformActionNotification:
			notifications = append(notifications, map[string]any{
				"recipient": template.Interpolate(action.Recipient, working),
				"subject":   template.Interpolate(action.Subject, working),
				"body":      template.Interpolate(action.Body, working),
			})

		case models.TransformActionLog:
			message := template.Interpolate(action.Message, working)
			level := action.Level
			if level == "" {
				level = "info"
			}

			h.logger.Log(ctx, slogLevel(level), message, "step_id", input.Step.ID)
			logs = append(logs, map[string]any{"level": level, "message": message})

		case models.TransformActionTransform:
			// Reserved; leaves the context untouched.

		default:
			return nil, protocol.NewExecutionError(input.Step.ID, fmt.Sprintf("action %d: unsupported type %q", i, action.Type), nil)
		}
	}

	output := map[string]any{"actions_executed": len(cfg.Actions)}
	if len(notifications) > 0 {
		output[NotificationsKey] = notifications
	}

	if len(logs) > 0 {
		output[LogsKey] = logs
	}

	return &models.StepResult{
		Output:         output,
		ContextUpdates: updates,
	}, nil
}

// appendValue returns a new list with value added. A missing target starts an
// empty list; a scalar target becomes the first element.
func appendValue(existing, value any) []any {
	var list []any

	switch current := existing.(type) {
	case nil:
		list = make([]any, 0, 1)
	case []any:
		list = make([]any, 0, len(current)+1)
		list = append(list, current...)
	case []string:
		list = make([]any, 0, len(current)+1)
		for _, s := range current {
			list = append(list, s)
		}
	default:
		list = []any{current}
	}

	return append(list, value)
}

func slogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
