package datatransform

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/opsdesk/stepflow/pkg/models"
	"github.com/opsdesk/stepflow/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, logger *slog.Logger, actions []models.TransformAction, ctxData map[string]any) *models.StepResult {
	t.Helper()

	result, err := NewHandler(logger).Execute(context.Background(), protocol.StepInput{
		Step:        &models.WorkflowStep{ID: "prepare"},
		Config:      &models.DataTransformConfig{Actions: actions},
		ContextData: ctxData,
	})
	require.NoError(t, err)

	return result
}

func TestHandler_SetAndAppend(t *testing.T) {
	result := execute(t, slog.Default(), []models.TransformAction{
		{Type: models.TransformActionSet, Target: "greeting", Value: "Hello {{name}}"},
		{Type: models.TransformActionSet, Target: "total", Value: "{{amount}}"},
		{Type: models.TransformActionAppend, Target: "history", Value: "{{greeting}}"},
		{Type: models.TransformActionAppend, Target: "tags", Value: "new"},
		{Type: models.TransformActionTransform},
	}, map[string]any{
		"name":    "Ada",
		"amount":  42,
		"history": []any{"created"},
	})

	assert.Equal(t, map[string]any{
		"greeting": "Hello Ada",
		"total":    "42",
		"history":  []any{"created", "Hello Ada"},
		"tags":     []any{"new"},
	}, result.ContextUpdates)
	assert.Equal(t, 5, result.Output["actions_executed"])
}

func TestHandler_InputContextIsNotMutated(t *testing.T) {
	ctxData := map[string]any{"history": []any{"created"}}

	execute(t, slog.Default(), []models.TransformAction{
		{Type: models.TransformActionAppend, Target: "history", Value: "next"},
		{Type: models.TransformActionSet, Target: "status", Value: "done"},
	}, ctxData)

	assert.Equal(t, map[string]any{"history": []any{"created"}}, ctxData)
}

func TestHandler_AppendToScalar(t *testing.T) {
	result := execute(t, slog.Default(), []models.TransformAction{
		{Type: models.TransformActionAppend, Target: "owner", Value: "bob"},
	}, map[string]any{"owner": "alice"})

	assert.Equal(t, []any{"alice", "bob"}, result.ContextUpdates["owner"])
}

func TestHandler_NotificationsAndLogs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	result := execute(t, logger, []models.TransformAction{
		{
			Type:      models.TransformActionNotification,
			Recipient: "{{email}}",
			Subject:   "Welcome {{name}}",
			Body:      "Your account is ready",
		},
		{Type: models.TransformActionLog, Message: "onboarded {{name}}", Level: "warn"},
		{Type: models.TransformActionLog, Message: "default level"},
	}, map[string]any{"email": "ada@example.com", "name": "Ada"})

	assert.Empty(t, result.ContextUpdates)
	assert.Equal(t, []any{
		map[string]any{
			"recipient": "ada@example.com",
			"subject":   "Welcome Ada",
			"body":      "Your account is ready",
		},
	}, result.Output[NotificationsKey])
	assert.Equal(t, []any{
		map[string]any{"level": "warn", "message": "onboarded Ada"},
		map[string]any{"level": "info", "message": "default level"},
	}, result.Output[LogsKey])

	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "onboarded Ada")
	assert.Contains(t, buf.String(), "step_id=prepare")
}

func TestHandler_UnsupportedAction(t *testing.T) {
	_, err := NewHandler(slog.Default()).Execute(context.Background(), protocol.StepInput{
		Step:   &models.WorkflowStep{ID: "prepare"},
		Config: &models.DataTransformConfig{Actions: []models.TransformAction{{Type: "delete"}}},
	})
	assert.True(t, protocol.IsExecutionError(err))
}
