package approvalgate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opsdesk/stepflow/pkg/models"
	"github.com/opsdesk/stepflow/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandler_Approved(t *testing.T) {
	handler := NewHandler()
	handler.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	result, err := handler.Execute(context.Background(), protocol.StepInput{
		Step:      &models.WorkflowStep{ID: "manager-approval"},
		Config:    &models.ApprovalGateConfig{},
		InputData: map[string]any{"approved": true, "comment": "looks good"},
		ActorID:   "manager-1",
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"approved_by": "manager-1",
		"comment":     "looks good",
		"approved_at": "2026-03-01T12:00:00Z",
	}, result.ContextUpdates[LastApprovalKey])
	assert.Equal(t, true, result.Output["approved"])
}

func TestHandler_NotGranted(t *testing.T) {
	tests := []struct {
		name  string
		input map[string]any
	}{
		{"rejected", map[string]any{"approved": false}},
		{"missing", map[string]any{}},
		{"string true is not a boolean", map[string]any{"approved": "true"}},
		{"number is not a boolean", map[string]any{"approved": 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewHandler().Execute(context.Background(), protocol.StepInput{
				Step:      &models.WorkflowStep{ID: "gate"},
				InputData: tt.input,
			})
			require.Error(t, err)

			var execErr *protocol.ExecutionError
			require.True(t, errors.As(err, &execErr))
			assert.Equal(t, "Approval was not granted", execErr.Error())
		})
	}
}
