// Package approvalgate records an explicit approval decision.
package approvalgate

import (
	"context"
	"time"

	"github.com/opsdesk/stepflow/pkg/models"
	"github.com/opsdesk/stepflow/pkg/protocol"
)

const (
	LastApprovalKey = "lastApproval"
	notGranted      = "Approval was not granted"
)

type Handler struct {
	now func() time.Time
}

func NewHandler() *Handler {
	return &Handler{now: time.Now}
}

func (h *Handler) Type() models.StepType {
	return models.StepTypeApprovalGate
}

// Execute passes only when the input carries approved set to the boolean true.
func (h *Handler) Execute(_ context.Context, input protocol.StepInput) (*models.StepResult, error) {
	approved, _ := input.InputData["approved"].(bool)
	if !approved {
		return nil, protocol.NewExecutionError(input.Step.ID, notGranted, nil)
	}

	comment, _ := input.InputData["comment"].(string)

	approval := map[string]any{
		"approved_by": input.ActorID,
		"comment":     comment,
		"approved_at": h.now().UTC().Format(time.RFC3339),
	}

	return &models.StepResult{
		Output:         map[string]any{"approved": true, "approved_by": input.ActorID},
		ContextUpdates: map[string]any{LastApprovalKey: approval},
	}, nil
}
