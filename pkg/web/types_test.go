package web_test

import (
	"testing"

	"github.com/opsdesk/stepflow/pkg/models"
	"github.com/opsdesk/stepflow/pkg/web"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefinitionRequest_ToDefinition(t *testing.T) {
	inactive := false

	tests := []struct {
		name       string
		isActive   *bool
		wantActive bool
	}{
		{name: "active by default", wantActive: true},
		{name: "explicitly inactive", isActive: &inactive, wantActive: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := web.DefinitionRequest{
				Name:     "Expense approval",
				Category: "finance",
				IsActive: tt.isActive,
				Steps: []web.StepRequest{{
					ID:             "approve",
					Name:           "Manager approval",
					StepOrder:      1,
					StepType:       models.StepTypeApprovalGate,
					RetryConfig:    models.RetryConfig{MaxRetries: 2, RetryDelaySeconds: 30},
					DependsOnSteps: []string{"submit"},
				}},
			}

			definition := req.ToDefinition("org-1", "author-1")

			assert.Equal(t, tt.wantActive, definition.IsActive)
			assert.Equal(t, "org-1", definition.OrganizationID)
			assert.Equal(t, "author-1", definition.CreatedBy)
			require.Len(t, definition.Steps, 1)

			step := definition.Steps[0]
			assert.Equal(t, "approve", step.ID)
			assert.Equal(t, models.StepTypeApprovalGate, step.StepType)
			assert.Equal(t, 2, step.RetryConfig.MaxRetries)
			assert.Equal(t, []string{"submit"}, step.DependsOnSteps)
		})
	}
}
