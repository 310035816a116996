package models

import (
	"maps"
	"time"
)

// InstanceStatus represents the lifecycle state of a workflow instance.
type InstanceStatus string

const (
	InstanceStatusPending         InstanceStatus = "pending"
	InstanceStatusInProgress      InstanceStatus = "in_progress"
	InstanceStatusWaitingApproval InstanceStatus = "waiting_approval" // Declared, never entered automatically
	InstanceStatusCompleted       InstanceStatus = "completed"
	InstanceStatusFailed          InstanceStatus = "failed"
	InstanceStatusCancelled       InstanceStatus = "cancelled"
)

// IsTerminal reports whether no further transition is possible.
func (s InstanceStatus) IsTerminal() bool {
	return s == InstanceStatusCompleted || s == InstanceStatusFailed || s == InstanceStatusCancelled
}

// WorkflowInstance is one execution of a pinned definition version.
type WorkflowInstance struct {
	ID              string         `json:"id"`
	WorkflowID      string         `json:"workflow_id"`
	WorkflowVersion int            `json:"workflow_version"`
	OrganizationID  string         `json:"organization_id"`
	CurrentStepID   string         `json:"current_step_id,omitempty"`
	Status          InstanceStatus `json:"status"`
	InitiatedBy     string         `json:"initiated_by"`
	ContextData     map[string]any `json:"context_data"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	Version         int64          `json:"version"` // Optimistic concurrency counter
	StartedAt       time.Time      `json:"started_at"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// MergeContext shallow-merges updates into the context; later keys win.
func (i *WorkflowInstance) MergeContext(updates map[string]any) {
	if i.ContextData == nil {
		i.ContextData = make(map[string]any, len(updates))
	}

	maps.Copy(i.ContextData, updates)
}

// SetMetadata records a metadata entry, allocating the map if needed.
func (i *WorkflowInstance) SetMetadata(key string, value any) {
	if i.Metadata == nil {
		i.Metadata = make(map[string]any)
	}

	i.Metadata[key] = value
}
