package protocol

import (
	"context"

	"github.com/opsdesk/stepflow/pkg/models"
)

// Message is one turn of a completion conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionService generates text from a prompt.
type CompletionService interface {
	Complete(ctx context.Context, prompt string, history []Message) (string, error)
}

// ToolResult is the outcome reported by the tool subsystem.
type ToolResult struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ToolInvoker runs a named tool on behalf of an actor.
type ToolInvoker interface {
	Invoke(ctx context.Context, toolSlug string, params map[string]any, actorID string) (*ToolResult, error)
}

// DefinitionAccessor resolves workflow definitions together with their steps.
type DefinitionAccessor interface {
	// GetDefinitionWithSteps returns the latest version.
	GetDefinitionWithSteps(ctx context.Context, workflowID string) (*models.WorkflowDefinition, error)
	// GetDefinitionVersion returns a pinned historical version.
	GetDefinitionVersion(ctx context.Context, workflowID string, version int) (*models.WorkflowDefinition, error)
}
