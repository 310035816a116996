package models

import "time"

// StepExecutionStatus defines the possible states of a step attempt.
type StepExecutionStatus string

const (
	StepExecutionStatusPending      StepExecutionStatus = "pending"
	StepExecutionStatusExecuting    StepExecutionStatus = "executing"
	StepExecutionStatusCompleted    StepExecutionStatus = "completed"
	StepExecutionStatusFailed       StepExecutionStatus = "failed"
	StepExecutionStatusSkipped      StepExecutionStatus = "skipped"
	StepExecutionStatusWaitingInput StepExecutionStatus = "waiting_input"
)

// IsOpen reports whether the attempt can still be executed.
func (s StepExecutionStatus) IsOpen() bool {
	return s == StepExecutionStatusPending || s == StepExecutionStatusWaitingInput
}

// WorkflowStepExecution records the attempts to run one step of an instance.
// Retries reuse the row: RetryCount is incremented and the status goes back
// to pending.
type WorkflowStepExecution struct {
	ID              string              `json:"id"`
	InstanceID      string              `json:"instance_id"`
	StepID          string              `json:"step_id"`
	ExecutionOrder  int                 `json:"execution_order"`
	Status          StepExecutionStatus `json:"status"`
	InputData       map[string]any      `json:"input_data,omitempty"`
	OutputData      map[string]any      `json:"output_data,omitempty"`
	ErrorMessage    string              `json:"error_message,omitempty"`
	ExecutionTimeMs int64               `json:"execution_time_ms"`
	RetryCount      int                 `json:"retry_count"`
	StartedAt       *time.Time          `json:"started_at,omitempty"`
	CompletedAt     *time.Time          `json:"completed_at,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

// StepResult is what a step handler hands back to the engine.
type StepResult struct {
	Output            map[string]any `json:"output"`
	ContextUpdates    map[string]any `json:"context_updates"`
	RequiresUserInput bool           `json:"requires_user_input,omitempty"`
	NextAction        string         `json:"next_action,omitempty"`
}

// NextActionConditionalEvaluation marks a conditional step whose branch must
// be resolved by the caller.
const NextActionConditionalEvaluation = "conditional_evaluation_required"
