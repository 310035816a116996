package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrDefinitionNotFound indicates no definition (or version) exists for the identifier.
	ErrDefinitionNotFound = errors.New("workflow definition not found")

	// ErrDefinitionVersionExists indicates the definition version was already stored.
	ErrDefinitionVersionExists = errors.New("workflow definition version already exists")

	// ErrInstanceNotFound indicates a workflow instance was not found.
	ErrInstanceNotFound = errors.New("workflow instance not found")

	// ErrInstanceAlreadyExists indicates an instance with the same identifier exists.
	ErrInstanceAlreadyExists = errors.New("workflow instance already exists")

	// ErrStepNotFound indicates a step is not part of the definition version.
	ErrStepNotFound = errors.New("workflow step not found")

	// ErrStepExecutionNotFound indicates a step execution was not found.
	ErrStepExecutionNotFound = errors.New("step execution not found")

	// ErrVersionConflict indicates an optimistic update lost against a concurrent writer.
	ErrVersionConflict = errors.New("version conflict")

	// ErrInvalidID indicates an identifier that cannot be stored safely.
	ErrInvalidID = errors.New("invalid identifier")
)

// DefinitionError wraps definition-related errors with additional context.
type DefinitionError struct {
	Op         string // Operation being performed (e.g., "Latest", "Save")
	WorkflowID string
	Version    int // Zero when the operation is not version specific
	Err        error
}

func (e *DefinitionError) Error() string {
	if e.Version > 0 {
		return fmt.Sprintf("%s operation failed for workflow %s version %d: %v", e.Op, e.WorkflowID, e.Version, e.Err)
	}

	return fmt.Sprintf("%s operation failed for workflow %s: %v", e.Op, e.WorkflowID, e.Err)
}

func (e *DefinitionError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for definition errors.
func (e *DefinitionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func NewDefinitionError(op, workflowID string, version int, err error) *DefinitionError {
	return &DefinitionError{Op: op, WorkflowID: workflowID, Version: version, Err: err}
}

// InstanceError wraps instance-related errors with additional context.
type InstanceError struct {
	Op         string
	InstanceID string
	Err        error
}

func (e *InstanceError) Error() string {
	return fmt.Sprintf("%s operation failed for instance %s: %v", e.Op, e.InstanceID, e.Err)
}

func (e *InstanceError) Unwrap() error {
	return e.Err
}

func (e *InstanceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func NewInstanceError(op, instanceID string, err error) *InstanceError {
	return &InstanceError{Op: op, InstanceID: instanceID, Err: err}
}

// StepExecutionError wraps step-execution errors with additional context.
type StepExecutionError struct {
	Op          string
	InstanceID  string
	ExecutionID string
	StepID      string
	Err         error
}

func (e *StepExecutionError) Error() string {
	target := e.ExecutionID
	if target == "" {
		target = "for step " + e.StepID
	}

	return fmt.Sprintf("%s operation failed for step execution %s in instance %s: %v", e.Op, target, e.InstanceID, e.Err)
}

func (e *StepExecutionError) Unwrap() error {
	return e.Err
}

func (e *StepExecutionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsDefinitionNotFound checks if an error indicates a definition was not found.
func IsDefinitionNotFound(err error) bool {
	return errors.Is(err, ErrDefinitionNotFound)
}

// IsInstanceNotFound checks if an error indicates an instance was not found.
func IsInstanceNotFound(err error) bool {
	return errors.Is(err, ErrInstanceNotFound)
}

// IsStepExecutionNotFound checks if an error indicates a step execution was not found.
func IsStepExecutionNotFound(err error) bool {
	return errors.Is(err, ErrStepExecutionNotFound)
}

// IsNotFound reports any of the not-found conditions.
func IsNotFound(err error) bool {
	return IsDefinitionNotFound(err) ||
		IsInstanceNotFound(err) ||
		IsStepExecutionNotFound(err) ||
		errors.Is(err, ErrStepNotFound)
}

// IsVersionConflict checks if an error indicates a lost optimistic update.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}
