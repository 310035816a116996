package protocol

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ValidationError aggregates every rejected input field of a step. It never
// consumes a retry.
type ValidationError struct {
	StepID string
	Fields map[string]string // field name -> reason
	Err    error
}

func NewValidationError(stepID string) *ValidationError {
	return &ValidationError{StepID: stepID, Fields: make(map[string]string)}
}

func (e *ValidationError) Add(field, reason string) {
	if existing, ok := e.Fields[field]; ok {
		e.Fields[field] = existing + "; " + reason

		return
	}

	e.Fields[field] = reason
}

// Unwrap returns the cause of a rejection that did not come from input
// fields, such as an undecodable step configuration.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

func (e *ValidationError) HasErrors() bool {
	return len(e.Fields) > 0
}

// FieldNames returns the offending field names in lexical order.
func (e *ValidationError) FieldNames() []string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, name := range e.FieldNames() {
		parts = append(parts, fmt.Sprintf("%s: %s", name, e.Fields[name]))
	}

	return fmt.Sprintf("validation failed for step %s: %s", e.StepID, strings.Join(parts, ", "))
}

// ExecutionError is a step failure that may be retried.
type ExecutionError struct {
	StepID  string
	Message string
	Err     error
}

func NewExecutionError(stepID, message string, err error) *ExecutionError {
	return &ExecutionError{StepID: stepID, Message: message, Err: err}
}

func (e *ExecutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}

	return e.Message
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// IsValidationError reports whether err carries a ValidationError.
func IsValidationError(err error) bool {
	var target *ValidationError

	return errors.As(err, &target)
}

// IsExecutionError reports whether err carries an ExecutionError.
func IsExecutionError(err error) bool {
	var target *ExecutionError

	return errors.As(err, &target)
}
