package workflow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/opsdesk/stepflow/pkg/lock"
	"github.com/opsdesk/stepflow/pkg/persistence"
	"github.com/opsdesk/stepflow/pkg/protocol"
)

var (
	ErrDefinitionInactive    = errors.New("workflow definition is inactive")
	ErrDefinitionHasNoSteps  = errors.New("workflow definition has no steps")
	ErrInstanceNotActive     = errors.New("workflow instance is not in progress")
	ErrStepNotCurrent        = errors.New("step is not the current step of the instance")
	ErrUnauthorized          = errors.New("actor is not allowed to perform this operation")
	ErrInvalidTransition     = errors.New("invalid instance status transition")
	ErrStepRemovalNotAllowed = errors.New("steps referenced by existing instances cannot be removed")
	ErrInvalidDefinition     = errors.New("invalid workflow definition")
	ErrInvalidRequest        = errors.New("invalid request")
)

// DefinitionValidationError lists every problem found in a definition.
type DefinitionValidationError struct {
	WorkflowID string
	Problems   []string
}

func (e *DefinitionValidationError) Error() string {
	return fmt.Sprintf("invalid workflow definition %s: %s", e.WorkflowID, strings.Join(e.Problems, "; "))
}

func (e *DefinitionValidationError) Unwrap() error {
	return ErrInvalidDefinition
}

// RetryPendingError reports a failed attempt that may be retried. The
// instance stays in progress and the execution row is pending again.
type RetryPendingError struct {
	InstanceID        string
	StepID            string
	ExecutionID       string
	RetryCount        int
	MaxRetries        int
	RetryDelaySeconds int
	Err               error
}

func (e *RetryPendingError) Error() string {
	return fmt.Sprintf("step %s of instance %s failed (retry %d of %d pending): %v",
		e.StepID, e.InstanceID, e.RetryCount, e.MaxRetries, e.Err)
}

func (e *RetryPendingError) Unwrap() error {
	return e.Err
}

// StepFailedError reports a step whose retries are exhausted; the instance
// has been marked failed.
type StepFailedError struct {
	InstanceID string
	StepID     string
	RetryCount int
	Err        error
}

func (e *StepFailedError) Error() string {
	return fmt.Sprintf("step %s of instance %s failed after %d retries: %v", e.StepID, e.InstanceID, e.RetryCount, e.Err)
}

func (e *StepFailedError) Unwrap() error {
	return e.Err
}

func IsNotFound(err error) bool {
	return persistence.IsNotFound(err)
}

func IsValidation(err error) bool {
	return protocol.IsValidationError(err) ||
		errors.Is(err, ErrStepNotCurrent) ||
		errors.Is(err, ErrInvalidDefinition) ||
		errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrDefinitionHasNoSteps) ||
		errors.Is(err, ErrStepRemovalNotAllowed)
}

func IsAuthorization(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

func IsRetryPending(err error) bool {
	var retryErr *RetryPendingError

	return errors.As(err, &retryErr)
}

func IsStepFailed(err error) bool {
	var failedErr *StepFailedError

	return errors.As(err, &failedErr)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrInstanceNotActive) ||
		errors.Is(err, ErrDefinitionInactive) ||
		errors.Is(err, persistence.ErrVersionConflict) ||
		errors.Is(err, persistence.ErrDefinitionVersionExists) ||
		errors.Is(err, persistence.ErrInstanceAlreadyExists) ||
		errors.Is(err, lock.ErrLockNotAcquired)
}
