// Package events defines the lifecycle notifications emitted by the execution
// engine after each committed state transition.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Topic carries every lifecycle event; consumers filter on the type metadata.
const Topic = "stepflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	InstanceStartedEvent   EventType = "instance.started"
	InstanceCompletedEvent EventType = "instance.completed"
	InstanceFailedEvent    EventType = "instance.failed"
	InstanceCancelledEvent EventType = "instance.cancelled"

	StepCompletedEvent             EventType = "step.completed"
	StepRetryPendingEvent          EventType = "step.retry_pending"
	StepNotificationRequestedEvent EventType = "step.notification_requested"
)

type BaseEvent struct {
	ID             string    `json:"id"`
	Type           EventType `json:"type"`
	Timestamp      time.Time `json:"timestamp"`
	WorkflowID     string    `json:"workflow_id"`
	InstanceID     string    `json:"instance_id"`
	OrganizationID string    `json:"organization_id,omitempty"`
}

func NewBaseEvent(eventType EventType, workflowID, instanceID, organizationID string) BaseEvent {
	return BaseEvent{
		ID:             uuid.NewString(),
		Type:           eventType,
		Timestamp:      time.Now().UTC(),
		WorkflowID:     workflowID,
		InstanceID:     instanceID,
		OrganizationID: organizationID,
	}
}

type InstanceStarted struct {
	BaseEvent

	WorkflowVersion int    `json:"workflow_version"`
	InitiatedBy     string `json:"initiated_by"`
	FirstStepID     string `json:"first_step_id"`
}

func (e InstanceStarted) GetType() EventType {
	return InstanceStartedEvent
}

type InstanceCompleted struct {
	BaseEvent

	ContextData map[string]any `json:"context_data,omitempty"`
	Duration    time.Duration  `json:"duration"`
}

func (e InstanceCompleted) GetType() EventType {
	return InstanceCompletedEvent
}

type InstanceFailed struct {
	BaseEvent

	FailedStepID string `json:"failed_step_id"`
	Error        string `json:"error"`
}

func (e InstanceFailed) GetType() EventType {
	return InstanceFailedEvent
}

type InstanceCancelled struct {
	BaseEvent

	CancelledBy   string `json:"cancelled_by"`
	CurrentStepID string `json:"current_step_id,omitempty"`
}

func (e InstanceCancelled) GetType() EventType {
	return InstanceCancelledEvent
}

type StepCompleted struct {
	BaseEvent

	StepID          string         `json:"step_id"`
	ExecutionID     string         `json:"execution_id"`
	ExecutionOrder  int            `json:"execution_order"`
	Output          map[string]any `json:"output,omitempty"`
	ExecutionTimeMs int64          `json:"execution_time_ms"`
	NextStepID      string         `json:"next_step_id,omitempty"`
	NextAction      string         `json:"next_action,omitempty"`
}

func (e StepCompleted) GetType() EventType {
	return StepCompletedEvent
}

type StepRetryPending struct {
	BaseEvent

	StepID            string `json:"step_id"`
	ExecutionID       string `json:"execution_id"`
	RetryCount        int    `json:"retry_count"`
	MaxRetries        int    `json:"max_retries"`
	RetryDelaySeconds int    `json:"retry_delay_seconds"`
	Error             string `json:"error"`
}

func (e StepRetryPending) GetType() EventType {
	return StepRetryPendingEvent
}

// StepNotificationRequested hands a notification built by a data transform
// step to whoever delivers it.
type StepNotificationRequested struct {
	BaseEvent

	StepID    string `json:"step_id"`
	Recipient string `json:"recipient"`
	Subject   string `json:"subject,omitempty"`
	Body      string `json:"body,omitempty"`
}

func (e StepNotificationRequested) GetType() EventType {
	return StepNotificationRequestedEvent
}
