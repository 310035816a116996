// Package workflow runs workflow instances step by step and manages the
// definitions they are created from.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/opsdesk/stepflow/pkg/eventbus"
	"github.com/opsdesk/stepflow/pkg/events"
	"github.com/opsdesk/stepflow/pkg/lock"
	"github.com/opsdesk/stepflow/pkg/models"
	"github.com/opsdesk/stepflow/pkg/otelhelper"
	"github.com/opsdesk/stepflow/pkg/persistence"
	"github.com/opsdesk/stepflow/pkg/processor"
	"github.com/opsdesk/stepflow/pkg/protocol"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var requestValidator = validator.New(validator.WithRequiredStructEnabled())

// StepProcessor runs a single step. *processor.Processor satisfies it.
type StepProcessor interface {
	ProcessStep(ctx context.Context, req processor.StepRequest) (*models.StepResult, error)
}

type CreateInstanceRequest struct {
	WorkflowID     string         `json:"workflow_id"     validate:"required"`
	InitiatorID    string         `json:"initiator_id"    validate:"required"`
	OrganizationID string         `json:"organization_id"`
	InitialContext map[string]any `json:"initial_context"`
}

type CreateInstanceResult struct {
	Instance  *models.WorkflowInstance      `json:"instance"`
	FirstStep *models.WorkflowStep          `json:"first_step"`
	Execution *models.WorkflowStepExecution `json:"execution"`
}

type ExecuteStepRequest struct {
	InstanceID string         `json:"instance_id" validate:"required"`
	StepID     string         `json:"step_id"     validate:"required"`
	InputData  map[string]any `json:"input_data"`
	ActorID    string         `json:"actor_id"`
}

type ExecuteStepResult struct {
	Instance   *models.WorkflowInstance      `json:"instance"`
	Execution  *models.WorkflowStepExecution `json:"execution"`
	Output     map[string]any                `json:"output"`
	NextStep   *models.WorkflowStep          `json:"next_step,omitempty"`
	NextAction string                        `json:"next_action,omitempty"`
	Completed  bool                          `json:"completed"`
}

// InstanceDetails is an instance together with its step executions ordered
// by execution order.
type InstanceDetails struct {
	Instance   *models.WorkflowInstance        `json:"instance"`
	Executions []*models.WorkflowStepExecution `json:"executions"`
}

// Engine drives instances through their definition. Every mutation of an
// instance happens under the instance lock and is written with an optimistic
// version check.
type Engine struct {
	definitions protocol.DefinitionAccessor
	instances   persistence.InstanceRepository
	executions  persistence.StepExecutionRepository
	processor   StepProcessor
	locker      lock.Locker
	publisher   eventbus.EventPublisher
	tracer      trace.Tracer
	logger      *slog.Logger
	now         func() time.Time
}

type EngineOption func(*Engine)

func WithLocker(locker lock.Locker) EngineOption {
	return func(e *Engine) { e.locker = locker }
}

func WithEventPublisher(publisher eventbus.EventPublisher) EngineOption {
	return func(e *Engine) { e.publisher = publisher }
}

func WithTracer(tracer trace.Tracer) EngineOption {
	return func(e *Engine) { e.tracer = tracer }
}

func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

func NewEngine(
	definitions protocol.DefinitionAccessor,
	store persistence.Persistence,
	stepProcessor StepProcessor,
	logger *slog.Logger,
	opts ...EngineOption,
) *Engine {
	engine := &Engine{
		definitions: definitions,
		instances:   store.InstanceRepository(),
		executions:  store.StepExecutionRepository(),
		processor:   stepProcessor,
		locker:      lock.NewMemoryLocker(),
		tracer:      otelhelper.NoopTracer(),
		logger:      logger.With("module", "engine"),
		now:         func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(engine)
	}

	return engine
}

// CreateInstance starts a new instance of the latest definition version.
func (e *Engine) CreateInstance(ctx context.Context, req CreateInstanceRequest) (result *CreateInstanceResult, err error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.create_instance",
		attribute.String(otelhelper.WorkflowIDKey, req.WorkflowID),
		attribute.String(otelhelper.ActorIDKey, req.InitiatorID),
	)
	defer e.endSpan(span, &err)

	if err := requestValidator.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	definition, err := e.definitions.GetDefinitionWithSteps(ctx, req.WorkflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to load definition %s: %w", req.WorkflowID, err)
	}

	if !definition.IsActive {
		return nil, fmt.Errorf("%w: %s", ErrDefinitionInactive, definition.ID)
	}

	firstStep, ok := definition.FirstStep()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDefinitionHasNoSteps, definition.ID)
	}

	organizationID := req.OrganizationID
	if organizationID == "" {
		organizationID = definition.OrganizationID
	}

	now := e.now()
	instance := &models.WorkflowInstance{
		ID:              uuid.NewString(),
		WorkflowID:      definition.ID,
		WorkflowVersion: definition.Version,
		OrganizationID:  organizationID,
		CurrentStepID:   firstStep.ID,
		Status:          models.InstanceStatusInProgress,
		InitiatedBy:     req.InitiatorID,
		ContextData:     cloneMap(req.InitialContext),
		StartedAt:       now,
		CreatedAt:       now,
	}

	span.SetAttributes(attribute.String(otelhelper.InstanceIDKey, instance.ID))

	logger := e.logger.With("instance_id", instance.ID, "workflow_id", definition.ID, "workflow_version", definition.Version)

	err = e.instances.Create(ctx, instance)
	if err != nil {
		return nil, fmt.Errorf("failed to create instance: %w", err)
	}

	execution := newExecution(instance.ID, firstStep, 1, now)

	err = e.executions.Create(ctx, execution)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to create first step execution", "error", err)
		e.abandon(ctx, instance, firstStep.ID, err)

		return nil, fmt.Errorf("failed to create execution for step %s: %w", firstStep.ID, err)
	}

	logger.InfoContext(ctx, "Workflow instance started", "step_id", firstStep.ID, "initiated_by", req.InitiatorID)

	e.publish(ctx, instance.ID, events.InstanceStarted{
		BaseEvent:       e.baseEvent(events.InstanceStartedEvent, instance),
		WorkflowVersion: instance.WorkflowVersion,
		InitiatedBy:     instance.InitiatedBy,
		FirstStepID:     firstStep.ID,
	})

	return &CreateInstanceResult{Instance: instance, FirstStep: firstStep, Execution: execution}, nil
}

// ExecuteStep runs the current step of an instance with the caller's input.
//
// A *protocol.ValidationError leaves the instance untouched and consumes no
// retry. A step failure returns *RetryPendingError while retries remain and
// *StepFailedError once they are exhausted.
func (e *Engine) ExecuteStep(ctx context.Context, req ExecuteStepRequest) (result *ExecuteStepResult, err error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.execute_step",
		attribute.String(otelhelper.InstanceIDKey, req.InstanceID),
		attribute.String(otelhelper.StepIDKey, req.StepID),
		attribute.String(otelhelper.ActorIDKey, req.ActorID),
	)
	defer e.endSpan(span, &err)

	if err := requestValidator.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	release, err := e.locker.Acquire(ctx, lock.InstanceKey(req.InstanceID))
	if err != nil {
		return nil, err
	}
	defer e.release(ctx, release, req.InstanceID)

	instance, err := e.instances.GetByID(ctx, req.InstanceID)
	if err != nil {
		return nil, err
	}

	if instance.Status != models.InstanceStatusInProgress {
		return nil, fmt.Errorf("%w: instance %s is %s", ErrInstanceNotActive, instance.ID, instance.Status)
	}

	definition, err := e.definitions.GetDefinitionVersion(ctx, instance.WorkflowID, instance.WorkflowVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to load definition %s v%d: %w", instance.WorkflowID, instance.WorkflowVersion, err)
	}

	step, ok := definition.StepByID(req.StepID)
	if !ok {
		return nil, persistence.NewDefinitionError("ExecuteStep", definition.ID, definition.Version,
			fmt.Errorf("%w: %s", persistence.ErrStepNotFound, req.StepID))
	}

	if step.ID != instance.CurrentStepID {
		return nil, fmt.Errorf("%w: %s (current is %s)", ErrStepNotCurrent, step.ID, instance.CurrentStepID)
	}

	execution, err := e.currentExecution(ctx, instance, step)
	if err != nil {
		return nil, err
	}

	span.SetAttributes(
		attribute.String(otelhelper.WorkflowIDKey, instance.WorkflowID),
		attribute.String(otelhelper.StepTypeKey, string(step.StepType)),
		attribute.String(otelhelper.ExecutionIDKey, execution.ID),
		attribute.Int(otelhelper.ExecutionOrderKey, execution.ExecutionOrder),
	)

	run := &stepRun{
		instance:   instance,
		definition: definition,
		step:       step,
		execution:  execution,
		openStatus: execution.Status,
		logger: e.logger.With(
			"instance_id", instance.ID,
			"workflow_id", instance.WorkflowID,
			"step_id", step.ID,
			"execution_order", execution.ExecutionOrder,
		),
	}

	started := e.now()
	execution.Status = models.StepExecutionStatusExecuting
	execution.StartedAt = &started
	execution.InputData = cloneMap(req.InputData)
	execution.ErrorMessage = ""

	err = e.executions.Update(ctx, execution)
	if err != nil {
		return nil, fmt.Errorf("failed to mark execution %s executing: %w", execution.ID, err)
	}

	run.logger.DebugContext(ctx, "Executing step", "step_type", step.StepType, "retry_count", execution.RetryCount)

	stepResult, stepErr := e.processor.ProcessStep(ctx, processor.StepRequest{
		Step:        step,
		InputData:   execution.InputData,
		ContextData: instance.ContextData,
		ActorID:     req.ActorID,
	})

	execution.ExecutionTimeMs = e.now().Sub(started).Milliseconds()

	// The attempt has run; its outcome is recorded even if the caller is gone.
	writeCtx := context.WithoutCancel(ctx)

	switch {
	case stepErr == nil:
		return e.completeStep(writeCtx, run, stepResult)
	case protocol.IsValidationError(stepErr):
		return nil, e.rejectInput(writeCtx, run, stepErr)
	default:
		return nil, e.failStep(writeCtx, run, stepErr)
	}
}

// currentExecution returns the open execution of the instance's current step.
// It runs under the instance lock, so no other attempt is in flight: an
// executing row was left by an interrupted attempt and is reopened, and a
// missing row is created.
func (e *Engine) currentExecution(ctx context.Context, instance *models.WorkflowInstance, step *models.WorkflowStep) (*models.WorkflowStepExecution, error) {
	execution, err := e.executions.LatestForStep(ctx, instance.ID, step.ID)
	if persistence.IsStepExecutionNotFound(err) {
		return e.createMissingExecution(ctx, instance, step)
	}

	if err != nil {
		return nil, err
	}

	if execution.Status == models.StepExecutionStatusExecuting {
		execution.Status = openStatus(step)

		e.logger.WarnContext(ctx, "Reopening interrupted execution",
			"instance_id", instance.ID,
			"step_id", step.ID,
			"execution_id", execution.ID,
		)
	}

	if !execution.Status.IsOpen() {
		return nil, &persistence.StepExecutionError{
			Op:          "ExecuteStep",
			InstanceID:  instance.ID,
			ExecutionID: execution.ID,
			StepID:      step.ID,
			Err:         fmt.Errorf("%w: execution is %s", persistence.ErrStepExecutionNotFound, execution.Status),
		}
	}

	return execution, nil
}

func (e *Engine) createMissingExecution(ctx context.Context, instance *models.WorkflowInstance, step *models.WorkflowStep) (*models.WorkflowStepExecution, error) {
	executions, err := e.executions.ListByInstance(ctx, instance.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions of instance %s: %w", instance.ID, err)
	}

	order := 1
	for _, existing := range executions {
		order = max(order, existing.ExecutionOrder+1)
	}

	execution := newExecution(instance.ID, step, order, e.now())

	err = e.executions.Create(ctx, execution)
	if err != nil {
		return nil, fmt.Errorf("failed to create execution for step %s: %w", step.ID, err)
	}

	e.logger.WarnContext(ctx, "Created missing execution for current step",
		"instance_id", instance.ID,
		"step_id", step.ID,
		"execution_order", order,
	)

	return execution, nil
}

// stepRun is the state loaded for one ExecuteStep call.
type stepRun struct {
	instance   *models.WorkflowInstance
	definition *models.WorkflowDefinition
	step       *models.WorkflowStep
	execution  *models.WorkflowStepExecution
	openStatus models.StepExecutionStatus
	logger     *slog.Logger
}

func (e *Engine) completeStep(ctx context.Context, run *stepRun, stepResult *models.StepResult) (*ExecuteStepResult, error) {
	instance, execution := run.instance, run.execution
	now := e.now()

	instance.MergeContext(stepResult.ContextUpdates)

	nextStep, hasNext := run.definition.NextStep(run.step)
	if hasNext {
		instance.CurrentStepID = nextStep.ID
	} else {
		instance.Status = models.InstanceStatusCompleted
		instance.CompletedAt = &now
	}

	err := e.instances.Update(ctx, instance)
	if err != nil {
		e.reopen(ctx, run)

		return nil, fmt.Errorf("failed to advance instance %s: %w", instance.ID, err)
	}

	output := cloneMap(stepResult.Output)
	if stepResult.NextAction != "" {
		output["next_action"] = stepResult.NextAction
	}

	execution.Status = models.StepExecutionStatusCompleted
	execution.OutputData = output
	execution.CompletedAt = &now

	// The instance has advanced. The rows below are bookkeeping; a missing
	// next row is created by the next ExecuteStep of that step.
	err = e.executions.Update(ctx, execution)
	if err != nil {
		run.logger.ErrorContext(ctx, "Failed to mark execution completed", "error", err)
	}

	if hasNext {
		err = e.executions.Create(ctx, newExecution(instance.ID, nextStep, execution.ExecutionOrder+1, now))
		if err != nil {
			run.logger.ErrorContext(ctx, "Failed to create next execution", "next_step_id", nextStep.ID, "error", err)
		}
	}

	run.logger.InfoContext(ctx, "Step completed",
		"execution_time_ms", execution.ExecutionTimeMs,
		"next_step_id", instance.CurrentStepID,
		"completed", !hasNext,
	)

	completedEvent := events.StepCompleted{
		BaseEvent:       e.baseEvent(events.StepCompletedEvent, instance),
		StepID:          run.step.ID,
		ExecutionID:     execution.ID,
		ExecutionOrder:  execution.ExecutionOrder,
		Output:          output,
		ExecutionTimeMs: execution.ExecutionTimeMs,
		NextAction:      stepResult.NextAction,
	}
	if hasNext {
		completedEvent.NextStepID = nextStep.ID
	}

	e.publish(ctx, instance.ID, completedEvent)
	e.publishNotifications(ctx, instance, run.step, output)

	if !hasNext {
		run.logger.InfoContext(ctx, "Workflow instance completed")

		e.publish(ctx, instance.ID, events.InstanceCompleted{
			BaseEvent:   e.baseEvent(events.InstanceCompletedEvent, instance),
			ContextData: instance.ContextData,
			Duration:    now.Sub(instance.StartedAt),
		})
	}

	result := &ExecuteStepResult{
		Instance:   instance,
		Execution:  execution,
		Output:     output,
		NextAction: stepResult.NextAction,
		Completed:  !hasNext,
	}
	if hasNext {
		result.NextStep = nextStep
	}

	return result, nil
}

func (e *Engine) rejectInput(ctx context.Context, run *stepRun, stepErr error) error {
	run.execution.Status = run.openStatus
	run.execution.ErrorMessage = stepErr.Error()

	err := e.executions.Update(ctx, run.execution)
	if err != nil {
		run.logger.ErrorContext(ctx, "Failed to reopen execution after validation failure", "error", err)
	}

	run.logger.InfoContext(ctx, "Step input rejected", "error", stepErr)

	return stepErr
}

func (e *Engine) failStep(ctx context.Context, run *stepRun, stepErr error) error {
	instance, execution, step := run.instance, run.execution, run.step
	now := e.now()

	execution.ErrorMessage = stepErr.Error()

	if execution.RetryCount < step.RetryConfig.MaxRetries {
		execution.RetryCount++
		execution.Status = models.StepExecutionStatusPending
		execution.CompletedAt = nil

		err := e.executions.Update(ctx, execution)
		if err != nil {
			return fmt.Errorf("failed to schedule retry of execution %s: %w", execution.ID, err)
		}

		run.logger.WarnContext(ctx, "Step failed, retry pending",
			"retry_count", execution.RetryCount,
			"max_retries", step.RetryConfig.MaxRetries,
			"error", stepErr,
		)

		e.publish(ctx, instance.ID, events.StepRetryPending{
			BaseEvent:         e.baseEvent(events.StepRetryPendingEvent, instance),
			StepID:            step.ID,
			ExecutionID:       execution.ID,
			RetryCount:        execution.RetryCount,
			MaxRetries:        step.RetryConfig.MaxRetries,
			RetryDelaySeconds: step.RetryConfig.RetryDelaySeconds,
			Error:             stepErr.Error(),
		})

		return &RetryPendingError{
			InstanceID:        instance.ID,
			StepID:            step.ID,
			ExecutionID:       execution.ID,
			RetryCount:        execution.RetryCount,
			MaxRetries:        step.RetryConfig.MaxRetries,
			RetryDelaySeconds: step.RetryConfig.RetryDelaySeconds,
			Err:               stepErr,
		}
	}

	instance.Status = models.InstanceStatusFailed
	instance.CompletedAt = &now
	instance.SetMetadata("error", stepErr.Error())
	instance.SetMetadata("failed_step_id", step.ID)
	instance.SetMetadata("failed_at", now.Format(time.RFC3339))

	err := e.instances.Update(ctx, instance)
	if err != nil {
		e.reopen(ctx, run)

		return fmt.Errorf("failed to mark instance %s failed: %w", instance.ID, err)
	}

	execution.Status = models.StepExecutionStatusFailed
	execution.CompletedAt = &now

	err = e.executions.Update(ctx, execution)
	if err != nil {
		run.logger.ErrorContext(ctx, "Failed to mark execution failed", "error", err)
	}

	run.logger.ErrorContext(ctx, "Step failed, retries exhausted", "retry_count", execution.RetryCount, "error", stepErr)

	e.publish(ctx, instance.ID, events.InstanceFailed{
		BaseEvent:    e.baseEvent(events.InstanceFailedEvent, instance),
		FailedStepID: step.ID,
		Error:        stepErr.Error(),
	})

	return &StepFailedError{
		InstanceID: instance.ID,
		StepID:     step.ID,
		RetryCount: execution.RetryCount,
		Err:        stepErr,
	}
}

// reopen puts the execution back to its open status after the instance write
// lost a race, so the attempt can be repeated.
func (e *Engine) reopen(ctx context.Context, run *stepRun) {
	run.execution.Status = run.openStatus
	run.execution.CompletedAt = nil

	err := e.executions.Update(ctx, run.execution)
	if err != nil {
		run.logger.ErrorContext(ctx, "Failed to reopen execution", "error", err)
	}
}

// CancelWorkflow stops an instance. Only its initiator may cancel it.
func (e *Engine) CancelWorkflow(ctx context.Context, instanceID, actorID string) (instance *models.WorkflowInstance, err error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.cancel_workflow",
		attribute.String(otelhelper.InstanceIDKey, instanceID),
		attribute.String(otelhelper.ActorIDKey, actorID),
	)
	defer e.endSpan(span, &err)

	release, err := e.locker.Acquire(ctx, lock.InstanceKey(instanceID))
	if err != nil {
		return nil, err
	}
	defer e.release(ctx, release, instanceID)

	instance, err = e.instances.GetByID(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	if actorID == "" || instance.InitiatedBy != actorID {
		return nil, fmt.Errorf("%w: only the initiator can cancel instance %s", ErrUnauthorized, instanceID)
	}

	if instance.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: instance %s is already %s", ErrInvalidTransition, instanceID, instance.Status)
	}

	logger := e.logger.With("instance_id", instance.ID, "workflow_id", instance.WorkflowID)
	now := e.now()

	instance.Status = models.InstanceStatusCancelled
	instance.CompletedAt = &now
	instance.SetMetadata("cancelled_by", actorID)

	err = e.instances.Update(ctx, instance)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel instance %s: %w", instanceID, err)
	}

	if instance.CurrentStepID != "" {
		e.skipOpenExecution(ctx, logger, instance, now)
	}

	logger.InfoContext(ctx, "Workflow instance cancelled", "cancelled_by", actorID)

	e.publish(ctx, instance.ID, events.InstanceCancelled{
		BaseEvent:     e.baseEvent(events.InstanceCancelledEvent, instance),
		CancelledBy:   actorID,
		CurrentStepID: instance.CurrentStepID,
	})

	return instance, nil
}

func (e *Engine) skipOpenExecution(ctx context.Context, logger *slog.Logger, instance *models.WorkflowInstance, now time.Time) {
	execution, err := e.executions.LatestForStep(ctx, instance.ID, instance.CurrentStepID)
	if err != nil {
		if !persistence.IsStepExecutionNotFound(err) {
			logger.ErrorContext(ctx, "Failed to load open execution", "error", err)
		}

		return
	}

	if !execution.Status.IsOpen() {
		return
	}

	execution.Status = models.StepExecutionStatusSkipped
	execution.CompletedAt = &now

	err = e.executions.Update(ctx, execution)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to skip open execution", "execution_id", execution.ID, "error", err)
	}
}

// FetchInstance returns the instance with its executions.
func (e *Engine) FetchInstance(ctx context.Context, instanceID string) (*InstanceDetails, error) {
	instance, err := e.instances.GetByID(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	executions, err := e.executions.ListByInstance(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions of instance %s: %w", instanceID, err)
	}

	return &InstanceDetails{Instance: instance, Executions: executions}, nil
}

// FetchUserInstances lists the instances a user started, newest first.
func (e *Engine) FetchUserInstances(ctx context.Context, userID, organizationID string) ([]*models.WorkflowInstance, error) {
	instances, err := e.instances.ListByInitiator(ctx, userID, organizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances of user %s: %w", userID, err)
	}

	return instances, nil
}

// abandon marks an instance failed when its first execution row could not be
// written.
func (e *Engine) abandon(ctx context.Context, instance *models.WorkflowInstance, stepID string, cause error) {
	now := e.now()
	instance.Status = models.InstanceStatusFailed
	instance.CompletedAt = &now
	instance.SetMetadata("error", cause.Error())
	instance.SetMetadata("failed_step_id", stepID)
	instance.SetMetadata("failed_at", now.Format(time.RFC3339))

	err := e.instances.Update(ctx, instance)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to mark instance failed", "instance_id", instance.ID, "error", err)
	}
}

func (e *Engine) publishNotifications(ctx context.Context, instance *models.WorkflowInstance, step *models.WorkflowStep, output map[string]any) {
	notifications, ok := output["notifications"].([]any)
	if !ok {
		return
	}

	for _, item := range notifications {
		notification, ok := item.(map[string]any)
		if !ok {
			continue
		}

		recipient, _ := notification["recipient"].(string)
		subject, _ := notification["subject"].(string)
		body, _ := notification["body"].(string)

		e.publish(ctx, instance.ID, events.StepNotificationRequested{
			BaseEvent: e.baseEvent(events.StepNotificationRequestedEvent, instance),
			StepID:    step.ID,
			Recipient: recipient,
			Subject:   subject,
			Body:      body,
		})
	}
}

// publish runs after the state change is committed; a failure is logged and
// never undoes the transition.
func (e *Engine) publish(ctx context.Context, key string, event eventbus.Event) {
	if e.publisher == nil {
		return
	}

	err := e.publisher.Publish(ctx, key, event)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to publish event", "event_type", event.GetType(), "instance_id", key, "error", err)
	}
}

func (e *Engine) baseEvent(eventType events.EventType, instance *models.WorkflowInstance) events.BaseEvent {
	base := events.NewBaseEvent(eventType, instance.WorkflowID, instance.ID, instance.OrganizationID)
	base.Timestamp = e.now()

	return base
}

func (e *Engine) release(ctx context.Context, release lock.Release, instanceID string) {
	err := release(context.WithoutCancel(ctx))
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to release instance lock", "instance_id", instanceID, "error", err)
	}
}

func (e *Engine) endSpan(span trace.Span, err *error) {
	otelhelper.SetError(span, *err)
	span.End()
}

func newExecution(instanceID string, step *models.WorkflowStep, order int, now time.Time) *models.WorkflowStepExecution {
	return &models.WorkflowStepExecution{
		ID:             uuid.NewString(),
		InstanceID:     instanceID,
		StepID:         step.ID,
		ExecutionOrder: order,
		Status:         openStatus(step),
		CreatedAt:      now,
	}
}

// openStatus is the status an execution waits in before it runs.
func openStatus(step *models.WorkflowStep) models.StepExecutionStatus {
	if step.StepType.IsInteractive() {
		return models.StepExecutionStatusWaitingInput
	}

	return models.StepExecutionStatusPending
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}

	return maps.Clone(m)
}
