package workflow_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/opsdesk/stepflow/pkg/channels/gochannel"
	"github.com/opsdesk/stepflow/pkg/eventbus"
	"github.com/opsdesk/stepflow/pkg/events"
	"github.com/opsdesk/stepflow/pkg/mocks"
	"github.com/opsdesk/stepflow/pkg/models"
	"github.com/opsdesk/stepflow/pkg/persistence"
	"github.com/opsdesk/stepflow/pkg/persistence/file"
	"github.com/opsdesk/stepflow/pkg/processor"
	"github.com/opsdesk/stepflow/pkg/protocol"
	"github.com/opsdesk/stepflow/pkg/registry"
	"github.com/opsdesk/stepflow/pkg/testutil"
	"github.com/opsdesk/stepflow/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store       persistence.Persistence
	definitions *workflow.DefinitionService
	engine      *workflow.Engine
	completion  *mocks.MockCompletionService
	tools       *mocks.MockToolInvoker
}

func newFixture(t *testing.T, opts ...workflow.EngineOption) *fixture {
	t.Helper()

	return newFixtureWithStore(t, file.NewPersistence(t.TempDir()), opts...)
}

func newFixtureWithStore(t *testing.T, store persistence.Persistence, opts ...workflow.EngineOption) *fixture {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	completion := &mocks.MockCompletionService{}
	tools := &mocks.MockToolInvoker{}

	reg := registry.NewRegistry(logger)
	reg.RegisterDefaultSteps(completion, tools)

	definitions := workflow.NewDefinitionService(store, logger)

	return &fixture{
		store:       store,
		definitions: definitions,
		engine:      workflow.NewEngine(definitions, store, processor.New(reg, logger), logger, opts...),
		completion:  completion,
		tools:       tools,
	}
}

func (f *fixture) define(t *testing.T, overrides ...func(*models.WorkflowDefinition)) *models.WorkflowDefinition {
	t.Helper()

	definition, err := f.definitions.Create(context.Background(), testutil.CreateTestDefinition(overrides...))
	require.NoError(t, err)

	return definition
}

func (f *fixture) start(t *testing.T, definition *models.WorkflowDefinition, initiator string) *models.WorkflowInstance {
	t.Helper()

	result, err := f.engine.CreateInstance(context.Background(), workflow.CreateInstanceRequest{
		WorkflowID:     definition.ID,
		InitiatorID:    initiator,
		OrganizationID: "org-1",
		InitialContext: map[string]any{"channel": "web"},
	})
	require.NoError(t, err)

	return result.Instance
}

func (f *fixture) execute(instanceID, stepID string, input map[string]any) (*workflow.ExecuteStepResult, error) {
	return f.engine.ExecuteStep(context.Background(), workflow.ExecuteStepRequest{
		InstanceID: instanceID,
		StepID:     stepID,
		InputData:  input,
		ActorID:    "user-1",
	})
}

func TestEngine_RunsStepsInOrderUntilCompleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.completion.On("Complete", mock.Anything, "Summarise Acme", mock.Anything).Return("Acme sells anvils", nil)

	definition := f.define(t, testutil.WithSteps(
		testutil.CreateTestStep(1, models.StepTypeFormInput),
		testutil.CreateTestStep(2, models.StepTypeDataTransform),
		testutil.CreateTestStep(3, models.StepTypeAIProcessing),
	))

	created, err := f.engine.CreateInstance(ctx, workflow.CreateInstanceRequest{
		WorkflowID:     definition.ID,
		InitiatorID:    "user-1",
		InitialContext: map[string]any{"channel": "web"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusInProgress, created.Instance.Status)
	assert.Equal(t, "step-1", created.Instance.CurrentStepID)
	assert.Equal(t, "org-1", created.Instance.OrganizationID, "organization falls back to the definition's")
	assert.Equal(t, "step-1", created.FirstStep.ID)
	assert.Equal(t, 1, created.Execution.ExecutionOrder)
	assert.Equal(t, models.StepExecutionStatusWaitingInput, created.Execution.Status)

	instanceID := created.Instance.ID

	first, err := f.execute(instanceID, "step-1", map[string]any{"company": "Acme", "undeclared": true})
	require.NoError(t, err)
	assert.False(t, first.Completed)
	assert.Equal(t, "step-2", first.NextStep.ID)

	second, err := f.execute(instanceID, "step-2", nil)
	require.NoError(t, err)
	assert.Equal(t, "step-3", second.NextStep.ID)

	third, err := f.execute(instanceID, "step-3", nil)
	require.NoError(t, err)
	assert.True(t, third.Completed)
	assert.Nil(t, third.NextStep)
	assert.Equal(t, "Acme sells anvils", third.Output["summary"])

	details, err := f.engine.FetchInstance(ctx, instanceID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCompleted, details.Instance.Status)
	require.NotNil(t, details.Instance.CompletedAt)

	require.Len(t, details.Executions, 3)

	for i, execution := range details.Executions {
		assert.Equal(t, i+1, execution.ExecutionOrder)
		assert.Equal(t, models.StepExecutionStatusCompleted, execution.Status)
		assert.NotNil(t, execution.StartedAt)
		assert.NotNil(t, execution.CompletedAt)
	}

	assert.Equal(t, map[string]any{
		"channel": "web",
		"company": "Acme",
		"status":  "processed",
		"summary": "Acme sells anvils",
	}, details.Instance.ContextData)

	f.completion.AssertExpectations(t)
}

func TestEngine_CreateInstanceFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	empty := f.define(t)
	inactive := f.define(t, testutil.WithInactive(), testutil.WithSteps(testutil.CreateTestStep(1, models.StepTypeConditional)))

	tests := []struct {
		name  string
		req   workflow.CreateInstanceRequest
		check func(t *testing.T, err error)
	}{
		{
			name: "definition without steps",
			req:  workflow.CreateInstanceRequest{WorkflowID: empty.ID, InitiatorID: "user-1"},
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, workflow.ErrDefinitionHasNoSteps)
				assert.True(t, workflow.IsValidation(err))
			},
		},
		{
			name: "inactive definition",
			req:  workflow.CreateInstanceRequest{WorkflowID: inactive.ID, InitiatorID: "user-1"},
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, workflow.ErrDefinitionInactive)
			},
		},
		{
			name: "unknown definition",
			req:  workflow.CreateInstanceRequest{WorkflowID: "missing", InitiatorID: "user-1"},
			check: func(t *testing.T, err error) {
				assert.True(t, workflow.IsNotFound(err))
			},
		},
		{
			name: "missing initiator",
			req:  workflow.CreateInstanceRequest{WorkflowID: inactive.ID},
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, workflow.ErrInvalidRequest)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := f.engine.CreateInstance(ctx, tt.req)
			require.Error(t, err)
			assert.Nil(t, result)
			tt.check(t, err)
		})
	}

	for _, definition := range []*models.WorkflowDefinition{empty, inactive} {
		count, err := f.store.InstanceRepository().CountByWorkflow(ctx, definition.ID)
		require.NoError(t, err)
		assert.Zero(t, count, "no instance row may be written")
	}
}

func TestEngine_FormValidationReportsEveryMissingField(t *testing.T) {
	f := newFixture(t)

	form := testutil.CreateTestStep(1, models.StepTypeFormInput, testutil.WithStepConfig(map[string]any{
		"fields": []any{
			map[string]any{"name": "name", "type": "text", "required": true},
			map[string]any{"name": "email", "type": "email", "required": true},
			map[string]any{"name": "notes", "type": "textarea"},
		},
	}))
	instance := f.start(t, f.define(t, testutil.WithSteps(form)), "user-1")

	_, err := f.execute(instance.ID, "step-1", map[string]any{"notes": "hi", "name": ""})
	require.Error(t, err)

	var validationErr *protocol.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, []string{"email", "name"}, validationErr.FieldNames())
	assert.True(t, workflow.IsValidation(err))
	assert.False(t, workflow.IsRetryPending(err))

	details, err := f.engine.FetchInstance(context.Background(), instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusInProgress, details.Instance.Status)
	assert.Equal(t, "step-1", details.Instance.CurrentStepID)
	assert.Equal(t, instance.Version, details.Instance.Version, "instance is not written")

	require.Len(t, details.Executions, 1)
	assert.Equal(t, models.StepExecutionStatusWaitingInput, details.Executions[0].Status)
	assert.Zero(t, details.Executions[0].RetryCount)
	assert.Contains(t, details.Executions[0].ErrorMessage, "email")

	result, err := f.execute(instance.ID, "step-1", map[string]any{"name": "Ada", "email": "ada@example.com"})
	require.NoError(t, err)
	assert.True(t, result.Completed)
}

func TestEngine_RetriesAreBounded(t *testing.T) {
	store := file.NewPersistence(t.TempDir())
	logger := slog.New(slog.DiscardHandler)
	definitions := workflow.NewDefinitionService(store, logger)
	stepProcessor := &mocks.MockStepProcessor{}
	engine := workflow.NewEngine(definitions, store, stepProcessor, logger)
	ctx := context.Background()

	stepProcessor.On("ProcessStep", mock.Anything, mock.Anything).
		Return(nil, protocol.NewExecutionError("step-1", "crm unavailable", nil))

	definition, err := definitions.Create(ctx, testutil.CreateTestDefinition(testutil.WithSteps(
		testutil.CreateTestStep(1, models.StepTypeToolExecution, testutil.WithMaxRetries(2)),
		testutil.CreateTestStep(2, models.StepTypeConditional),
	)))
	require.NoError(t, err)

	created, err := engine.CreateInstance(ctx, workflow.CreateInstanceRequest{WorkflowID: definition.ID, InitiatorID: "user-1"})
	require.NoError(t, err)

	req := workflow.ExecuteStepRequest{InstanceID: created.Instance.ID, StepID: "step-1", ActorID: "user-1"}

	for attempt := 1; attempt <= 2; attempt++ {
		_, err := engine.ExecuteStep(ctx, req)
		require.Error(t, err)

		var retryErr *workflow.RetryPendingError
		require.ErrorAs(t, err, &retryErr)
		assert.Equal(t, attempt, retryErr.RetryCount)
		assert.Equal(t, 2, retryErr.MaxRetries)

		execution, err := store.StepExecutionRepository().LatestForStep(ctx, created.Instance.ID, "step-1")
		require.NoError(t, err)
		assert.Equal(t, attempt, execution.RetryCount)
		assert.Equal(t, models.StepExecutionStatusPending, execution.Status)
		assert.Equal(t, "crm unavailable", execution.ErrorMessage)
	}

	_, err = engine.ExecuteStep(ctx, req)

	var failedErr *workflow.StepFailedError
	require.ErrorAs(t, err, &failedErr)
	assert.Equal(t, "step-1", failedErr.StepID)
	assert.True(t, protocol.IsExecutionError(err))

	instance, err := store.InstanceRepository().GetByID(ctx, created.Instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusFailed, instance.Status)
	assert.Equal(t, "crm unavailable", instance.Metadata["error"])
	assert.Equal(t, "step-1", instance.Metadata["failed_step_id"])
	assert.NotEmpty(t, instance.Metadata["failed_at"])
	assert.NotNil(t, instance.CompletedAt)

	execution, err := store.StepExecutionRepository().LatestForStep(ctx, created.Instance.ID, "step-1")
	require.NoError(t, err)
	assert.Equal(t, models.StepExecutionStatusFailed, execution.Status)

	_, err = engine.ExecuteStep(ctx, req)
	require.ErrorIs(t, err, workflow.ErrInstanceNotActive)
	assert.True(t, workflow.IsConflict(err))

	stepProcessor.AssertNumberOfCalls(t, "ProcessStep", 3)
}

func TestEngine_StepMustBeCurrent(t *testing.T) {
	f := newFixture(t)

	instance := f.start(t, f.define(t, testutil.WithSteps(
		testutil.CreateTestStep(1, models.StepTypeConditional),
		testutil.CreateTestStep(2, models.StepTypeConditional),
	)), "user-1")

	_, err := f.execute(instance.ID, "step-2", nil)
	require.ErrorIs(t, err, workflow.ErrStepNotCurrent)
	assert.True(t, workflow.IsValidation(err))

	_, err = f.execute(instance.ID, "ghost", nil)
	assert.True(t, workflow.IsNotFound(err))

	_, err = f.execute("missing-instance", "step-1", nil)
	assert.True(t, workflow.IsNotFound(err))
}

func TestEngine_ConditionalStepSurfacesNextAction(t *testing.T) {
	f := newFixture(t)

	instance := f.start(t, f.define(t, testutil.WithSteps(
		testutil.CreateTestStep(1, models.StepTypeConditional, testutil.WithStepConfig(map[string]any{
			"condition": "amount > 100", "trueStepId": "step-2",
		})),
		testutil.CreateTestStep(2, models.StepTypeConditional),
	)), "user-1")

	result, err := f.execute(instance.ID, "step-1", nil)
	require.NoError(t, err)
	assert.Equal(t, models.NextActionConditionalEvaluation, result.NextAction)
	assert.Equal(t, models.NextActionConditionalEvaluation, result.Output["next_action"])
	assert.Equal(t, "step-2", result.NextStep.ID, "the sequential rule still applies")
}

func TestEngine_CancelWorkflow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	instance := f.start(t, f.define(t, testutil.WithSteps(testutil.CreateTestStep(1, models.StepTypeFormInput))), "user-1")

	_, err := f.engine.CancelWorkflow(ctx, instance.ID, "user-2")
	require.Error(t, err)
	assert.True(t, workflow.IsAuthorization(err))

	unchanged, err := f.store.InstanceRepository().GetByID(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusInProgress, unchanged.Status)

	cancelled, err := f.engine.CancelWorkflow(ctx, instance.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.CompletedAt)
	assert.Equal(t, "user-1", cancelled.Metadata["cancelled_by"])

	details, err := f.engine.FetchInstance(ctx, instance.ID)
	require.NoError(t, err)
	require.Len(t, details.Executions, 1)
	assert.Equal(t, models.StepExecutionStatusSkipped, details.Executions[0].Status)

	_, err = f.engine.CancelWorkflow(ctx, instance.ID, "user-1")
	require.ErrorIs(t, err, workflow.ErrInvalidTransition)

	_, err = f.execute(instance.ID, "step-1", map[string]any{"company": "Acme"})
	require.ErrorIs(t, err, workflow.ErrInstanceNotActive)
}

func TestEngine_InstancesKeepTheirDefinitionVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	definition := f.define(t, testutil.WithSteps(testutil.CreateTestStep(1, models.StepTypeConditional)))
	pinned := f.start(t, definition, "user-1")

	_, err := f.definitions.Update(ctx, definition.ID, testutil.CreateTestDefinition(testutil.WithSteps(
		testutil.CreateTestStep(1, models.StepTypeConditional),
		testutil.CreateTestStep(2, models.StepTypeConditional),
	)))
	require.NoError(t, err)

	result, err := f.execute(pinned.ID, "step-1", nil)
	require.NoError(t, err)
	assert.True(t, result.Completed, "version 1 has a single step")

	fresh := f.start(t, definition, "user-1")
	assert.Equal(t, 2, fresh.WorkflowVersion)

	result, err = f.execute(fresh.ID, "step-1", nil)
	require.NoError(t, err)
	assert.False(t, result.Completed)
}

func TestEngine_FetchUserInstances(t *testing.T) {
	f := newFixture(t)
	definition := f.define(t, testutil.WithSteps(testutil.CreateTestStep(1, models.StepTypeConditional)))

	older := f.start(t, definition, "user-1")

	time.Sleep(5 * time.Millisecond)

	newer := f.start(t, definition, "user-1")
	f.start(t, definition, "user-2")

	instances, err := f.engine.FetchUserInstances(context.Background(), "user-1", "org-1")
	require.NoError(t, err)
	require.Len(t, instances, 2)
	assert.Equal(t, newer.ID, instances[0].ID)
	assert.Equal(t, older.ID, instances[1].ID)
}

func TestEngine_ConcurrentExecutionsOfOneStep(t *testing.T) {
	f := newFixture(t)

	instance := f.start(t, f.define(t, testutil.WithSteps(
		testutil.CreateTestStep(1, models.StepTypeDataTransform),
		testutil.CreateTestStep(2, models.StepTypeConditional),
	)), "user-1")

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)

	for range 5 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			if _, err := f.execute(instance.ID, "step-1", nil); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	assert.Equal(t, 1, successes)

	details, err := f.engine.FetchInstance(context.Background(), instance.ID)
	require.NoError(t, err)
	assert.Len(t, details.Executions, 2)
}

// conflictOnce fails the next instance update with a version conflict.
type conflictOnce struct {
	persistence.InstanceRepository

	mu      sync.Mutex
	pending bool
}

func (c *conflictOnce) Update(ctx context.Context, instance *models.WorkflowInstance) error {
	c.mu.Lock()
	fail := c.pending
	c.pending = false
	c.mu.Unlock()

	if fail {
		return persistence.NewInstanceError("Update", instance.ID, persistence.ErrVersionConflict)
	}

	return c.InstanceRepository.Update(ctx, instance)
}

type conflictingStore struct {
	persistence.Persistence

	instances *conflictOnce
}

func (s *conflictingStore) InstanceRepository() persistence.InstanceRepository {
	return s.instances
}

func TestEngine_VersionConflictReopensExecution(t *testing.T) {
	base := file.NewPersistence(t.TempDir())
	store := &conflictingStore{Persistence: base, instances: &conflictOnce{InstanceRepository: base.InstanceRepository()}}
	f := newFixtureWithStore(t, store)

	instance := f.start(t, f.define(t, testutil.WithSteps(
		testutil.CreateTestStep(1, models.StepTypeFormInput),
		testutil.CreateTestStep(2, models.StepTypeConditional),
	)), "user-1")

	store.instances.pending = true

	_, err := f.execute(instance.ID, "step-1", map[string]any{"company": "Acme"})
	require.Error(t, err)
	assert.True(t, workflow.IsConflict(err))

	execution, err := base.StepExecutionRepository().LatestForStep(context.Background(), instance.ID, "step-1")
	require.NoError(t, err)
	assert.Equal(t, models.StepExecutionStatusWaitingInput, execution.Status)

	result, err := f.execute(instance.ID, "step-1", map[string]any{"company": "Acme"})
	require.NoError(t, err)
	assert.Equal(t, "step-2", result.NextStep.ID)
}

func TestEngine_PublishesLifecycleEvents(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)

	pub, sub, err := gochannel.CreateChannel(watermill.NewSlogLogger(logger))
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(logger, pub, sub)
	t.Cleanup(func() { _ = bus.Close() })

	received := make(chan events.EventType, 10)

	for _, eventType := range []events.EventType{
		events.InstanceStartedEvent,
		events.StepCompletedEvent,
		events.StepNotificationRequestedEvent,
		events.InstanceCompletedEvent,
	} {
		require.NoError(t, bus.Handle(eventType, func(_ context.Context, event any) error {
			received <- event.(eventbus.Event).GetType()

			return nil
		}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx))

	f := newFixture(t, workflow.WithEventPublisher(bus))

	notify := testutil.CreateTestStep(1, models.StepTypeDataTransform, testutil.WithStepConfig(map[string]any{
		"actions": []any{
			map[string]any{"type": "notification", "recipient": "ops@example.com", "subject": "Done"},
		},
	}))

	instance := f.start(t, f.define(t, testutil.WithSteps(notify)), "user-1")

	_, err = f.execute(instance.ID, "step-1", nil)
	require.NoError(t, err)

	seen := map[events.EventType]bool{}

	for len(seen) < 4 {
		select {
		case eventType := <-received:
			seen[eventType] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("missing events, got %v", seen)
		}
	}
}

func TestEngine_PublishFailureDoesNotUndoTransition(t *testing.T) {
	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("broker down"))

	f := newFixture(t, workflow.WithEventPublisher(bus))

	instance := f.start(t, f.define(t, testutil.WithSteps(testutil.CreateTestStep(1, models.StepTypeConditional))), "user-1")
	assert.Equal(t, models.InstanceStatusInProgress, instance.Status)

	bus.AssertCalled(t, "Publish", mock.Anything, instance.ID, mock.Anything)
}

func TestEngine_FormValueFlowsIntoTransform(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	form := testutil.CreateTestStep(1, models.StepTypeFormInput, testutil.WithStepConfig(map[string]any{
		"fields": []any{
			map[string]any{"name": "amount", "type": "number", "required": true, "min": 0},
		},
	}))
	transform := testutil.CreateTestStep(2, models.StepTypeDataTransform, testutil.WithStepConfig(map[string]any{
		"actions": []any{
			map[string]any{"type": "set", "target": "recorded_amount", "value": "{{amount}}"},
		},
	}))
	instance := f.start(t, f.define(t, testutil.WithSteps(form, transform)), "user-1")

	_, err := f.execute(instance.ID, "step-1", map[string]any{"amount": float64(-1)})

	var validationErr *protocol.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, []string{"amount"}, validationErr.FieldNames())

	_, err = f.execute(instance.ID, "step-1", map[string]any{"amount": float64(42)})
	require.NoError(t, err)

	result, err := f.execute(instance.ID, "step-2", nil)
	require.NoError(t, err)
	assert.True(t, result.Completed)

	details, err := f.engine.FetchInstance(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, "42", details.Instance.ContextData["recorded_amount"])
	assert.InDelta(t, 42, details.Instance.ContextData["amount"], 0)
}

// ctxInstances and ctxExecutions reject writes once the caller's context is
// done, as a SQL driver does.
type ctxInstances struct {
	persistence.InstanceRepository
}

func (r ctxInstances) Update(ctx context.Context, instance *models.WorkflowInstance) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return r.InstanceRepository.Update(ctx, instance)
}

type ctxExecutions struct {
	persistence.StepExecutionRepository
}

func (r ctxExecutions) Create(ctx context.Context, execution *models.WorkflowStepExecution) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return r.StepExecutionRepository.Create(ctx, execution)
}

func (r ctxExecutions) Update(ctx context.Context, execution *models.WorkflowStepExecution) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return r.StepExecutionRepository.Update(ctx, execution)
}

type ctxStore struct {
	persistence.Persistence
}

func (s ctxStore) InstanceRepository() persistence.InstanceRepository {
	return ctxInstances{s.Persistence.InstanceRepository()}
}

func (s ctxStore) StepExecutionRepository() persistence.StepExecutionRepository {
	return ctxExecutions{s.Persistence.StepExecutionRepository()}
}

func TestEngine_CancelledRequestStillRecordsOutcome(t *testing.T) {
	base := file.NewPersistence(t.TempDir())
	store := ctxStore{base}
	logger := slog.New(slog.DiscardHandler)
	definitions := workflow.NewDefinitionService(store, logger)
	stepProcessor := &mocks.MockStepProcessor{}
	engine := workflow.NewEngine(definitions, store, stepProcessor, logger)
	ctx := context.Background()

	definition, err := definitions.Create(ctx, testutil.CreateTestDefinition(testutil.WithSteps(
		testutil.CreateTestStep(1, models.StepTypeToolExecution, testutil.WithMaxRetries(1)),
		testutil.CreateTestStep(2, models.StepTypeConditional),
	)))
	require.NoError(t, err)

	created, err := engine.CreateInstance(ctx, workflow.CreateInstanceRequest{WorkflowID: definition.ID, InitiatorID: "user-1"})
	require.NoError(t, err)

	instanceID := created.Instance.ID

	// The caller goes away while the step runs.
	var cancel context.CancelFunc

	stepProcessor.On("ProcessStep", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return(nil, protocol.NewExecutionError("step-1", "crm timeout", nil)).
		Once()
	stepProcessor.On("ProcessStep", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return(&models.StepResult{Output: map[string]any{"tier": "gold"}}, nil).
		Once()

	execute := func() error {
		var reqCtx context.Context

		reqCtx, cancel = context.WithCancel(ctx)
		defer cancel()

		_, err := engine.ExecuteStep(reqCtx, workflow.ExecuteStepRequest{InstanceID: instanceID, StepID: "step-1"})

		return err
	}

	err = execute()
	assert.True(t, workflow.IsRetryPending(err), "got %v", err)

	execution, err := base.StepExecutionRepository().LatestForStep(ctx, instanceID, "step-1")
	require.NoError(t, err)
	assert.Equal(t, models.StepExecutionStatusPending, execution.Status)
	assert.Equal(t, 1, execution.RetryCount)

	require.NoError(t, execute())

	details, err := engine.FetchInstance(ctx, instanceID)
	require.NoError(t, err)
	assert.Equal(t, "step-2", details.Instance.CurrentStepID)
	require.Len(t, details.Executions, 2)
	assert.Equal(t, models.StepExecutionStatusCompleted, details.Executions[0].Status)
	assert.Equal(t, models.StepExecutionStatusPending, details.Executions[1].Status)

	stepProcessor.AssertExpectations(t)
}

func TestEngine_ReopensInterruptedExecution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	instance := f.start(t, f.define(t, testutil.WithSteps(
		testutil.CreateTestStep(1, models.StepTypeFormInput),
		testutil.CreateTestStep(2, models.StepTypeConditional),
	)), "user-1")

	executions := f.store.StepExecutionRepository()

	execution, err := executions.LatestForStep(ctx, instance.ID, "step-1")
	require.NoError(t, err)

	execution.Status = models.StepExecutionStatusExecuting
	require.NoError(t, executions.Update(ctx, execution))

	_, err = f.execute(instance.ID, "step-1", map[string]any{})
	require.True(t, protocol.IsValidationError(err), "got %v", err)

	execution, err = executions.LatestForStep(ctx, instance.ID, "step-1")
	require.NoError(t, err)
	assert.Equal(t, models.StepExecutionStatusWaitingInput, execution.Status)

	result, err := f.execute(instance.ID, "step-1", map[string]any{"company": "Acme"})
	require.NoError(t, err)
	assert.Equal(t, "step-2", result.NextStep.ID)
	assert.Equal(t, execution.ID, result.Execution.ID)
}

// flakyExecutions fails the Create call numbered failOn.
type flakyExecutions struct {
	persistence.StepExecutionRepository

	mu     sync.Mutex
	calls  int
	failOn int
}

func (r *flakyExecutions) Create(ctx context.Context, execution *models.WorkflowStepExecution) error {
	r.mu.Lock()
	r.calls++
	fail := r.calls == r.failOn
	r.mu.Unlock()

	if fail {
		return errors.New("transient insert failure")
	}

	return r.StepExecutionRepository.Create(ctx, execution)
}

type flakyStore struct {
	persistence.Persistence

	executions *flakyExecutions
}

func (s *flakyStore) StepExecutionRepository() persistence.StepExecutionRepository {
	return s.executions
}

func TestEngine_CreatesMissingExecutionForCurrentStep(t *testing.T) {
	base := file.NewPersistence(t.TempDir())
	store := &flakyStore{
		Persistence: base,
		executions:  &flakyExecutions{StepExecutionRepository: base.StepExecutionRepository(), failOn: 2},
	}
	f := newFixtureWithStore(t, store)
	ctx := context.Background()

	instance := f.start(t, f.define(t, testutil.WithSteps(
		testutil.CreateTestStep(1, models.StepTypeFormInput),
		testutil.CreateTestStep(2, models.StepTypeConditional),
	)), "user-1")

	first, err := f.execute(instance.ID, "step-1", map[string]any{"company": "Acme"})
	require.NoError(t, err)
	assert.Equal(t, "step-2", first.NextStep.ID)

	details, err := f.engine.FetchInstance(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, "step-2", details.Instance.CurrentStepID)
	require.Len(t, details.Executions, 1, "next row was not written")

	second, err := f.execute(instance.ID, "step-2", nil)
	require.NoError(t, err)
	assert.True(t, second.Completed)
	assert.Equal(t, 2, second.Execution.ExecutionOrder)

	details, err = f.engine.FetchInstance(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCompleted, details.Instance.Status)
	require.Len(t, details.Executions, 2)
	assert.Equal(t, "step-2", details.Executions[1].StepID)
}
