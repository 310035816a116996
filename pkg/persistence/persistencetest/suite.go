// Package persistencetest holds the behaviour every persistence backend must
// exhibit, runnable against any persistence.Persistence.
package persistencetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/opsdesk/stepflow/pkg/models"
	"github.com/opsdesk/stepflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty store for one subtest.
type Factory func(t *testing.T) persistence.Persistence

// Run executes the whole suite.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("definition versions", func(t *testing.T) { testDefinitionVersions(t, newStore(t)) })
	t.Run("definition list and activation", func(t *testing.T) { testDefinitionListAndActivation(t, newStore(t)) })
	t.Run("instance lifecycle", func(t *testing.T) { testInstanceLifecycle(t, newStore(t)) })
	t.Run("instance optimistic update", func(t *testing.T) { testInstanceOptimisticUpdate(t, newStore(t)) })
	t.Run("instances by initiator", func(t *testing.T) { testInstancesByInitiator(t, newStore(t)) })
	t.Run("step executions", func(t *testing.T) { testStepExecutions(t, newStore(t)) })
	t.Run("health check", func(t *testing.T) {
		require.NoError(t, newStore(t).HealthCheck(context.Background()))
	})
}

// Definition builds a two step definition.
func Definition(id, orgID string, version int) *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		ID:             id,
		OrganizationID: orgID,
		Name:           "Customer onboarding",
		Category:       "onboarding",
		IsActive:       true,
		Version:        version,
		CreatedBy:      "author-1",
		Steps: []*models.WorkflowStep{
			{
				ID:        "collect",
				Name:      "Collect details",
				StepOrder: 1,
				StepType:  models.StepTypeFormInput,
				Config: map[string]any{
					"fields": []any{map[string]any{"name": "company", "type": "text", "required": true}},
				},
				RetryConfig: models.RetryConfig{MaxRetries: 0},
			},
			{
				ID:             "notify",
				Name:           "Notify",
				StepOrder:      2,
				StepType:       models.StepTypeDataTransform,
				Config:         map[string]any{"actions": []any{}},
				RetryConfig:    models.RetryConfig{MaxRetries: 2, RetryDelaySeconds: 5},
				DependsOnSteps: []string{"collect"},
			},
		},
	}
}

// Execution builds a pending step execution.
func Execution(instanceID, stepID string, order int) *models.WorkflowStepExecution {
	return &models.WorkflowStepExecution{
		ID:             uuid.NewString(),
		InstanceID:     instanceID,
		StepID:         stepID,
		ExecutionOrder: order,
		Status:         models.StepExecutionStatusPending,
	}
}

func instance(workflowID, userID, orgID string, created time.Time) *models.WorkflowInstance {
	return &models.WorkflowInstance{
		ID:              uuid.NewString(),
		WorkflowID:      workflowID,
		WorkflowVersion: 1,
		OrganizationID:  orgID,
		CurrentStepID:   "collect",
		Status:          models.InstanceStatusInProgress,
		InitiatedBy:     userID,
		ContextData:     map[string]any{"source": "test"},
		StartedAt:       created,
		CreatedAt:       created,
	}
}

func testDefinitionVersions(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	repo := store.DefinitionRepository()
	id := uuid.NewString()

	_, err := repo.Latest(ctx, id)
	require.True(t, persistence.IsDefinitionNotFound(err))

	require.NoError(t, repo.Save(ctx, Definition(id, "org-1", 1)))

	v2 := Definition(id, "org-1", 2)
	v2.Name = "Customer onboarding v2"
	require.NoError(t, repo.Save(ctx, v2))

	err = repo.Save(ctx, Definition(id, "org-1", 2))
	require.ErrorIs(t, err, persistence.ErrDefinitionVersionExists)

	latest, err := repo.Latest(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version)
	assert.Equal(t, "Customer onboarding v2", latest.Name)
	require.Len(t, latest.Steps, 2)
	assert.Equal(t, id, latest.Steps[0].WorkflowID)
	assert.Equal(t, models.StepTypeFormInput, latest.Steps[0].StepType)
	assert.Equal(t, 2, latest.Steps[1].RetryConfig.MaxRetries)
	assert.Equal(t, []string{"collect"}, latest.Steps[1].DependsOnSteps)

	first, err := repo.Version(ctx, id, 1)
	require.NoError(t, err)
	assert.Equal(t, "Customer onboarding", first.Name)

	_, err = repo.Version(ctx, id, 9)
	assert.True(t, persistence.IsDefinitionNotFound(err))
}

func testDefinitionListAndActivation(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	repo := store.DefinitionRepository()

	a, b, c := uuid.NewString(), uuid.NewString(), uuid.NewString()
	require.NoError(t, repo.Save(ctx, Definition(a, "org-1", 1)))
	require.NoError(t, repo.Save(ctx, Definition(a, "org-1", 2)))
	require.NoError(t, repo.Save(ctx, Definition(b, "org-1", 1)))
	require.NoError(t, repo.Save(ctx, Definition(c, "org-2", 1)))

	list, err := repo.List(ctx, "org-1")
	require.NoError(t, err)
	require.Len(t, list, 2)

	versions := map[string]int{}
	for _, def := range list {
		versions[def.ID] = def.Version
	}

	assert.Equal(t, map[string]int{a: 2, b: 1}, versions)

	require.NoError(t, repo.SetActive(ctx, a, false))

	latest, err := repo.Latest(ctx, a)
	require.NoError(t, err)
	assert.False(t, latest.IsActive)

	first, err := repo.Version(ctx, a, 1)
	require.NoError(t, err)
	assert.False(t, first.IsActive)

	err = repo.SetActive(ctx, uuid.NewString(), true)
	assert.True(t, persistence.IsDefinitionNotFound(err))
}

func testInstanceLifecycle(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	repo := store.InstanceRepository()
	workflowID := uuid.NewString()

	inst := instance(workflowID, "user-1", "org-1", time.Now().UTC())
	require.NoError(t, repo.Create(ctx, inst))
	assert.Equal(t, int64(1), inst.Version)

	loaded, err := repo.GetByID(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusInProgress, loaded.Status)
	assert.Equal(t, "test", loaded.ContextData["source"])
	assert.Equal(t, int64(1), loaded.Version)
	assert.Nil(t, loaded.CompletedAt)

	completed := time.Now().UTC().Truncate(time.Millisecond)
	loaded.Status = models.InstanceStatusCompleted
	loaded.CompletedAt = &completed
	loaded.MergeContext(map[string]any{"company": "Acme"})
	require.NoError(t, repo.Update(ctx, loaded))
	assert.Equal(t, int64(2), loaded.Version)

	reloaded, err := repo.GetByID(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCompleted, reloaded.Status)
	assert.Equal(t, "Acme", reloaded.ContextData["company"])
	require.NotNil(t, reloaded.CompletedAt)
	assert.WithinDuration(t, completed, *reloaded.CompletedAt, time.Millisecond)

	count, err := repo.CountByWorkflow(ctx, workflowID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = repo.GetByID(ctx, uuid.NewString())
	assert.True(t, persistence.IsInstanceNotFound(err))
}

func testInstanceOptimisticUpdate(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	repo := store.InstanceRepository()

	inst := instance(uuid.NewString(), "user-1", "org-1", time.Now().UTC())
	require.NoError(t, repo.Create(ctx, inst))

	first, err := repo.GetByID(ctx, inst.ID)
	require.NoError(t, err)
	second, err := repo.GetByID(ctx, inst.ID)
	require.NoError(t, err)

	first.CurrentStepID = "notify"
	require.NoError(t, repo.Update(ctx, first))

	second.Status = models.InstanceStatusCancelled
	err = repo.Update(ctx, second)
	require.Error(t, err)
	assert.True(t, persistence.IsVersionConflict(err))

	stored, err := repo.GetByID(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, "notify", stored.CurrentStepID)
	assert.Equal(t, models.InstanceStatusInProgress, stored.Status)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)

	for range 5 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			copyOf := *stored
			if err := repo.Update(ctx, &copyOf); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	assert.Equal(t, 1, successes, "exactly one concurrent writer wins")

	missing := instance("wf", "user-1", "org-1", time.Now())
	err = repo.Update(ctx, missing)
	assert.True(t, persistence.IsInstanceNotFound(err))
}

func testInstancesByInitiator(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	repo := store.InstanceRepository()
	base := time.Now().UTC().Add(-time.Hour)

	older := instance("wf-a", "user-1", "org-1", base)
	newer := instance("wf-b", "user-1", "org-1", base.Add(10*time.Minute))
	otherOrg := instance("wf-a", "user-1", "org-2", base.Add(20*time.Minute))
	otherUser := instance("wf-a", "user-2", "org-1", base.Add(30*time.Minute))

	for _, inst := range []*models.WorkflowInstance{older, newer, otherOrg, otherUser} {
		require.NoError(t, repo.Create(ctx, inst))
	}

	list, err := repo.ListByInitiator(ctx, "user-1", "org-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, newer.ID, list[0].ID)
	assert.Equal(t, older.ID, list[1].ID)

	none, err := repo.ListByInitiator(ctx, "nobody", "org-1")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testStepExecutions(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	repo := store.StepExecutionRepository()

	inst := instance(uuid.NewString(), "user-1", "org-1", time.Now().UTC())
	require.NoError(t, store.InstanceRepository().Create(ctx, inst))

	started := time.Now().UTC().Truncate(time.Millisecond)

	first := &models.WorkflowStepExecution{
		ID:             uuid.NewString(),
		InstanceID:     inst.ID,
		StepID:         "collect",
		ExecutionOrder: 1,
		Status:         models.StepExecutionStatusWaitingInput,
	}
	require.NoError(t, repo.Create(ctx, first))

	second := &models.WorkflowStepExecution{
		ID:             uuid.NewString(),
		InstanceID:     inst.ID,
		StepID:         "notify",
		ExecutionOrder: 2,
		Status:         models.StepExecutionStatusPending,
	}
	require.NoError(t, repo.Create(ctx, second))

	first.Status = models.StepExecutionStatusCompleted
	first.InputData = map[string]any{"company": "Acme"}
	first.OutputData = map[string]any{"company": "Acme"}
	first.ExecutionTimeMs = 12
	first.StartedAt = &started
	first.CompletedAt = &started
	require.NoError(t, repo.Update(ctx, first))

	loaded, err := repo.GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepExecutionStatusCompleted, loaded.Status)
	assert.Equal(t, "Acme", loaded.OutputData["company"])
	assert.Equal(t, int64(12), loaded.ExecutionTimeMs)
	require.NotNil(t, loaded.StartedAt)

	list, err := repo.ListByInstance(ctx, inst.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, 1, list[0].ExecutionOrder)
	assert.Equal(t, 2, list[1].ExecutionOrder)

	latest, err := repo.LatestForStep(ctx, inst.ID, "notify")
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)

	_, err = repo.LatestForStep(ctx, inst.ID, "missing")
	assert.True(t, persistence.IsStepExecutionNotFound(err))

	_, err = repo.GetByID(ctx, uuid.NewString())
	assert.True(t, persistence.IsStepExecutionNotFound(err))

	ghost := &models.WorkflowStepExecution{ID: uuid.NewString(), InstanceID: inst.ID, StepID: "collect"}
	assert.True(t, persistence.IsStepExecutionNotFound(repo.Update(ctx, ghost)))
}
