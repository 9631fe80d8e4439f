package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wardenhq/warden/pkg/config"
	"github.com/wardenhq/warden/pkg/errdefs"
	"github.com/wardenhq/warden/pkg/handlers"
	"github.com/wardenhq/warden/pkg/storage"
	"github.com/wardenhq/warden/pkg/types"
)

func testConfig() *config.Config {
	return &config.Config{
		MaxRetryAttempts:      5,
		RetryBackoffBase:      time.Millisecond,
		CircuitThreshold:      5,
		CircuitResetWindow:    time.Minute,
		AgentInactivityWindow: 5 * time.Minute,
		SelfHealEnabled:       true,
		SelfCheckInterval:     time.Minute,
		DispatchTimeout:       time.Second,
	}
}

func newTestScheduler(t *testing.T, registry *handlers.Registry) (*Scheduler, storage.Store) {
	t.Helper()

	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	sched, err := NewScheduler(testConfig(), store, registry, nil)
	require.NoError(t, err)
	return sched, store
}

func failingRegistry(taskType types.TaskType) *handlers.Registry {
	registry := handlers.NewRegistry()
	registry.Register(taskType, func(ctx context.Context, payload map[string]interface{}) (map[string]interface{}, error) {
		return nil, fmt.Errorf("handler exploded")
	})
	return registry
}

func TestEnqueueDefaults(t *testing.T) {
	sched, _ := newTestScheduler(t, handlers.NewRegistry())

	task, err := sched.Enqueue(EnqueueRequest{Type: types.TaskTypeNoop})
	require.NoError(t, err)

	assert.NotEmpty(t, task.ID)
	assert.Equal(t, types.TaskStatusPending, task.Status)
	assert.Equal(t, 5, task.Priority)
	assert.Equal(t, 0, task.RetryCount)
	assert.Equal(t, 5, task.MaxRetries)
	assert.False(t, task.CreatedAt.IsZero())
	assert.False(t, task.UpdatedAt.IsZero())
}

func TestEnqueueOverrides(t *testing.T) {
	sched, _ := newTestScheduler(t, handlers.NewRegistry())

	priority := 1
	maxRetries := 2
	task, err := sched.Enqueue(EnqueueRequest{
		Type:       types.TaskTypeSelfHeal,
		Priority:   &priority,
		MaxRetries: &maxRetries,
		Payload:    map[string]interface{}{"target": "repo-scraper"},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, task.Priority)
	assert.Equal(t, 2, task.MaxRetries)
	assert.Equal(t, "repo-scraper", task.Payload["target"])
}

func TestEnqueueValidation(t *testing.T) {
	sched, _ := newTestScheduler(t, handlers.NewRegistry())
	negative := -1

	tests := []struct {
		name string
		req  EnqueueRequest
	}{
		{name: "missing type", req: EnqueueRequest{}},
		{name: "negative priority", req: EnqueueRequest{Type: types.TaskTypeNoop, Priority: &negative}},
		{name: "negative max retries", req: EnqueueRequest{Type: types.TaskTypeNoop, MaxRetries: &negative}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := sched.Enqueue(tt.req)
			assert.True(t, errdefs.IsValidation(err))
		})
	}
}

func TestGetTaskNotFound(t *testing.T) {
	sched, _ := newTestScheduler(t, handlers.NewRegistry())

	_, err := sched.GetTask("nope")
	assert.True(t, errdefs.IsNotFound(err))
}

func TestProcessNextPriorityOrder(t *testing.T) {
	var executed []string
	registry := handlers.NewRegistry()
	registry.Register(types.TaskTypeNoop, func(ctx context.Context, payload map[string]interface{}) (map[string]interface{}, error) {
		executed = append(executed, payload["name"].(string))
		return nil, nil
	})
	sched, _ := newTestScheduler(t, registry)

	p1, p5 := 1, 5
	_, err := sched.Enqueue(EnqueueRequest{Type: types.TaskTypeNoop, Priority: &p5, Payload: map[string]interface{}{"name": "B"}})
	require.NoError(t, err)
	_, err = sched.Enqueue(EnqueueRequest{Type: types.TaskTypeNoop, Priority: &p1, Payload: map[string]interface{}{"name": "A"}})
	require.NoError(t, err)

	processed, task, err := sched.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)
	assert.Equal(t, types.TaskStatusCompleted, task.Status)
	assert.Equal(t, []string{"A"}, executed)
}

func TestProcessNextTieBreakByEnqueueOrder(t *testing.T) {
	var executed []string
	registry := handlers.NewRegistry()
	registry.Register(types.TaskTypeNoop, func(ctx context.Context, payload map[string]interface{}) (map[string]interface{}, error) {
		executed = append(executed, payload["name"].(string))
		return nil, nil
	})
	sched, _ := newTestScheduler(t, registry)

	for _, name := range []string{"first", "second", "third"} {
		_, err := sched.Enqueue(EnqueueRequest{Type: types.TaskTypeNoop, Payload: map[string]interface{}{"name": name}})
		require.NoError(t, err)
	}

	for i := 0; i < 3; i++ {
		processed, _, err := sched.ProcessNext(context.Background())
		require.NoError(t, err)
		assert.True(t, processed)
	}
	assert.Equal(t, []string{"first", "second", "third"}, executed)
}

func TestProcessNextEmptyQueue(t *testing.T) {
	sched, _ := newTestScheduler(t, handlers.NewRegistry())

	processed, task, err := sched.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.False(t, processed)
	assert.Nil(t, task)
}

func TestRetryExhaustion(t *testing.T) {
	sched, _ := newTestScheduler(t, failingRegistry(types.TaskTypeSync))

	maxRetries := 2
	task, err := sched.Enqueue(EnqueueRequest{Type: types.TaskTypeSync, MaxRetries: &maxRetries})
	require.NoError(t, err)

	// Failure 1 and 2 leave retry budget, so the task goes back to retrying
	for attempt := 1; attempt <= 2; attempt++ {
		processed, processedTask, err := sched.ProcessNext(context.Background())
		require.NoError(t, err)
		assert.True(t, processed)
		assert.Equal(t, types.TaskStatusRetrying, processedTask.Status)
		assert.Equal(t, attempt, processedTask.RetryCount)
		assert.Contains(t, processedTask.Error, "handler exploded")
	}

	// Failure 3 exhausts the budget
	processed, processedTask, err := sched.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)
	assert.Equal(t, types.TaskStatusFailed, processedTask.Status)
	assert.Equal(t, 2, processedTask.RetryCount)

	// Terminal: nothing left to process, no further retry transition
	processed, _, err = sched.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.False(t, processed)

	final, err := sched.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusFailed, final.Status)
	assert.Equal(t, 2, final.RetryCount)

	status := sched.Status()
	assert.Equal(t, 1, status.Stats.TotalEnqueued)
	assert.Equal(t, 2, status.Stats.TotalRetried)
	assert.Equal(t, 3, status.Stats.TotalFailed)
}

func TestUpdateTaskTransitions(t *testing.T) {
	sched, _ := newTestScheduler(t, handlers.NewRegistry())

	task, err := sched.Enqueue(EnqueueRequest{Type: types.TaskTypeNoop})
	require.NoError(t, err)

	running := types.TaskStatusRunning
	updated, err := sched.UpdateTask(task.ID, TaskUpdate{Status: &running})
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusRunning, updated.Status)

	completed := types.TaskStatusCompleted
	updated, err = sched.UpdateTask(task.ID, TaskUpdate{
		Status: &completed,
		Result: map[string]interface{}{"published": true},
	})
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusCompleted, updated.Status)
	assert.False(t, updated.CompletedAt.IsZero())
	assert.Equal(t, true, updated.Result["published"])
	assert.Equal(t, 1, sched.Status().Stats.TotalCompleted)
}

func TestUpdateTaskCompletedDefaultsResult(t *testing.T) {
	sched, _ := newTestScheduler(t, handlers.NewRegistry())

	task, err := sched.Enqueue(EnqueueRequest{Type: types.TaskTypeNoop})
	require.NoError(t, err)

	completed := types.TaskStatusCompleted
	updated, err := sched.UpdateTask(task.ID, TaskUpdate{Status: &completed})
	require.NoError(t, err)

	assert.Equal(t, types.TaskStatusCompleted, updated.Status)
	assert.NotNil(t, updated.Result)
	assert.Empty(t, updated.Result)
}

func TestDrainHonorsRetryBackoff(t *testing.T) {
	cfg := testConfig()
	cfg.RetryBackoffBase = time.Hour

	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	sched, err := NewScheduler(cfg, store, failingRegistry(types.TaskTypeSync), nil)
	require.NoError(t, err)
	sched.Start()
	t.Cleanup(sched.Stop)

	maxRetries := 2
	task, err := sched.Enqueue(EnqueueRequest{Type: types.TaskTypeSync, MaxRetries: &maxRetries})
	require.NoError(t, err)

	// The drain loop runs the first attempt immediately
	require.Eventually(t, func() bool {
		got, err := sched.GetTask(task.ID)
		return err == nil && got.RetryCount == 1
	}, time.Second, 5*time.Millisecond)

	// With an hour-long backoff the retry must not fire again; a drain
	// that ignored the deadline would exhaust the budget in milliseconds
	time.Sleep(150 * time.Millisecond)

	got, err := sched.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusRetrying, got.Status)
	assert.Equal(t, 1, got.RetryCount)
}

func TestDrainRunsRetryAfterBackoff(t *testing.T) {
	sched, _ := newTestScheduler(t, failingRegistry(types.TaskTypeSync))
	sched.Start()
	t.Cleanup(sched.Stop)

	maxRetries := 2
	task, err := sched.Enqueue(EnqueueRequest{Type: types.TaskTypeSync, MaxRetries: &maxRetries})
	require.NoError(t, err)

	// Millisecond base: the loop walks the whole retry budget on its own
	require.Eventually(t, func() bool {
		got, err := sched.GetTask(task.ID)
		return err == nil && got.Status == types.TaskStatusFailed && got.RetryCount == 2
	}, 2*time.Second, 5*time.Millisecond)
}

func TestUpdateTaskFailedOverridesToRetrying(t *testing.T) {
	sched, _ := newTestScheduler(t, handlers.NewRegistry())

	task, err := sched.Enqueue(EnqueueRequest{Type: types.TaskTypeNoop})
	require.NoError(t, err)

	failed := types.TaskStatusFailed
	errMsg := "remote worker died"
	updated, err := sched.UpdateTask(task.ID, TaskUpdate{Status: &failed, Error: &errMsg})
	require.NoError(t, err)

	assert.Equal(t, types.TaskStatusRetrying, updated.Status)
	assert.Equal(t, 1, updated.RetryCount)
	assert.Equal(t, "remote worker died", updated.Error)
}

func TestUpdateTaskNotFound(t *testing.T) {
	sched, _ := newTestScheduler(t, handlers.NewRegistry())

	running := types.TaskStatusRunning
	_, err := sched.UpdateTask("missing", TaskUpdate{Status: &running})
	assert.True(t, errdefs.IsNotFound(err))
}

func TestRetryFailedIdempotent(t *testing.T) {
	sched, _ := newTestScheduler(t, failingRegistry(types.TaskTypeSync))

	// Exhausted task: zero retry budget
	zero := 0
	exhausted, err := sched.Enqueue(EnqueueRequest{Type: types.TaskTypeSync, MaxRetries: &zero})
	require.NoError(t, err)
	_, _, err = sched.ProcessNext(context.Background())
	require.NoError(t, err)

	// Failed task with budget remaining, forced terminal via update merge
	one := 1
	retryable, err := sched.Enqueue(EnqueueRequest{Type: types.TaskTypeSync, MaxRetries: &one})
	require.NoError(t, err)
	_, _, err = sched.ProcessNext(context.Background())
	require.NoError(t, err)
	_, _, err = sched.ProcessNext(context.Background())
	require.NoError(t, err)

	// retryable has now failed twice: retryCount == maxRetries == 1
	final, err := sched.GetTask(retryable.ID)
	require.NoError(t, err)
	require.Equal(t, types.TaskStatusFailed, final.Status)

	count, ids := sched.RetryFailed()
	assert.Equal(t, 0, count)
	assert.Empty(t, ids)

	terminal, err := sched.GetTask(exhausted.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusFailed, terminal.Status)
	assert.Equal(t, 0, terminal.RetryCount)
}

func TestRetryFailedRequeues(t *testing.T) {
	sched, _ := newTestScheduler(t, handlers.NewRegistry())

	task, err := sched.Enqueue(EnqueueRequest{Type: types.TaskTypeNoop})
	require.NoError(t, err)

	// Checkpointed failed state with retry budget left, as a restored
	// store could contain it
	sched.mu.Lock()
	sched.tasks[task.ID].Status = types.TaskStatusFailed
	sched.mu.Unlock()

	count, ids := sched.RetryFailed()
	assert.Equal(t, 1, count)
	assert.Equal(t, []string{task.ID}, ids)

	requeued, err := sched.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusRetrying, requeued.Status)
	assert.Equal(t, 1, requeued.RetryCount)
	assert.Equal(t, 1, sched.Status().Stats.TotalRetried)
}

func TestStatusCountsInvariant(t *testing.T) {
	registry := handlers.NewRegistry()
	registry.Register(types.TaskTypeNoop, func(ctx context.Context, payload map[string]interface{}) (map[string]interface{}, error) {
		return nil, nil
	})
	registry.Register(types.TaskTypeSync, func(ctx context.Context, payload map[string]interface{}) (map[string]interface{}, error) {
		return nil, fmt.Errorf("boom")
	})
	sched, _ := newTestScheduler(t, registry)

	zero := 0
	for i := 0; i < 3; i++ {
		_, err := sched.Enqueue(EnqueueRequest{Type: types.TaskTypeNoop})
		require.NoError(t, err)
	}
	for i := 0; i < 2; i++ {
		_, err := sched.Enqueue(EnqueueRequest{Type: types.TaskTypeSync, MaxRetries: &zero})
		require.NoError(t, err)
	}

	for i := 0; i < 5; i++ {
		_, _, err := sched.ProcessNext(context.Background())
		require.NoError(t, err)
	}

	status := sched.Status()
	assert.Equal(t, 5, status.Total)
	assert.Equal(t, 5, status.Stats.TotalEnqueued)
	completed := status.Total - status.Pending - status.Running - status.Failed - status.Retrying
	assert.Equal(t, status.Stats.TotalCompleted, completed)
	assert.Equal(t, 2, status.Failed)
}

func TestStateRestoredAcrossRestart(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	registry := handlers.NewRegistry()
	sched, err := NewScheduler(testConfig(), store, registry, nil)
	require.NoError(t, err)

	task, err := sched.Enqueue(EnqueueRequest{Type: types.TaskTypeNoop})
	require.NoError(t, err)

	// Simulate a crash mid-dispatch: task checkpointed as running
	running := types.TaskStatusRunning
	_, err = sched.UpdateTask(task.ID, TaskUpdate{Status: &running})
	require.NoError(t, err)

	restarted, err := NewScheduler(testConfig(), store, registry, nil)
	require.NoError(t, err)

	restored, err := restarted.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusRetrying, restored.Status)
	assert.Equal(t, "interrupted by restart", restored.Error)
	assert.Equal(t, 1, restarted.Status().Stats.TotalEnqueued)
}

func TestHandlerPanicFailsTask(t *testing.T) {
	registry := handlers.NewRegistry()
	registry.Register(types.TaskTypePublish, func(ctx context.Context, payload map[string]interface{}) (map[string]interface{}, error) {
		panic("handler bug")
	})
	sched, _ := newTestScheduler(t, registry)

	zero := 0
	_, err := sched.Enqueue(EnqueueRequest{Type: types.TaskTypePublish, MaxRetries: &zero})
	require.NoError(t, err)

	processed, task, err := sched.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)
	assert.Equal(t, types.TaskStatusFailed, task.Status)
	assert.Contains(t, task.Error, "handler panic")
}

func TestUnregisteredTypeFailsTask(t *testing.T) {
	sched, _ := newTestScheduler(t, handlers.NewRegistry())

	zero := 0
	_, err := sched.Enqueue(EnqueueRequest{Type: types.TaskTypePublish, MaxRetries: &zero})
	require.NoError(t, err)

	processed, task, err := sched.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)
	assert.Equal(t, types.TaskStatusFailed, task.Status)
	assert.Contains(t, task.Error, "no handler registered")
}
