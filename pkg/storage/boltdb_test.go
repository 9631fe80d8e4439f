package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wardenhq/warden/pkg/errdefs"
	"github.com/wardenhq/warden/pkg/types"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()

	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestTaskRoundTrip(t *testing.T) {
	store := newTestStore(t)

	task := &types.Task{
		ID:         "t1",
		Type:       types.TaskTypeSync,
		Status:     types.TaskStatusPending,
		Priority:   3,
		MaxRetries: 5,
		CreatedAt:  time.Now(),
	}
	require.NoError(t, store.SaveTask(task))

	got, err := store.GetTask("t1")
	require.NoError(t, err)
	assert.Equal(t, types.TaskTypeSync, got.Type)
	assert.Equal(t, 3, got.Priority)

	_, err = store.GetTask("missing")
	assert.True(t, errdefs.IsNotFound(err))
}

func TestListTasksSortedByCreation(t *testing.T) {
	store := newTestStore(t)

	base := time.Now()
	for i, id := range []string{"c", "a", "b"} {
		require.NoError(t, store.SaveTask(&types.Task{
			ID:        id,
			Type:      types.TaskTypeNoop,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	tasks, err := store.ListTasks()
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	assert.Equal(t, "c", tasks[0].ID)
	assert.Equal(t, "b", tasks[2].ID)
}

func TestActionRoundTrip(t *testing.T) {
	store := newTestStore(t)

	action := &types.HealAction{
		ID:        "a1",
		Kind:      types.ActionRestart,
		Target:    "repo-scraper",
		Status:    types.ActionStatusCompleted,
		CreatedAt: time.Now(),
	}
	require.NoError(t, store.SaveAction(action))

	got, err := store.GetAction("a1")
	require.NoError(t, err)
	assert.Equal(t, types.ActionRestart, got.Kind)

	_, err = store.GetAction("missing")
	assert.True(t, errdefs.IsNotFound(err))
}

func TestAgentRoundTrip(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.SaveAgent(&types.AgentHealth{Name: "repo-scraper", Status: types.AgentStatusActive}))
	require.NoError(t, store.SaveAgent(&types.AgentHealth{Name: "media-publisher", Status: types.AgentStatusIdle}))

	got, err := store.GetAgent("repo-scraper")
	require.NoError(t, err)
	assert.Equal(t, types.AgentStatusActive, got.Status)

	agents, err := store.ListAgents()
	require.NoError(t, err)
	require.Len(t, agents, 2)
	assert.Equal(t, "media-publisher", agents[0].Name)

	_, err = store.GetAgent("ghost")
	assert.True(t, errdefs.IsNotFound(err))
}

func TestStateCheckpoint(t *testing.T) {
	store := newTestStore(t)

	type checkpoint struct {
		Counter int      `json:"counter"`
		Names   []string `json:"names"`
	}

	var missing checkpoint
	found, err := store.LoadState("scheduler", &missing)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.SaveState("scheduler", &checkpoint{Counter: 7, Names: []string{"a"}}))

	var restored checkpoint
	found, err = store.LoadState("scheduler", &restored)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 7, restored.Counter)
	assert.Equal(t, []string{"a"}, restored.Names)
}

func TestRecordsSortedByCreation(t *testing.T) {
	store := newTestStore(t)

	base := time.Now()
	require.NoError(t, store.SaveRecord(&Record{
		ID:        "r2",
		Kind:      RecordAlert,
		Target:    "d1-database",
		Severity:  "high",
		CreatedAt: base.Add(time.Second),
	}))
	require.NoError(t, store.SaveRecord(&Record{
		ID:        "r1",
		Kind:      RecordRollbackPending,
		Target:    "media-publisher",
		CreatedAt: base,
	}))

	records, err := store.ListRecords()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "r1", records[0].ID)
	assert.Equal(t, RecordAlert, records[1].Kind)
}
