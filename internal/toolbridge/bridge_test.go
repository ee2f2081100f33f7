package toolbridge

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dynamous-community/YokeFlow/internal/hooks"
	"github.com/dynamous-community/YokeFlow/internal/sandbox"
	"github.com/dynamous-community/YokeFlow/internal/taskstore"
)

func newTestBridge(t *testing.T) (*Bridge, *taskstore.Store) {
	t.Helper()
	store, err := taskstore.New(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	_, err = store.CreateProject(context.Background(), "proj-1", "demo", "/spec.md", t.TempDir(), taskstore.SandboxPolicy{Kind: "none"})
	require.NoError(t, err)

	mgr := sandbox.NewManager(sandbox.NewNoneFactory(nil), 100, 10)
	_, err = mgr.Start(context.Background(), "proj-1", t.TempDir(), sandbox.Policy{Kind: "none"})
	require.NoError(t, err)

	bus := hooks.NewBus()
	b, err := NewBridge("proj-1", "sess-1", store, mgr, bus)
	require.NoError(t, err)
	return b, store
}

func mustJSON(t *testing.T, v map[string]any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestCreateEpicTaskTestRoundTrip(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBridge(t)

	epicAny, toolErr := b.Call(ctx, CreateEpic, mustJSON(t, map[string]any{
		"project_id": "proj-1", "ordinal": 0, "title": "Epic 1", "description": "first",
	}))
	require.Nil(t, toolErr)
	epic := epicAny.(taskstore.Epic)

	taskAny, toolErr := b.Call(ctx, CreateTask, mustJSON(t, map[string]any{
		"project_id": "proj-1", "epic_id": epic.ID, "ordinal": 0, "title": "Task 1",
	}))
	require.Nil(t, toolErr)
	task := taskAny.(taskstore.Task)

	testAny, toolErr := b.Call(ctx, CreateTest, mustJSON(t, map[string]any{
		"project_id": "proj-1", "task_id": task.ID, "description": "verify something",
	}))
	require.Nil(t, toolErr)
	test := testAny.(taskstore.Test)

	_, toolErr = b.Call(ctx, UpdateTestResult, mustJSON(t, map[string]any{
		"project_id": "proj-1", "test_id": test.ID, "outcome": "pass",
	}))
	require.Nil(t, toolErr)

	result, toolErr := b.Call(ctx, UpdateTaskStatus, mustJSON(t, map[string]any{
		"project_id": "proj-1", "task_id": task.ID, "done": true,
	}))
	require.Nil(t, toolErr)
	require.Equal(t, taskstore.TaskDone, result.(taskstore.Task).Status)
}

func TestCrossProjectAccessIsDenied(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBridge(t)

	_, toolErr := b.Call(ctx, TaskStatus, mustJSON(t, map[string]any{"project_id": "other-project"}))
	require.NotNil(t, toolErr)
	require.Contains(t, toolErr.Error(), "not accessible")
}

func TestSchemaValidationRejectsMissingFields(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBridge(t)

	_, toolErr := b.Call(ctx, CreateEpic, mustJSON(t, map[string]any{"project_id": "proj-1"}))
	require.NotNil(t, toolErr)
}

func TestOversizedPayloadIsRejectedWithoutBuffering(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBridge(t)

	huge := map[string]any{"project_id": "proj-1", "note": strings.Repeat("x", maxPayloadBytes+1)}
	_, toolErr := b.Call(ctx, LogSession, mustJSON(t, huge))
	require.NotNil(t, toolErr)
}

func TestExecFallsBackToHostWhenSandboxIsNone(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBridge(t)

	resultAny, toolErr := b.Call(ctx, Exec, mustJSON(t, map[string]any{
		"project_id": "proj-1", "command": "echo hi",
	}))
	require.Nil(t, toolErr)
	result := resultAny.(sandbox.ExecResult)
	require.Contains(t, result.Stdout, "hi")
}

func TestExecGatesDangerousCommands(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBridge(t)

	_, toolErr := b.Call(ctx, Exec, mustJSON(t, map[string]any{
		"project_id": "proj-1", "command": "sudo rm -rf /",
	}))
	require.NotNil(t, toolErr)
}

func TestStartTaskStampsStartedAtAndMovesToInProgress(t *testing.T) {
	ctx := context.Background()
	b, store := newTestBridge(t)

	epic, err := store.CreateEpic(ctx, "proj-1", 0, "Epic 1", "")
	require.NoError(t, err)
	task, err := store.CreateTask(ctx, epic.ID, 0, "Task 1", "")
	require.NoError(t, err)

	resultAny, toolErr := b.Call(ctx, StartTask, mustJSON(t, map[string]any{
		"project_id": "proj-1", "task_id": task.ID,
	}))
	require.Nil(t, toolErr)
	result := resultAny.(taskstore.Task)
	require.Equal(t, taskstore.TaskInProgress, result.Status)
	require.NotNil(t, result.StartedAt)
}

func TestExpandEpicAppendsTasksAndReopensADoneEpic(t *testing.T) {
	ctx := context.Background()
	b, store := newTestBridge(t)

	epic, err := store.CreateEpic(ctx, "proj-1", 0, "Epic 1", "")
	require.NoError(t, err)
	task, err := store.CreateTask(ctx, epic.ID, 0, "Task 1", "")
	require.NoError(t, err)
	test, err := store.CreateTest(ctx, task.ID, "verify")
	require.NoError(t, err)
	require.NoError(t, store.UpdateTestResult(ctx, test.ID, taskstore.TestPass))
	require.NoError(t, store.UpdateTaskStatus(ctx, task.ID, true))

	closed, err := store.GetEpic(ctx, epic.ID)
	require.NoError(t, err)
	require.Equal(t, taskstore.EpicDone, closed.Status)

	resultAny, toolErr := b.Call(ctx, ExpandEpic, mustJSON(t, map[string]any{
		"project_id": "proj-1", "epic_id": epic.ID,
		"tasks": []map[string]any{{"title": "Task 2", "description": "more work"}},
	}))
	require.Nil(t, toolErr)
	created := resultAny.([]taskstore.Task)
	require.Len(t, created, 1)
	require.Equal(t, 1, created[0].Ordinal)
	require.Equal(t, taskstore.TaskPending, created[0].Status)

	reopened, err := store.GetEpic(ctx, epic.ID)
	require.NoError(t, err)
	require.Equal(t, taskstore.EpicInProgress, reopened.Status)
}

func TestTaskFromAnotherProjectIsForbidden(t *testing.T) {
	ctx := context.Background()
	b, store := newTestBridge(t)

	_, err := store.CreateProject(ctx, "proj-2", "other", "/spec.md", t.TempDir(), taskstore.SandboxPolicy{Kind: "none"})
	require.NoError(t, err)
	epic, err := store.CreateEpic(ctx, "proj-2", 0, "Epic", "")
	require.NoError(t, err)
	task, err := store.CreateTask(ctx, epic.ID, 0, "Task", "")
	require.NoError(t, err)

	_, toolErr := b.Call(ctx, GetTask, mustJSON(t, map[string]any{
		"project_id": "proj-1", "task_id": task.ID,
	}))
	require.NotNil(t, toolErr)
}
