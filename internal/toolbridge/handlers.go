package toolbridge

import (
	"context"
	"time"

	"github.com/dynamous-community/YokeFlow/internal/hooks"
	"github.com/dynamous-community/YokeFlow/internal/taskstore"
)

func handleTaskStatus(ctx context.Context, b *Bridge, doc map[string]any) (any, error) {
	return b.store.ProjectProgress(ctx, b.projectID)
}

func handleGetNextTask(ctx context.Context, b *Bridge, doc map[string]any) (any, error) {
	return b.store.GetNextTask(ctx, b.projectID)
}

func handleListEpics(ctx context.Context, b *Bridge, doc map[string]any) (any, error) {
	return b.store.ListEpics(ctx, b.projectID)
}

func handleGetEpic(ctx context.Context, b *Bridge, doc map[string]any) (any, error) {
	epic, err := b.store.GetEpic(ctx, stringField(doc, "epic_id"))
	if err != nil {
		return nil, err
	}
	if epic.ProjectID != b.projectID {
		return nil, notOwnedError("epic", epic.ID)
	}
	return epic, nil
}

func handleCreateEpic(ctx context.Context, b *Bridge, doc map[string]any) (any, error) {
	return b.store.CreateEpic(ctx, b.projectID, intField(doc, "ordinal"), stringField(doc, "title"), stringField(doc, "description"))
}

func handleExpandEpic(ctx context.Context, b *Bridge, doc map[string]any) (any, error) {
	epicID := stringField(doc, "epic_id")
	epic, err := b.store.GetEpic(ctx, epicID)
	if err != nil {
		return nil, err
	}
	if epic.ProjectID != b.projectID {
		return nil, notOwnedError("epic", epicID)
	}
	return b.store.ExpandEpic(ctx, epicID, taskSpecsField(doc, "tasks"))
}

func handleListTasks(ctx context.Context, b *Bridge, doc map[string]any) (any, error) {
	epicID := stringField(doc, "epic_id")
	epic, err := b.store.GetEpic(ctx, epicID)
	if err != nil {
		return nil, err
	}
	if epic.ProjectID != b.projectID {
		return nil, notOwnedError("epic", epicID)
	}
	return b.store.ListTasks(ctx, epicID)
}

func handleGetTask(ctx context.Context, b *Bridge, doc map[string]any) (any, error) {
	task, err := b.store.GetTask(ctx, stringField(doc, "task_id"))
	if err != nil {
		return nil, err
	}
	if err := b.assertOwnsTask(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

func handleCreateTask(ctx context.Context, b *Bridge, doc map[string]any) (any, error) {
	epicID := stringField(doc, "epic_id")
	epic, err := b.store.GetEpic(ctx, epicID)
	if err != nil {
		return nil, err
	}
	if epic.ProjectID != b.projectID {
		return nil, notOwnedError("epic", epicID)
	}
	return b.store.CreateTask(ctx, epicID, intField(doc, "ordinal"), stringField(doc, "title"), stringField(doc, "description"))
}

func handleStartTask(ctx context.Context, b *Bridge, doc map[string]any) (any, error) {
	taskID := stringField(doc, "task_id")
	task, err := b.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := b.assertOwnsTask(ctx, task); err != nil {
		return nil, err
	}
	if err := b.store.StartTask(ctx, taskID); err != nil {
		return nil, err
	}
	return b.store.GetTask(ctx, taskID)
}

func handleListTests(ctx context.Context, b *Bridge, doc map[string]any) (any, error) {
	taskID := stringField(doc, "task_id")
	task, err := b.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := b.assertOwnsTask(ctx, task); err != nil {
		return nil, err
	}
	return b.store.ListTests(ctx, taskID)
}

func handleGetTest(ctx context.Context, b *Bridge, doc map[string]any) (any, error) {
	test, err := b.store.GetTest(ctx, stringField(doc, "test_id"))
	if err != nil {
		return nil, err
	}
	if err := b.assertOwnsTest(ctx, test); err != nil {
		return nil, err
	}
	return test, nil
}

func handleCreateTest(ctx context.Context, b *Bridge, doc map[string]any) (any, error) {
	taskID := stringField(doc, "task_id")
	task, err := b.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := b.assertOwnsTask(ctx, task); err != nil {
		return nil, err
	}
	return b.store.CreateTest(ctx, taskID, stringField(doc, "description"))
}

func handleUpdateTaskStatus(ctx context.Context, b *Bridge, doc map[string]any) (any, error) {
	taskID := stringField(doc, "task_id")
	task, err := b.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := b.assertOwnsTask(ctx, task); err != nil {
		return nil, err
	}
	done := boolField(doc, "done")
	if err := b.store.UpdateTaskStatus(ctx, taskID, done); err != nil {
		return nil, err
	}
	return b.store.GetTask(ctx, taskID)
}

func handleUpdateTestResult(ctx context.Context, b *Bridge, doc map[string]any) (any, error) {
	testID := stringField(doc, "test_id")
	test, err := b.store.GetTest(ctx, testID)
	if err != nil {
		return nil, err
	}
	if err := b.assertOwnsTest(ctx, test); err != nil {
		return nil, err
	}
	outcome := taskstore.TestOutcome(stringField(doc, "outcome"))
	if err := b.store.UpdateTestResult(ctx, testID, outcome); err != nil {
		return nil, err
	}
	return b.store.GetTest(ctx, testID)
}

func handleLogSession(_ context.Context, b *Bridge, doc map[string]any) (any, error) {
	b.publish(hooks.NewSystemNoticeEvent(b.projectID, b.sessionID, "session_note", stringField(doc, "note")))
	return map[string]any{"logged": true}, nil
}

func handleExec(ctx context.Context, b *Bridge, doc map[string]any) (any, error) {
	timeout := defaultExecTimeout
	if secs := intField(doc, "timeout_seconds"); secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}
	return b.sandboxMgr.Exec(ctx, b.projectID, stringField(doc, "command"), timeout)
}

func handleSessionWrapupRequested(_ context.Context, b *Bridge, doc map[string]any) (any, error) {
	b.publish(hooks.NewSystemNoticeEvent(b.projectID, b.sessionID, "wrapup_requested", stringField(doc, "reason")))
	return map[string]any{"acknowledged": true}, nil
}

func (b *Bridge) publish(evt hooks.Event) {
	if b.bus == nil {
		return
	}
	_ = b.bus.Publish(context.Background(), evt)
}

func (b *Bridge) assertOwnsTask(ctx context.Context, task taskstore.Task) error {
	epic, err := b.store.GetEpic(ctx, task.EpicID)
	if err != nil {
		return err
	}
	if epic.ProjectID != b.projectID {
		return notOwnedError("task", task.ID)
	}
	return nil
}

func (b *Bridge) assertOwnsTest(ctx context.Context, test taskstore.Test) error {
	task, err := b.store.GetTask(ctx, test.TaskID)
	if err != nil {
		return err
	}
	return b.assertOwnsTask(ctx, task)
}
