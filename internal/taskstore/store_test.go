package taskstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedProject(t *testing.T, s *Store) Project {
	t.Helper()
	p, err := s.CreateProject(context.Background(), "proj-1", "demo", "/spec.md", "/workspace",
		SandboxPolicy{Kind: "none"})
	require.NoError(t, err)
	return p
}

func TestCreateProjectEpicTaskTest(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	p := seedProject(t, s)

	epic, err := s.CreateEpic(ctx, p.ID, 0, "Epic 1", "first epic")
	require.NoError(t, err)
	require.Equal(t, EpicPending, epic.Status)

	task, err := s.CreateTask(ctx, epic.ID, 0, "Task 1", "first task")
	require.NoError(t, err)
	require.Equal(t, TaskPending, task.Status)

	test, err := s.CreateTest(ctx, task.ID, "does the thing")
	require.NoError(t, err)
	require.Equal(t, TestUnknown, test.Outcome)
}

func TestMarkTaskDoneRequiresAllTestsPassing(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	p := seedProject(t, s)
	epic, err := s.CreateEpic(ctx, p.ID, 0, "Epic", "")
	require.NoError(t, err)
	task, err := s.CreateTask(ctx, epic.ID, 0, "Task", "")
	require.NoError(t, err)
	test1, err := s.CreateTest(ctx, task.ID, "one")
	require.NoError(t, err)
	test2, err := s.CreateTest(ctx, task.ID, "two")
	require.NoError(t, err)

	err = s.UpdateTaskStatus(ctx, task.ID, true)
	require.Error(t, err, "no tests passing yet")

	require.NoError(t, s.UpdateTestResult(ctx, test1.ID, TestPass))
	err = s.UpdateTaskStatus(ctx, task.ID, true)
	require.Error(t, err, "one of two tests still not passing")

	require.NoError(t, s.UpdateTestResult(ctx, test2.ID, TestPass))
	require.NoError(t, s.UpdateTaskStatus(ctx, task.ID, true))
}

func TestFlippingTestDemotesDoneTask(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	p := seedProject(t, s)
	epic, _ := s.CreateEpic(ctx, p.ID, 0, "Epic", "")
	task, _ := s.CreateTask(ctx, epic.ID, 0, "Task", "")
	test, _ := s.CreateTest(ctx, task.ID, "one")

	require.NoError(t, s.UpdateTestResult(ctx, test.ID, TestPass))
	require.NoError(t, s.UpdateTaskStatus(ctx, task.ID, true))

	require.NoError(t, s.UpdateTestResult(ctx, test.ID, TestFail))

	next, err := s.GetNextTask(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, next)
	require.Equal(t, task.ID, next.ID)
	require.Equal(t, TaskPending, next.Status, "never started before completion, so it falls back to pending")
}

func TestEpicStatusIsDerivedFromTasks(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	p := seedProject(t, s)
	epic, _ := s.CreateEpic(ctx, p.ID, 0, "Epic", "")
	taskA, _ := s.CreateTask(ctx, epic.ID, 0, "A", "")
	taskB, _ := s.CreateTask(ctx, epic.ID, 1, "B", "")
	testA, _ := s.CreateTest(ctx, taskA.ID, "a1")
	testB, _ := s.CreateTest(ctx, taskB.ID, "b1")

	require.NoError(t, s.UpdateTestResult(ctx, testA.ID, TestPass))
	require.NoError(t, s.UpdateTaskStatus(ctx, taskA.ID, true))

	progress, err := s.ProjectProgress(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, 2, progress.TotalTasks)
	require.Equal(t, 1, progress.DoneTasks)
	e, err := s.GetEpic(ctx, epic.ID)
	require.NoError(t, err)
	require.Equal(t, EpicInProgress, e.Status)

	require.NoError(t, s.UpdateTestResult(ctx, testB.ID, TestPass))
	require.NoError(t, s.UpdateTaskStatus(ctx, taskB.ID, true))

	progress, err = s.ProjectProgress(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, 2, progress.DoneTasks)
	e, err = s.GetEpic(ctx, epic.ID)
	require.NoError(t, err)
	require.Equal(t, EpicDone, e.Status)
}

func TestNextTaskOrdersByEpicThenTaskOrdinal(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	p := seedProject(t, s)
	epic1, _ := s.CreateEpic(ctx, p.ID, 0, "Epic 1", "")
	epic2, _ := s.CreateEpic(ctx, p.ID, 1, "Epic 2", "")
	task2, _ := s.CreateTask(ctx, epic2.ID, 0, "Task in Epic 2", "")
	task1, _ := s.CreateTask(ctx, epic1.ID, 0, "Task in Epic 1", "")
	_ = task2

	next, err := s.GetNextTask(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, next)
	require.Equal(t, task1.ID, next.ID, "lower-ordinal epic wins regardless of task creation order")
}

func TestGetNextTaskNilWhenAllDone(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	p := seedProject(t, s)

	next, err := s.GetNextTask(ctx, p.ID)
	require.NoError(t, err)
	require.Nil(t, next, "no epics at all yields no next task")
}

func TestSessionNumberingStartsAtZeroAndIsInitializer(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	p := seedProject(t, s)

	_, err := s.CreateSession(ctx, p.ID, SessionCoding, "claude-model")
	require.Error(t, err, "session 0 must be the initializer")

	sess0, err := s.CreateSession(ctx, p.ID, SessionInitializer, "claude-model")
	require.NoError(t, err)
	require.Equal(t, 0, sess0.SessionNumber)

	_, err = s.CreateSession(ctx, p.ID, SessionInitializer, "claude-model")
	require.Error(t, err, "only session 0 may be the initializer")

	sess1, err := s.CreateSession(ctx, p.ID, SessionCoding, "claude-model")
	require.NoError(t, err)
	require.Equal(t, 1, sess1.SessionNumber)
}

func TestFinalizeSessionIsTerminal(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	p := seedProject(t, s)
	sess, err := s.CreateSession(ctx, p.ID, SessionInitializer, "claude-model")
	require.NoError(t, err)

	require.NoError(t, s.FinalizeSession(ctx, sess.ID, SessionCompleted, SessionCounters{ToolUses: 3}, TokenUsage{Input: 10}, nil))

	err = s.FinalizeSession(ctx, sess.ID, SessionFailed, SessionCounters{}, TokenUsage{}, nil)
	require.Error(t, err, "a terminal session cannot be finalized again")
}

func TestAttachQualityCheckUpsertsByKind(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	p := seedProject(t, s)
	sess, _ := s.CreateSession(ctx, p.ID, SessionInitializer, "claude-model")
	require.NoError(t, s.FinalizeSession(ctx, sess.ID, SessionCompleted, SessionCounters{}, TokenUsage{}, nil))

	_, err := s.AttachQualityCheck(ctx, sess.ID, QualityQuick, 80, RatingFromQuick, QualityCheckCounters{}, nil, "")
	require.NoError(t, err)

	qc, err := s.AttachQualityCheck(ctx, sess.ID, QualityQuick, 95, RatingFromQuick, QualityCheckCounters{}, nil, "re-scored")
	require.NoError(t, err)
	require.Equal(t, 95, qc.Rating, "re-attaching the same check_type updates in place rather than duplicating")

	trend, err := s.QualityTrend(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, trend, 1)
}

func TestResetProjectRequiresExistingSession(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	p := seedProject(t, s)

	err := s.ResetProject(ctx, p.ID)
	require.Error(t, err, "a project with zero sessions has nothing to reset")

	_, err = s.CreateSession(ctx, p.ID, SessionInitializer, "claude-model")
	require.NoError(t, err)
	epic, _ := s.CreateEpic(ctx, p.ID, 0, "Epic", "")
	_, _ = s.CreateTask(ctx, epic.ID, 0, "Task", "")

	require.NoError(t, s.ResetProject(ctx, p.ID))

	progress, err := s.ProjectProgress(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, 0, progress.TotalTasks, "archived epics are excluded from progress")
}

func TestListOpenSessions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	p := seedProject(t, s)
	sess, err := s.CreateSession(ctx, p.ID, SessionInitializer, "claude-model")
	require.NoError(t, err)

	open, err := s.ListOpenSessions(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, open, 1)
	require.Equal(t, sess.ID, open[0].ID)

	require.NoError(t, s.FinalizeSession(ctx, sess.ID, SessionCompleted, SessionCounters{}, TokenUsage{}, nil))

	open, err = s.ListOpenSessions(ctx, p.ID)
	require.NoError(t, err)
	require.Empty(t, open)
}
