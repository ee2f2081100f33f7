package taskstore

import (
	"context"
	"database/sql"
)

// updateTestOutcomeTx sets a test's outcome and cascades to its parent task
// per invariant 2. Implemented as an in-transaction Go helper rather than
// SQL triggers: SQLite's trigger recursion depth limit and the need for
// Go-side error classification (precondition vs. storage) make an explicit,
// unit-testable helper more maintainable than a trigger chain.
func updateTestOutcomeTx(ctx context.Context, tx *sql.Tx, testID string, outcome TestOutcome) error {
	var taskID string
	var archived bool
	if err := tx.QueryRowContext(ctx, `SELECT task_id, archived FROM tests WHERE id = ?`, testID).Scan(&taskID, &archived); err != nil {
		if err == sql.ErrNoRows {
			return errNotFound("test %s not found", testID)
		}
		return errStorage(err, "load test %s", testID)
	}
	if archived {
		return errNotFound("test %s not found", testID)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE tests SET outcome = ? WHERE id = ?`, string(outcome), testID); err != nil {
		return errStorage(err, "update test %s outcome", testID)
	}

	if outcome != TestPass {
		if err := demoteTaskTx(ctx, tx, taskID); err != nil {
			return err
		}
	}
	return recomputeEpicForTaskTx(ctx, tx, taskID)
}

// demoteTaskTx moves a task back out of `done` when one of its tests
// stopped passing. A task that was never started stays pending; a started
// task moves to in_progress.
func demoteTaskTx(ctx context.Context, tx *sql.Tx, taskID string) error {
	var status TaskStatus
	var startedAt sql.NullString
	if err := tx.QueryRowContext(ctx, `SELECT status, started_at FROM tasks WHERE id = ?`, taskID).Scan(&status, &startedAt); err != nil {
		if err == sql.ErrNoRows {
			return errNotFound("task %s not found", taskID)
		}
		return errStorage(err, "load task %s", taskID)
	}
	if status != TaskDone {
		return nil
	}
	next := TaskPending
	if startedAt.Valid {
		next = TaskInProgress
	}
	_, err := tx.ExecContext(ctx, `UPDATE tasks SET status = ?, completed_at = NULL WHERE id = ?`, string(next), taskID)
	if err != nil {
		return errStorage(err, "demote task %s", taskID)
	}
	return nil
}

// markTaskDoneTx enforces invariant 2: a task may only become done if every
// non-archived test belonging to it currently passes.
func markTaskDoneTx(ctx context.Context, tx *sql.Tx, taskID string, now string) error {
	var total, passing int
	row := tx.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN outcome = 'pass' THEN 1 ELSE 0 END), 0)
		FROM tests WHERE task_id = ? AND archived = 0`, taskID)
	if err := row.Scan(&total, &passing); err != nil {
		return errStorage(err, "count tests for task %s", taskID)
	}
	if total == 0 || total != passing {
		return errPrecondition("task %s cannot be marked done: %d/%d tests passing", taskID, passing, total)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE tasks SET status = ?, completed_at = ? WHERE id = ?`, string(TaskDone), now, taskID); err != nil {
		return errStorage(err, "mark task %s done", taskID)
	}
	return nil
}

// recomputeEpicForTaskTx derives the owning epic's status from its child
// tasks. Epic status is never written directly by callers; it is always a
// function of its tasks (invariant 3).
func recomputeEpicForTaskTx(ctx context.Context, tx *sql.Tx, taskID string) error {
	var epicID string
	if err := tx.QueryRowContext(ctx, `SELECT epic_id FROM tasks WHERE id = ?`, taskID).Scan(&epicID); err != nil {
		if err == sql.ErrNoRows {
			return errNotFound("task %s not found", taskID)
		}
		return errStorage(err, "load task %s epic", taskID)
	}
	return recomputeEpicTx(ctx, tx, epicID)
}

func recomputeEpicTx(ctx context.Context, tx *sql.Tx, epicID string) error {
	var total, done int
	row := tx.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN status = 'done' THEN 1 ELSE 0 END), 0)
		FROM tasks WHERE epic_id = ? AND archived = 0`, epicID)
	if err := row.Scan(&total, &done); err != nil {
		return errStorage(err, "count tasks for epic %s", epicID)
	}
	status := EpicInProgress
	switch {
	case total == 0:
		status = EpicPending
	case total == done:
		status = EpicDone
	}
	if _, err := tx.ExecContext(ctx, `UPDATE epics SET status = ? WHERE id = ?`, string(status), epicID); err != nil {
		return errStorage(err, "recompute epic %s status", epicID)
	}
	return nil
}
