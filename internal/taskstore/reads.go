package taskstore

import (
	"context"
	"database/sql"
	"encoding/json"
)

const projectColumns = `id, name, spec_path, workspace_path, sandbox_kind, sandbox_image,
	sandbox_cpu, sandbox_mem, sandbox_runtimes, prompt_version, created_at, archived`

// GetProject loads a single project by id, used by the Tool Bridge for
// ownership checks before any mutation reaches the store and by the
// orchestrator to read a project's sandbox policy before provisioning.
func (s *Store) GetProject(ctx context.Context, projectID string) (Project, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, projectID)
	p, err := scanProject(row)
	if err == sql.ErrNoRows {
		return Project{}, errNotFound("project %s not found", projectID)
	}
	if err != nil {
		return Project{}, errStorage(err, "load project %s", projectID)
	}
	return p, nil
}

// ListProjects returns every non-archived project, used by the
// orchestrator's startup reconciliation pass to find open sessions across
// the whole instance without requiring the caller to already know the
// project ids.
func (s *Store) ListProjects(ctx context.Context) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE archived = 0 ORDER BY created_at ASC`)
	if err != nil {
		return nil, errStorage(err, "list projects")
	}
	defer rows.Close()

	var out []Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, errStorage(err, "scan project")
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanProject(row rowScanner) (Project, error) {
	var p Project
	var createdAt, runtimesJSON string
	if err := row.Scan(&p.ID, &p.Name, &p.SpecPath, &p.WorkspacePath, &p.SandboxPolicy.Kind,
		&p.SandboxPolicy.Image, &p.SandboxPolicy.CPULimit, &p.SandboxPolicy.MemLimit, &runtimesJSON,
		&p.PromptVersion, &createdAt, &p.Archived); err != nil {
		return Project{}, err
	}
	_ = json.Unmarshal([]byte(runtimesJSON), &p.SandboxPolicy.Runtimes)
	p.CreatedAt = parseStamp(createdAt)
	return p, nil
}

// NextSessionKind reports which SessionKind a new session for projectID
// must use: SessionInitializer when the project has no sessions yet,
// SessionCoding otherwise. The orchestrator calls this before
// CreateSession to implement spec.md §4.7 step 1 ("choose kind") without
// guessing and retrying against CreateSession's own invariant check.
func (s *Store) NextSessionKind(ctx context.Context, projectID string) (SessionKind, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE project_id = ?`, projectID).Scan(&count); err != nil {
		return "", errStorage(err, "count sessions for project %s", projectID)
	}
	if count == 0 {
		return SessionInitializer, nil
	}
	return SessionCoding, nil
}

// ListEpics returns the non-archived epics for a project in ordinal order.
func (s *Store) ListEpics(ctx context.Context, projectID string) ([]Epic, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, ordinal, title, description, status, created_at, archived
		FROM epics WHERE project_id = ? AND archived = 0 ORDER BY ordinal ASC`, projectID)
	if err != nil {
		return nil, errStorage(err, "list epics for project %s", projectID)
	}
	defer rows.Close()

	var out []Epic
	for rows.Next() {
		e, err := scanEpic(rows)
		if err != nil {
			return nil, errStorage(err, "scan epic for project %s", projectID)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetEpic loads a single epic by id.
func (s *Store) GetEpic(ctx context.Context, epicID string) (Epic, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, ordinal, title, description, status, created_at, archived
		FROM epics WHERE id = ? AND archived = 0`, epicID)
	e, err := scanEpic(row)
	if err == sql.ErrNoRows {
		return Epic{}, errNotFound("epic %s not found", epicID)
	}
	if err != nil {
		return Epic{}, errStorage(err, "load epic %s", epicID)
	}
	return e, nil
}

// ListTasks returns the non-archived tasks for an epic in ordinal order.
func (s *Store) ListTasks(ctx context.Context, epicID string) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, epic_id, ordinal, title, description, status, started_at, completed_at, created_at, archived
		FROM tasks WHERE epic_id = ? AND archived = 0 ORDER BY ordinal ASC`, epicID)
	if err != nil {
		return nil, errStorage(err, "list tasks for epic %s", epicID)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, errStorage(err, "scan task for epic %s", epicID)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// GetTask loads a single task by id.
func (s *Store) GetTask(ctx context.Context, taskID string) (Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, epic_id, ordinal, title, description, status, started_at, completed_at, created_at, archived
		FROM tasks WHERE id = ? AND archived = 0`, taskID)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return Task{}, errNotFound("task %s not found", taskID)
	}
	if err != nil {
		return Task{}, errStorage(err, "load task %s", taskID)
	}
	return *t, nil
}

// ListTests returns the non-archived tests for a task.
func (s *Store) ListTests(ctx context.Context, taskID string) ([]Test, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, description, outcome, verification_note, created_at, archived
		FROM tests WHERE task_id = ? AND archived = 0 ORDER BY created_at ASC`, taskID)
	if err != nil {
		return nil, errStorage(err, "list tests for task %s", taskID)
	}
	defer rows.Close()

	var out []Test
	for rows.Next() {
		test, err := scanTest(rows)
		if err != nil {
			return nil, errStorage(err, "scan test for task %s", taskID)
		}
		out = append(out, test)
	}
	return out, rows.Err()
}

// GetTest loads a single test by id.
func (s *Store) GetTest(ctx context.Context, testID string) (Test, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, task_id, description, outcome, verification_note, created_at, archived
		FROM tests WHERE id = ? AND archived = 0`, testID)
	test, err := scanTest(row)
	if err == sql.ErrNoRows {
		return Test{}, errNotFound("test %s not found", testID)
	}
	if err != nil {
		return Test{}, errStorage(err, "load test %s", testID)
	}
	return test, nil
}

func scanEpic(row rowScanner) (Epic, error) {
	var e Epic
	var createdAt string
	if err := row.Scan(&e.ID, &e.ProjectID, &e.Ordinal, &e.Title, &e.Description, &e.Status, &createdAt, &e.Archived); err != nil {
		return Epic{}, err
	}
	e.CreatedAt = parseStamp(createdAt)
	return e, nil
}

func scanTest(row rowScanner) (Test, error) {
	var test Test
	var createdAt string
	if err := row.Scan(&test.ID, &test.TaskID, &test.Description, &test.Outcome, &test.VerificationNote, &createdAt, &test.Archived); err != nil {
		return Test{}, err
	}
	test.CreatedAt = parseStamp(createdAt)
	return test, nil
}
