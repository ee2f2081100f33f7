package taskstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store is the Task Store (C3): the relational schema for
// projects/epics/tasks/tests/sessions/quality plus the derived read views
// of views.go. All mutating operations serialize on the project-grain
// Locker; readers never block writers.
type Store struct {
	db     *sql.DB
	locker Locker
}

// New opens (or creates) the SQLite database at dsn and migrates the
// schema. Pass ":memory:" for an ephemeral in-process database, as used by
// the property-based tests in store_property_test.go. locker may be nil to
// use the default in-process mutex locker; pass a Redis-backed Locker for
// multi-instance deployments sharing one database.
func New(dsn string, locker Locker) (*Store, error) {
	db, err := sql.Open("sqlite", dsn+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, errStorage(err, "open database")
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errStorage(err, "ping database")
	}
	if locker == nil {
		locker = newMutexLocker()
	}
	s := &Store{db: db, locker: locker}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, errStorage(err, "migrate schema")
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

func nowStamp() string { return time.Now().UTC().Format(time.RFC3339Nano) }

// CreateProject inserts a new project. Idempotent only in the trivial
// sense that each call creates a distinct project; callers pick the id.
func (s *Store) CreateProject(ctx context.Context, id, name, specPath, workspacePath string, policy SandboxPolicy) (Project, error) {
	runtimes, err := json.Marshal(policy.Runtimes)
	if err != nil {
		return Project{}, errStorage(err, "encode sandbox runtimes")
	}
	p := Project{
		ID:            id,
		Name:          name,
		SpecPath:      specPath,
		WorkspacePath: workspacePath,
		SandboxPolicy: policy,
		CreatedAt:     time.Now().UTC(),
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, spec_path, workspace_path, sandbox_kind, sandbox_image, sandbox_cpu, sandbox_mem, sandbox_runtimes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.SpecPath, p.WorkspacePath, policy.Kind, policy.Image, policy.CPULimit, policy.MemLimit, string(runtimes), nowStamp())
	if err != nil {
		return Project{}, errStorage(err, "create project %s", id)
	}
	return p, nil
}

// CreateEpic inserts an epic. Meaningful only during the initializer
// session; the store assigns a surrogate key but does not reorder
// siblings — callers are expected to pass the correct ordinal.
func (s *Store) CreateEpic(ctx context.Context, projectID string, ordinal int, title, description string) (Epic, error) {
	e := Epic{
		ID:          uuid.NewString(),
		ProjectID:   projectID,
		Ordinal:     ordinal,
		Title:       title,
		Description: description,
		Status:      EpicPending,
		CreatedAt:   time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO epics (id, project_id, ordinal, title, description, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ProjectID, e.Ordinal, e.Title, e.Description, string(e.Status), nowStamp())
	if err != nil {
		return Epic{}, errStorage(err, "create epic for project %s", projectID)
	}
	return e, nil
}

// CreateTask inserts a task under epicID.
func (s *Store) CreateTask(ctx context.Context, epicID string, ordinal int, title, description string) (Task, error) {
	t := Task{
		ID:          uuid.NewString(),
		EpicID:      epicID,
		Ordinal:     ordinal,
		Title:       title,
		Description: description,
		Status:      TaskPending,
		CreatedAt:   time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, epic_id, ordinal, title, description, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.EpicID, t.Ordinal, t.Title, t.Description, string(t.Status), nowStamp())
	if err != nil {
		return Task{}, errStorage(err, "create task for epic %s", epicID)
	}
	return t, nil
}

// NewTaskSpec describes one task to append to an epic via ExpandEpic.
type NewTaskSpec struct {
	Title       string
	Description string
}

// ExpandEpic appends new tasks to an already-existing epic, continuing its
// ordinal sequence from its current max, and recomputes the epic's status
// in the same transaction so an epic already `done` demotes back to
// `in_progress` rather than staying `done` with untracked pending work
// underneath it. Backs the `expand_epic` tool for the case where the agent
// discovers more work belongs under an epic after the epic was already
// closed out.
func (s *Store) ExpandEpic(ctx context.Context, epicID string, specs []NewTaskSpec) ([]Task, error) {
	if len(specs) == 0 {
		return nil, errPrecondition("expand_epic requires at least one task")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errStorage(err, "begin transaction")
	}
	defer tx.Rollback()

	var archived bool
	if err := tx.QueryRowContext(ctx, `SELECT archived FROM epics WHERE id = ?`, epicID).Scan(&archived); err != nil {
		if err == sql.ErrNoRows {
			return nil, errNotFound("epic %s not found", epicID)
		}
		return nil, errStorage(err, "load epic %s", epicID)
	}
	if archived {
		return nil, errNotFound("epic %s not found", epicID)
	}

	var maxOrdinal sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(ordinal) FROM tasks WHERE epic_id = ? AND archived = 0`, epicID).
		Scan(&maxOrdinal); err != nil {
		return nil, errStorage(err, "compute next ordinal for epic %s", epicID)
	}
	next := 0
	if maxOrdinal.Valid {
		next = int(maxOrdinal.Int64) + 1
	}

	out := make([]Task, 0, len(specs))
	for _, spec := range specs {
		t := Task{
			ID:          uuid.NewString(),
			EpicID:      epicID,
			Ordinal:     next,
			Title:       spec.Title,
			Description: spec.Description,
			Status:      TaskPending,
			CreatedAt:   time.Now().UTC(),
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tasks (id, epic_id, ordinal, title, description, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.EpicID, t.Ordinal, t.Title, t.Description, string(t.Status), nowStamp()); err != nil {
			return nil, errStorage(err, "expand epic %s", epicID)
		}
		out = append(out, t)
		next++
	}

	if err := recomputeEpicTx(ctx, tx, epicID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, errStorage(err, "commit expand epic %s", epicID)
	}
	return out, nil
}

// CreateTest inserts a test under taskID.
func (s *Store) CreateTest(ctx context.Context, taskID, description string) (Test, error) {
	t := Test{
		ID:          uuid.NewString(),
		TaskID:      taskID,
		Description: description,
		Outcome:     TestUnknown,
		CreatedAt:   time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tests (id, task_id, description, outcome, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		t.ID, t.TaskID, t.Description, string(t.Outcome), nowStamp())
	if err != nil {
		return Test{}, errStorage(err, "create test for task %s", taskID)
	}
	return t, nil
}

// GetNextTask computes invariant 4's "next task" for a project in a single
// read-consistent snapshot. Returns nil, nil when every task is done.
func (s *Store) GetNextTask(ctx context.Context, projectID string) (*Task, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, errStorage(err, "begin read transaction")
	}
	defer tx.Rollback()
	return nextTaskTx(ctx, tx, projectID)
}

// StartTask stamps started_at and transitions a pending task to
// in_progress. Idempotent once started.
func (s *Store) StartTask(ctx context.Context, taskID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errStorage(err, "begin transaction")
	}
	defer tx.Rollback()

	var status TaskStatus
	var startedAt sql.NullString
	if err := tx.QueryRowContext(ctx, `SELECT status, started_at FROM tasks WHERE id = ? AND archived = 0`, taskID).
		Scan(&status, &startedAt); err != nil {
		if err == sql.ErrNoRows {
			return errNotFound("task %s not found", taskID)
		}
		return errStorage(err, "load task %s", taskID)
	}
	if startedAt.Valid {
		return tx.Commit()
	}
	if status == TaskDone {
		return errPrecondition("task %s is already done", taskID)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE tasks SET status = ?, started_at = ? WHERE id = ?`,
		string(TaskInProgress), nowStamp(), taskID); err != nil {
		return errStorage(err, "start task %s", taskID)
	}
	return tx.Commit()
}

// UpdateTaskStatus marks a task done or reopens it. Marking done enforces
// invariant 2: every child test must be passing, or the caller gets a
// precondition error.
func (s *Store) UpdateTaskStatus(ctx context.Context, taskID string, done bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errStorage(err, "begin transaction")
	}
	defer tx.Rollback()

	if done {
		if err := markTaskDoneTx(ctx, tx, taskID, nowStamp()); err != nil {
			return err
		}
	} else {
		if err := demoteTaskTx(ctx, tx, taskID); err != nil {
			return err
		}
	}
	if err := recomputeEpicForTaskTx(ctx, tx, taskID); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateTestResult sets a test's outcome and cascades to the parent task
// and epic inside one transaction, per invariant 2 and 3.
func (s *Store) UpdateTestResult(ctx context.Context, testID string, outcome TestOutcome) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errStorage(err, "begin transaction")
	}
	defer tx.Rollback()

	if err := updateTestOutcomeTx(ctx, tx, testID, outcome); err != nil {
		return err
	}
	return tx.Commit()
}

// CreateSession allocates the next dense session_number for projectID
// atomically under the project's lock and inserts a running session row.
// Invariant 1: session_number is dense and monotone per project starting
// at 0; session 0 is the unique initializer.
func (s *Store) CreateSession(ctx context.Context, projectID string, kind SessionKind, modelID string) (Session, error) {
	release, err := s.locker.Lock(ctx, projectID)
	if err != nil {
		return Session{}, errStorage(err, "acquire project lock for %s", projectID)
	}
	defer release()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Session{}, errStorage(err, "begin transaction")
	}
	defer tx.Rollback()

	var maxNumber sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(session_number) FROM sessions WHERE project_id = ?`, projectID).
		Scan(&maxNumber); err != nil {
		return Session{}, errStorage(err, "compute next session number for %s", projectID)
	}
	next := 0
	if maxNumber.Valid {
		next = int(maxNumber.Int64) + 1
	}
	if next == 0 && kind != SessionInitializer {
		return Session{}, errPrecondition("session 0 for project %s must be the initializer", projectID)
	}
	if next != 0 && kind == SessionInitializer {
		return Session{}, errPrecondition("only session 0 may be the initializer for project %s", projectID)
	}

	sess := Session{
		ID:            uuid.NewString(),
		ProjectID:     projectID,
		SessionNumber: next,
		Kind:          kind,
		Status:        SessionRunning,
		ModelID:       modelID,
		StartedAt:     time.Now().UTC(),
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (id, project_id, session_number, kind, status, model_id, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.ProjectID, sess.SessionNumber, string(sess.Kind), string(sess.Status), sess.ModelID, nowStamp())
	if err != nil {
		return Session{}, errStorage(err, "create session for project %s", projectID)
	}
	if err := tx.Commit(); err != nil {
		return Session{}, errStorage(err, "commit session creation for %s", projectID)
	}
	return sess, nil
}

// FinalizeSession is the terminal transition for a session. Invariant 5:
// once terminal, a session is immutable except for QualityCheck
// attachment. Calling FinalizeSession again on a terminal session fails.
func (s *Store) FinalizeSession(ctx context.Context, sessionID string, status SessionStatus, counters SessionCounters, tokens TokenUsage, metrics map[string]any) error {
	if status == SessionRunning {
		return errPrecondition("finalize status must be terminal, got %s", status)
	}
	metricsJSON, err := json.Marshal(metrics)
	if err != nil {
		return errStorage(err, "encode session metrics")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errStorage(err, "begin transaction")
	}
	defer tx.Rollback()

	var current SessionStatus
	if err := tx.QueryRowContext(ctx, `SELECT status FROM sessions WHERE id = ?`, sessionID).Scan(&current); err != nil {
		if err == sql.ErrNoRows {
			return errNotFound("session %s not found", sessionID)
		}
		return errStorage(err, "load session %s", sessionID)
	}
	if isTerminal(current) {
		return errPrecondition("session %s is already terminal", sessionID)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE sessions SET status = ?, ended_at = ?, tool_use_count = ?, error_count = ?,
		       tokens_input = ?, tokens_output = ?, tokens_cache_creation = ?, tokens_cache_read = ?, metrics_json = ?
		WHERE id = ?`,
		string(status), nowStamp(), counters.ToolUses, counters.Errors,
		tokens.Input, tokens.Output, tokens.CacheCreation, tokens.CacheRead, string(metricsJSON), sessionID)
	if err != nil {
		return errStorage(err, "finalize session %s", sessionID)
	}
	return tx.Commit()
}

func isTerminal(s SessionStatus) bool {
	return s == SessionCompleted || s == SessionFailed || s == SessionCancelled
}

// AttachQualityCheck upserts a quality check by (session, kind), per
// invariant 6: quick exists at most once per session, deep zero or one.
func (s *Store) AttachQualityCheck(ctx context.Context, sessionID string, checkType QualityCheckType, rating int, source RatingSource, counters QualityCheckCounters, issues []string, reviewText string) (QualityCheck, error) {
	issuesJSON, err := json.Marshal(issues)
	if err != nil {
		return QualityCheck{}, errStorage(err, "encode quality issues")
	}
	qc := QualityCheck{
		ID:           uuid.NewString(),
		SessionID:    sessionID,
		CheckType:    checkType,
		Rating:       rating,
		RatingSource: source,
		Counters:     counters,
		Issues:       issues,
		ReviewText:   reviewText,
		CreatedAt:    time.Now().UTC(),
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO quality_checks (id, session_id, check_type, rating, rating_source, tool_uses, errors, browser_verifications, issues_json, review_text, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, check_type) DO UPDATE SET
			rating = excluded.rating,
			rating_source = excluded.rating_source,
			tool_uses = excluded.tool_uses,
			errors = excluded.errors,
			browser_verifications = excluded.browser_verifications,
			issues_json = excluded.issues_json,
			review_text = excluded.review_text`,
		qc.ID, qc.SessionID, string(qc.CheckType), qc.Rating, string(qc.RatingSource),
		counters.ToolUses, counters.Errors, counters.BrowserVerifications, string(issuesJSON), qc.ReviewText, nowStamp())
	if err != nil {
		return QualityCheck{}, errStorage(err, "attach %s quality check to session %s", checkType, sessionID)
	}
	return qc, nil
}

// ListOpenSessions returns sessions still in the running state for a
// project. At most one by design; used for crash-recovery reconciliation.
func (s *Store) ListOpenSessions(ctx context.Context, projectID string) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, session_number, kind, status, model_id, started_at, ended_at,
		       tool_use_count, error_count, tokens_input, tokens_output, tokens_cache_creation, tokens_cache_read
		FROM sessions WHERE project_id = ? AND status = ?`, projectID, string(SessionRunning))
	if err != nil {
		return nil, errStorage(err, "list open sessions for %s", projectID)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSessionRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// ResetProject archives the existing epic/task/test tree (soft delete via
// the archived column, preserving cascade history for audit) so a fresh
// session 0 can run against a clean roadmap. Only valid once session 0
// already exists; a project with zero sessions doesn't need resetting.
func (s *Store) ResetProject(ctx context.Context, projectID string) error {
	release, err := s.locker.Lock(ctx, projectID)
	if err != nil {
		return errStorage(err, "acquire project lock for %s", projectID)
	}
	defer release()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errStorage(err, "begin transaction")
	}
	defer tx.Rollback()

	var sessionCount int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE project_id = ?`, projectID).Scan(&sessionCount); err != nil {
		return errStorage(err, "count sessions for %s", projectID)
	}
	if sessionCount == 0 {
		return errPrecondition("project %s has no sessions to reset", projectID)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE tests SET archived = 1 WHERE task_id IN (
			SELECT t.id FROM tasks t JOIN epics e ON e.id = t.epic_id WHERE e.project_id = ?)`, projectID); err != nil {
		return errStorage(err, "archive tests for %s", projectID)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE tasks SET archived = 1 WHERE epic_id IN (SELECT id FROM epics WHERE project_id = ?)`, projectID); err != nil {
		return errStorage(err, "archive tasks for %s", projectID)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE epics SET archived = 1 WHERE project_id = ?`, projectID); err != nil {
		return errStorage(err, "archive epics for %s", projectID)
	}
	return tx.Commit()
}

func parseStamp(s string) time.Time {
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return ts
}

func scanTask(row rowScanner) (*Task, error) {
	var t Task
	var createdAt string
	var startedAt, completedAt sql.NullString
	var archived bool
	if err := row.Scan(&t.ID, &t.EpicID, &t.Ordinal, &t.Title, &t.Description, &t.Status,
		&startedAt, &completedAt, &createdAt, &archived); err != nil {
		return nil, err
	}
	t.Archived = archived
	t.CreatedAt = parseStamp(createdAt)
	if startedAt.Valid {
		ts := parseStamp(startedAt.String)
		t.StartedAt = &ts
	}
	if completedAt.Valid {
		ts := parseStamp(completedAt.String)
		t.CompletedAt = &ts
	}
	return &t, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSessionRow(rs rowScanner) (Session, error) {
	var sess Session
	var startedAt string
	var endedAt sql.NullString
	if err := rs.Scan(&sess.ID, &sess.ProjectID, &sess.SessionNumber, &sess.Kind, &sess.Status, &sess.ModelID,
		&startedAt, &endedAt, &sess.Counters.ToolUses, &sess.Counters.Errors,
		&sess.Tokens.Input, &sess.Tokens.Output, &sess.Tokens.CacheCreation, &sess.Tokens.CacheRead); err != nil {
		return Session{}, fmt.Errorf("scan session: %w", err)
	}
	sess.StartedAt = parseStamp(startedAt)
	if endedAt.Valid {
		ts := parseStamp(endedAt.String)
		sess.EndedAt = &ts
	}
	return sess, nil
}
