package taskstore

const schemaDDL = `
CREATE TABLE IF NOT EXISTS projects (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	spec_path       TEXT NOT NULL,
	workspace_path  TEXT NOT NULL,
	sandbox_kind    TEXT NOT NULL DEFAULT 'none',
	sandbox_image   TEXT NOT NULL DEFAULT '',
	sandbox_cpu     TEXT NOT NULL DEFAULT '',
	sandbox_mem     TEXT NOT NULL DEFAULT '',
	sandbox_runtimes TEXT NOT NULL DEFAULT '[]',
	prompt_version  TEXT NOT NULL DEFAULT '',
	archived        INTEGER NOT NULL DEFAULT 0,
	created_at      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS epics (
	id          TEXT PRIMARY KEY,
	project_id  TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	ordinal     INTEGER NOT NULL,
	title       TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT 'pending',
	archived    INTEGER NOT NULL DEFAULT 0,
	created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_epics_project ON epics(project_id, archived, ordinal);

CREATE TABLE IF NOT EXISTS tasks (
	id           TEXT PRIMARY KEY,
	epic_id      TEXT NOT NULL REFERENCES epics(id) ON DELETE CASCADE,
	ordinal      INTEGER NOT NULL,
	title        TEXT NOT NULL,
	description  TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL DEFAULT 'pending',
	started_at   TEXT,
	completed_at TEXT,
	archived     INTEGER NOT NULL DEFAULT 0,
	created_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_epic ON tasks(epic_id, archived, ordinal);

CREATE TABLE IF NOT EXISTS tests (
	id                TEXT PRIMARY KEY,
	task_id           TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	description       TEXT NOT NULL DEFAULT '',
	outcome           TEXT NOT NULL DEFAULT 'unknown',
	verification_note TEXT NOT NULL DEFAULT '',
	archived          INTEGER NOT NULL DEFAULT 0,
	created_at        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tests_task ON tests(task_id, archived);

CREATE TABLE IF NOT EXISTS sessions (
	id                   TEXT PRIMARY KEY,
	project_id           TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	session_number       INTEGER NOT NULL,
	kind                 TEXT NOT NULL,
	status               TEXT NOT NULL DEFAULT 'running',
	model_id             TEXT NOT NULL DEFAULT '',
	started_at           TEXT NOT NULL,
	ended_at             TEXT,
	tool_use_count       INTEGER NOT NULL DEFAULT 0,
	error_count          INTEGER NOT NULL DEFAULT 0,
	tokens_input         INTEGER NOT NULL DEFAULT 0,
	tokens_output        INTEGER NOT NULL DEFAULT 0,
	tokens_cache_creation INTEGER NOT NULL DEFAULT 0,
	tokens_cache_read    INTEGER NOT NULL DEFAULT 0,
	metrics_json         TEXT NOT NULL DEFAULT '{}',
	UNIQUE(project_id, session_number)
);
CREATE INDEX IF NOT EXISTS idx_sessions_project ON sessions(project_id, session_number);
CREATE INDEX IF NOT EXISTS idx_sessions_open ON sessions(project_id, status);

CREATE TABLE IF NOT EXISTS quality_checks (
	id                    TEXT PRIMARY KEY,
	session_id            TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	check_type            TEXT NOT NULL,
	rating                INTEGER NOT NULL,
	rating_source         TEXT NOT NULL DEFAULT 'quick',
	tool_uses             INTEGER NOT NULL DEFAULT 0,
	errors                INTEGER NOT NULL DEFAULT 0,
	browser_verifications INTEGER NOT NULL DEFAULT 0,
	issues_json           TEXT NOT NULL DEFAULT '[]',
	review_text           TEXT NOT NULL DEFAULT '',
	created_at            TEXT NOT NULL,
	UNIQUE(session_id, check_type)
);
`

func (s *Store) migrate() error {
	_, err := s.db.Exec(schemaDDL)
	return err
}
