// Package taskstore owns the relational schema for projects, epics, tasks,
// tests, sessions, and quality checks (the Task Store, C3). It is backed by
// SQLite through database/sql and modernc.org/sqlite, a pure-Go driver that
// needs no cgo toolchain. SessionEvent is not modeled here; it lives only in
// the internal/eventlog artifact, matching spec.md's data model exactly.
package taskstore

import "time"

type (
	// EpicStatus, TaskStatus are the pending/in_progress/done lifecycle
	// shared by Epic and Task.
	EpicStatus string
	TaskStatus string

	// TestOutcome is the verification state of a Test.
	TestOutcome string

	// SessionKind distinguishes the initializer session (session 0) from
	// ordinary coding and review sessions.
	SessionKind string

	// SessionStatus is the lifecycle state of a Session row.
	SessionStatus string

	// QualityCheckType distinguishes the quick (deterministic) and deep
	// (agent-reviewed) quality paths.
	QualityCheckType string

	// RatingSource records which path produced a QualityCheck's rating,
	// since a deep review with unparseable free-form text falls back to
	// the quick rating rather than leaving rating null.
	RatingSource string
)

const (
	EpicPending    EpicStatus = "pending"
	EpicInProgress EpicStatus = "in_progress"
	EpicDone       EpicStatus = "done"

	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskDone       TaskStatus = "done"

	TestUnknown TestOutcome = "unknown"
	TestPass    TestOutcome = "pass"
	TestFail    TestOutcome = "fail"

	SessionInitializer SessionKind = "initializer"
	SessionCoding      SessionKind = "coding"
	SessionReview      SessionKind = "review"

	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
	SessionCancelled SessionStatus = "cancelled"

	QualityQuick QualityCheckType = "quick"
	QualityDeep  QualityCheckType = "deep"

	RatingFromQuick RatingSource = "quick"
	RatingFromDeep  RatingSource = "deep"
)

type (
	// SandboxPolicy captures a project's sandbox configuration: the
	// variant tag plus its resource and image parameters.
	SandboxPolicy struct {
		Kind      string // "none", "container", "remote_cloud"
		Image     string
		CPULimit  string
		MemLimit  string
		Runtimes  []string // language runtimes/tools to pre-install

	}

	// Project is the root entity; owns all downstream entities via
	// cascading delete.
	Project struct {
		ID            string
		Name          string
		SpecPath      string
		WorkspacePath string
		SandboxPolicy SandboxPolicy
		PromptVersion string
		CreatedAt     time.Time
		Archived      bool
	}

	// Epic belongs to Project.
	Epic struct {
		ID          string
		ProjectID   string
		Ordinal     int
		Title       string
		Description string
		Status      EpicStatus
		CreatedAt   time.Time
		Archived    bool
	}

	// Task belongs to Epic.
	Task struct {
		ID          string
		EpicID      string
		Ordinal     int
		Title       string
		Description string
		Status      TaskStatus
		StartedAt   *time.Time
		CompletedAt *time.Time
		CreatedAt   time.Time
		Archived    bool
	}

	// Test belongs to Task.
	Test struct {
		ID               string
		TaskID           string
		Description      string
		Outcome          TestOutcome
		VerificationNote string
		CreatedAt        time.Time
		Archived         bool
	}

	// TokenUsage is the provider token accounting attached to a finalized
	// Session.
	TokenUsage struct {
		Input         int
		Output        int
		CacheCreation int
		CacheRead     int
	}

	// SessionCounters are the aggregate tallies recorded on finalization,
	// counted by the orchestrator from the events of the session's run.
	SessionCounters struct {
		ToolUses int
		Errors   int
	}

	// Session belongs to Project.
	Session struct {
		ID            string
		ProjectID     string
		SessionNumber int
		Kind          SessionKind
		Status        SessionStatus
		ModelID       string
		StartedAt     time.Time
		EndedAt       *time.Time
		Counters      SessionCounters
		Tokens        TokenUsage
		Metrics       map[string]any
	}

	// QualityCheckCounters are the counters recorded alongside a quality
	// rating (a superset of SessionCounters: quality checks additionally
	// track browser-automation verifications).
	QualityCheckCounters struct {
		ToolUses             int
		Errors               int
		BrowserVerifications int
	}

	// QualityCheck belongs to Session.
	QualityCheck struct {
		ID           string
		SessionID    string
		CheckType    QualityCheckType
		Rating       int
		RatingSource RatingSource
		Counters     QualityCheckCounters
		Issues       []string
		ReviewText   string
		CreatedAt    time.Time
	}
)
