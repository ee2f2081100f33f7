// Package toolbridge implements the Tool Bridge (C5): the in-process tool
// server exposing task-store mutations and sandbox exec to the external
// agent. One Bridge is bound to exactly one project and session for its
// entire lifetime; every call is checked for project ownership before it
// reaches the Task Store or the Sandbox Manager.
package toolbridge

import (
	"context"
	"time"

	"github.com/dynamous-community/YokeFlow/internal/hooks"
	"github.com/dynamous-community/YokeFlow/internal/sandbox"
	"github.com/dynamous-community/YokeFlow/internal/taskstore"
	"github.com/dynamous-community/YokeFlow/internal/toolerrors"
)

const defaultExecTimeout = 120 * time.Second

// Bridge is constructed once per session with {project_id, sandbox_handle,
// task_store_handle, event_sink}, matching spec.md §4.5's parameterization.
type Bridge struct {
	projectID  string
	sessionID  string
	store      *taskstore.Store
	sandboxMgr *sandbox.Manager
	bus        hooks.Bus
	validator  *validator
}

// NewBridge constructs a Bridge bound to one project and session.
func NewBridge(projectID, sessionID string, store *taskstore.Store, sandboxMgr *sandbox.Manager, bus hooks.Bus) (*Bridge, error) {
	v, err := newValidator()
	if err != nil {
		return nil, err
	}
	return &Bridge{
		projectID:  projectID,
		sessionID:  sessionID,
		store:      store,
		sandboxMgr: sandboxMgr,
		bus:        bus,
		validator:  v,
	}, nil
}

type handlerFunc func(ctx context.Context, b *Bridge, doc map[string]any) (any, error)

var handlers = map[ToolName]handlerFunc{
	TaskStatus:             handleTaskStatus,
	GetNextTask:            handleGetNextTask,
	ListEpics:              handleListEpics,
	GetEpic:                handleGetEpic,
	CreateEpic:             handleCreateEpic,
	ExpandEpic:             handleExpandEpic,
	ListTasks:              handleListTasks,
	GetTask:                handleGetTask,
	CreateTask:             handleCreateTask,
	StartTask:              handleStartTask,
	ListTests:              handleListTests,
	GetTest:                handleGetTest,
	CreateTest:             handleCreateTest,
	UpdateTaskStatus:       handleUpdateTaskStatus,
	UpdateTestResult:       handleUpdateTestResult,
	LogSession:             handleLogSession,
	Exec:                   handleExec,
	SessionWrapupRequested: handleSessionWrapupRequested,
}

// Call dispatches one tool invocation: validates its payload's shape,
// checks project ownership, and forwards to the operation's handler.
// Errors are always returned as structured tool errors, never panics or
// bare Go errors, so the agent can recover.
func (b *Bridge) Call(ctx context.Context, name ToolName, payload []byte) (any, *toolerrors.ToolError) {
	doc, err := b.validator.validate(name, payload)
	if err != nil {
		return nil, toolerrors.NewWithCause(err.Error(), err)
	}

	if pid, _ := doc["project_id"].(string); pid != b.projectID {
		return nil, toolerrors.Errorf("project %q is not accessible from this session", pid)
	}

	handler, ok := handlers[name]
	if !ok {
		return nil, toolerrors.Errorf("unknown tool %q", name)
	}

	result, err := handler(ctx, b, doc)
	if err != nil {
		return nil, toolerrors.NewWithCause(err.Error(), err)
	}
	return result, nil
}
