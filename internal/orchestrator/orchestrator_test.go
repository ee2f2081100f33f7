package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dynamous-community/YokeFlow/internal/agentdriver/provider"
	"github.com/dynamous-community/YokeFlow/internal/engine"
	"github.com/dynamous-community/YokeFlow/internal/engine/inmem"
	"github.com/dynamous-community/YokeFlow/internal/hooks"
	"github.com/dynamous-community/YokeFlow/internal/sandbox"
	"github.com/dynamous-community/YokeFlow/internal/security"
	"github.com/dynamous-community/YokeFlow/internal/session"
	sessioninmem "github.com/dynamous-community/YokeFlow/internal/session/inmem"
	"github.com/dynamous-community/YokeFlow/internal/taskstore"
	"github.com/dynamous-community/YokeFlow/internal/telemetry"
)

// scriptedStream replays one provider.StreamEvent turn per fakeProvider
// call. Mirrors internal/agentdriver's own test double so the orchestrator
// can drive a real agentdriver.Run without a live model.
type scriptedStream struct {
	events []provider.StreamEvent
	pos    int
}

func (s *scriptedStream) Recv() (provider.StreamEvent, error) {
	if s.pos >= len(s.events) {
		return provider.StreamEvent{}, provider.ErrStreamComplete
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, nil
}

func (s *scriptedStream) Close() error { return nil }

type fakeProvider struct {
	turns []*scriptedStream
	calls int
}

func (f *fakeProvider) Name() string { return "fake" }

// errTransport marks a scripted turn that fails at Stream() itself, the
// same failure mode a dropped connection or a rejected request produces.
var errTransport = errors.New("fake provider transport error")

func (f *fakeProvider) Stream(context.Context, provider.Request) (provider.EventStream, error) {
	if f.calls >= len(f.turns) {
		return wrapupTurn(), nil
	}
	s := f.turns[f.calls]
	f.calls++
	if s == nil {
		return nil, errTransport
	}
	return s, nil
}

// wrapupTurn builds a single-turn script that immediately ends the session
// by requesting wrapup, the minimal scripted agent a scenario test needs
// when it only cares about orchestrator-level bookkeeping.
func wrapupTurn() *scriptedStream {
	return &scriptedStream{events: []provider.StreamEvent{
		{Kind: provider.StreamEventToolCall, ToolCall: &provider.ToolCall{
			ID: "wrapup", Name: "session_wrapup_requested", Input: json.RawMessage(`{"project_id":"demo"}`),
		}},
	}}
}

func newTestHarness(t *testing.T, p provider.Provider) (*Orchestrator, *taskstore.Store, engine.Engine) {
	t.Helper()

	store, err := taskstore.New(":memory:", nil)
	require.NoError(t, err)

	gate := security.New()
	sandboxMgr := sandbox.NewManager(sandbox.DefaultFactory(gate), 100, 10)
	bus := hooks.NewBus()
	eng := inmem.New()

	providers := func(string) (provider.Provider, error) { return p, nil }

	logDir := t.TempDir()
	orch, err := New(context.Background(), Config{
		LogDir:             logDir,
		InitializerModel:   "fake-model",
		CodingModel:        "fake-model",
		ReviewModel:        "fake-model",
		AutoContinueDelay:  time.Millisecond,
		MaxSessionsPerRun:  10,
		DeepReviewPoolSize: 1,
	}, store, sandboxMgr, bus, eng, providers, telemetry.NoopLogger{}, telemetry.NoopTracer{})
	require.NoError(t, err)

	return orch, store, eng
}

// newTestHarnessWithSessionStore is newTestHarness plus an in-memory
// session.Store wired via WithSessionStore, for exercising run-attempt
// correlation bookkeeping.
func newTestHarnessWithSessionStore(t *testing.T, p provider.Provider, sessions session.Store) (*Orchestrator, *taskstore.Store) {
	t.Helper()

	store, err := taskstore.New(":memory:", nil)
	require.NoError(t, err)

	gate := security.New()
	sandboxMgr := sandbox.NewManager(sandbox.DefaultFactory(gate), 100, 10)
	bus := hooks.NewBus()
	eng := inmem.New()

	providers := func(string) (provider.Provider, error) { return p, nil }

	orch, err := New(context.Background(), Config{
		LogDir:             t.TempDir(),
		InitializerModel:   "fake-model",
		CodingModel:        "fake-model",
		ReviewModel:        "fake-model",
		AutoContinueDelay:  time.Millisecond,
		MaxSessionsPerRun:  10,
		DeepReviewPoolSize: 1,
	}, store, sandboxMgr, bus, eng, providers, telemetry.NoopLogger{}, telemetry.NoopTracer{}, WithSessionStore(sessions))
	require.NoError(t, err)

	return orch, store
}

func createTestProject(t *testing.T, store *taskstore.Store, id string) string {
	t.Helper()
	ws := t.TempDir()
	_, err := store.CreateProject(context.Background(), id, "demo", ws+"/spec.md", ws, taskstore.SandboxPolicy{Kind: "none"})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(ws+"/spec.md", []byte("build a todo"), 0o644))
	return ws
}

// S1 — fresh project, initializer only: one session runs, it is the
// initializer, and the workflow halts after it without auto-chaining into
// a coding session.
func TestS1FreshProjectInitializerOnly(t *testing.T) {
	p := &fakeProvider{turns: []*scriptedStream{wrapupTurn()}}
	orch, store, eng := newTestHarness(t, p)
	_ = createTestProject(t, store, "demo")

	handle, err := orch.StartProject(context.Background(), "demo")
	require.NoError(t, err)

	var result ProjectWorkflowResult
	require.NoError(t, handle.Wait(context.Background(), &result))

	require.Equal(t, 1, result.SessionsRun)
	require.Equal(t, "initializer_complete", result.HaltReason)
	require.Equal(t, taskstore.SessionCompleted, result.LastSessionStatus)

	sessions, err := store.ListOpenSessions(context.Background(), "demo")
	require.NoError(t, err)
	require.Empty(t, sessions, "no session should be left running")

	_ = eng
}

// S4 — crash recovery: a session left running when the daemon restarts is
// cancelled by Reconcile, and the next workflow run picks up a fresh
// session with the next session number rather than resuming the stale one.
func TestS4CrashRecoveryReconcile(t *testing.T) {
	p := &fakeProvider{turns: []*scriptedStream{wrapupTurn()}}
	orch, store, _ := newTestHarness(t, p)
	ws := createTestProject(t, store, "demo")

	// Simulate a completed initializer session (so the crashed session
	// below is a coding session, which requires the bootstrap file the
	// initializer would have produced) followed by a coding session still
	// "running" when the daemon crashed.
	init, err := store.CreateSession(context.Background(), "demo", taskstore.SessionInitializer, "fake-model")
	require.NoError(t, err)
	require.NoError(t, store.FinalizeSession(context.Background(), init.ID, taskstore.SessionCompleted, taskstore.SessionCounters{}, taskstore.TokenUsage{}, nil))
	require.NoError(t, os.WriteFile(ws+"/claude-progress.md", []byte("# progress"), 0o644))

	crashed, err := store.CreateSession(context.Background(), "demo", taskstore.SessionCoding, "fake-model")
	require.NoError(t, err)

	require.NoError(t, orch.Reconcile(context.Background()))

	open, err := store.ListOpenSessions(context.Background(), "demo")
	require.NoError(t, err)
	require.Empty(t, open)

	handle, err := orch.StartProject(context.Background(), "demo")
	require.NoError(t, err)
	var result ProjectWorkflowResult
	require.NoError(t, handle.Wait(context.Background(), &result))

	require.Equal(t, 1, result.SessionsRun)
	require.Equal(t, 1, crashed.SessionNumber, "the crashed session was session_number 1")
}

// Two consecutive failed coding sessions stop auto-chain at
// ConsecutiveFailureThreshold even while the project still has open tasks.
func TestConsecutiveFailuresHaltAutoChain(t *testing.T) {
	p := &fakeProvider{turns: []*scriptedStream{
		nil, // session 1: coding, fails
		nil, // session 1 retry (within first 10 events): fails again
		nil, // session 2: coding, fails
		nil, // session 2 retry: fails again
		nil, // spare failing turns for the deep reviews the failed
		nil, // sessions' low quick ratings schedule
	}}
	orch, store, _ := newTestHarness(t, p)
	ws := createTestProject(t, store, "demo")
	require.NoError(t, os.WriteFile(ws+"/claude-progress.md", []byte("# progress"), 0o644))

	// Session 0 already completed and an open task remains, so the workflow
	// keeps auto-chaining coding sessions until the failures stop it.
	ctx := context.Background()
	init, err := store.CreateSession(ctx, "demo", taskstore.SessionInitializer, "fake-model")
	require.NoError(t, err)
	require.NoError(t, store.FinalizeSession(ctx, init.ID, taskstore.SessionCompleted, taskstore.SessionCounters{}, taskstore.TokenUsage{}, nil))
	epic, err := store.CreateEpic(ctx, "demo", 0, "Epic", "")
	require.NoError(t, err)
	_, err = store.CreateTask(ctx, epic.ID, 0, "Task", "")
	require.NoError(t, err)

	handle, err := orch.StartProject(ctx, "demo")
	require.NoError(t, err)
	var result ProjectWorkflowResult
	require.NoError(t, handle.Wait(ctx, &result))

	require.Equal(t, "consecutive_failures", result.HaltReason)
	require.Equal(t, taskstore.SessionFailed, result.LastSessionStatus)
	require.Equal(t, 2, result.SessionsRun, "two failed coding sessions")
}

// S5 — deep-review trigger: a quick rating below 7 schedules exactly one
// deep review, independent of the every-fifth-session and
// since-last-deep-review triggers.
func TestS5DeepReviewTriggersOnLowQuickRating(t *testing.T) {
	require.True(t, shouldDeepReview(4, 6, 0), "a sub-7 quick rating must trigger a deep review")
	require.False(t, shouldDeepReview(4, 8, 1), "a healthy rating on an off-cadence session must not trigger one")
}

func TestS5DeepReviewTriggersEveryFifthSession(t *testing.T) {
	require.True(t, shouldDeepReview(5, 9, 0), "session_number a multiple of 5 always triggers, rating notwithstanding")
	require.False(t, shouldDeepReview(0, 9, 0), "session_number 0 is the initializer and never counts as the fifth session")
}

func TestS5DeepReviewTriggersAfterFiveSessionsWithoutOne(t *testing.T) {
	require.True(t, shouldDeepReview(3, 9, 5), "five sessions since the last deep review forces one even off-cadence")
	require.False(t, shouldDeepReview(3, 9, 4), "four sessions since the last one is not yet due")
}

// The deep-review cadence seed counts trailing quick reviews off the end of
// a project's quality trend, stopping at the most recent deep review.
func TestSessionsSinceLastDeepReviewActivityCountsTrailingQuickReviews(t *testing.T) {
	orch, store, _ := newTestHarness(t, &fakeProvider{})
	_ = createTestProject(t, store, "demo")
	projectID := "demo"
	ctx := context.Background()

	attach := func(kind taskstore.SessionKind, checkType taskstore.QualityCheckType) {
		sess, err := store.CreateSession(ctx, projectID, kind, "fake-model")
		require.NoError(t, err)
		_, err = store.AttachQualityCheck(ctx, sess.ID, checkType, 8, taskstore.RatingFromQuick, taskstore.QualityCheckCounters{}, nil, "")
		require.NoError(t, err)
	}

	attach(taskstore.SessionInitializer, taskstore.QualityQuick)
	attach(taskstore.SessionCoding, taskstore.QualityQuick)
	attach(taskstore.SessionCoding, taskstore.QualityDeep)
	attach(taskstore.SessionCoding, taskstore.QualityQuick)
	attach(taskstore.SessionCoding, taskstore.QualityQuick)

	out, err := orch.sessionsSinceLastDeepReviewActivity(ctx, SessionsSinceLastDeepReviewInput{ProjectID: projectID})
	require.NoError(t, err)
	require.Equal(t, SessionsSinceLastDeepReviewOutput{Count: 2}, out)
}

// With no quality history at all (a project that has not yet run a
// session), the seed is zero rather than an error.
func TestSessionsSinceLastDeepReviewActivityZeroOnFreshProject(t *testing.T) {
	orch, store, _ := newTestHarness(t, &fakeProvider{})
	_ = createTestProject(t, store, "demo")
	projectID := "demo"

	out, err := orch.sessionsSinceLastDeepReviewActivity(context.Background(), SessionsSinceLastDeepReviewInput{ProjectID: projectID})
	require.NoError(t, err)
	require.Equal(t, SessionsSinceLastDeepReviewOutput{Count: 0}, out)
}

// countingSessionStore wraps an in-memory session.Store and counts calls,
// so the test can assert the run-attempt bookkeeping fired without needing
// to know the Task Store's randomly generated session ID ahead of time.
type countingSessionStore struct {
	session.Store
	created int
	upserts int
	ended   int
}

func (c *countingSessionStore) CreateSession(ctx context.Context, sessionID string, createdAt time.Time) (session.Session, error) {
	c.created++
	return c.Store.CreateSession(ctx, sessionID, createdAt)
}

func (c *countingSessionStore) UpsertRun(ctx context.Context, run session.RunMeta) error {
	c.upserts++
	return c.Store.UpsertRun(ctx, run)
}

func (c *countingSessionStore) EndSession(ctx context.Context, sessionID string, endedAt time.Time) (session.Session, error) {
	c.ended++
	return c.Store.EndSession(ctx, sessionID, endedAt)
}

// A configured session.Store records one completed RunMeta per driven
// session and ends the session once the activity finalizes it.
func TestRunSessionActivityRecordsSessionStoreRunMeta(t *testing.T) {
	p := &fakeProvider{turns: []*scriptedStream{wrapupTurn()}}
	sessions := &countingSessionStore{Store: sessioninmem.New()}
	orch, store := newTestHarnessWithSessionStore(t, p, sessions)
	_ = createTestProject(t, store, "demo")

	handle, err := orch.StartProject(context.Background(), "demo")
	require.NoError(t, err)
	var result ProjectWorkflowResult
	require.NoError(t, handle.Wait(context.Background(), &result))
	require.Equal(t, 1, result.SessionsRun)

	require.Equal(t, 1, sessions.created, "one session.Session created per Task Store session")
	require.Equal(t, 2, sessions.upserts, "running then completed RunMeta upserts for the single attempt")
	require.Equal(t, 1, sessions.ended, "the session is ended once the activity finalizes")
}

func TestIsCancelledObservesContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	eng := inmem.New()
	require.NoError(t, eng.RegisterWorkflow(context.Background(), engine.WorkflowDefinition{
		Name: "noop",
		Handler: func(wfCtx engine.WorkflowContext, _ any) (any, error) {
			return isCancelled(wfCtx), nil
		},
	}))
	handle, err := eng.StartWorkflow(ctx, engine.WorkflowStartRequest{ID: "t1", Workflow: "noop", Input: nil})
	require.NoError(t, err)
	var cancelled bool
	require.NoError(t, handle.Wait(context.Background(), &cancelled))
	require.True(t, cancelled)
}
