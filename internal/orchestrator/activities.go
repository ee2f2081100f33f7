package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dynamous-community/YokeFlow/internal/agentdriver"
	"github.com/dynamous-community/YokeFlow/internal/eventlog"
	"github.com/dynamous-community/YokeFlow/internal/hooks"
	"github.com/dynamous-community/YokeFlow/internal/quality"
	"github.com/dynamous-community/YokeFlow/internal/sandbox"
	"github.com/dynamous-community/YokeFlow/internal/session"
	"github.com/dynamous-community/YokeFlow/internal/taskstore"
	"github.com/dynamous-community/YokeFlow/internal/toolbridge"
	"github.com/dynamous-community/YokeFlow/internal/yokeerr"
)

// bootstrapFiles are the workspace artifacts a coding or review session
// expects the initializer session to have already produced. Their absence
// before a coding session is the "fail fast with a diagnostic" case spec.md
// §4.7 step 2 calls out explicitly.
var bootstrapFiles = []string{"claude-progress.md"}

// ProvisionSandboxInput is ProvisionSandboxActivity's input.
type ProvisionSandboxInput struct {
	ProjectID string
}

// ProvisionSandboxOutput reports the chosen session kind alongside the
// ready sandbox's workspace path, so the workflow can pass both straight
// into RunSessionActivity without a second Task Store round trip.
type ProvisionSandboxOutput struct {
	Kind          taskstore.SessionKind
	WorkspacePath string
	SandboxKind   string
	ProjectName   string
	SpecPath      string
}

func toSandboxPolicy(p taskstore.SandboxPolicy) sandbox.Policy {
	return sandbox.Policy{Kind: p.Kind, Image: p.Image, CPULimit: p.CPULimit, MemLimit: p.MemLimit, Runtimes: p.Runtimes}
}

// provisionSandboxActivity implements spec.md §4.7 steps 1-2: choose the
// session kind, bring the project's sandbox up, and fail fast when a coding
// session's workspace is missing the artifacts the initializer session must
// have produced.
func (o *Orchestrator) provisionSandboxActivity(ctx context.Context, input any) (any, error) {
	in := input.(ProvisionSandboxInput)

	project, err := o.store.GetProject(ctx, in.ProjectID)
	if err != nil {
		return nil, err
	}
	kind, err := o.store.NextSessionKind(ctx, in.ProjectID)
	if err != nil {
		return nil, err
	}

	policy := project.SandboxPolicy
	if policy.Kind == "" {
		policy = o.cfg.DefaultSandboxPolicy
	}

	if _, err := o.sandboxMgr.Start(ctx, in.ProjectID, project.WorkspacePath, toSandboxPolicy(policy)); err != nil {
		return nil, err
	}
	_ = o.bus.Publish(ctx, hooks.NewSandboxProvisionedEvent(in.ProjectID, "", project.WorkspacePath, policy.Image))

	if kind != taskstore.SessionInitializer {
		for _, name := range bootstrapFiles {
			if _, statErr := os.Stat(filepath.Join(project.WorkspacePath, name)); statErr != nil {
				return nil, yokeerr.New(yokeerr.KindPrecondition, false,
					"workspace %s is missing %s; the initializer session must run before a coding session", project.WorkspacePath, name)
			}
		}
	}

	return ProvisionSandboxOutput{
		Kind:          kind,
		WorkspacePath: project.WorkspacePath,
		SandboxKind:   policy.Kind,
		ProjectName:   project.Name,
		SpecPath:      project.SpecPath,
	}, nil
}

// RunSessionInput is RunSessionActivity's input.
type RunSessionInput struct {
	ProjectID     string
	ProjectName   string
	SpecPath      string
	WorkspacePath string
	SandboxKind   string
	Kind          taskstore.SessionKind
	ModelID       string
}

// RunSessionOutput is RunSessionActivity's output: everything downstream
// activities and the workflow's auto-chain decision need, without forcing
// another Task Store read.
type RunSessionOutput struct {
	SessionID        string
	SessionNumber    int
	Kind             taskstore.SessionKind
	Status           taskstore.SessionStatus
	ToolUseCount     int
	ErrorCount       int
	LogPath          string
	HasRemainingWork bool
	Retried          bool
}

// runSessionActivity implements spec.md §4.7 steps 3-5: open the session,
// drive the Agent Driver to completion (retrying once on an early
// transport failure per §7), flush the structured log, and finalize the
// Task Store row. It is the one place per session where agentdriver.Run is
// invoked.
func (o *Orchestrator) runSessionActivity(ctx context.Context, input any) (any, error) {
	in := input.(RunSessionInput)

	sess, err := o.store.CreateSession(ctx, in.ProjectID, in.Kind, in.ModelID)
	if err != nil {
		return nil, err
	}

	if o.sessions != nil {
		if _, err := o.sessions.CreateSession(ctx, sess.ID, time.Now()); err != nil {
			o.logger.Error(ctx, "orchestrator: session store create error", "session_id", sess.ID, "error", err)
		}
	}

	logDir := filepath.Join(o.cfg.LogDir, in.ProjectID, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, yokeerr.Wrap(yokeerr.KindStorage, true, err, "create log directory for project %s", in.ProjectID)
	}
	sink, err := eventlog.Open(logDir, sess.ID, sess.SessionNumber, in.ModelID, o.tracer)
	if err != nil {
		return nil, yokeerr.Wrap(yokeerr.KindStorage, true, err, "open event log for session %s", sess.ID)
	}

	bridge, err := toolbridge.NewBridge(in.ProjectID, sess.ID, o.store, o.sandboxMgr, o.bus)
	if err != nil {
		return nil, err
	}

	provider, err := o.providers(in.ModelID)
	if err != nil {
		return nil, yokeerr.Wrap(yokeerr.KindAgentTransport, false, err, "select provider for model %s", in.ModelID)
	}

	params := agentdriver.Params{
		ProjectID:      in.ProjectID,
		SessionID:      sess.ID,
		ProjectName:    in.ProjectName,
		SpecPath:       in.SpecPath,
		Kind:           in.Kind,
		Sandbox:        kindToPromptSandbox(in.SandboxKind),
		Provider:       provider,
		Model:          in.ModelID,
		Tools:          toolCatalogFor(in.Kind),
		Executor:       agentdriver.BridgeExecutor(bridge),
		InitialMessage: "Begin.",
	}

	driveCtx := ctx
	if o.cfg.SessionTimeout > 0 {
		var cancel context.CancelFunc
		driveCtx, cancel = context.WithTimeout(ctx, o.cfg.SessionTimeout)
		defer cancel()
	}

	runLabels := map[string]string{"project_id": in.ProjectID, "model_id": in.ModelID}

	attempt0Started := time.Now()
	o.recordRun(ctx, sess.ID, runID(sess.ID, 0), in.ModelID, session.RunStatusRunning, runLabels, attempt0Started)
	outcome, toolUses, errs, events := o.driveSession(driveCtx, o.bus, params, sink)
	o.recordRun(ctx, sess.ID, runID(sess.ID, 0), in.ModelID, runStatusFor(outcome), runLabels, time.Time{})

	retried := false
	if outcome == "failed" && events <= 10 && driveCtx.Err() == nil {
		retried = true
		attempt1Started := time.Now()
		o.recordRun(ctx, sess.ID, runID(sess.ID, 1), in.ModelID, session.RunStatusRunning, runLabels, attempt1Started)
		retryOutcome, retryToolUses, retryErrs, retryEvents := o.driveSession(driveCtx, o.bus, params, sink)
		o.recordRun(ctx, sess.ID, runID(sess.ID, 1), in.ModelID, runStatusFor(retryOutcome), runLabels, time.Time{})
		outcome, toolUses, errs, events = retryOutcome, toolUses+retryToolUses, errs+retryErrs, events+retryEvents
	}
	if driveCtx.Err() != nil && outcome != "cancelled" {
		outcome = "cancelled"
	}

	status := taskstore.SessionCompleted
	switch outcome {
	case "failed":
		status = taskstore.SessionFailed
	case "cancelled":
		status = taskstore.SessionCancelled
	}

	if o.sessions != nil {
		if _, err := o.sessions.EndSession(ctx, sess.ID, time.Now()); err != nil {
			o.logger.Error(ctx, "orchestrator: session store end error", "session_id", sess.ID, "error", err)
		}
	}

	if err := sink.Close(outcome, eventlog.TokenUsage{}); err != nil {
		o.logger.Error(ctx, "orchestrator: event log close error", "session_id", sess.ID, "error", err)
	}

	counters := taskstore.SessionCounters{ToolUses: toolUses, Errors: errs}
	if err := o.store.FinalizeSession(ctx, sess.ID, status, counters, taskstore.TokenUsage{}, nil); err != nil {
		return nil, err
	}

	next, err := o.store.GetNextTask(ctx, in.ProjectID)
	if err != nil {
		return nil, err
	}

	return RunSessionOutput{
		SessionID:        sess.ID,
		SessionNumber:    sess.SessionNumber,
		Kind:             sess.Kind,
		Status:           status,
		ToolUseCount:     toolUses,
		ErrorCount:       errs,
		LogPath:          filepath.Join(logDir, sess.ID+".jsonl"),
		HasRemainingWork: next != nil,
		Retried:          retried,
	}, nil
}

// driveSession runs one Agent Driver invocation to completion, feeding every
// event into sink and returning the terminal outcome plus tallies. events
// counts every SessionEvent the drive yields (assistant_text, tool_use,
// tool_result, error, system_notice, compaction_boundary alike), the
// cumulative count spec.md §7's "within the first 10 events" retry budget
// is keyed off, not just tool uses and errors. It also publishes a
// CounterSnapshotEvent after every tool use so a RedisCounterPublisher
// subscriber can fan live totals out without re-reading the event log.
func (o *Orchestrator) driveSession(ctx context.Context, bus hooks.Bus, params agentdriver.Params, sink *eventlog.Sink) (outcome string, toolUses, errs, events int) {
	outcome = "completed"
	started := time.Now()
	for evt := range agentdriver.Run(ctx, bus, params) {
		events++
		if err := sink.HandleEvent(ctx, evt); err != nil {
			o.logger.Error(ctx, "orchestrator: event log sink error", "error", err)
		}
		switch e := evt.(type) {
		case *hooks.ToolUseEvent:
			toolUses++
			_ = bus.Publish(ctx, hooks.NewCounterSnapshotEvent(params.ProjectID, params.SessionID, toolUses, errs, time.Since(started)))
		case *hooks.ErrorEvent:
			errs++
		case *hooks.SessionEndEvent:
			outcome = e.Outcome
		}
	}
	return outcome, toolUses, errs, events
}

// QuickQualityInput is QuickQualityActivity's input.
type QuickQualityInput struct {
	ProjectID     string
	SessionID     string
	SessionNumber int
	Kind          taskstore.SessionKind
	LogPath       string
	ToolUses      int
	Errors        int
}

// QuickQualityOutput is QuickQualityActivity's output.
type QuickQualityOutput struct {
	Rating int
}

// quickQualityActivity implements spec.md §4.8's quick path, always run
// immediately after a session finalizes.
func (o *Orchestrator) quickQualityActivity(ctx context.Context, input any) (any, error) {
	in := input.(QuickQualityInput)

	result, err := quality.AnalyzeQuick(in.LogPath, in.Kind, taskstore.SessionCounters{ToolUses: in.ToolUses, Errors: in.Errors})
	if err != nil {
		return nil, yokeerr.Wrap(yokeerr.KindStorage, true, err, "analyze session %s", in.SessionID)
	}

	if _, err := o.store.AttachQualityCheck(ctx, in.SessionID, taskstore.QualityQuick, result.Rating, result.Source, result.Counters, result.IssueMessages(), ""); err != nil {
		return nil, err
	}
	_ = o.bus.Publish(ctx, hooks.NewQualityCheckAttachedEvent(in.ProjectID, in.SessionID, "", string(taskstore.QualityQuick), result.Rating >= 7, fmt.Sprintf("rating=%d", result.Rating)))

	return QuickQualityOutput{Rating: result.Rating}, nil
}

// SessionsSinceLastDeepReviewInput is SessionsSinceLastDeepReviewActivity's
// input.
type SessionsSinceLastDeepReviewInput struct {
	ProjectID string
}

// SessionsSinceLastDeepReviewOutput is SessionsSinceLastDeepReviewActivity's
// output.
type SessionsSinceLastDeepReviewOutput struct {
	Count int
}

// sessionsSinceLastDeepReviewActivity seeds the deep-review cadence counter
// from the Task Store's durable quality trend, so a fresh workflow execution
// (a new project workflow started after engine/inmem loses all in-process
// state across a crash) picks the cadence up where the last execution left
// it rather than silently restarting the "every 5th session" count at zero.
func (o *Orchestrator) sessionsSinceLastDeepReviewActivity(ctx context.Context, input any) (any, error) {
	in := input.(SessionsSinceLastDeepReviewInput)

	trend, err := o.store.QualityTrend(ctx, in.ProjectID)
	if err != nil {
		return nil, err
	}
	count := 0
	for i := len(trend) - 1; i >= 0; i-- {
		if trend[i].CheckType == taskstore.QualityDeep {
			break
		}
		count++
	}
	return SessionsSinceLastDeepReviewOutput{Count: count}, nil
}

// DeepQualityInput is DeepQualityActivity's input.
type DeepQualityInput struct {
	ProjectID      string
	ProjectName    string
	SessionID      string
	LogPath        string
	ModelID        string
	FallbackRating int
}

// deepQualityActivity implements spec.md §4.8's deep path: a second,
// tool-free Agent Driver invocation reviewing the session's own log.
// Scheduled fire-and-forget via ExecuteActivityAsync, bounded by the
// Quality Analyzer's worker pool so a burst of trigger conditions across
// projects cannot spawn unbounded concurrent reviews.
func (o *Orchestrator) deepQualityActivity(ctx context.Context, input any) (any, error) {
	in := input.(DeepQualityInput)

	done := make(chan error, 1)
	err := o.pool.Submit(ctx, func(ctx context.Context) {
		provider, err := o.providers(in.ModelID)
		if err != nil {
			done <- err
			return
		}
		result, err := quality.AnalyzeDeep(ctx, quality.DeepParams{
			ProjectID:   in.ProjectID,
			ReviewID:    in.SessionID + "-review",
			ProjectName: in.ProjectName,
			LogPath:     in.LogPath,
			Provider:    provider,
			Model:       in.ModelID,
		}, in.FallbackRating)
		if err != nil {
			done <- err
			return
		}
		if _, err := o.store.AttachQualityCheck(ctx, in.SessionID, taskstore.QualityDeep, result.Rating, result.Source, result.Counters, result.IssueMessages(), result.ReviewText); err != nil {
			done <- err
			return
		}
		_ = o.bus.Publish(ctx, hooks.NewQualityCheckAttachedEvent(in.ProjectID, in.SessionID, "", string(taskstore.QualityDeep), result.Rating >= 7, fmt.Sprintf("rating=%d", result.Rating)))
		done <- nil
	})
	if err != nil {
		return nil, err
	}

	select {
	case err := <-done:
		return struct{}{}, err
	case <-ctx.Done():
		return struct{}{}, nil
	}
}

// AutoContinueDelayInput is AutoContinueDelayActivity's input.
type AutoContinueDelayInput struct {
	Duration time.Duration
}

// autoContinueDelayActivity sleeps between auto-chained sessions. It runs
// as an activity, not a plain time.Sleep inside the workflow function,
// because workflow code must stay deterministic for replay; only an
// activity may block on wall-clock time.
func (o *Orchestrator) autoContinueDelayActivity(ctx context.Context, input any) (any, error) {
	in := input.(AutoContinueDelayInput)
	timer := time.NewTimer(in.Duration)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
	return struct{}{}, nil
}

// runID derives a stable RunMeta identifier for the attempt'th Agent Driver
// invocation under sessionID: attempt 0 for the initial drive, attempt 1 for
// the at-most-one agent_transport retry spec.md §7 allows.
func runID(sessionID string, attempt int) string {
	return fmt.Sprintf("%s-attempt-%d", sessionID, attempt)
}

// runStatusFor maps driveSession's outcome string onto session.RunStatus.
func runStatusFor(outcome string) session.RunStatus {
	switch outcome {
	case "failed":
		return session.RunStatusFailed
	case "cancelled":
		return session.RunStatusCanceled
	default:
		return session.RunStatusCompleted
	}
}

// recordRun upserts run metadata when a session.Store is configured; it is a
// no-op otherwise so every call site stays safe without one. startedAt is
// passed only on the call that opens the attempt; the zero value on later
// status-transition calls for the same runID lets the store keep the
// original StartedAt, which session.Store implementations treat as
// immutable once set.
func (o *Orchestrator) recordRun(ctx context.Context, sessionID, runID, agentID string, status session.RunStatus, labels map[string]string, startedAt time.Time) {
	if o.sessions == nil {
		return
	}
	if err := o.sessions.UpsertRun(ctx, session.RunMeta{
		AgentID:   agentID,
		RunID:     runID,
		SessionID: sessionID,
		Status:    status,
		StartedAt: startedAt,
		UpdatedAt: time.Now(),
		Labels:    labels,
	}); err != nil {
		o.logger.Error(ctx, "orchestrator: session store upsert run error", "session_id", sessionID, "run_id", runID, "error", err)
	}
}
