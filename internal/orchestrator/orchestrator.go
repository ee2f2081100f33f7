// Package orchestrator implements the Session Orchestrator (C7): the
// per-project state machine that schedules sessions, provisions sandboxes,
// drives the Agent Driver, finalizes Task Store bookkeeping, and runs the
// Quality Analyzer's quick/deep gates between sessions. It owns no
// business logic of its own beyond sequencing; every side effect is
// delegated to the components it wires together.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/dynamous-community/YokeFlow/internal/agentdriver/prompt"
	"github.com/dynamous-community/YokeFlow/internal/agentdriver/provider"
	"github.com/dynamous-community/YokeFlow/internal/engine"
	"github.com/dynamous-community/YokeFlow/internal/hooks"
	"github.com/dynamous-community/YokeFlow/internal/quality"
	"github.com/dynamous-community/YokeFlow/internal/sandbox"
	"github.com/dynamous-community/YokeFlow/internal/session"
	"github.com/dynamous-community/YokeFlow/internal/taskstore"
	"github.com/dynamous-community/YokeFlow/internal/telemetry"
	"github.com/dynamous-community/YokeFlow/internal/toolbridge"
)

// ProjectWorkflowName is the logical workflow name registered with the
// engine. Exactly one execution runs per project, per SPEC_FULL.md §4.7.
const ProjectWorkflowName = "ProjectWorkflow"

// Activity names registered with the engine. Exported so a caller
// constructing the engine's task queue routing can reference them without
// string literals.
const (
	ActivityProvisionSandbox            = "ProvisionSandboxActivity"
	ActivityRunSession                  = "RunSessionActivity"
	ActivityQuickQuality                = "QuickQualityActivity"
	ActivityDeepQuality                 = "DeepQualityActivity"
	ActivityAutoContinueDelay           = "AutoContinueDelayActivity"
	ActivitySessionsSinceLastDeepReview = "SessionsSinceLastDeepReviewActivity"
)

// ConsecutiveFailureThreshold is how many consecutive failed sessions stop
// auto-chain, per spec.md §7's "Auto-chain stops on consecutive failed
// sessions (threshold: 2)". Cancelled sessions do not count.
const ConsecutiveFailureThreshold = 2

// ProviderSelector picks the provider.Provider to use for a given model
// id, matching SPEC_FULL.md §4.6's "selected by the project's configured
// model id prefix".
type ProviderSelector func(modelID string) (provider.Provider, error)

// Config carries the tunables spec.md §6's Environment list and §4.7/§4.8
// name explicitly.
type Config struct {
	// LogDir is the root directory under which each project's logs/
	// subdirectory is created, per spec.md §6's workspace layout.
	LogDir string
	// InitializerModel, CodingModel and ReviewModel are the models used for
	// every project's sessions of the matching kind; projects carry no
	// per-project model override.
	InitializerModel string
	CodingModel      string
	ReviewModel      string
	// AutoContinueDelay is slept between sessions of the same project when
	// auto-chaining, per spec.md §4.7 step 7.
	AutoContinueDelay time.Duration
	// DefaultSandboxPolicy is used when a project's own policy is the zero
	// value (e.g. projects created before sandbox policy was persisted).
	DefaultSandboxPolicy sandbox.Policy
	// SessionTimeout is the soft wall-clock cap per session, per spec.md
	// §5's "Timeouts". Zero disables the cap.
	SessionTimeout time.Duration
	// MaxSessionsPerRun bounds how many sessions one workflow execution
	// auto-chains through before halting regardless of remaining work, the
	// "iteration budget" spec.md §4.7 step 7 references. Zero means
	// unbounded.
	MaxSessionsPerRun int
	// DeepReviewPoolSize bounds concurrent deep reviews across the whole
	// instance.
	DeepReviewPoolSize int
}

// Orchestrator wires the Task Store, Sandbox Manager, Tool Bridge, Agent
// Driver, Quality Analyzer, and event bus into one engine.Engine-backed
// state machine.
type Orchestrator struct {
	cfg Config

	store      *taskstore.Store
	sandboxMgr *sandbox.Manager
	bus        hooks.Bus
	eng        engine.Engine
	providers  ProviderSelector
	pool       *quality.Pool
	sessions   session.Store

	logger telemetry.Logger
	tracer telemetry.Tracer
}

// Option configures optional Orchestrator dependencies that most callers
// (and every existing test) do not need to supply.
type Option func(*Orchestrator)

// WithSessionStore attaches a session.Store so each run attempt is recorded
// as a session.RunMeta, giving the at-most-one agent_transport retry spec.md
// §7 allows a durable correlation record distinct from the Task Store's own
// session row. Without this option the orchestrator behaves exactly as
// before: retries are driven in-process with no external bookkeeping.
func WithSessionStore(store session.Store) Option {
	return func(o *Orchestrator) { o.sessions = store }
}

// New constructs an Orchestrator and registers its workflow and activities
// with eng. Call Reconcile once after New, before accepting new project
// work, to implement spec.md §5's crash-recovery rule.
func New(ctx context.Context, cfg Config, store *taskstore.Store, sandboxMgr *sandbox.Manager, bus hooks.Bus, eng engine.Engine, providers ProviderSelector, logger telemetry.Logger, tracer telemetry.Tracer, opts ...Option) (*Orchestrator, error) {
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	if tracer == nil {
		tracer = telemetry.NoopTracer{}
	}
	if cfg.AutoContinueDelay <= 0 {
		cfg.AutoContinueDelay = 5 * time.Second
	}
	if cfg.DeepReviewPoolSize <= 0 {
		cfg.DeepReviewPoolSize = 4
	}

	o := &Orchestrator{
		cfg:        cfg,
		store:      store,
		sandboxMgr: sandboxMgr,
		bus:        bus,
		eng:        eng,
		providers:  providers,
		pool:       quality.NewPool(cfg.DeepReviewPoolSize),
		logger:     logger,
		tracer:     tracer,
	}
	for _, opt := range opts {
		opt(o)
	}

	if err := eng.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name:    ProjectWorkflowName,
		Handler: o.projectWorkflow,
	}); err != nil {
		return nil, fmt.Errorf("orchestrator: register workflow: %w", err)
	}

	activities := []engine.ActivityDefinition{
		{Name: ActivityProvisionSandbox, Handler: o.provisionSandboxActivity},
		{Name: ActivityRunSession, Handler: o.runSessionActivity},
		{Name: ActivityQuickQuality, Handler: o.quickQualityActivity},
		{Name: ActivityDeepQuality, Handler: o.deepQualityActivity},
		{Name: ActivityAutoContinueDelay, Handler: o.autoContinueDelayActivity},
		{Name: ActivitySessionsSinceLastDeepReview, Handler: o.sessionsSinceLastDeepReviewActivity},
	}
	for _, def := range activities {
		if err := eng.RegisterActivity(ctx, def); err != nil {
			return nil, fmt.Errorf("orchestrator: register activity %s: %w", def.Name, err)
		}
	}

	return o, nil
}

// StartProject launches (or resumes) the project workflow for projectID.
// Idempotent at the engine level when a workflow with this ID is already
// running, per engine.Engine.StartWorkflow's contract.
func (o *Orchestrator) StartProject(ctx context.Context, projectID string) (engine.WorkflowHandle, error) {
	return o.eng.StartWorkflow(ctx, engine.WorkflowStartRequest{
		ID:       workflowID(projectID),
		Workflow: ProjectWorkflowName,
		Input:    ProjectWorkflowInput{ProjectID: projectID},
	})
}

func workflowID(projectID string) string {
	return "project/" + projectID
}

func kindToPromptSandbox(policyKind string) prompt.SandboxFlavor {
	if policyKind == "container" {
		return prompt.SandboxContainer
	}
	return prompt.SandboxNone
}

func toolCatalogFor(kind taskstore.SessionKind) []toolbridge.ToolSpec {
	if kind == taskstore.SessionReview {
		return nil
	}
	return toolbridge.Catalog()
}
