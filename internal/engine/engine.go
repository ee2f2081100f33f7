// Package engine defines the durable-execution abstraction used by the
// session orchestrator. It provides a pluggable interface so a build
// session's lifecycle can run atop Temporal in production or an in-memory
// backend in tests, without the orchestrator knowing which.
package engine

import (
	"context"
	"time"

	"github.com/dynamous-community/YokeFlow/internal/telemetry"
)

type (
	// Engine abstracts workflow registration and execution so adapters
	// (Temporal, in-memory) can be swapped without touching the
	// orchestrator. Implementations translate these generic types into
	// backend-specific primitives.
	Engine interface {
		// RegisterWorkflow registers a workflow definition with the engine.
		// Called once during daemon startup before any session starts.
		// Returns an error if the workflow name is already registered.
		RegisterWorkflow(ctx context.Context, def WorkflowDefinition) error

		// RegisterActivity registers an activity definition with the engine.
		// Activities are the short-lived, side-effecting steps a session
		// workflow schedules (sandbox exec, tool bridge calls, task store
		// writes). Must be called during initialization before starting
		// workers.
		RegisterActivity(ctx context.Context, def ActivityDefinition) error

		// StartWorkflow initiates a new session workflow execution and
		// returns a handle for interacting with it. Starting an ID whose
		// execution is still running returns a handle to that execution
		// instead of launching a second one; the orchestrator derives the ID
		// from the project ID alone.
		StartWorkflow(ctx context.Context, req WorkflowStartRequest) (WorkflowHandle, error)
	}

	// WorkflowDefinition binds a workflow handler to a logical name and
	// default queue.
	WorkflowDefinition struct {
		// Name is the logical identifier registered with the engine (e.g.
		// "SessionWorkflow").
		Name string
		// TaskQueue is the default queue used when starting new workflows.
		TaskQueue string
		// Handler is the workflow function invoked by the engine.
		Handler WorkflowFunc
	}

	// WorkflowFunc is the session workflow entry point. It receives a
	// WorkflowContext and the session's start input, returning a result or
	// error. The function must be deterministic: it must produce the same
	// execution sequence given the same inputs and activity results, since
	// the Temporal backend replays it.
	WorkflowFunc func(ctx WorkflowContext, input any) (any, error)

	// WorkflowContext exposes engine operations to workflow handlers within
	// the deterministic execution environment of a workflow. It wraps
	// engine-specific contexts (Temporal workflow.Context, the in-memory
	// context) and provides a uniform API for activity execution, signal
	// handling, and observability.
	//
	// Implementations must preserve deterministic replay: operations that
	// interact with the engine (ExecuteActivity, SignalChannel) must
	// produce deterministic results when replayed. Direct I/O, random
	// number generation, or system time access within workflow code
	// violates determinism.
	//
	// Thread-safety: WorkflowContext is bound to a single workflow
	// execution and must not be shared across goroutines.
	//
	// Lifecycle: created by the engine when a workflow starts and valid
	// until the workflow completes or fails. Do not cache it beyond the
	// workflow function's scope.
	WorkflowContext interface {
		// Context returns the Go context for the workflow. The in-memory
		// engine returns a context cancelled with the workflow; the Temporal
		// engine returns context.Background(), so on that backend
		// cancellation reaches workflow code only through SignalChannel.
		Context() context.Context

		// WorkflowID returns the unique identifier for this workflow
		// execution (the orchestrator's project/session key).
		WorkflowID() string

		// RunID returns the engine-assigned run identifier, used for
		// observability and run-level correlation.
		RunID() string

		// ExecuteActivity schedules an activity for execution and waits for
		// its result. Returns an error if the activity fails after retries
		// or if scheduling fails.
		ExecuteActivity(ctx context.Context, req ActivityRequest, result any) error

		// ExecuteActivityAsync schedules an activity without blocking and
		// returns a Future. Execution errors are returned via Future.Get().
		ExecuteActivityAsync(ctx context.Context, req ActivityRequest) (Future, error)

		// SignalChannel returns a channel for the given signal name.
		// Workflow code polls or blocks on this channel to react to
		// external events (cancel, pause) delivered via the engine's
		// signaling mechanism. The orchestrator uses the "cancel" signal
		// name to implement cooperative session cancellation.
		SignalChannel(name string) SignalChannel

		// Logger returns a logger scoped to this workflow execution.
		Logger() telemetry.Logger

		// Metrics returns a metrics recorder for emitting workflow-scoped
		// metrics.
		Metrics() telemetry.Metrics

		// Tracer returns a tracer for creating spans within the workflow.
		Tracer() telemetry.Tracer

		// Now returns the current workflow time in a deterministic manner.
		// Implementations must return a replay-safe time source.
		Now() time.Time
	}

	// Future represents a pending activity result. Workflows can launch
	// multiple activities via ExecuteActivityAsync (e.g. quick quality
	// analysis alongside the next tool call) and collect results later via
	// Get(), which blocks until the activity finishes.
	//
	// Thread-safety: Futures are bound to a single workflow execution.
	// Calling Get() multiple times is safe and returns the same
	// result/error each time.
	Future interface {
		// Get blocks until the activity completes and populates result
		// with the return value.
		Get(ctx context.Context, result any) error

		// IsReady returns true if the activity has completed (success or
		// failure) and Get() will not block.
		IsReady() bool
	}

	// ActivityDefinition registers an activity handler with optional
	// defaults.
	ActivityDefinition struct {
		// Name is the logical identifier for the activity (e.g.
		// "SandboxExecActivity").
		Name string
		// Handler executes the activity logic when invoked.
		Handler ActivityFunc
		// Options configures retry/timeout behavior for the activity.
		Options ActivityOptions
	}

	// ActivityFunc handles an activity invocation. Unlike workflows,
	// activities may perform side effects: sandbox exec, database writes,
	// HTTP calls to the external agent.
	ActivityFunc func(ctx context.Context, input any) (any, error)

	// ActivityOptions configures retry and timeouts for an activity.
	ActivityOptions struct {
		// Queue overrides the default activity queue. Empty inherits the
		// workflow's task queue.
		Queue string
		// RetryPolicy controls retry behavior. Zero-valued uses the
		// engine's default retry policy.
		RetryPolicy RetryPolicy
		// Timeout bounds total activity execution time including retries.
		// On the Temporal engine zero falls back to one minute; the
		// in-memory engine applies no timeout.
		Timeout time.Duration
	}

	// WorkflowStartRequest describes how to launch a session workflow
	// execution.
	WorkflowStartRequest struct {
		// ID is the workflow identifier, unique within the engine scope.
		// The orchestrator derives this from the project ID.
		ID string
		// Workflow names the registered workflow definition to execute.
		Workflow string
		// TaskQueue selects the queue to schedule the workflow on.
		TaskQueue string
		// Input is the payload passed to the workflow handler (the
		// session's start parameters).
		Input any
		// Memo stores small diagnostic payloads alongside the workflow
		// execution. Nil means no memo.
		Memo map[string]any
		// SearchAttributes captures indexed metadata used for visibility
		// queries. Nil means no attributes are set.
		SearchAttributes map[string]any
		// RetryPolicy controls automatic restarts of the workflow start
		// attempt if scheduling fails. Not to be confused with activity
		// retries.
		RetryPolicy RetryPolicy
	}

	// ActivityRequest contains the info needed to schedule an activity from
	// a workflow.
	ActivityRequest struct {
		// Name identifies the activity to execute (must match a registered
		// ActivityDefinition).
		Name string
		// Input is the payload passed to the activity handler.
		Input any
		// Queue optionally overrides the queue for this invocation.
		Queue string
		// RetryPolicy controls retry behavior for the scheduled activity.
		// Zero-valued uses the policy from the activity definition.
		RetryPolicy RetryPolicy
		// Timeout bounds the activity execution time. On the Temporal
		// engine zero falls back to the activity definition's timeout and
		// then to one minute; the in-memory engine applies no timeout.
		Timeout time.Duration
	}

	// WorkflowHandle allows callers to interact with a running session
	// workflow. Returned by Engine.StartWorkflow.
	WorkflowHandle interface {
		// Wait blocks until the workflow completes, populating result with
		// the workflow's return value.
		Wait(ctx context.Context, result any) error

		// Signal sends an asynchronous message to the workflow.
		Signal(ctx context.Context, name string, payload any) error

		// Cancel requests cancellation of the workflow. The workflow's
		// context is cancelled and in-flight activities may be cancelled
		// depending on the engine.
		Cancel(ctx context.Context) error
	}

	// RetryPolicy defines retry semantics shared by workflows and
	// activities. Zero-valued fields mean the engine uses its defaults.
	RetryPolicy struct {
		// MaxAttempts caps the total number of retry attempts. Zero means
		// unlimited retries.
		MaxAttempts int
		// InitialInterval is the delay before the first retry. Zero means
		// use the engine default.
		InitialInterval time.Duration
		// BackoffCoefficient multiplies the delay after each retry. Values
		// below 1 are treated as 1 (constant backoff).
		BackoffCoefficient float64
	}

	// SignalChannel exposes workflow signal delivery in an engine-agnostic
	// way. Implementations wrap engine-specific channels (Temporal signal
	// channels, in-process Go channels) and provide blocking and
	// non-blocking receive helpers.
	SignalChannel interface {
		// Receive blocks until a signal value is delivered and decodes it
		// into dest. Implementations should respect ctx when possible.
		Receive(ctx context.Context, dest any) error
		// ReceiveAsync attempts to receive a signal without blocking. It
		// returns true when a value was written into dest.
		ReceiveAsync(dest any) bool
	}
)

// CancelSignal is the signal name the orchestrator uses to request
// cooperative cancellation of a running session workflow.
const CancelSignal = "cancel"
