// Package telemetry defines the logging, metrics, and tracing seam used
// throughout the runtime. Components depend on these interfaces, never on a
// concrete backend, so orchestrator/eventlog/taskstore/etc. stay testable
// with no-op implementations while production wiring uses Clue + OTEL.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Logger captures structured logging used across the runtime. The interface
// is intentionally small so tests can provide lightweight stubs without
// pulling in a logging backend.
type Logger interface {
	Debug(ctx context.Context, msg string, keyvals ...any)
	Info(ctx context.Context, msg string, keyvals ...any)
	Warn(ctx context.Context, msg string, keyvals ...any)
	Error(ctx context.Context, msg string, keyvals ...any)
}

// Metrics exposes counter, timer, and gauge helpers for runtime
// instrumentation.
type Metrics interface {
	IncCounter(name string, value float64, tags ...string)
	RecordTimer(name string, duration time.Duration, tags ...string)
	RecordGauge(name string, value float64, tags ...string)
}

// Tracer abstracts span creation so runtime code stays agnostic of the
// underlying OpenTelemetry provider.
type Tracer interface {
	Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
	Span(ctx context.Context) Span
}

// Span represents an in-flight tracing span.
type Span interface {
	End(opts ...trace.SpanEndOption)
	AddEvent(name string, attrs ...any)
	SetStatus(code codes.Code, description string)
	RecordError(err error, opts ...trace.EventOption)
}

// ToolTelemetry captures observability metadata collected during a sandbox
// exec or model call. Extra holds call-specific metadata not captured by the
// common fields (e.g. provider response headers).
type ToolTelemetry struct {
	// DurationMs is the wall-clock execution time in milliseconds.
	DurationMs int64
	// TokensUsed tracks total tokens consumed by an LLM call, zero for pure
	// sandbox exec calls.
	TokensUsed int
	// Model identifies which model served the call, empty for non-model calls.
	Model string
	// Extra holds call-specific metadata.
	Extra map[string]any
}
