// Package provider defines the interface the Agent Driver (C6) uses to talk
// to an external model backend, independent of which SDK is underneath.
// Concrete implementations live in provider/anthropic, provider/openai, and
// provider/bedrock; all three satisfy Provider so the driver never branches
// on provider identity outside of construction.
package provider

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrStreamComplete is returned by EventStream.Recv once a turn's events
// have all been delivered. It is not a failure; callers should stop
// reading and treat the turn as finished.
var ErrStreamComplete = errors.New("provider: stream complete")

type (
	// Role identifies the speaker of a Message.
	Role string

	// ToolDefinition describes one callable tool, encoded the same way for
	// every provider: a name, a human description, and a JSON Schema for
	// its input payload.
	ToolDefinition struct {
		Name        string
		Description string
		InputSchema json.RawMessage
	}

	// ToolCall is a tool invocation the model requested.
	ToolCall struct {
		ID    string
		Name  string
		Input json.RawMessage
	}

	// ToolResult is the outcome of a tool invocation fed back to the model
	// on the next turn.
	ToolResult struct {
		ToolCallID string
		Content    string
		IsError    bool
	}

	// Message is one turn of the conversation sent to the provider.
	Message struct {
		Role        Role
		Content     string
		ToolCalls   []ToolCall
		ToolResults []ToolResult
	}

	// Request describes one turn of work for the external agent.
	Request struct {
		SystemPrompt string
		Messages     []Message
		Model        string
		Tools        []ToolDefinition
		MaxTokens    int
		Temperature  float64
	}

	// Usage reports provider token accounting for one turn.
	Usage struct {
		InputTokens      int
		OutputTokens     int
		CacheReadTokens  int
		CacheWriteTokens int
	}

	// StreamEventKind classifies a StreamEvent.
	StreamEventKind string

	// StreamEvent is one incremental unit from a provider's streaming
	// response. The driver translates these into hooks.Events.
	StreamEvent struct {
		Kind       StreamEventKind
		Text       string
		ToolCall   *ToolCall
		Usage      *Usage
		StopReason string
	}

	// EventStream is a cancellable sequence of StreamEvents for one turn.
	// Recv returns ErrStreamComplete when the turn is complete.
	EventStream interface {
		Recv() (StreamEvent, error)
		Close() error
	}

	// Provider streams one conversational turn against an external model.
	Provider interface {
		// Name identifies the provider for error classification and
		// logging (e.g. "anthropic", "openai", "bedrock").
		Name() string
		Stream(ctx context.Context, req Request) (EventStream, error)
	}
)

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"

	StreamEventText     StreamEventKind = "text"
	StreamEventToolCall StreamEventKind = "tool_call"
	StreamEventUsage    StreamEventKind = "usage"
	StreamEventStop     StreamEventKind = "stop"
)
