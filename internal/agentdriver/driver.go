// Package agentdriver implements the Agent Driver (C6): a single-shot
// function that renders a session's system prompt, drives an external model
// through a tool-calling loop via one provider.Provider, and emits the
// result as a stream of hooks.Events. It never lets a transport failure
// escape as a Go error from Run; failures become a terminal error event
// followed by a session_end event, matching the call site's expectation
// that it only ever needs to range over a channel.
package agentdriver

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/dynamous-community/YokeFlow/internal/agentdriver/prompt"
	"github.com/dynamous-community/YokeFlow/internal/agentdriver/provider"
	"github.com/dynamous-community/YokeFlow/internal/hooks"
	"github.com/dynamous-community/YokeFlow/internal/taskstore"
	"github.com/dynamous-community/YokeFlow/internal/toolbridge"
)

// DefaultBufferCap is the default bound on a single tool result's content
// before it is truncated with an agent_transport error event, matching
// spec.md §4.6's "bounded buffer (e.g. 10 MiB)" guidance.
const DefaultBufferCap = 10 * 1024 * 1024

// DefaultMaxTurns bounds the tool-calling loop so a model that never calls
// session_wrapup_requested cannot run a session forever.
const DefaultMaxTurns = 200

// ToolExecutor dispatches one tool call and returns its result. A review
// session with no tool access leaves Params.Executor nil.
type ToolExecutor func(ctx context.Context, name toolbridge.ToolName, payload []byte) (any, error)

// BridgeExecutor adapts a *toolbridge.Bridge to ToolExecutor. toolbridge.
// Bridge.Call returns a *toolerrors.ToolError, which must be converted to a
// plain error through an explicit nil check: a typed nil pointer assigned
// to an error interface value is itself non-nil.
func BridgeExecutor(b *toolbridge.Bridge) ToolExecutor {
	return func(ctx context.Context, name toolbridge.ToolName, payload []byte) (any, error) {
		result, toolErr := b.Call(ctx, name, payload)
		if toolErr != nil {
			return result, toolErr
		}
		return result, nil
	}
}

// Params configures one Run invocation.
type Params struct {
	ProjectID   string
	SessionID   string
	ProjectName string
	SpecPath    string

	Kind    taskstore.SessionKind
	Sandbox prompt.SandboxFlavor

	Provider provider.Provider
	Model    string

	// Tools is the catalog advertised to the model; empty for a tool-free
	// review invocation. Executor is required whenever Tools is non-empty.
	Tools    []toolbridge.ToolSpec
	Executor ToolExecutor

	// InitialMessage kicks off the conversation: "Begin." for a coding or
	// initializer session, or the raw session log for a review session.
	InitialMessage string

	MaxTokens int
	MaxTurns  int
	BufferCap int
}

// Run renders the session's system prompt and drives the tool-calling loop
// against p.Provider, publishing every translated event to bus and also
// returning them on the channel so the caller can consume them in order
// without a second subscription. The channel closes once the session
// reaches a terminal state; Run never panics or returns an error itself.
func Run(ctx context.Context, bus hooks.Bus, p Params) <-chan hooks.Event {
	out := make(chan hooks.Event, 64)
	go func() {
		defer close(out)
		runLoop(ctx, bus, p, out)
	}()
	return out
}

func runLoop(ctx context.Context, bus hooks.Bus, p Params, out chan<- hooks.Event) {
	maxTurns := p.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	bufferCap := p.BufferCap
	if bufferCap <= 0 {
		bufferCap = DefaultBufferCap
	}

	rendered, err := prompt.Render(kindToPromptKind(p.Kind), p.Sandbox, prompt.Vars{ProjectName: p.ProjectName, SpecPath: p.SpecPath})
	if err != nil {
		emit(ctx, bus, out, hooks.NewErrorEvent(p.ProjectID, p.SessionID, "prompt_render", err.Error()))
		emit(ctx, bus, out, hooks.NewSessionEndEvent(p.ProjectID, p.SessionID, "failed", 0, 0, 1, hooks.TokenUsage{}))
		return
	}

	started := time.Now()
	emit(ctx, bus, out, hooks.NewSessionStartEvent(p.ProjectID, p.SessionID, 0, ""))

	tools := encodeToolSpecs(p.Tools)
	messages := []provider.Message{{Role: provider.RoleUser, Content: p.InitialMessage}}

	toolUseCount, errorCount := 0, 0
	var tokens hooks.TokenUsage
	outcome := "completed"

turnLoop:
	for turn := 0; turn < maxTurns; turn++ {
		if ctx.Err() != nil {
			outcome = "cancelled"
			break
		}

		req := provider.Request{
			SystemPrompt: rendered.Text,
			Messages:     messages,
			Model:        p.Model,
			Tools:        tools,
			MaxTokens:    p.MaxTokens,
		}
		stream, err := p.Provider.Stream(ctx, req)
		if err != nil {
			errorCount++
			emit(ctx, bus, out, hooks.NewErrorEvent(p.ProjectID, p.SessionID, "agent_transport", err.Error()))
			outcome = "failed"
			break
		}

		var text strings.Builder
		var toolCalls []provider.ToolCall
		wrapupRequested := false

	recvLoop:
		for {
			ev, err := stream.Recv()
			if err != nil {
				if ctx.Err() != nil {
					outcome = "cancelled"
					_ = stream.Close()
					break turnLoop
				}
				if !isStreamDone(err) {
					errorCount++
					emit(ctx, bus, out, hooks.NewErrorEvent(p.ProjectID, p.SessionID, "agent_transport", err.Error()))
					outcome = "failed"
					_ = stream.Close()
					break turnLoop
				}
				break recvLoop
			}
			switch ev.Kind {
			case provider.StreamEventText:
				text.WriteString(ev.Text)
				emit(ctx, bus, out, hooks.NewAssistantTextEvent(p.ProjectID, p.SessionID, ev.Text))
			case provider.StreamEventToolCall:
				toolCalls = append(toolCalls, *ev.ToolCall)
			case provider.StreamEventUsage:
				if ev.Usage != nil {
					tokens.Input += ev.Usage.InputTokens
					tokens.Output += ev.Usage.OutputTokens
					tokens.CacheRead += ev.Usage.CacheReadTokens
					tokens.CacheCreation += ev.Usage.CacheWriteTokens
				}
			case provider.StreamEventStop:
				// informational only; turn end is driven by Recv() returning
				// the stream-done sentinel.
			}
		}
		_ = stream.Close()

		if len(toolCalls) == 0 {
			break
		}

		assistantMsg := provider.Message{Role: provider.RoleAssistant, Content: text.String(), ToolCalls: toolCalls}
		var resultMsg provider.Message
		resultMsg.Role = provider.RoleUser

		for _, tc := range toolCalls {
			toolUseCount++
			emit(ctx, bus, out, hooks.NewToolUseEvent(p.ProjectID, p.SessionID, tc.ID, tc.Name, tc.Input))

			callStart := time.Now()
			result, callErr := dispatch(ctx, p.Executor, toolbridge.ToolName(tc.Name), tc.Input)
			duration := time.Since(callStart)

			content, isErr, overflowed := renderToolResult(result, callErr, bufferCap)
			if isErr {
				errorCount++
			}
			if overflowed {
				errorCount++
				emit(ctx, bus, out, hooks.NewErrorEvent(p.ProjectID, p.SessionID, "agent_transport", "tool result exceeded transport buffer cap and was truncated"))
			}
			emit(ctx, bus, out, hooks.NewToolResultEvent(p.ProjectID, p.SessionID, tc.ID, tc.Name, isErr, content, duration))
			resultMsg.ToolResults = append(resultMsg.ToolResults, provider.ToolResult{ToolCallID: tc.ID, Content: content, IsError: isErr})

			if tc.Name == string(toolbridge.SessionWrapupRequested) && !isErr {
				wrapupRequested = true
			}
		}

		messages = append(messages, assistantMsg, resultMsg)
		if wrapupRequested {
			break
		}
	}

	emit(ctx, bus, out, hooks.NewSessionEndEvent(p.ProjectID, p.SessionID, outcome, time.Since(started).Seconds(), toolUseCount, errorCount, tokens))
}

func dispatch(ctx context.Context, exec ToolExecutor, name toolbridge.ToolName, payload json.RawMessage) (any, error) {
	if exec == nil {
		return nil, errors.New("agentdriver: no tool executor configured for this session")
	}
	return exec(ctx, name, payload)
}

// renderToolResult renders a tool call's outcome as the string fed back to
// the model, reports whether it should be marked is_error, and separately
// reports whether it was truncated for exceeding bufferCap. An overflow is
// not itself marked is_error on the tool result: the model still receives
// usable (truncated) content and can recover, per spec.md §4.6; the caller
// surfaces the overflow as its own agent_transport error event instead.
func renderToolResult(result any, callErr error, bufferCap int) (content string, isErr, overflowed bool) {
	if callErr != nil {
		content, overflowed = truncateContent(callErr.Error(), bufferCap)
		return content, true, overflowed
	}
	data, err := json.Marshal(result)
	if err != nil {
		content, overflowed = truncateContent(err.Error(), bufferCap)
		return content, true, overflowed
	}
	content, overflowed = truncateContent(string(data), bufferCap)
	return content, false, overflowed
}

func truncateContent(content string, limit int) (string, bool) {
	if len(content) <= limit {
		return content, false
	}
	return content[:limit], true
}

// isStreamDone reports whether err is the provider package's normal
// end-of-turn sentinel rather than a real transport failure.
func isStreamDone(err error) bool {
	return errors.Is(err, provider.ErrStreamComplete)
}

func encodeToolSpecs(specs []toolbridge.ToolSpec) []provider.ToolDefinition {
	out := make([]provider.ToolDefinition, 0, len(specs))
	for _, s := range specs {
		out = append(out, provider.ToolDefinition{
			Name:        string(s.Name),
			Description: s.Description,
			InputSchema: json.RawMessage(s.Schema),
		})
	}
	return out
}

func kindToPromptKind(k taskstore.SessionKind) prompt.Kind {
	switch k {
	case taskstore.SessionInitializer:
		return prompt.KindInitializer
	case taskstore.SessionReview:
		return prompt.KindReview
	default:
		return prompt.KindCoding
	}
}

func emit(ctx context.Context, bus hooks.Bus, out chan<- hooks.Event, evt hooks.Event) {
	if bus != nil {
		_ = bus.Publish(ctx, evt)
	}
	select {
	case out <- evt:
		return
	default:
	}
	select {
	case out <- evt:
	case <-ctx.Done():
	}
}
