package agentdriver

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dynamous-community/YokeFlow/internal/agentdriver/prompt"
	"github.com/dynamous-community/YokeFlow/internal/agentdriver/provider"
	"github.com/dynamous-community/YokeFlow/internal/hooks"
	"github.com/dynamous-community/YokeFlow/internal/taskstore"
	"github.com/dynamous-community/YokeFlow/internal/toolbridge"
)

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

// fakeProvider replays one scripted turn per call to Stream, in order.
type fakeProvider struct {
	turns []*scriptedStream
	calls int
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Stream(ctx context.Context, req provider.Request) (provider.EventStream, error) {
	if f.calls >= len(f.turns) {
		return &scriptedStream{events: []provider.StreamEvent{{Kind: provider.StreamEventText, Text: "done"}}}, nil
	}
	s := f.turns[f.calls]
	f.calls++
	return s, nil
}

func collect(ch <-chan hooks.Event) []hooks.Event {
	var out []hooks.Event
	for evt := range ch {
		out = append(out, evt)
	}
	return out
}

func TestRunCompletesOnWrapupToolCall(t *testing.T) {
	p := &fakeProvider{
		turns: []*scriptedStream{
			{events: []provider.StreamEvent{
				{Kind: provider.StreamEventText, Text: "Looking at the roadmap."},
				{Kind: provider.StreamEventToolCall, ToolCall: &provider.ToolCall{ID: "call-1", Name: string(toolbridge.SessionWrapupRequested), Input: json.RawMessage(`{"project_id":"p1"}`)}},
			}},
		},
	}

	executor := func(ctx context.Context, name toolbridge.ToolName, payload []byte) (any, error) {
		require.Equal(t, toolbridge.SessionWrapupRequested, name)
		return map[string]any{"acknowledged": true}, nil
	}

	events := collect(Run(context.Background(), nil, Params{
		ProjectID:      "p1",
		SessionID:      "s1",
		Kind:           taskstore.SessionCoding,
		Sandbox:        prompt.SandboxNone,
		Provider:       p,
		Model:          "fake-model",
		Tools:          toolbridge.Catalog(),
		Executor:       executor,
		InitialMessage: "Begin.",
		MaxTokens:      1024,
	}))

	require.NotEmpty(t, events)
	require.Equal(t, hooks.SessionStart, events[0].Type())
	last := events[len(events)-1]
	require.Equal(t, hooks.SessionEnd, last.Type())
	end := last.(*hooks.SessionEndEvent)
	require.Equal(t, "completed", end.Outcome)
	require.Equal(t, 1, end.ToolUseCount)
}

func TestRunStopsAfterTextOnlyTurn(t *testing.T) {
	p := &fakeProvider{
		turns: []*scriptedStream{
			{events: []provider.StreamEvent{{Kind: provider.StreamEventText, Text: "All done, no tools needed."}}},
		},
	}

	events := collect(Run(context.Background(), nil, Params{
		ProjectID:      "p1",
		SessionID:      "s1",
		Kind:           taskstore.SessionInitializer,
		Sandbox:        prompt.SandboxNone,
		Provider:       p,
		Model:          "fake-model",
		InitialMessage: "Begin.",
		MaxTokens:      1024,
	}))

	last := events[len(events)-1].(*hooks.SessionEndEvent)
	require.Equal(t, "completed", last.Outcome)
	require.Equal(t, 0, last.ToolUseCount)
}

func TestRunSurfacesTransportErrorAsTerminalEvent(t *testing.T) {
	p := &failingProvider{}

	events := collect(Run(context.Background(), nil, Params{
		ProjectID:      "p1",
		SessionID:      "s1",
		Kind:           taskstore.SessionCoding,
		Sandbox:        prompt.SandboxNone,
		Provider:       p,
		Model:          "fake-model",
		InitialMessage: "Begin.",
	}))

	require.Len(t, events, 3)
	require.Equal(t, hooks.ErrorNoticed, events[1].Type())
	end := events[2].(*hooks.SessionEndEvent)
	require.Equal(t, "failed", end.Outcome)
}

type failingProvider struct{}

func (f *failingProvider) Name() string { return "failing" }

func (f *failingProvider) Stream(ctx context.Context, req provider.Request) (provider.EventStream, error) {
	return nil, provider.NewError("failing", "stream", 500, provider.ErrorKindUnavailable, "", "boom", "", true, nil)
}

func TestRunCancellationYieldsCancelledSessionEnd(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &blockingProvider{unblock: make(chan struct{})}

	ch := Run(ctx, nil, Params{
		ProjectID:      "p1",
		SessionID:      "s1",
		Kind:           taskstore.SessionCoding,
		Sandbox:        prompt.SandboxNone,
		Provider:       p,
		Model:          "fake-model",
		InitialMessage: "Begin.",
	})

	// Let the run reach the blocked Recv, then cancel.
	time.Sleep(10 * time.Millisecond)
	cancel()
	close(p.unblock)

	events := collect(ch)
	require.NotEmpty(t, events)
	last := events[len(events)-1].(*hooks.SessionEndEvent)
	require.Equal(t, "cancelled", last.Outcome)
}

type blockingStream struct {
	ctx     context.Context
	unblock chan struct{}
}

func (s *blockingStream) Recv() (provider.StreamEvent, error) {
	select {
	case <-s.ctx.Done():
		return provider.StreamEvent{}, s.ctx.Err()
	case <-s.unblock:
		return provider.StreamEvent{}, provider.ErrStreamComplete
	}
}

func (s *blockingStream) Close() error { return nil }

type blockingProvider struct {
	unblock chan struct{}
}

func (f *blockingProvider) Name() string { return "blocking" }

func (f *blockingProvider) Stream(ctx context.Context, req provider.Request) (provider.EventStream, error) {
	return &blockingStream{ctx: ctx, unblock: f.unblock}, nil
}

// TestRunRecoversFromBufferOverflow covers the oversized-tool-result
// scenario: a single tool call returns a payload past BufferCap, the driver
// surfaces exactly one agent_transport error event for it without marking
// the tool result itself an error, and the session keeps going to a normal
// wrapup-driven completion.
func TestRunRecoversFromBufferOverflow(t *testing.T) {
	p := &fakeProvider{
		turns: []*scriptedStream{
			{events: []provider.StreamEvent{
				{Kind: provider.StreamEventToolCall, ToolCall: &provider.ToolCall{ID: "call-1", Name: "oversized_tool", Input: json.RawMessage(`{}`)}},
			}},
			{events: []provider.StreamEvent{
				{Kind: provider.StreamEventToolCall, ToolCall: &provider.ToolCall{ID: "call-2", Name: string(toolbridge.SessionWrapupRequested), Input: json.RawMessage(`{"project_id":"p1"}`)}},
			}},
		},
	}

	oversized := make(map[string]any)
	oversized["payload"] = string(make([]byte, 64))

	executor := func(ctx context.Context, name toolbridge.ToolName, payload []byte) (any, error) {
		if string(name) == "oversized_tool" {
			return oversized, nil
		}
		return map[string]any{"acknowledged": true}, nil
	}

	events := collect(Run(context.Background(), nil, Params{
		ProjectID:      "p1",
		SessionID:      "s1",
		Kind:           taskstore.SessionCoding,
		Sandbox:        prompt.SandboxNone,
		Provider:       p,
		Model:          "fake-model",
		Tools:          toolbridge.Catalog(),
		Executor:       executor,
		InitialMessage: "Begin.",
		BufferCap:      32,
	}))

	var errorEvents []*hooks.ErrorEvent
	var toolResults []*hooks.ToolResultEvent
	for _, evt := range events {
		switch e := evt.(type) {
		case *hooks.ErrorEvent:
			errorEvents = append(errorEvents, e)
		case *hooks.ToolResultEvent:
			toolResults = append(toolResults, e)
		}
	}

	require.Len(t, errorEvents, 1, "overflow must surface exactly one error event")
	require.Equal(t, "agent_transport", errorEvents[0].Kind)

	require.Len(t, toolResults, 2)
	require.False(t, toolResults[0].IsError, "truncated content is still usable and not itself a tool error")
	require.LessOrEqual(t, len(toolResults[0].Content), 32)

	last := events[len(events)-1].(*hooks.SessionEndEvent)
	require.Equal(t, "completed", last.Outcome)
}
