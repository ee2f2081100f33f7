// Package anthropic adapts github.com/anthropics/anthropic-sdk-go's
// streaming Messages API to the provider.Provider interface.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/dynamous-community/YokeFlow/internal/agentdriver/provider"
)

// MessagesClient captures the subset of the Anthropic SDK used by the
// adapter, so tests can substitute a fake.
type MessagesClient interface {
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// Client implements provider.Provider on top of Anthropic Claude Messages.
type Client struct {
	msg         MessagesClient
	maxTokens   int
	temperature float64
}

// New builds an Anthropic-backed provider from an API key. maxTokens is the
// completion cap used when a Request does not set one.
func New(apiKey string, maxTokens int) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return &Client{msg: &ac.Messages, maxTokens: maxTokens}, nil
}

// Name implements provider.Provider.
func (c *Client) Name() string { return "anthropic" }

// Stream implements provider.Provider.
func (c *Client) Stream(ctx context.Context, req provider.Request) (provider.EventStream, error) {
	if req.Model == "" {
		return nil, provider.NewError("anthropic", "stream", 0, provider.ErrorKindInvalidRequest, "", "model identifier is required", "", false, nil)
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	if maxTokens <= 0 {
		return nil, provider.NewError("anthropic", "stream", 0, provider.ErrorKindInvalidRequest, "", "max_tokens must be positive", "", false, nil)
	}

	params := sdk.MessageNewParams{
		MaxTokens: int64(maxTokens),
		Model:     sdk.Model(req.Model),
		Messages:  encodeMessages(req.Messages),
	}
	if req.SystemPrompt != "" {
		params.System = []sdk.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if len(req.Tools) > 0 {
		params.Tools = encodeTools(req.Tools)
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}

	stream := c.msg.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, classifyError("stream", err)
	}
	return newStreamAdapter(ctx, stream), nil
}

func encodeMessages(msgs []provider.Message) []sdk.MessageParam {
	out := make([]sdk.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		blocks := make([]sdk.ContentBlockParamUnion, 0, 1+len(m.ToolCalls)+len(m.ToolResults))
		if m.Content != "" {
			blocks = append(blocks, sdk.NewTextBlock(m.Content))
		}
		for _, tc := range m.ToolCalls {
			var input any
			_ = json.Unmarshal(tc.Input, &input)
			blocks = append(blocks, sdk.NewToolUseBlock(tc.ID, input, tc.Name))
		}
		for _, tr := range m.ToolResults {
			blocks = append(blocks, sdk.NewToolResultBlock(tr.ToolCallID, tr.Content, tr.IsError))
		}
		if len(blocks) == 0 {
			continue
		}
		switch m.Role {
		case provider.RoleAssistant:
			out = append(out, sdk.NewAssistantMessage(blocks...))
		default:
			out = append(out, sdk.NewUserMessage(blocks...))
		}
	}
	return out
}

func encodeTools(defs []provider.ToolDefinition) []sdk.ToolUnionParam {
	out := make([]sdk.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		var schema map[string]any
		_ = json.Unmarshal(def.InputSchema, &schema)
		u := sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{ExtraFields: schema}, def.Name)
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String(def.Description)
		}
		out = append(out, u)
	}
	return out
}

func classifyError(operation string, err error) *provider.Error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	kind := provider.ErrorKindUnknown
	switch {
	case strings.Contains(msg, "rate_limit") || strings.Contains(msg, "429"):
		kind = provider.ErrorKindRateLimited
	case strings.Contains(msg, "401") || strings.Contains(msg, "authentication"):
		kind = provider.ErrorKindAuth
	case strings.Contains(msg, "400") || strings.Contains(msg, "invalid_request"):
		kind = provider.ErrorKindInvalidRequest
	case strings.Contains(msg, "overloaded") || strings.Contains(msg, "503"):
		kind = provider.ErrorKindUnavailable
	}
	return provider.NewError("anthropic", operation, 0, kind, "", msg, "", kind == provider.ErrorKindRateLimited || kind == provider.ErrorKindUnavailable, err)
}

// streamAdapter turns the Anthropic SSE stream into provider.StreamEvents.
type streamAdapter struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *ssestream.Stream[sdk.MessageStreamEventUnion]

	toolBuf map[int]*toolBuffer

	errMu sync.Mutex
	err   error
	done  bool
}

type toolBuffer struct {
	id        string
	name      string
	fragments []string
}

func newStreamAdapter(ctx context.Context, stream *ssestream.Stream[sdk.MessageStreamEventUnion]) *streamAdapter {
	cctx, cancel := context.WithCancel(ctx)
	return &streamAdapter{ctx: cctx, cancel: cancel, stream: stream, toolBuf: make(map[int]*toolBuffer)}
}

func (s *streamAdapter) Recv() (provider.StreamEvent, error) {
	for {
		if s.done {
			return provider.StreamEvent{}, errDone(s)
		}
		select {
		case <-s.ctx.Done():
			s.done = true
			return provider.StreamEvent{}, s.ctx.Err()
		default:
		}
		if !s.stream.Next() {
			s.done = true
			if err := s.stream.Err(); err != nil {
				return provider.StreamEvent{}, classifyError("recv", err)
			}
			return provider.StreamEvent{}, errDone(s)
		}
		if ev, ok := s.translate(s.stream.Current()); ok {
			return ev, nil
		}
	}
}

func errDone(s *streamAdapter) error {
	return provider.ErrStreamComplete
}

func (s *streamAdapter) translate(event sdk.MessageStreamEventUnion) (provider.StreamEvent, bool) {
	switch ev := event.AsAny().(type) {
	case sdk.ContentBlockStartEvent:
		if toolUse, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
			s.toolBuf[int(ev.Index)] = &toolBuffer{id: toolUse.ID, name: toolUse.Name}
		}
		return provider.StreamEvent{}, false
	case sdk.ContentBlockDeltaEvent:
		idx := int(ev.Index)
		switch delta := ev.Delta.AsAny().(type) {
		case sdk.TextDelta:
			if delta.Text == "" {
				return provider.StreamEvent{}, false
			}
			return provider.StreamEvent{Kind: provider.StreamEventText, Text: delta.Text}, true
		case sdk.InputJSONDelta:
			if tb := s.toolBuf[idx]; tb != nil {
				tb.fragments = append(tb.fragments, delta.PartialJSON)
			}
			return provider.StreamEvent{}, false
		}
		return provider.StreamEvent{}, false
	case sdk.ContentBlockStopEvent:
		idx := int(ev.Index)
		tb := s.toolBuf[idx]
		if tb == nil {
			return provider.StreamEvent{}, false
		}
		delete(s.toolBuf, idx)
		joined := strings.Join(tb.fragments, "")
		if strings.TrimSpace(joined) == "" {
			joined = "{}"
		}
		return provider.StreamEvent{
			Kind:     provider.StreamEventToolCall,
			ToolCall: &provider.ToolCall{ID: tb.id, Name: tb.name, Input: json.RawMessage(joined)},
		}, true
	case sdk.MessageDeltaEvent:
		return provider.StreamEvent{
			Kind: provider.StreamEventUsage,
			Usage: &provider.Usage{
				InputTokens:      int(ev.Usage.InputTokens),
				OutputTokens:     int(ev.Usage.OutputTokens),
				CacheReadTokens:  int(ev.Usage.CacheReadInputTokens),
				CacheWriteTokens: int(ev.Usage.CacheCreationInputTokens),
			},
		}, true
	case sdk.MessageStopEvent:
		return provider.StreamEvent{Kind: provider.StreamEventStop}, true
	default:
		return provider.StreamEvent{}, false
	}
}

func (s *streamAdapter) Close() error {
	s.cancel()
	if s.stream == nil {
		return nil
	}
	return s.stream.Close()
}
