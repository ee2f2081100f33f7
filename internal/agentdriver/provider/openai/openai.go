// Package openai adapts github.com/openai/openai-go's streaming Responses
// API to the provider.Provider interface.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/responses"

	"github.com/dynamous-community/YokeFlow/internal/agentdriver/provider"
)

// ResponsesClient captures the subset of the OpenAI SDK used by the
// adapter, so tests can substitute a fake.
type ResponsesClient interface {
	NewStreaming(ctx context.Context, body responses.ResponseNewParams, opts ...option.RequestOption) *ssestream.Stream[responses.ResponseStreamEventUnion]
}

// Client implements provider.Provider on top of the OpenAI Responses API.
type Client struct {
	resp      ResponsesClient
	maxTokens int
}

// New builds an OpenAI-backed provider from an API key.
func New(apiKey string, maxTokens int) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	oc := openai.NewClient(option.WithAPIKey(apiKey))
	return &Client{resp: &oc.Responses, maxTokens: maxTokens}, nil
}

// Name implements provider.Provider.
func (c *Client) Name() string { return "openai" }

// Stream implements provider.Provider.
func (c *Client) Stream(ctx context.Context, req provider.Request) (provider.EventStream, error) {
	if req.Model == "" {
		return nil, provider.NewError("openai", "stream", 0, provider.ErrorKindInvalidRequest, "", "model identifier is required", "", false, nil)
	}

	params := responses.ResponseNewParams{
		Model: req.Model,
		Input: responses.ResponseNewParamsInputUnion{OfInputItemList: encodeInput(req)},
	}
	if req.SystemPrompt != "" {
		params.Instructions = openai.String(req.SystemPrompt)
	}
	if req.MaxTokens > 0 {
		params.MaxOutputTokens = openai.Int(int64(req.MaxTokens))
	} else if c.maxTokens > 0 {
		params.MaxOutputTokens = openai.Int(int64(c.maxTokens))
	}
	if len(req.Tools) > 0 {
		params.Tools = encodeTools(req.Tools)
	}

	stream := c.resp.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, classifyError("stream", err)
	}
	return newStreamAdapter(ctx, stream), nil
}

func encodeInput(req provider.Request) responses.ResponseInputParam {
	items := make(responses.ResponseInputParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := responses.EasyInputMessageRoleUser
		if m.Role == provider.RoleAssistant {
			role = responses.EasyInputMessageRoleAssistant
		}
		if m.Content != "" {
			items = append(items, responses.ResponseInputItemParamOfMessage(m.Content, role))
		}
		for _, tc := range m.ToolCalls {
			items = append(items, responses.ResponseInputItemParamOfFunctionCall(string(tc.Input), tc.ID, tc.Name))
		}
		for _, tr := range m.ToolResults {
			items = append(items, responses.ResponseInputItemParamOfFunctionCallOutput(tr.ToolCallID, tr.Content))
		}
	}
	return items
}

func encodeTools(defs []provider.ToolDefinition) []responses.ToolUnionParam {
	out := make([]responses.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		var schema any
		_ = json.Unmarshal(def.InputSchema, &schema)
		out = append(out, responses.ToolParamOfFunction(def.Name, schema, true))
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
	case strings.Contains(msg, "429"):
		kind = provider.ErrorKindRateLimited
	case strings.Contains(msg, "401"):
		kind = provider.ErrorKindAuth
	case strings.Contains(msg, "400"):
		kind = provider.ErrorKindInvalidRequest
	case strings.Contains(msg, "503") || strings.Contains(msg, "overloaded"):
		kind = provider.ErrorKindUnavailable
	}
	return provider.NewError("openai", operation, 0, kind, "", msg, "", kind == provider.ErrorKindRateLimited || kind == provider.ErrorKindUnavailable, err)
}

type streamAdapter struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *ssestream.Stream[responses.ResponseStreamEventUnion]
	done   bool
}

func newStreamAdapter(ctx context.Context, stream *ssestream.Stream[responses.ResponseStreamEventUnion]) *streamAdapter {
	cctx, cancel := context.WithCancel(ctx)
	return &streamAdapter{ctx: cctx, cancel: cancel, stream: stream}
}

func (s *streamAdapter) Recv() (provider.StreamEvent, error) {
	for {
		if s.done {
			return provider.StreamEvent{}, provider.ErrStreamComplete
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
			return provider.StreamEvent{}, provider.ErrStreamComplete
		}
		if ev, ok := translate(s.stream.Current()); ok {
			return ev, nil
		}
	}
}

func translate(event responses.ResponseStreamEventUnion) (provider.StreamEvent, bool) {
	switch ev := event.AsAny().(type) {
	case responses.ResponseTextDeltaEvent:
		if ev.Delta == "" {
			return provider.StreamEvent{}, false
		}
		return provider.StreamEvent{Kind: provider.StreamEventText, Text: ev.Delta}, true
	case responses.ResponseOutputItemDoneEvent:
		if fc, ok := ev.Item.AsAny().(responses.ResponseFunctionToolCall); ok {
			return provider.StreamEvent{
				Kind: provider.StreamEventToolCall,
				ToolCall: &provider.ToolCall{
					ID:    fc.CallID,
					Name:  fc.Name,
					Input: json.RawMessage(fc.Arguments),
				},
			}, true
		}
		return provider.StreamEvent{}, false
	case responses.ResponseCompletedEvent:
		usage := &provider.Usage{
			InputTokens:  int(ev.Response.Usage.InputTokens),
			OutputTokens: int(ev.Response.Usage.OutputTokens),
		}
		return provider.StreamEvent{Kind: provider.StreamEventUsage, Usage: usage}, true
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
