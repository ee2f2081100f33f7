// Package bedrock adapts github.com/aws/aws-sdk-go-v2/service/bedrockruntime's
// streaming Converse API to the provider.Provider interface, using
// github.com/aws/smithy-go for shared error typing.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"

	"github.com/dynamous-community/YokeFlow/internal/agentdriver/provider"
)

// RuntimeClient captures the subset of the Bedrock runtime client used by
// the adapter, so tests can substitute a fake.
type RuntimeClient interface {
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// Client implements provider.Provider on top of AWS Bedrock Converse.
type Client struct {
	runtime   RuntimeClient
	maxTokens int
}

// New builds a Bedrock-backed provider from a configured runtime client.
func New(runtime RuntimeClient, maxTokens int) (*Client, error) {
	if runtime == nil {
		return nil, errors.New("bedrock: runtime client is required")
	}
	return &Client{runtime: runtime, maxTokens: maxTokens}, nil
}

// Name implements provider.Provider.
func (c *Client) Name() string { return "bedrock" }

// Stream implements provider.Provider.
func (c *Client) Stream(ctx context.Context, req provider.Request) (provider.EventStream, error) {
	if req.Model == "" {
		return nil, provider.NewError("bedrock", "stream", 0, provider.ErrorKindInvalidRequest, "", "model identifier is required", "", false, nil)
	}

	input := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(req.Model),
		Messages: encodeMessages(req.Messages),
	}
	if req.SystemPrompt != "" {
		input.System = []brtypes.SystemContentBlock{&brtypes.SystemContentBlockMemberText{Value: req.SystemPrompt}}
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	cfg := &brtypes.InferenceConfiguration{}
	if maxTokens > 0 {
		v := int32(maxTokens)
		cfg.MaxTokens = &v
	}
	input.InferenceConfig = cfg
	if len(req.Tools) > 0 {
		input.ToolConfig = encodeTools(req.Tools)
	}

	out, err := c.runtime.ConverseStream(ctx, input)
	if err != nil {
		return nil, classifyError("stream", err)
	}
	return newStreamAdapter(ctx, out), nil
}

func encodeMessages(msgs []provider.Message) []brtypes.Message {
	out := make([]brtypes.Message, 0, len(msgs))
	for _, m := range msgs {
		blocks := make([]brtypes.ContentBlock, 0, 1+len(m.ToolCalls)+len(m.ToolResults))
		if m.Content != "" {
			blocks = append(blocks, &brtypes.ContentBlockMemberText{Value: m.Content})
		}
		for _, tc := range m.ToolCalls {
			var doc document.Interface
			_ = json.Unmarshal(tc.Input, &doc)
			blocks = append(blocks, &brtypes.ContentBlockMemberToolUse{
				Value: brtypes.ToolUseBlock{ToolUseId: aws.String(tc.ID), Name: aws.String(tc.Name), Input: document.NewLazyDocument(json.RawMessage(tc.Input))},
			})
		}
		for _, tr := range m.ToolResults {
			status := brtypes.ToolResultStatusSuccess
			if tr.IsError {
				status = brtypes.ToolResultStatusError
			}
			blocks = append(blocks, &brtypes.ContentBlockMemberToolResult{
				Value: brtypes.ToolResultBlock{
					ToolUseId: aws.String(tr.ToolCallID),
					Status:    status,
					Content:   []brtypes.ToolResultContentBlock{&brtypes.ToolResultContentBlockMemberText{Value: tr.Content}},
				},
			})
		}
		if len(blocks) == 0 {
			continue
		}
		role := brtypes.ConversationRoleUser
		if m.Role == provider.RoleAssistant {
			role = brtypes.ConversationRoleAssistant
		}
		out = append(out, brtypes.Message{Role: role, Content: blocks})
	}
	return out
}

func encodeTools(defs []provider.ToolDefinition) *brtypes.ToolConfiguration {
	tools := make([]brtypes.Tool, 0, len(defs))
	for _, def := range defs {
		tools = append(tools, &brtypes.ToolMemberToolSpec{
			Value: brtypes.ToolSpecification{
				Name:        aws.String(def.Name),
				Description: aws.String(def.Description),
				InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(json.RawMessage(def.InputSchema))},
			},
		})
	}
	return &brtypes.ToolConfiguration{Tools: tools}
}

func classifyError(operation string, err error) *provider.Error {
	if err == nil {
		return nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		kind := provider.ErrorKindUnknown
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			kind = provider.ErrorKindRateLimited
		case "AccessDeniedException", "UnauthorizedException":
			kind = provider.ErrorKindAuth
		case "ValidationException":
			kind = provider.ErrorKindInvalidRequest
		case "ModelNotReadyException", "ServiceUnavailableException":
			kind = provider.ErrorKindUnavailable
		}
		return provider.NewError("bedrock", operation, 0, kind, apiErr.ErrorCode(), apiErr.ErrorMessage(), "", kind == provider.ErrorKindRateLimited || kind == provider.ErrorKindUnavailable, err)
	}
	return provider.NewError("bedrock", operation, 0, provider.ErrorKindUnknown, "", err.Error(), "", false, err)
}

type toolBuffer struct {
	id        string
	name      string
	fragments []string
}

type streamAdapter struct {
	ctx     context.Context
	cancel  context.CancelFunc
	out     *bedrockruntime.ConverseStreamOutput
	toolBuf map[int32]*toolBuffer
	done    bool
}

func newStreamAdapter(ctx context.Context, out *bedrockruntime.ConverseStreamOutput) *streamAdapter {
	cctx, cancel := context.WithCancel(ctx)
	return &streamAdapter{ctx: cctx, cancel: cancel, out: out, toolBuf: make(map[int32]*toolBuffer)}
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
		case event, ok := <-s.out.GetStream().Events():
			if !ok {
				s.done = true
				if err := s.out.GetStream().Close(); err != nil {
					return provider.StreamEvent{}, classifyError("recv", err)
				}
				return provider.StreamEvent{}, provider.ErrStreamComplete
			}
			if ev, handled := s.translate(event); handled {
				return ev, nil
			}
		}
	}
}

func (s *streamAdapter) translate(event brtypes.ConverseStreamOutput) (provider.StreamEvent, bool) {
	switch e := event.(type) {
	case *brtypes.ConverseStreamOutputMemberContentBlockStart:
		if toolUse, ok := e.Value.Start.(*brtypes.ContentBlockStartMemberToolUse); ok {
			s.toolBuf[e.Value.ContentBlockIndex] = &toolBuffer{
				id:   aws.ToString(toolUse.Value.ToolUseId),
				name: aws.ToString(toolUse.Value.Name),
			}
		}
		return provider.StreamEvent{}, false
	case *brtypes.ConverseStreamOutputMemberContentBlockDelta:
		switch d := e.Value.Delta.(type) {
		case *brtypes.ContentBlockDeltaMemberText:
			if d.Value == "" {
				return provider.StreamEvent{}, false
			}
			return provider.StreamEvent{Kind: provider.StreamEventText, Text: d.Value}, true
		case *brtypes.ContentBlockDeltaMemberToolUse:
			if tb := s.toolBuf[e.Value.ContentBlockIndex]; tb != nil && d.Value.Input != nil {
				tb.fragments = append(tb.fragments, aws.ToString(d.Value.Input))
			}
			return provider.StreamEvent{}, false
		}
		return provider.StreamEvent{}, false
	case *brtypes.ConverseStreamOutputMemberContentBlockStop:
		tb := s.toolBuf[e.Value.ContentBlockIndex]
		if tb == nil {
			return provider.StreamEvent{}, false
		}
		delete(s.toolBuf, e.Value.ContentBlockIndex)
		joined := joinNonEmpty(tb.fragments)
		return provider.StreamEvent{
			Kind:     provider.StreamEventToolCall,
			ToolCall: &provider.ToolCall{ID: tb.id, Name: tb.name, Input: json.RawMessage(joined)},
		}, true
	case *brtypes.ConverseStreamOutputMemberMessageStop:
		return provider.StreamEvent{Kind: provider.StreamEventStop, StopReason: string(e.Value.StopReason)}, true
	case *brtypes.ConverseStreamOutputMemberMetadata:
		if e.Value.Usage != nil {
			u := e.Value.Usage
			return provider.StreamEvent{
				Kind: provider.StreamEventUsage,
				Usage: &provider.Usage{
					InputTokens:  int(aws.ToInt32(u.InputTokens)),
					OutputTokens: int(aws.ToInt32(u.OutputTokens)),
				},
			}, true
		}
		return provider.StreamEvent{}, false
	default:
		return provider.StreamEvent{}, false
	}
}

func joinNonEmpty(frags []string) string {
	joined := strings.Join(frags, "")
	if strings.TrimSpace(joined) == "" {
		return "{}"
	}
	return joined
}

func (s *streamAdapter) Close() error {
	s.cancel()
	return nil
}
