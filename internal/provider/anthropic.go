package provider

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
)

// AnthropicAdapter implements Adapter for the message-stream wire dialect via
// the official SDK. The SDK supplies the version header and key header the
// dialect requires.
type AnthropicAdapter struct {
	client  anthropic.Client
	name    Name
	model   string
	aliases aliasTable
}

// AnthropicOptions configures an AnthropicAdapter.
type AnthropicOptions struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	Aliases      map[string]string
}

// NewAnthropicAdapter builds the adapter. A missing API key fails fast with a
// ConfigurationError before any network activity.
func NewAnthropicAdapter(opts AnthropicOptions) (*AnthropicAdapter, error) {
	if opts.APIKey == "" {
		return nil, &ConfigurationError{Provider: NameAnthropic, Reason: "missing API key"}
	}

	clientOpts := []anthropicoption.RequestOption{anthropicoption.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, anthropicoption.WithBaseURL(opts.BaseURL))
	}

	model := opts.DefaultModel
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}

	return &AnthropicAdapter{
		client:  anthropic.NewClient(clientOpts...),
		name:    NameAnthropic,
		model:   model,
		aliases: anthropicAliases.merged(opts.Aliases),
	}, nil
}

func (a *AnthropicAdapter) Name() Name { return a.name }

func (a *AnthropicAdapter) ResolveModel(model string) string {
	if model == "" {
		return a.model
	}
	return a.aliases.Resolve(model)
}

func (a *AnthropicAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	msg, err := a.client.Messages.New(ctx, a.buildParams(req))
	if err != nil {
		return nil, a.wrapErr(err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(tb.Text)
		}
	}
	if sb.Len() == 0 {
		return nil, &Error{Kind: KindNoResponse, Provider: a.name, Err: errors.New("no text content in response")}
	}

	usage := &Usage{
		PromptTokens:     int(msg.Usage.InputTokens),
		CompletionTokens: int(msg.Usage.OutputTokens),
	}
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens

	return &Response{
		Content: sb.String(),
		Usage:   usage,
		Model:   string(msg.Model),
	}, nil
}

func (a *AnthropicAdapter) StreamComplete(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	stream := a.client.Messages.NewStreaming(ctx, a.buildParams(req))

	ch := make(chan StreamChunk, 16)
	go a.processStream(ctx, stream, ch)
	return ch, nil
}

// processStream reads the SDK stream and emits normalized chunks.
//
// Message-stream event sequence:
//   - content_block_start (tool_use) -> record tool call id/name for the index
//   - content_block_delta (text_delta) -> text chunk
//   - content_block_delta (input_json_delta) -> tool call increment
//   - message_delta -> stop reason and usage, held until the stop event
//   - message_stop -> terminal chunk
func (a *AnthropicAdapter) processStream(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], ch chan<- StreamChunk) {
	defer close(ch)
	defer stream.Close()

	calls := newCallTracker()
	var stopReason string
	var usage *UsageDelta

	for stream.Next() {
		select {
		case <-ctx.Done():
			ch <- StreamChunk{Err: ctx.Err()}
			return
		default:
		}

		event := stream.Current()

		switch variant := event.AsAny().(type) {
		case anthropic.ContentBlockStartEvent:
			cb := variant.ContentBlock
			if cb.Type == "tool_use" {
				toolUse := cb.AsToolUse()
				calls.delta(int(variant.Index), toolUse.ID, toolUse.Name, "")
			}

		case anthropic.ContentBlockDeltaEvent:
			switch d := variant.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				ch <- StreamChunk{TextDelta: d.Text}
			case anthropic.InputJSONDelta:
				ch <- StreamChunk{ToolCall: calls.delta(int(variant.Index), "", "", d.PartialJSON)}
			}

		case anthropic.MessageDeltaEvent:
			stopReason = string(variant.Delta.StopReason)
			usage = &UsageDelta{
				PromptTokens:     int(variant.Usage.InputTokens),
				CompletionTokens: int(variant.Usage.OutputTokens),
			}

		case anthropic.MessageStopEvent:
			if stopReason == "" {
				stopReason = "end_turn"
			}
			ch <- StreamChunk{FinishReason: normalizeFinish(stopReason), Usage: usage}
			return
		}
	}

	if err := stream.Err(); err != nil {
		ch <- StreamChunk{Err: a.wrapErr(err)}
		return
	}

	ch <- StreamChunk{Err: &Error{Kind: KindNoResponse, Provider: a.name, Err: errors.New("stream ended without message_stop")}}
}

func (a *AnthropicAdapter) buildParams(req Request) anthropic.MessageNewParams {
	maxTokens := int64(req.MaxOutputTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.ResolveModel(req.Model)),
		MaxTokens: maxTokens,
	}

	// System messages travel in the dedicated system field, not the turn list.
	var msgs []anthropic.MessageParam
	var system []anthropic.TextBlockParam
	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			system = append(system, anthropic.TextBlockParam{Text: msg.Content})
		case RoleAssistant:
			msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	params.Messages = msgs
	if len(system) > 0 {
		params.System = system
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	return params
}

func (a *AnthropicAdapter) wrapErr(err error) error {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		return &Error{Kind: statusKind(apierr.StatusCode), Provider: a.name, Status: apierr.StatusCode, Err: err}
	}
	return transportError(a.name, err)
}
