package provider

import (
	"context"
	"errors"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
)

// OpenAIAdapter implements Adapter for the chat-completions wire dialect via
// the official SDK. It covers OpenAI itself and any compatible serving stack
// reachable through a custom base URL.
type OpenAIAdapter struct {
	client  openai.Client
	name    Name
	model   string
	aliases aliasTable
}

// OpenAIOptions configures an OpenAIAdapter.
type OpenAIOptions struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	// Aliases extends the built-in model alias table.
	Aliases map[string]string
}

// NewOpenAIAdapter builds the adapter. A missing API key fails fast with a
// ConfigurationError; no network activity happens here or later for an
// unconfigured backend.
func NewOpenAIAdapter(opts OpenAIOptions) (*OpenAIAdapter, error) {
	if opts.APIKey == "" {
		return nil, &ConfigurationError{Provider: NameOpenAI, Reason: "missing API key"}
	}

	clientOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}

	model := opts.DefaultModel
	if model == "" {
		model = "gpt-4o-mini"
	}

	return &OpenAIAdapter{
		client:  openai.NewClient(clientOpts...),
		name:    NameOpenAI,
		model:   model,
		aliases: openAIAliases.merged(opts.Aliases),
	}, nil
}

func (a *OpenAIAdapter) Name() Name { return a.name }

func (a *OpenAIAdapter) ResolveModel(model string) string {
	if model == "" {
		return a.model
	}
	return a.aliases.Resolve(model)
}

func (a *OpenAIAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	resp, err := a.client.Chat.Completions.New(ctx, a.buildParams(req))
	if err != nil {
		return nil, a.wrapErr(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &Error{Kind: KindNoResponse, Provider: a.name, Err: errors.New("no choices in response")}
	}

	return &Response{
		Content: resp.Choices[0].Message.Content,
		Usage: &Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
		Model: resp.Model,
	}, nil
}

func (a *OpenAIAdapter) StreamComplete(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	stream := a.client.Chat.Completions.NewStreaming(ctx, a.buildParams(req))

	ch := make(chan StreamChunk, 16)
	go a.processStream(ctx, stream, ch)
	return ch, nil
}

// processStream reads the SDK stream and emits normalized chunks.
//
// Chat-completions streaming behavior:
//   - text arrives at choices[0].delta.content
//   - tool call deltas carry an index; id and name appear only in the first
//     delta for that index, later deltas carry argument fragments
//   - finish_reason marks the end; the SDK consumes the [DONE] sentinel
func (a *OpenAIAdapter) processStream(ctx context.Context, stream *ssestream.Stream[openai.ChatCompletionChunk], ch chan<- StreamChunk) {
	defer close(ch)
	defer stream.Close()

	calls := newCallTracker()

	for stream.Next() {
		select {
		case <-ctx.Done():
			ch <- StreamChunk{Err: ctx.Err()}
			return
		default:
		}

		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			// Usage-only chunk.
			if chunk.Usage.PromptTokens > 0 || chunk.Usage.CompletionTokens > 0 {
				ch <- StreamChunk{Usage: &UsageDelta{
					PromptTokens:     int(chunk.Usage.PromptTokens),
					CompletionTokens: int(chunk.Usage.CompletionTokens),
				}}
			}
			continue
		}

		choice := chunk.Choices[0]
		delta := choice.Delta

		if delta.Content != "" {
			ch <- StreamChunk{TextDelta: delta.Content}
		}

		for _, tc := range delta.ToolCalls {
			ch <- StreamChunk{ToolCall: calls.delta(int(tc.Index), tc.ID, tc.Function.Name, tc.Function.Arguments)}
		}

		if string(choice.FinishReason) != "" {
			final := StreamChunk{FinishReason: normalizeFinish(string(choice.FinishReason))}
			if chunk.Usage.PromptTokens > 0 || chunk.Usage.CompletionTokens > 0 {
				final.Usage = &UsageDelta{
					PromptTokens:     int(chunk.Usage.PromptTokens),
					CompletionTokens: int(chunk.Usage.CompletionTokens),
				}
			}
			ch <- final
			return
		}
	}

	if err := stream.Err(); err != nil {
		ch <- StreamChunk{Err: a.wrapErr(err)}
		return
	}

	// Clean end of stream without finish_reason: the [DONE] sentinel is the
	// dialect's completion signal, so treat it as a normal stop.
	ch <- StreamChunk{FinishReason: FinishStop}
}

func (a *OpenAIAdapter) buildParams(req Request) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(a.ResolveModel(req.Model)),
		Messages: buildChatMessages(req.Messages),
	}
	if req.MaxOutputTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxOutputTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	return params
}

// buildChatMessages converts unified messages to SDK params. The tool role
// maps to user because this adapter never sends tool results with call IDs.
func buildChatMessages(msgs []Message) []openai.ChatCompletionMessageParamUnion {
	params := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, msg := range msgs {
		switch msg.Role {
		case RoleSystem:
			params = append(params, openai.SystemMessage(msg.Content))
		case RoleAssistant:
			params = append(params, openai.AssistantMessage(msg.Content))
		default:
			params = append(params, openai.UserMessage(msg.Content))
		}
	}
	return params
}

func (a *OpenAIAdapter) wrapErr(err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		return &Error{Kind: statusKind(apierr.StatusCode), Provider: a.name, Status: apierr.StatusCode, Err: err}
	}
	return transportError(a.name, err)
}
