package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/conduit-ai/conduit/internal/sse"
)

// ResponsesAdapter implements Adapter for the Responses wire dialect
// (POST /v1/responses, bearer auth, named SSE events). It shares the OpenAI
// credential: the coordinator picks it over the chat-completions adapter per
// call when the responses feature flag is on.
type ResponsesAdapter struct {
	httpClient   *http.Client
	streamClient *http.Client
	baseURL      string
	apiKey       string
	name         Name
	model        string
	aliases      aliasTable
	idleTimeout  time.Duration
}

// ResponsesOptions configures a ResponsesAdapter.
type ResponsesOptions struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	HTTPClient   *http.Client
	// Timeout bounds non-streaming requests end to end.
	Timeout time.Duration
	// IdleTimeout aborts a stream when no event arrives for this long.
	IdleTimeout time.Duration
	Aliases     map[string]string
}

// NewResponsesAdapter builds the adapter. A missing API key fails fast with a
// ConfigurationError before any network activity.
func NewResponsesAdapter(opts ResponsesOptions) (*ResponsesAdapter, error) {
	if opts.APIKey == "" {
		return nil, &ConfigurationError{Provider: NameResponses, Reason: "missing API key"}
	}

	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}

	httpClient := opts.HTTPClient
	streamClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = gatewayDefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
		// Streams have no overall deadline; the idle watchdog bounds them.
		streamClient = &http.Client{}
	}

	idle := opts.IdleTimeout
	if idle <= 0 {
		idle = gatewayDefaultIdleTimeout
	}

	model := opts.DefaultModel
	if model == "" {
		model = "gpt-4o-mini"
	}

	return &ResponsesAdapter{
		httpClient:   httpClient,
		streamClient: streamClient,
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       opts.APIKey,
		name:         NameResponses,
		model:        model,
		aliases:      openAIAliases.merged(opts.Aliases),
		idleTimeout:  idle,
	}, nil
}

func (a *ResponsesAdapter) Name() Name { return a.name }

func (a *ResponsesAdapter) ResolveModel(model string) string {
	if model == "" {
		return a.model
	}
	return a.aliases.Resolve(model)
}

// ── wire types ───────────────────────────────────────────────────────────────

type responsesWireInput struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responsesWireRequest struct {
	Model           string               `json:"model"`
	Input           []responsesWireInput `json:"input"`
	MaxOutputTokens int                  `json:"max_output_tokens,omitempty"`
	Temperature     float64              `json:"temperature,omitempty"`
	Stream          bool                 `json:"stream,omitempty"`
}

type responsesWireUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

type responsesWireResponse struct {
	Model      string `json:"model"`
	OutputText string `json:"output_text"`
	Output     []struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
	Usage *responsesWireUsage `json:"usage"`
}

func (a *ResponsesAdapter) buildBody(req Request, stream bool) ([]byte, error) {
	input := make([]responsesWireInput, 0, len(req.Messages))
	for _, m := range req.Messages {
		input = append(input, responsesWireInput{Role: string(m.Role), Content: m.Content})
	}
	return json.Marshal(responsesWireRequest{
		Model:           a.ResolveModel(req.Model),
		Input:           input,
		MaxOutputTokens: req.MaxOutputTokens,
		Temperature:     req.Temperature,
		Stream:          stream,
	})
}

func (a *ResponsesAdapter) newRequest(ctx context.Context, body []byte) (*http.Request, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/responses", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build responses request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	return httpReq, nil
}

func (a *ResponsesAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	body, err := a.buildBody(req, false)
	if err != nil {
		return nil, fmt.Errorf("marshal responses request: %w", err)
	}
	httpReq, err := a.newRequest(ctx, body)
	if err != nil {
		return nil, err
	}

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, transportError(a.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, statusError(a.name, resp.StatusCode, string(excerpt))
	}

	var payload responsesWireResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &Error{Kind: KindNoResponse, Provider: a.name, Err: fmt.Errorf("decode responses payload: %w", err)}
	}

	// Prefer the convenience field; fall back to scanning output items.
	text := payload.OutputText
	if text == "" {
		var sb strings.Builder
		for _, item := range payload.Output {
			for _, content := range item.Content {
				if content.Type == "output_text" || content.Type == "text" {
					sb.WriteString(content.Text)
				}
			}
		}
		text = sb.String()
	}
	if text == "" {
		return nil, &Error{Kind: KindNoResponse, Provider: a.name, Status: resp.StatusCode, Err: errors.New("response missing output text")}
	}

	out := &Response{Content: text, Model: payload.Model}
	if payload.Usage != nil {
		out.Usage = &Usage{
			PromptTokens:     payload.Usage.InputTokens,
			CompletionTokens: payload.Usage.OutputTokens,
			TotalTokens:      payload.Usage.TotalTokens,
		}
	}
	return out, nil
}

func (a *ResponsesAdapter) StreamComplete(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	body, err := a.buildBody(req, true)
	if err != nil {
		return nil, fmt.Errorf("marshal responses request: %w", err)
	}

	// The idle watchdog cancels the request context when no event arrives for
	// idleTimeout, which surfaces as a read error below.
	streamCtx, cancel := context.WithCancel(ctx)
	var stalled atomic.Bool
	watchdog := time.AfterFunc(a.idleTimeout, func() {
		stalled.Store(true)
		cancel()
	})

	httpReq, err := a.newRequest(streamCtx, body)
	if err != nil {
		watchdog.Stop()
		cancel()
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := a.streamClient.Do(httpReq)
	if err != nil {
		watchdog.Stop()
		cancel()
		if stalled.Load() {
			return nil, &Error{Kind: KindNetwork, Provider: a.name, Err: errors.New("idle timeout before response")}
		}
		return nil, transportError(a.name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		watchdog.Stop()
		cancel()
		return nil, statusError(a.name, resp.StatusCode, string(excerpt))
	}

	ch := make(chan StreamChunk, 16)
	go func() {
		defer close(ch)
		defer resp.Body.Close()
		defer watchdog.Stop()
		defer cancel()

		n := &responsesNormalizer{provider: a.name}
		err := sse.Scan(resp.Body, func(ev sse.Event) error {
			watchdog.Reset(a.idleTimeout)
			chunk, done, err := n.feed(ev)
			if err != nil {
				return err
			}
			if chunk != nil {
				select {
				case ch <- *chunk:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			if done {
				return errStreamDone
			}
			return nil
		})

		switch {
		case err == nil:
			ch <- StreamChunk{Err: &Error{Kind: KindNetwork, Provider: a.name, Err: errors.New("stream ended before completion")}}
		case errors.Is(err, errStreamDone):
		case stalled.Load():
			ch <- StreamChunk{Err: &Error{Kind: KindNetwork, Provider: a.name, Err: errors.New("stream idle timeout")}}
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			ch <- StreamChunk{Err: ctx.Err()}
		default:
			var parseErr *ParseError
			if errors.As(err, &parseErr) {
				ch <- StreamChunk{Err: err}
				return
			}
			ch <- StreamChunk{Err: transportError(a.name, err)}
		}
	}()
	return ch, nil
}

// responsesNormalizer converts named Responses SSE events into normalized
// chunks, one event at a time. Lifecycle events the table below does not name
// (response.created, response.in_progress, output item bookkeeping) produce no
// chunk.
//
//	response.output_text.delta -> text chunk
//	response.completed         -> terminal chunk (stop, usage)
//	response.incomplete        -> terminal chunk (length)
//	response.failed / error    -> terminal error chunk
type responsesNormalizer struct {
	provider Name
}

func (n *responsesNormalizer) feed(ev sse.Event) (chunk *StreamChunk, done bool, err error) {
	switch ev.Name {
	case "response.output_text.delta":
		var payload struct {
			Delta string `json:"delta"`
		}
		if jsonErr := json.Unmarshal(ev.Data, &payload); jsonErr != nil {
			return nil, false, &ParseError{Provider: n.provider, Err: jsonErr}
		}
		if payload.Delta == "" {
			return nil, false, nil
		}
		return &StreamChunk{TextDelta: payload.Delta}, false, nil

	case "response.completed", "response.incomplete":
		var payload struct {
			Response struct {
				Usage *responsesWireUsage `json:"usage"`
			} `json:"response"`
		}
		if jsonErr := json.Unmarshal(ev.Data, &payload); jsonErr != nil {
			return nil, false, &ParseError{Provider: n.provider, Err: jsonErr}
		}
		finish := FinishStop
		if ev.Name == "response.incomplete" {
			finish = FinishLength
		}
		out := &StreamChunk{FinishReason: finish}
		if payload.Response.Usage != nil {
			out.Usage = &UsageDelta{
				PromptTokens:     payload.Response.Usage.InputTokens,
				CompletionTokens: payload.Response.Usage.OutputTokens,
			}
		}
		return out, true, nil

	case "response.failed", "response.error", "error":
		var payload struct {
			Code    string `json:"code"`
			Message string `json:"message"`
			Error   struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if jsonErr := json.Unmarshal(ev.Data, &payload); jsonErr != nil {
			return nil, false, &ParseError{Provider: n.provider, Err: jsonErr}
		}
		code := payload.Code
		if code == "" {
			code = payload.Error.Code
		}
		message := payload.Message
		if message == "" {
			message = payload.Error.Message
		}
		if message == "" {
			message = "stream reported failure"
		}
		kind := KindNetwork
		if strings.Contains(code, "rate_limit") {
			kind = KindRateLimited
		}
		return &StreamChunk{Err: &Error{Kind: kind, Provider: n.provider, Err: errors.New(message)}}, true, nil
	}

	return nil, false, nil
}
