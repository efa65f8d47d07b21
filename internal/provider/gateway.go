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

const (
	gatewayDefaultTimeout     = 120 * time.Second
	gatewayDefaultIdleTimeout = 120 * time.Second
)

// errStreamDone signals normal stream termination to the SSE scan loop.
var errStreamDone = errors.New("stream done")

// GatewayAdapter implements Adapter for a gateway-proxied chat-completions
// endpoint. The gateway injects upstream credentials itself, so requests carry
// no client-side auth. The wire dialect is plain chat-completions JSON over
// SSE with the [DONE] sentinel.
type GatewayAdapter struct {
	httpClient   *http.Client
	streamClient *http.Client
	baseURL      string
	name         Name
	model        string
	aliases      aliasTable
	idleTimeout  time.Duration
}

// GatewayOptions configures a GatewayAdapter.
type GatewayOptions struct {
	BaseURL      string
	DefaultModel string
	HTTPClient   *http.Client
	// Timeout bounds non-streaming requests end to end.
	Timeout time.Duration
	// IdleTimeout aborts a stream when no event arrives for this long.
	IdleTimeout time.Duration
	Aliases     map[string]string
}

// NewGatewayAdapter builds the adapter. A missing base URL fails fast with a
// ConfigurationError.
func NewGatewayAdapter(opts GatewayOptions) (*GatewayAdapter, error) {
	if opts.BaseURL == "" {
		return nil, &ConfigurationError{Provider: NameGateway, Reason: "missing base URL"}
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

	return &GatewayAdapter{
		httpClient:   httpClient,
		streamClient: streamClient,
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		name:         NameGateway,
		model:        opts.DefaultModel,
		aliases:      aliasTable{}.merged(opts.Aliases),
		idleTimeout:  idle,
	}, nil
}

func (a *GatewayAdapter) Name() Name { return a.name }

func (a *GatewayAdapter) ResolveModel(model string) string {
	if model == "" {
		return a.model
	}
	return a.aliases.Resolve(model)
}

// ── wire types (chat-completions JSON) ───────────────────────────────────────

type chatWireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatWireRequest struct {
	Model       string            `json:"model"`
	Messages    []chatWireMessage `json:"messages"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
	Temperature float64           `json:"temperature,omitempty"`
	Stream      bool              `json:"stream,omitempty"`
}

type chatWireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatWireResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage chatWireUsage `json:"usage"`
}

type chatWireChunk struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *chatWireUsage `json:"usage"`
}

// ── request plumbing ─────────────────────────────────────────────────────────

func (a *GatewayAdapter) buildBody(req Request, stream bool) ([]byte, error) {
	msgs := make([]chatWireMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, chatWireMessage{Role: string(m.Role), Content: m.Content})
	}
	return json.Marshal(chatWireRequest{
		Model:       a.ResolveModel(req.Model),
		Messages:    msgs,
		MaxTokens:   req.MaxOutputTokens,
		Temperature: req.Temperature,
		Stream:      stream,
	})
}

func (a *GatewayAdapter) newRequest(ctx context.Context, body []byte) (*http.Request, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build gateway request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	return httpReq, nil
}

func (a *GatewayAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	body, err := a.buildBody(req, false)
	if err != nil {
		return nil, fmt.Errorf("marshal gateway request: %w", err)
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

	var payload chatWireResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &Error{Kind: KindNoResponse, Provider: a.name, Err: fmt.Errorf("decode gateway response: %w", err)}
	}
	if len(payload.Choices) == 0 || payload.Choices[0].Message.Content == "" {
		return nil, &Error{Kind: KindNoResponse, Provider: a.name, Status: resp.StatusCode, Err: errors.New("no choices in response")}
	}

	out := &Response{
		Content: payload.Choices[0].Message.Content,
		Model:   payload.Model,
	}
	if payload.Usage != (chatWireUsage{}) {
		out.Usage = &Usage{
			PromptTokens:     payload.Usage.PromptTokens,
			CompletionTokens: payload.Usage.CompletionTokens,
			TotalTokens:      payload.Usage.TotalTokens,
		}
	}
	return out, nil
}

func (a *GatewayAdapter) StreamComplete(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	body, err := a.buildBody(req, true)
	if err != nil {
		return nil, fmt.Errorf("marshal gateway request: %w", err)
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

		n := newGatewayNormalizer(a.name)
		err := sse.Scan(resp.Body, func(ev sse.Event) error {
			watchdog.Reset(a.idleTimeout)
			chunks, done, err := n.feed(ev.Data)
			if err != nil {
				return err
			}
			for _, c := range chunks {
				select {
				case ch <- c:
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
			// EOF before the [DONE] sentinel: the stream was truncated.
			ch <- StreamChunk{Err: &Error{Kind: KindNetwork, Provider: a.name, Err: errors.New("stream ended before completion")}}
		case errors.Is(err, errStreamDone):
			// Terminal chunk already emitted.
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

// gatewayNormalizer converts chat-completions SSE data frames into normalized
// chunks, one event at a time. finish_reason and usage are held until the
// [DONE] sentinel, which is the dialect's completion signal.
type gatewayNormalizer struct {
	provider Name
	calls    *callTracker
	finish   string
	usage    *UsageDelta
}

func newGatewayNormalizer(name Name) *gatewayNormalizer {
	return &gatewayNormalizer{provider: name, calls: newCallTracker()}
}

// feed processes one data frame. done is true after the [DONE] sentinel.
func (n *gatewayNormalizer) feed(data []byte) (chunks []StreamChunk, done bool, err error) {
	if string(bytes.TrimSpace(data)) == "[DONE]" {
		finish := n.finish
		if finish == "" {
			finish = FinishStop
		}
		return []StreamChunk{{FinishReason: normalizeFinish(finish), Usage: n.usage}}, true, nil
	}

	var chunk chatWireChunk
	if jsonErr := json.Unmarshal(data, &chunk); jsonErr != nil {
		return nil, false, &ParseError{Provider: n.provider, Err: jsonErr}
	}

	if chunk.Usage != nil {
		n.usage = &UsageDelta{
			PromptTokens:     chunk.Usage.PromptTokens,
			CompletionTokens: chunk.Usage.CompletionTokens,
		}
	}
	if len(chunk.Choices) == 0 {
		return nil, false, nil
	}

	choice := chunk.Choices[0]
	if choice.Delta.Content != "" {
		chunks = append(chunks, StreamChunk{TextDelta: choice.Delta.Content})
	}
	for _, tc := range choice.Delta.ToolCalls {
		chunks = append(chunks, StreamChunk{ToolCall: n.calls.delta(tc.Index, tc.ID, tc.Function.Name, tc.Function.Arguments)})
	}
	if choice.FinishReason != "" {
		n.finish = choice.FinishReason
	}
	return chunks, false, nil
}
