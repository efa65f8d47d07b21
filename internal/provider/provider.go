// Package provider defines the unified request/response model and the Adapter
// interface for all chat-completion backends. Each adapter (openai.go,
// anthropic.go, gateway.go, local.go, responses.go) converts its wire dialect
// into this one representation, so callers never see vendor-specific shapes.
package provider

import (
	"context"
)

// ── Message types ────────────────────────────────────────────────────────────

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is a single message in the conversation history.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ── Backend names ────────────────────────────────────────────────────────────

// Name identifies a backend family.
type Name string

const (
	NameOpenAI    Name = "openai"
	NameResponses Name = "openai-responses"
	NameAnthropic Name = "anthropic"
	NameGateway   Name = "gateway"
	NameLocal     Name = "local"
)

// ── Request / Response ───────────────────────────────────────────────────────

// Request is the unified completion request. It is treated as immutable after
// construction; the cache fingerprint is derived from Model and Messages.
type Request struct {
	Messages []Message `json:"messages"`
	Model    string    `json:"model"`
	// MaxOutputTokens caps the generated output. 0 means backend default.
	MaxOutputTokens int     `json:"max_output_tokens,omitempty"`
	Temperature     float64 `json:"temperature,omitempty"`
	Provider        Name    `json:"provider,omitempty"`
}

// Usage records token consumption for one completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a fully materialized completion.
type Response struct {
	Content string `json:"content"`
	Usage   *Usage `json:"usage,omitempty"`
	Model   string `json:"model"`
}

// ── Streaming ────────────────────────────────────────────────────────────────

// Normalized finish reasons. Adapters map vendor stop reasons onto these;
// values the table does not know pass through unchanged.
const (
	FinishStop      = "stop"
	FinishLength    = "length"
	FinishToolCalls = "tool_calls"
)

// ToolCallDelta is one logical increment of a streamed tool call. ID and Name
// are repeated from the first event of the call's index; ArgumentsDelta holds
// only this event's fragment. Assembling full argument strings is the
// consumer's job.
type ToolCallDelta struct {
	Index          int    `json:"index"`
	ID             string `json:"id,omitempty"`
	Name           string `json:"name,omitempty"`
	ArgumentsDelta string `json:"arguments_delta,omitempty"`
}

// UsageDelta carries token counts observed mid-stream.
type UsageDelta struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// StreamChunk is the unified streaming unit. A stream is a strictly ordered
// sequence of chunks ending with exactly one terminal chunk: either
// FinishReason is set (normal completion) or Err is set (failure). The channel
// closes after the terminal chunk.
type StreamChunk struct {
	TextDelta    string         `json:"text_delta,omitempty"`
	FinishReason string         `json:"finish_reason,omitempty"`
	ToolCall     *ToolCallDelta `json:"tool_call,omitempty"`
	Usage        *UsageDelta    `json:"usage,omitempty"`
	Err          error          `json:"-"`
}

// Terminal reports whether this chunk ends the stream.
func (c StreamChunk) Terminal() bool {
	return c.FinishReason != "" || c.Err != nil
}

// ── Adapter interface ────────────────────────────────────────────────────────

// Adapter is the unified interface every backend implements.
// Implementors are responsible for:
//  1. Converting the unified Request into the backend's wire format
//  2. Normalizing the backend's response/stream into Response/StreamChunk
//  3. Classifying backend errors into the shared taxonomy (errors.go)
//  4. Resolving model aliases without ever rejecting unknown names
type Adapter interface {
	// Name returns the backend identifier, e.g. "openai", "anthropic".
	Name() Name

	// Complete performs a non-streaming completion.
	Complete(ctx context.Context, req Request) (*Response, error)

	// StreamComplete initiates a streaming completion. The returned channel
	// emits chunks until a terminal chunk, then closes. The caller must fully
	// consume the channel to avoid goroutine leaks.
	StreamComplete(ctx context.Context, req Request) (<-chan StreamChunk, error)

	// ResolveModel maps a short or legacy model name to the backend's full
	// name. Unknown names pass through unchanged; ResolveModel never fails.
	ResolveModel(model string) string
}
