// Package mcp exposes conduit over the Model Context Protocol. An MCP host
// connects over stdio and gets three tools: system status, cache statistics
// and one-shot completions through the coordinator.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/conduit-ai/conduit/internal/coordinator"
	"github.com/conduit-ai/conduit/internal/provider"
	"github.com/conduit-ai/conduit/internal/scheduler"
)

// Server serves the conduit tool set to one MCP host.
type Server struct {
	coord *coordinator.Coordinator
	mcp   *mcp.Server
}

// New builds the server and registers the conduit tools.
func New(coord *coordinator.Coordinator, version string) *Server {
	s := &Server{
		coord: coord,
		mcp:   mcp.NewServer(&mcp.Implementation{Name: "conduit", Version: version}, nil),
	}
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "conduit_status",
		Description: "Report system health: pressure level, cache hit rate, scheduler success rate and task counts.",
	}, s.status)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "conduit_cache_stats",
		Description: "Report response cache statistics for the in-memory and durable tiers.",
	}, s.cacheStats)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "conduit_complete",
		Description: "Run one chat completion through the configured backend. Identical requests are served from the response cache.",
	}, s.complete)
	return s
}

// Run serves over stdio until ctx is cancelled or the host disconnects.
// Cancellation is a clean stop, not an error.
func (s *Server) Run(ctx context.Context) error {
	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		err = nil
	}
	return err
}

// StatusInput is empty; conduit_status takes no arguments.
type StatusInput struct{}

// StatusResult is the conduit_status tool output.
type StatusResult struct {
	PressureLevel        string   `json:"pressure_level" jsonschema:"pressure classification: normal, high or critical"`
	ThermalState         string   `json:"thermal_state" jsonschema:"thermal classification on the same scale"`
	MemoryUsageBytes     uint64   `json:"memory_usage_bytes" jsonschema:"sampled heap in use"`
	CacheHitRate         float64  `json:"cache_hit_rate" jsonschema:"cache hits over total lookups"`
	SchedulerSuccessRate float64  `json:"scheduler_success_rate" jsonschema:"completed over completed plus failed tasks"`
	PendingTasks         int      `json:"pending_tasks"`
	ActiveTasks          int      `json:"active_tasks"`
	CompletedTasks       int64    `json:"completed_tasks"`
	FailedTasks          int64    `json:"failed_tasks"`
	Providers            []string `json:"providers" jsonschema:"registered backend names"`
	LastCheck            string   `json:"last_check" jsonschema:"RFC3339 timestamp of the health sample"`
}

func (s *Server) status(ctx context.Context, _ *mcp.CallToolRequest, _ StatusInput) (*mcp.CallToolResult, StatusResult, error) {
	st := s.coord.Status()
	providers := make([]string, len(st.Providers))
	for i, name := range st.Providers {
		providers[i] = string(name)
	}
	return nil, StatusResult{
		PressureLevel:        st.Health.PressureLevel.String(),
		ThermalState:         st.Health.ThermalState.String(),
		MemoryUsageBytes:     st.Health.MemoryUsageBytes,
		CacheHitRate:         st.Health.CacheHitRate,
		SchedulerSuccessRate: st.Health.SchedulerSuccessRate,
		PendingTasks:         st.Scheduler.Pending,
		ActiveTasks:          st.Scheduler.Active,
		CompletedTasks:       st.Scheduler.Completed,
		FailedTasks:          st.Scheduler.Failed,
		Providers:            providers,
		LastCheck:            st.Health.LastCheck.Format(time.RFC3339),
	}, nil
}

// CacheStatsInput is empty; conduit_cache_stats takes no arguments.
type CacheStatsInput struct{}

// CacheStatsResult is the conduit_cache_stats tool output.
type CacheStatsResult struct {
	FastEntries int     `json:"fast_entries" jsonschema:"in-memory tier entry count"`
	FastBytes   int64   `json:"fast_bytes" jsonschema:"in-memory tier size in bytes"`
	SlowEntries int64   `json:"slow_entries" jsonschema:"durable tier entry count"`
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	HitRate     float64 `json:"hit_rate"`
}

func (s *Server) cacheStats(ctx context.Context, _ *mcp.CallToolRequest, _ CacheStatsInput) (*mcp.CallToolResult, CacheStatsResult, error) {
	st := s.coord.CacheStats()
	return nil, CacheStatsResult{
		FastEntries: st.FastEntries,
		FastBytes:   st.FastBytes,
		SlowEntries: st.SlowEntries,
		Hits:        st.Hits,
		Misses:      st.Misses,
		HitRate:     st.HitRate(),
	}, nil
}

// CompleteInput is the conduit_complete tool input.
type CompleteInput struct {
	Prompt   string `json:"prompt" jsonschema:"user message to complete"`
	System   string `json:"system,omitempty" jsonschema:"optional system prompt"`
	Model    string `json:"model,omitempty" jsonschema:"model name or alias; empty uses the configured default"`
	Provider string `json:"provider,omitempty" jsonschema:"backend name; empty uses the configured default"`
}

// CompleteResult is the conduit_complete tool output.
type CompleteResult struct {
	Content          string `json:"content" jsonschema:"completion text"`
	Model            string `json:"model" jsonschema:"model that produced the completion"`
	PromptTokens     int    `json:"prompt_tokens,omitempty"`
	CompletionTokens int    `json:"completion_tokens,omitempty"`
}

func (s *Server) complete(ctx context.Context, _ *mcp.CallToolRequest, input CompleteInput) (*mcp.CallToolResult, CompleteResult, error) {
	if strings.TrimSpace(input.Prompt) == "" {
		return nil, CompleteResult{}, fmt.Errorf("prompt is required")
	}

	var messages []provider.Message
	if input.System != "" {
		messages = append(messages, provider.Message{Role: provider.RoleSystem, Content: input.System})
	}
	messages = append(messages, provider.Message{Role: provider.RoleUser, Content: input.Prompt})

	resp, err := s.coord.Complete(ctx, provider.Request{
		Messages: messages,
		Model:    input.Model,
		Provider: provider.Name(input.Provider),
	}, scheduler.PriorityHigh)
	if err != nil {
		return nil, CompleteResult{}, err
	}

	result := CompleteResult{Content: resp.Content, Model: resp.Model}
	if resp.Usage != nil {
		result.PromptTokens = resp.Usage.PromptTokens
		result.CompletionTokens = resp.Usage.CompletionTokens
	}
	return nil, result, nil
}
