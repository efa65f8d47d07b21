package coordinator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/conduit-ai/conduit/internal/cache"
	"github.com/conduit-ai/conduit/internal/config"
	"github.com/conduit-ai/conduit/internal/monitor"
	"github.com/conduit-ai/conduit/internal/provider"
	"github.com/conduit-ai/conduit/internal/scheduler"
)

// fakeAdapter counts invocations and replays canned results.
type fakeAdapter struct {
	name        provider.Name
	response    *provider.Response
	completeErr error
	streamErr   error
	chunks      []provider.StreamChunk
	streamCh    chan provider.StreamChunk // overrides chunks when set

	completes atomic.Int32
	streams   atomic.Int32

	mu      sync.Mutex
	lastReq provider.Request
}

func (f *fakeAdapter) Name() provider.Name { return f.name }

func (f *fakeAdapter) ResolveModel(model string) string {
	if model == "" {
		return "fake-default"
	}
	return model
}

func (f *fakeAdapter) Complete(ctx context.Context, req provider.Request) (*provider.Response, error) {
	f.completes.Add(1)
	f.mu.Lock()
	f.lastReq = req
	f.mu.Unlock()
	if f.completeErr != nil {
		return nil, f.completeErr
	}
	if f.response != nil {
		return f.response, nil
	}
	return &provider.Response{Content: "ok", Model: f.ResolveModel(req.Model)}, nil
}

func (f *fakeAdapter) StreamComplete(ctx context.Context, req provider.Request) (<-chan provider.StreamChunk, error) {
	f.streams.Add(1)
	f.mu.Lock()
	f.lastReq = req
	f.mu.Unlock()
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	if f.streamCh != nil {
		return f.streamCh, nil
	}
	ch := make(chan provider.StreamChunk, len(f.chunks))
	for _, chunk := range f.chunks {
		ch <- chunk
	}
	close(ch)
	return ch, nil
}

func (f *fakeAdapter) last() provider.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastReq
}

func newTestCoordinator(t *testing.T, cfg *config.Config, adapters ...provider.Adapter) *Coordinator {
	t.Helper()
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	reg := provider.NewRegistry()
	for _, a := range adapters {
		reg.Register(a)
	}
	cch, err := cache.New(cache.Options{Dir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	c, err := New(Options{
		Config:   cfg,
		Registry: reg,
		Cache:    cch,
		Scheduler: scheduler.New(scheduler.Options{
			MaxConcurrent: cfg.Scheduler.MaxConcurrent,
			MaxRetries:    cfg.Scheduler.MaxRetries,
			RetryDelay:    func(int) time.Duration { return 0 },
		}),
		Monitor: monitor.New(monitor.Options{MemoryFunc: func() uint64 { return 0 }}),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.Close)
	return c
}

func testReq(content string) provider.Request {
	return provider.Request{
		Model:    "test-model",
		Messages: []provider.Message{{Role: provider.RoleUser, Content: content}},
	}
}

func waitHandle(t *testing.T, h *TaskHandle) *scheduler.Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r, err := h.Wait(ctx)
	if err != nil {
		t.Fatalf("handle %s did not finish: %v", h.ID, err)
	}
	return r
}

func TestSubmitCompletesThroughAdapter(t *testing.T) {
	fake := &fakeAdapter{name: provider.NameOpenAI}
	c := newTestCoordinator(t, nil, fake)

	h, err := c.Submit(context.Background(), testReq("hello"), scheduler.PriorityNormal)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if h.FromCache {
		t.Error("first submission must not be a cache hit")
	}
	r := waitHandle(t, h)
	if r.Err != nil || r.Response.Content != "ok" {
		t.Errorf("result = %+v, want ok", r)
	}
	if got := fake.completes.Load(); got != 1 {
		t.Errorf("adapter invoked %d times, want 1", got)
	}
}

func TestCacheHitShortCircuit(t *testing.T) {
	fake := &fakeAdapter{name: provider.NameOpenAI, response: &provider.Response{Content: "cached answer", Model: "m"}}
	c := newTestCoordinator(t, nil, fake)

	req := testReq("same question")
	first, err := c.Submit(context.Background(), req, scheduler.PriorityNormal)
	if err != nil {
		t.Fatal(err)
	}
	waitHandle(t, first)

	second, err := c.Submit(context.Background(), req, scheduler.PriorityNormal)
	if err != nil {
		t.Fatal(err)
	}
	if !second.FromCache {
		t.Fatal("identical request should be served from cache")
	}
	select {
	case <-second.Done():
	default:
		t.Fatal("cache-hit handle must be complete from birth")
	}
	if r := second.Result(); r == nil || r.Response.Content != "cached answer" {
		t.Errorf("cached result = %+v", r)
	}
	if got := fake.completes.Load(); got != 1 {
		t.Errorf("adapter invoked %d times for two identical submissions, want 1", got)
	}
}

func TestGatewayFallbackForUnregisteredProvider(t *testing.T) {
	gw := &fakeAdapter{name: provider.NameGateway}
	c := newTestCoordinator(t, nil, gw)

	req := testReq("route me")
	req.Provider = provider.NameAnthropic
	h, err := c.Submit(context.Background(), req, scheduler.PriorityNormal)
	if err != nil {
		t.Fatalf("Submit() error = %v, want gateway fallback", err)
	}
	waitHandle(t, h)
	if got := gw.completes.Load(); got != 1 {
		t.Errorf("gateway invoked %d times, want 1", got)
	}
}

func TestUnconfiguredProviderError(t *testing.T) {
	c := newTestCoordinator(t, nil) // empty registry, no gateway

	_, err := c.Submit(context.Background(), testReq("x"), scheduler.PriorityNormal)
	var confErr *provider.ConfigurationError
	if !errors.As(err, &confErr) {
		t.Fatalf("Submit() error = %v, want ConfigurationError", err)
	}
	if confErr.UserMessage() != "service not configured" {
		t.Errorf("UserMessage() = %q", confErr.UserMessage())
	}
}

func TestResponsesSettingDispatch(t *testing.T) {
	tests := []struct {
		name     string
		flag     bool
		wantChat int32
		wantResp int32
	}{
		{"flag off uses chat completions", false, 1, 0},
		{"flag on uses responses dialect", true, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chat := &fakeAdapter{name: provider.NameOpenAI}
			resp := &fakeAdapter{name: provider.NameResponses}
			cfg := config.DefaultConfig()
			cfg.Settings = config.Settings{config.SettingResponsesAPI: tt.flag}
			c := newTestCoordinator(t, cfg, chat, resp)

			h, err := c.Submit(context.Background(), testReq("dispatch"), scheduler.PriorityNormal)
			if err != nil {
				t.Fatal(err)
			}
			waitHandle(t, h)
			if got := chat.completes.Load(); got != tt.wantChat {
				t.Errorf("chat adapter invoked %d times, want %d", got, tt.wantChat)
			}
			if got := resp.completes.Load(); got != tt.wantResp {
				t.Errorf("responses adapter invoked %d times, want %d", got, tt.wantResp)
			}
		})
	}
}

func TestStreamingBypassesCache(t *testing.T) {
	fake := &fakeAdapter{
		name: provider.NameOpenAI,
		chunks: []provider.StreamChunk{
			{TextDelta: "Hel"},
			{TextDelta: "lo"},
			{FinishReason: provider.FinishStop},
		},
	}
	c := newTestCoordinator(t, nil, fake)

	// Prime the cache with the same request; the stream must not consult it.
	req := testReq("stream me")
	h, err := c.Submit(context.Background(), req, scheduler.PriorityNormal)
	if err != nil {
		t.Fatal(err)
	}
	waitHandle(t, h)

	ch, err := c.SubmitStreaming(context.Background(), req)
	if err != nil {
		t.Fatalf("SubmitStreaming() error = %v", err)
	}
	if got := fake.streams.Load(); got != 1 {
		t.Fatalf("stream opened %d times, want 1 despite cache entry", got)
	}

	var text string
	var finish string
	for chunk := range ch {
		text += chunk.TextDelta
		if chunk.FinishReason != "" {
			finish = chunk.FinishReason
		}
	}
	if text != "Hello" || finish != provider.FinishStop {
		t.Errorf("stream assembled %q with finish %q, want Hello/stop", text, finish)
	}
}

func TestStreamOpenFreesSlot(t *testing.T) {
	// The stream stays open and unconsumed; its slot must still free once the
	// open completes.
	held := make(chan provider.StreamChunk)
	fake := &fakeAdapter{name: provider.NameOpenAI, streamCh: held}
	cfg := config.DefaultConfig()
	cfg.Scheduler.MaxConcurrent = 1
	c := newTestCoordinator(t, cfg, fake)

	if _, err := c.SubmitStreaming(context.Background(), testReq("suspended stream")); err != nil {
		t.Fatal(err)
	}

	h, err := c.Submit(context.Background(), testReq("next up"), scheduler.PriorityNormal)
	if err != nil {
		t.Fatal(err)
	}
	r := waitHandle(t, h)
	if r.Err != nil || r.Response.Content != "ok" {
		t.Errorf("completion behind open stream = %+v", r)
	}
	close(held)
}

func TestStreamOpenFailure(t *testing.T) {
	fake := &fakeAdapter{
		name:      provider.NameOpenAI,
		streamErr: &provider.Error{Kind: provider.KindUnauthorized, Provider: provider.NameOpenAI, Err: errors.New("401")},
	}
	c := newTestCoordinator(t, nil, fake)

	_, err := c.SubmitStreaming(context.Background(), testReq("x"))
	var provErr *provider.Error
	if !errors.As(err, &provErr) || provErr.Kind != provider.KindUnauthorized {
		t.Fatalf("SubmitStreaming() error = %v, want unauthorized", err)
	}
}

func TestPressureReactions(t *testing.T) {
	fake := &fakeAdapter{name: provider.NameOpenAI}
	cfg := config.DefaultConfig()
	cfg.Scheduler.MaxConcurrent = 1
	c := newTestCoordinator(t, cfg, fake)

	// One fast-tier entry to shed.
	primed, err := c.Submit(context.Background(), testReq("prime"), scheduler.PriorityNormal)
	if err != nil {
		t.Fatal(err)
	}
	waitHandle(t, primed)

	// Occupy the only slot so the next submissions stay pending.
	gate := make(chan struct{})
	defer close(gate)
	_, err = c.sched.Submit(scheduler.KindCompletion, scheduler.PriorityUrgent, nil, func(ctx context.Context) (*provider.Response, error) {
		<-gate
		return &provider.Response{Content: "blocker"}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	low, err := c.Submit(context.Background(), testReq("low priority work"), scheduler.PriorityLow)
	if err != nil {
		t.Fatal(err)
	}
	normal, err := c.Submit(context.Background(), testReq("normal priority work"), scheduler.PriorityNormal)
	if err != nil {
		t.Fatal(err)
	}

	c.reactTo(monitor.Transition{From: monitor.LevelNormal, To: monitor.LevelCritical})

	if st := c.CacheStats(); st.FastEntries != 0 {
		t.Errorf("FastEntries = %d after critical, want 0", st.FastEntries)
	}
	if st, _ := c.TaskStatus(low.ID); st != scheduler.StatusCancelled {
		t.Errorf("low-priority task = %s after critical, want cancelled", st)
	}
	if st, _ := c.TaskStatus(normal.ID); st == scheduler.StatusCancelled {
		t.Error("normal-priority task must survive critical pressure")
	}

	c.reactTo(monitor.Transition{From: monitor.LevelCritical, To: monitor.LevelHigh})
	if st, _ := c.TaskStatus(normal.ID); st == scheduler.StatusCancelled {
		t.Error("high pressure must not cancel tasks")
	}
}

func TestPressureLoopWiring(t *testing.T) {
	var memBytes atomic.Uint64
	fake := &fakeAdapter{name: provider.NameOpenAI}
	reg := provider.NewRegistry()
	reg.Register(fake)
	cch, err := cache.New(cache.Options{Dir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	c, err := New(Options{
		Config:   config.DefaultConfig(),
		Registry: reg,
		Cache:    cch,
		Monitor:  monitor.New(monitor.Options{Interval: 5 * time.Millisecond, MemoryFunc: memBytes.Load}),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.Close)

	h, err := c.Submit(context.Background(), testReq("prime"), scheduler.PriorityNormal)
	if err != nil {
		t.Fatal(err)
	}
	waitHandle(t, h)
	if c.CacheStats().FastEntries != 1 {
		t.Fatal("expected one fast-tier entry before pressure")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)
	memBytes.Store(250 << 20)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if c.CacheStats().FastEntries == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("critical pressure never cleared the fast tier")
}

func TestHealthAndStatus(t *testing.T) {
	fake := &fakeAdapter{name: provider.NameOpenAI}
	reg := provider.NewRegistry()
	reg.Register(fake)
	cch, err := cache.New(cache.Options{Dir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	c, err := New(Options{
		Config:    config.DefaultConfig(),
		Registry:  reg,
		Cache:     cch,
		Scheduler: scheduler.New(scheduler.Options{RetryDelay: func(int) time.Duration { return 0 }}),
		Monitor:   monitor.New(monitor.Options{MemoryFunc: func() uint64 { return 150 << 20 }}),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.Close)

	// Three lookups (miss, hit, miss), one completed task, one failed task.
	req := testReq("health probe")
	h, _ := c.Submit(context.Background(), req, scheduler.PriorityNormal)
	waitHandle(t, h)
	if h2, _ := c.Submit(context.Background(), req, scheduler.PriorityNormal); !h2.FromCache {
		t.Fatal("expected a cache hit")
	}
	fake.completeErr = &provider.Error{Kind: provider.KindBadRequest, Provider: provider.NameOpenAI, Err: errors.New("400")}
	bad, _ := c.Submit(context.Background(), testReq("doomed"), scheduler.PriorityNormal)
	if r := waitHandle(t, bad); r.Err == nil {
		t.Fatal("expected failure result")
	}

	health := c.checkHealth()
	if health.PressureLevel != monitor.LevelHigh {
		t.Errorf("PressureLevel = %s, want high at 150MB", health.PressureLevel)
	}
	if health.MemoryUsageBytes != 150<<20 {
		t.Errorf("MemoryUsageBytes = %d", health.MemoryUsageBytes)
	}
	if health.CacheHitRate != 1.0/3.0 {
		t.Errorf("CacheHitRate = %f, want 1/3", health.CacheHitRate)
	}
	if health.SchedulerSuccessRate != 0.5 {
		t.Errorf("SchedulerSuccessRate = %f, want 0.5", health.SchedulerSuccessRate)
	}
	if health.LastCheck.IsZero() {
		t.Error("LastCheck not set")
	}

	status := c.Status()
	if status.Health.LastCheck.IsZero() {
		t.Error("Status health missing")
	}
	if status.Scheduler.Completed != 1 || status.Scheduler.Failed != 1 {
		t.Errorf("scheduler stats = %+v", status.Scheduler)
	}
	if len(status.Providers) != 1 || status.Providers[0] != provider.NameOpenAI {
		t.Errorf("providers = %v", status.Providers)
	}
}

func TestDefaultModelApplied(t *testing.T) {
	fake := &fakeAdapter{name: provider.NameOpenAI}
	cfg := config.DefaultConfig()
	cfg.Model = "configured-model"
	c := newTestCoordinator(t, cfg, fake)

	req := provider.Request{Messages: []provider.Message{{Role: provider.RoleUser, Content: "hi"}}}
	h, err := c.Submit(context.Background(), req, scheduler.PriorityNormal)
	if err != nil {
		t.Fatal(err)
	}
	waitHandle(t, h)
	if got := fake.last().Model; got != "configured-model" {
		t.Errorf("adapter saw model %q, want configured-model", got)
	}
}

func TestCompleteReusesCache(t *testing.T) {
	fake := &fakeAdapter{name: provider.NameOpenAI, response: &provider.Response{Content: "answer", Model: "m"}}
	c := newTestCoordinator(t, nil, fake)

	req := testReq("once only")
	for i := 0; i < 2; i++ {
		resp, err := c.Complete(context.Background(), req, scheduler.PriorityNormal)
		if err != nil {
			t.Fatalf("Complete() #%d error = %v", i+1, err)
		}
		if resp.Content != "answer" {
			t.Errorf("Complete() #%d content = %q", i+1, resp.Content)
		}
	}
	if got := fake.completes.Load(); got != 1 {
		t.Errorf("adapter invoked %d times, want 1", got)
	}
}

func TestSubmitAfterClose(t *testing.T) {
	fake := &fakeAdapter{name: provider.NameOpenAI}
	c := newTestCoordinator(t, nil, fake)

	c.Close()
	c.Close() // idempotent

	_, err := c.Submit(context.Background(), testReq("too late"), scheduler.PriorityNormal)
	if !errors.Is(err, scheduler.ErrClosed) {
		t.Errorf("Submit after Close = %v, want ErrClosed", err)
	}
}
