// Package coordinator ties the provider registry, response cache, task
// scheduler and resource monitor together behind one façade. It owns the
// maintenance timers: health recomputation, pressure reactions and the
// slow-tier sweep all run under one supervisor and stop with it.
package coordinator

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/conduit-ai/conduit/internal/cache"
	"github.com/conduit-ai/conduit/internal/config"
	"github.com/conduit-ai/conduit/internal/eventlog"
	"github.com/conduit-ai/conduit/internal/monitor"
	"github.com/conduit-ai/conduit/internal/provider"
	"github.com/conduit-ai/conduit/internal/scheduler"
)

// Options configures a Coordinator. Config is required in practice; the
// collaborator fields exist so tests can inject fakes and default to
// instances built from Config when nil.
type Options struct {
	Config  *config.Config
	Secrets *config.Secrets

	Registry  *provider.Registry
	Cache     *cache.Cache
	Scheduler *scheduler.Scheduler
	Monitor   *monitor.Monitor
	// Events receives lifecycle events. May be nil.
	Events *eventlog.Logger
}

// Coordinator is the orchestration façade: submit and stream requests,
// query health, administer the cache.
type Coordinator struct {
	cfg      *config.Config
	registry *provider.Registry
	cache    *cache.Cache
	sched    *scheduler.Scheduler
	mon      *monitor.Monitor
	events   *eventlog.Logger

	healthInterval time.Duration
	sweepInterval  time.Duration

	mu     sync.Mutex
	health SystemHealth
	stop   context.CancelFunc
	closed bool
}

func New(opts Options) (*Coordinator, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	events := opts.Events

	cch := opts.Cache
	if cch == nil {
		dir, err := cfg.CacheDir()
		if err != nil {
			return nil, fmt.Errorf("resolving cache directory: %w", err)
		}
		cch, err = cache.New(cache.Options{
			Dir:            dir,
			FastMaxBytes:   int64(cfg.Cache.FastMaxMB) << 20,
			FastMaxEntries: cfg.Cache.FastMaxEntries,
			TTL:            time.Duration(cfg.Cache.TTLDays) * 24 * time.Hour,
			Logf: func(format string, args ...any) {
				events.Log(eventlog.TypeCacheError, map[string]any{"error": fmt.Sprintf(format, args...)})
			},
		})
		if err != nil {
			return nil, fmt.Errorf("opening response cache: %w", err)
		}
	}

	sched := opts.Scheduler
	if sched == nil {
		sched = scheduler.New(scheduler.Options{
			MaxConcurrent: cfg.Scheduler.MaxConcurrent,
			MaxRetries:    cfg.Scheduler.MaxRetries,
			Events:        events,
		})
	}

	mon := opts.Monitor
	if mon == nil {
		mon = monitor.New(monitor.Options{
			Interval:           time.Duration(cfg.Monitor.SampleIntervalSec) * time.Second,
			HighWaterBytes:     uint64(cfg.Monitor.HighWaterMB) << 20,
			CriticalWaterBytes: uint64(cfg.Monitor.CriticalWaterMB) << 20,
			Events:             events,
		})
	}

	reg := opts.Registry
	if reg == nil {
		reg = BuildRegistry(cfg, opts.Secrets)
	}

	healthInterval := time.Duration(cfg.HealthIntervalSec) * time.Second
	if healthInterval <= 0 {
		healthInterval = 30 * time.Second
	}
	sweepInterval := time.Duration(cfg.Cache.SweepIntervalHours) * time.Hour
	if sweepInterval <= 0 {
		sweepInterval = 24 * time.Hour
	}

	return &Coordinator{
		cfg:            cfg,
		registry:       reg,
		cache:          cch,
		sched:          sched,
		mon:            mon,
		events:         events,
		healthInterval: healthInterval,
		sweepInterval:  sweepInterval,
	}, nil
}

// Start launches the supervisor: monitor sampling, pressure reactions, the
// health loop and the slow-tier sweep. Everything stops when ctx is
// cancelled or Close is called. Submit works without Start; only the
// periodic work needs it.
func (c *Coordinator) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	if c.closed || c.stop != nil {
		c.mu.Unlock()
		cancel()
		return
	}
	c.stop = cancel
	c.mu.Unlock()

	c.events.Log(eventlog.TypeSessionStart, map[string]any{"provider": c.cfg.Provider})
	c.mon.Start(runCtx)
	go c.reactLoop(runCtx)
	go c.healthLoop(runCtx)
	go c.sweepLoop(runCtx)
}

// Close stops the supervisor, the scheduler and the cache. Idempotent.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	stop := c.stop
	c.mu.Unlock()

	if stop != nil {
		stop()
	}
	c.sched.Close()
	if err := c.cache.Close(); err != nil {
		c.events.Log(eventlog.TypeCacheError, map[string]any{"error": err.Error()})
	}
	c.events.Log(eventlog.TypeSessionEnd, nil)
}

// Submit dispatches req as a completion task at the given priority. A cache
// hit returns an already-completed handle without consuming a scheduler
// slot, so an identical request runs the adapter at most once while its
// entry lives.
func (c *Coordinator) Submit(ctx context.Context, req provider.Request, priority int) (*TaskHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	adapter, err := c.resolveAdapter(req)
	if err != nil {
		return nil, err
	}
	req = c.withDefaults(req)

	if resp := c.cache.Lookup(req); resp != nil {
		return newCachedHandle(resp), nil
	}

	payload := map[string]any{
		"provider": string(adapter.Name()),
		"model":    adapter.ResolveModel(req.Model),
	}
	task, err := c.sched.Submit(scheduler.KindCompletion, priority, payload, func(runCtx context.Context) (*provider.Response, error) {
		resp, err := adapter.Complete(runCtx, req)
		if err != nil {
			return nil, err
		}
		c.cache.Store(req, resp)
		return resp, nil
	})
	if err != nil {
		return nil, err
	}
	return newScheduledHandle(task), nil
}

// Complete submits req, waits for its result, and releases the task record.
// Cancelling ctx cancels the underlying task.
func (c *Coordinator) Complete(ctx context.Context, req provider.Request, priority int) (*provider.Response, error) {
	h, err := c.Submit(ctx, req, priority)
	if err != nil {
		return nil, err
	}
	r, err := h.Wait(ctx)
	if err != nil {
		c.sched.Cancel(h.ID)
		return nil, err
	}
	c.sched.Forget(h.ID)
	if r.Err != nil {
		return nil, r.Err
	}
	return r.Response, nil
}

// SubmitStreaming opens a chunk stream for req. The open goes through the
// scheduler so it counts against the concurrency ceiling, but the slot frees
// as soon as the stream is open; from then on ctx alone governs the stream.
// Streams bypass the response cache.
func (c *Coordinator) SubmitStreaming(ctx context.Context, req provider.Request) (<-chan provider.StreamChunk, error) {
	adapter, err := c.resolveAdapter(req)
	if err != nil {
		return nil, err
	}
	req = c.withDefaults(req)

	type openResult struct {
		ch  <-chan provider.StreamChunk
		err error
	}
	opened := make(chan openResult, 1)

	payload := map[string]any{
		"provider": string(adapter.Name()),
		"model":    adapter.ResolveModel(req.Model),
	}
	task, err := c.sched.Submit(scheduler.KindStreamOpen, scheduler.PriorityHigh, payload, func(context.Context) (*provider.Response, error) {
		ch, err := adapter.StreamComplete(ctx, req)
		opened <- openResult{ch, err}
		if err != nil {
			return nil, err
		}
		return &provider.Response{Model: adapter.ResolveModel(req.Model)}, nil
	})
	if err != nil {
		return nil, err
	}

	select {
	case o := <-opened:
		if o.err != nil {
			c.events.Log(eventlog.TypeProviderError, map[string]any{
				"provider": string(adapter.Name()), "error": o.err.Error(),
			})
			return nil, o.err
		}
		c.events.Log(eventlog.TypeStreamOpened, map[string]any{
			"task_id": task.ID, "provider": string(adapter.Name()),
		})
		return o.ch, nil
	case <-ctx.Done():
		c.sched.Cancel(task.ID)
		return nil, ctx.Err()
	}
}

// Cancel stops a queued or running task. Idempotent; unknown IDs, including
// cache-hit handles, are ignored.
func (c *Coordinator) Cancel(id string) { c.sched.Cancel(id) }

// Pause takes a task out of admission until Resume.
func (c *Coordinator) Pause(id string) bool { return c.sched.Pause(id) }

// Resume re-admits a paused task.
func (c *Coordinator) Resume(id string) bool { return c.sched.Resume(id) }

// TaskStatus reports a task's current lifecycle state.
func (c *Coordinator) TaskStatus(id string) (scheduler.Status, bool) {
	return c.sched.TaskStatus(id)
}

// CacheStats exposes cache counters for the admin surfaces.
func (c *Coordinator) CacheStats() cache.Stats { return c.cache.Stats() }

// InvalidateCache drops both cache tiers.
func (c *Coordinator) InvalidateCache() { c.cache.InvalidateAll() }

// resolveAdapter picks the backend for req: explicit provider name, else the
// configured default; the OpenAI family is re-pointed at the Responses
// dialect when the settings flag is on. Unregistered names fall back to the
// gateway when one is configured.
func (c *Coordinator) resolveAdapter(req provider.Request) (provider.Adapter, error) {
	name := req.Provider
	if name == "" {
		name = provider.Name(c.cfg.Provider)
	}
	if name == provider.NameOpenAI && c.cfg.Settings.Flag(config.SettingResponsesAPI) {
		name = provider.NameResponses
	}
	if a, ok := c.registry.Get(name); ok {
		return a, nil
	}
	if a, ok := c.registry.Get(provider.NameGateway); ok {
		return a, nil
	}
	err := &provider.ConfigurationError{Provider: name, Reason: "no adapter registered and no gateway fallback"}
	c.events.Log(eventlog.TypeProviderError, map[string]any{
		"provider": string(name), "error": err.Error(),
	})
	return nil, err
}

// withDefaults fills the configured model before the request is
// fingerprinted, so cached entries match regardless of when the default was
// applied.
func (c *Coordinator) withDefaults(req provider.Request) provider.Request {
	if req.Model == "" {
		req.Model = c.cfg.Model
	}
	return req
}

// SystemHealth is the composite health snapshot, recomputed every health
// interval and on demand by Status.
type SystemHealth struct {
	MemoryUsageBytes     uint64        `json:"memory_usage_bytes"`
	PressureLevel        monitor.Level `json:"pressure_level"`
	ThermalState         monitor.Level `json:"thermal_state"`
	CacheHitRate         float64       `json:"cache_hit_rate"`
	SchedulerSuccessRate float64       `json:"scheduler_success_rate"`
	LastCheck            time.Time     `json:"last_check"`
}

// Status is the composite operational view.
type Status struct {
	Health    SystemHealth    `json:"health"`
	Scheduler scheduler.Stats `json:"scheduler"`
	Cache     cache.Stats     `json:"cache"`
	Providers []provider.Name `json:"providers"`
}

// Status returns the latest health snapshot plus live scheduler and cache
// counters. Before the first health tick it computes one on the spot.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	h := c.health
	c.mu.Unlock()
	if h.LastCheck.IsZero() {
		h = c.checkHealth()
	}

	names := c.registry.Names()
	slices.Sort(names)
	return Status{
		Health:    h,
		Scheduler: c.sched.Stats(),
		Cache:     c.cache.Stats(),
		Providers: names,
	}
}

func (c *Coordinator) checkHealth() SystemHealth {
	snap := c.mon.Sample()
	h := SystemHealth{
		MemoryUsageBytes:     snap.MemoryBytes,
		PressureLevel:        snap.Level,
		ThermalState:         snap.Thermal,
		CacheHitRate:         c.cache.Stats().HitRate(),
		SchedulerSuccessRate: c.sched.Stats().SuccessRate(),
		LastCheck:            snap.SampledAt,
	}
	c.mu.Lock()
	c.health = h
	c.mu.Unlock()

	c.events.Log(eventlog.TypeHealthCheck, map[string]any{
		"pressure":               h.PressureLevel.String(),
		"memory_bytes":           h.MemoryUsageBytes,
		"cache_hit_rate":         h.CacheHitRate,
		"scheduler_success_rate": h.SchedulerSuccessRate,
	})
	return h
}

func (c *Coordinator) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(c.healthInterval)
	defer ticker.Stop()
	c.checkHealth()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.checkHealth()
		}
	}
}

func (c *Coordinator) reactLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case tr := <-c.mon.Transitions():
			c.reactTo(tr)
		}
	}
}

// reactTo applies the pressure policy: critical sheds queued low-priority
// work and drops the fast tier; high tidies the slow tier.
func (c *Coordinator) reactTo(tr monitor.Transition) {
	switch tr.To {
	case monitor.LevelCritical:
		c.cache.ClearFast()
		c.sched.CancelPendingBelow(scheduler.PriorityNormal)
	case monitor.LevelHigh:
		c.cache.SweepExpired()
	}
}

func (c *Coordinator) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.cache.SweepExpired()
		}
	}
}
