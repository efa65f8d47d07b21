// Package scheduler runs provider work under a concurrency ceiling with
// priority admission, bounded retry, pause/resume and cancellation.
//
// Tasks move pending → active → completed or failed. A retryable failure
// below the retry ceiling re-enters the queue at the back of its priority
// band after a backoff delay; the ceiling makes failed terminal. Cancel and
// Pause are allowed in any non-terminal state. Results are delivered exactly
// once; anything a task produces after delivery is discarded.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/conduit-ai/conduit/internal/eventlog"
	"github.com/conduit-ai/conduit/internal/provider"
)

const (
	DefaultMaxConcurrent = 3
	DefaultMaxRetries    = 3
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("scheduler closed")

// Options configures a Scheduler. Zero fields take the defaults above.
type Options struct {
	MaxConcurrent int
	MaxRetries    int
	// RetryDelay returns the re-admission delay for attempt n (0-indexed).
	// Nil means DefaultRetryDelay.
	RetryDelay func(attempt int) time.Duration
	// Events receives task lifecycle events. May be nil.
	Events *eventlog.Logger
}

// Scheduler is the bounded-concurrency priority task runner.
type Scheduler struct {
	opts       Options
	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	tasks  map[string]*Task
	queue  []*Task
	active int
	seq    uint64

	completed int64
	failed    int64
	cancelled int64

	promptTokens     int64
	completionTokens int64
}

// New creates a Scheduler. It is ready immediately; Close releases it.
func New(opts Options) *Scheduler {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.RetryDelay == nil {
		opts.RetryDelay = DefaultRetryDelay
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		opts:       opts,
		baseCtx:    ctx,
		baseCancel: cancel,
		tasks:      make(map[string]*Task),
	}
}

// Submit queues fn and returns its task. The task starts as soon as a slot
// and its priority allow. Priority is clamped to the 1..4 range. payload is
// opaque caller metadata carried on the task record; nil is fine.
func (s *Scheduler) Submit(kind Kind, priority int, payload map[string]any, fn Func) (*Task, error) {
	if priority < PriorityLow {
		priority = PriorityLow
	}
	if priority > PriorityUrgent {
		priority = PriorityUrgent
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	s.seq++
	t := &Task{
		ID:        uuid.NewString(),
		Kind:      kind,
		Priority:  priority,
		Payload:   payload,
		Status:    StatusPending,
		CreatedAt: time.Now(),
		run:       fn,
		seq:       s.seq,
		done:      make(chan struct{}),
		queued:    true,
	}
	s.tasks[t.ID] = t
	s.queue = append(s.queue, t)

	s.opts.Events.Log(eventlog.TypeTaskSubmitted, map[string]any{
		"task_id": t.ID, "kind": string(kind), "priority": priority,
	})

	s.dispatchLocked()
	return t, nil
}

// Cancel stops a task in any non-terminal state and is idempotent. An active
// task has its context cancelled; whatever the attempt returns afterwards is
// discarded.
func (s *Scheduler) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok || t.delivered {
		return
	}

	switch t.Status {
	case StatusPending, StatusPaused:
		s.removeFromQueueLocked(t)
		s.deliverLocked(t, &Result{Err: context.Canceled}, StatusCancelled)
	case StatusActive:
		if t.cancel != nil {
			t.cancel()
		}
		s.deliverLocked(t, &Result{Err: context.Canceled}, StatusCancelled)
		s.active--
		s.dispatchLocked()
	}
}

// Pause takes a task out of admission until Resume. A pending task simply
// leaves the queue; an active task has its attempt cancelled and discarded,
// to be re-run from scratch on resume. Returns false for unknown or
// terminal tasks.
func (s *Scheduler) Pause(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok || t.delivered {
		return false
	}
	switch t.Status {
	case StatusPending:
		s.removeFromQueueLocked(t)
		t.Status = StatusPaused
		return true
	case StatusActive:
		if t.cancel != nil {
			t.cancel()
		}
		t.Status = StatusPaused
		return true
	}
	return false
}

// Resume re-admits a paused task. It keeps its original queue position
// within its priority band.
func (s *Scheduler) Resume(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok || t.delivered || t.Status != StatusPaused {
		return false
	}
	t.Status = StatusPending
	if !t.queued {
		t.queued = true
		s.queue = append(s.queue, t)
	}
	s.dispatchLocked()
	return true
}

// CancelPendingBelow cancels queued tasks with priority below min and
// reports how many were cancelled. Active and paused tasks are untouched.
func (s *Scheduler) CancelPendingBelow(min int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, t := range s.tasks {
		if !t.delivered && t.Status == StatusPending && t.Priority < min {
			s.removeFromQueueLocked(t)
			s.deliverLocked(t, &Result{Err: context.Canceled}, StatusCancelled)
			n++
		}
	}
	return n
}

// TaskStatus reports the current status of a task.
func (s *Scheduler) TaskStatus(id string) (Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return "", false
	}
	return t.Status, true
}

// Forget drops a finished task from the registry so the task table does not
// grow without bound. Non-terminal tasks are kept.
func (s *Scheduler) Forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok || !t.delivered {
		return
	}
	delete(s.tasks, id)
}

// Stats is a point-in-time view of scheduler state. Token counters sum the
// usage reported by completed tasks.
type Stats struct {
	Pending   int   `json:"pending"`
	Active    int   `json:"active"`
	Paused    int   `json:"paused"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Cancelled int64 `json:"cancelled"`

	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

// SuccessRate is completed over completed+failed, 1.0 before any task
// finishes.
func (st Stats) SuccessRate() float64 {
	total := st.Completed + st.Failed
	if total == 0 {
		return 1.0
	}
	return float64(st.Completed) / float64(total)
}

// Stats returns current counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		Active:           s.active,
		Completed:        s.completed,
		Failed:           s.failed,
		Cancelled:        s.cancelled,
		PromptTokens:     s.promptTokens,
		CompletionTokens: s.completionTokens,
	}
	for _, t := range s.tasks {
		switch t.Status {
		case StatusPending:
			st.Pending++
		case StatusPaused:
			st.Paused++
		}
	}
	return st
}

// Close stops admission and cancels every task still in flight or queued.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for _, t := range s.tasks {
		if t.delivered {
			continue
		}
		if t.Status == StatusActive && t.cancel != nil {
			t.cancel()
		}
		s.removeFromQueueLocked(t)
		s.deliverLocked(t, &Result{Err: context.Canceled}, StatusCancelled)
	}
	s.active = 0
	s.queue = nil
	s.mu.Unlock()

	s.baseCancel()
}

// ── internals ────────────────────────────────────────────────────────────────

// dispatchLocked fills free slots with the best admittable tasks: highest
// priority first, earliest sequence within a priority.
func (s *Scheduler) dispatchLocked() {
	if s.closed {
		return
	}
	for s.active < s.opts.MaxConcurrent {
		t := s.takeNextLocked()
		if t == nil {
			return
		}
		s.active++
		t.Status = StatusActive
		t.StartedAt = time.Now()
		runCtx, cancel := context.WithCancel(s.baseCtx)
		t.cancel = cancel
		go s.runTask(t, runCtx, cancel)
	}
}

func (s *Scheduler) takeNextLocked() *Task {
	best := -1
	for i, t := range s.queue {
		if best == -1 ||
			t.Priority > s.queue[best].Priority ||
			(t.Priority == s.queue[best].Priority && t.seq < s.queue[best].seq) {
			best = i
		}
	}
	if best == -1 {
		return nil
	}
	t := s.queue[best]
	s.queue = append(s.queue[:best], s.queue[best+1:]...)
	t.queued = false
	return t
}

func (s *Scheduler) runTask(t *Task, ctx context.Context, cancel context.CancelFunc) {
	resp, err := t.run(ctx)
	cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	if t.delivered {
		// Cancelled mid-flight; the slot was already freed.
		return
	}
	if t.Status == StatusPaused {
		// Preempted by Pause; discard the attempt and free the slot.
		s.active--
		s.dispatchLocked()
		return
	}

	s.active--
	switch {
	case err == nil:
		s.deliverLocked(t, &Result{Response: resp}, StatusCompleted)
	case provider.IsRetryable(err) && t.RetryCount < s.opts.MaxRetries:
		t.RetryCount++
		t.Status = StatusPending
		delay := s.opts.RetryDelay(t.RetryCount - 1)
		s.opts.Events.Log(eventlog.TypeTaskRetried, map[string]any{
			"task_id": t.ID, "attempt": t.RetryCount, "delay_ms": delay.Milliseconds(), "error": err.Error(),
		})
		go s.requeueAfter(t, delay)
	default:
		s.deliverLocked(t, &Result{Err: err}, StatusFailed)
	}
	s.dispatchLocked()
}

// requeueAfter waits out the backoff, then puts the task at the back of its
// priority band. The slot was freed when the attempt ended, so the delay
// never blocks other work.
func (s *Scheduler) requeueAfter(t *Task, d time.Duration) {
	if d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-s.baseCtx.Done():
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || t.delivered || t.Status != StatusPending || t.queued {
		return
	}
	s.seq++
	t.seq = s.seq
	t.queued = true
	s.queue = append(s.queue, t)
	s.dispatchLocked()
}

// deliverLocked publishes the result exactly once; repeat deliveries are
// ignored.
func (s *Scheduler) deliverLocked(t *Task, r *Result, st Status) {
	if t.delivered {
		return
	}
	t.delivered = true
	t.Result = r
	t.Status = st
	t.DoneAt = time.Now()
	if !t.StartedAt.IsZero() {
		t.ExecutionTime = t.DoneAt.Sub(t.StartedAt)
	}

	switch st {
	case StatusCompleted:
		s.completed++
		if r.Response != nil && r.Response.Usage != nil {
			s.promptTokens += int64(r.Response.Usage.PromptTokens)
			s.completionTokens += int64(r.Response.Usage.CompletionTokens)
		}
		s.opts.Events.Log(eventlog.TypeTaskCompleted, map[string]any{
			"task_id": t.ID, "ms": t.ExecutionTime.Milliseconds(),
		})
	case StatusFailed:
		s.failed++
		s.opts.Events.Log(eventlog.TypeTaskFailed, map[string]any{
			"task_id": t.ID, "error": r.Err.Error(),
		})
	case StatusCancelled:
		s.cancelled++
		s.opts.Events.Log(eventlog.TypeTaskCancelled, map[string]any{
			"task_id": t.ID,
		})
	}

	close(t.done)
}

func (s *Scheduler) removeFromQueueLocked(t *Task) {
	if !t.queued {
		return
	}
	for i, q := range s.queue {
		if q == t {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			break
		}
	}
	t.queued = false
}
