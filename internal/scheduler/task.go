package scheduler

import (
	"context"
	"time"

	"github.com/conduit-ai/conduit/internal/provider"
)

// Status is a task's position in its lifecycle.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusPaused    Status = "paused"
	StatusCancelled Status = "cancelled"
)

// Kind labels what a task does.
type Kind string

const (
	KindCompletion Kind = "completion"
	KindStreamOpen Kind = "stream_open"
)

// Task priorities. Higher values are admitted first; within a priority,
// earlier submissions win.
const (
	PriorityLow    = 1
	PriorityNormal = 2
	PriorityHigh   = 3
	PriorityUrgent = 4
)

// Func is the work a task performs. It must honor ctx cancellation.
type Func func(ctx context.Context) (*provider.Response, error)

// Result carries a finished task's outcome. Exactly one of Response or Err
// is set.
type Result struct {
	Response *provider.Response
	Err      error
}

// Task is one unit of scheduled work. The scheduler owns all mutation; other
// goroutines may read Result and the terminal fields only after Done fires.
type Task struct {
	ID            string
	Kind          Kind
	Priority      int
	Payload       map[string]any
	Status        Status
	RetryCount    int
	CreatedAt     time.Time
	StartedAt     time.Time
	DoneAt        time.Time
	ExecutionTime time.Duration
	Result        *Result

	run       Func
	seq       uint64
	cancel    context.CancelFunc
	done      chan struct{}
	delivered bool
	queued    bool
}

// Done returns a channel closed once the task's result is delivered.
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the task finishes or ctx expires.
func (t *Task) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.done:
		return t.Result, nil
	}
}
