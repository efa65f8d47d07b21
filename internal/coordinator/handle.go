package coordinator

import (
	"context"

	"github.com/google/uuid"

	"github.com/conduit-ai/conduit/internal/provider"
	"github.com/conduit-ai/conduit/internal/scheduler"
)

// TaskHandle tracks one submitted completion. A cache hit produces a handle
// that is complete from birth and never consumed a scheduler slot.
type TaskHandle struct {
	ID        string
	FromCache bool

	task   *scheduler.Task
	result *scheduler.Result
	done   chan struct{}
}

func newScheduledHandle(t *scheduler.Task) *TaskHandle {
	return &TaskHandle{ID: t.ID, task: t}
}

func newCachedHandle(resp *provider.Response) *TaskHandle {
	done := make(chan struct{})
	close(done)
	return &TaskHandle{
		ID:        uuid.NewString(),
		FromCache: true,
		result:    &scheduler.Result{Response: resp},
		done:      done,
	}
}

// Done returns a channel closed once the result is available.
func (h *TaskHandle) Done() <-chan struct{} {
	if h.task != nil {
		return h.task.Done()
	}
	return h.done
}

// Wait blocks until the result is available or ctx expires.
func (h *TaskHandle) Wait(ctx context.Context) (*scheduler.Result, error) {
	if h.task != nil {
		return h.task.Wait(ctx)
	}
	return h.result, nil
}

// Result returns the delivered result, or nil while the task is still
// running.
func (h *TaskHandle) Result() *scheduler.Result {
	if h.task == nil {
		return h.result
	}
	select {
	case <-h.task.Done():
		return h.task.Result
	default:
		return nil
	}
}
