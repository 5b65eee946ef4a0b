package taskpoll

import (
	"context"
	"sync"
	"time"
)

// Handle is a running or finished poll.
//
// A Handle is returned by [Poller.Poll] and [Poller.Run]. It can cancel the
// poll and wait for its [Result]. All methods are safe for concurrent use.
type Handle struct {
	id     string
	taskID string
	job    string
	cancel context.CancelFunc

	maxRetries int
	startedAt  time.Time

	done   chan struct{}
	once   sync.Once
	mu     sync.RWMutex
	result Result
}

func newHandle(id, taskID, job string, maxRetries int, cancel context.CancelFunc) *Handle {
	return &Handle{
		id:         id,
		taskID:     taskID,
		job:        job,
		cancel:     cancel,
		maxRetries: maxRetries,
		startedAt:  time.Now(),
		done:       make(chan struct{}),
	}
}

// ID returns the unique id of this poll.
func (h *Handle) ID() string { return h.id }

// TaskID returns the server-side job id being polled.
func (h *Handle) TaskID() string { return h.taskID }

// Job returns the configured job name, empty for a bare Poll.
func (h *Handle) Job() string { return h.job }

// Cancel abandons the poll. No further status requests are issued, and
// neither continuation nor notification fires. Cancelling a finished poll
// has no effect.
func (h *Handle) Cancel() {
	h.cancel()
}

// Done returns a channel that is closed once the poll has finished and its
// continuation has returned.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Result returns the poll's result and true once the poll has finished.
func (h *Handle) Result() (Result, bool) {
	select {
	case <-h.done:
	default:
		return Result{}, false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.result, true
}

// Wait blocks until the poll finishes or ctx is done.
//
// The returned error is ctx's error if ctx ended first, and the result's Err
// otherwise. Waiting does not cancel the poll.
func (h *Handle) Wait(ctx context.Context) (Result, error) {
	select {
	case <-h.done:
		r, _ := h.Result()
		return r, r.Err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// finish records the result and releases waiters. Only the first call counts.
func (h *Handle) finish(r Result) {
	h.once.Do(func() {
		h.mu.Lock()
		h.result = r
		h.mu.Unlock()
		h.cancel()
		close(h.done)
	})
}
