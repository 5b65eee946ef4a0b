package taskpoll

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jpalmerr/taskpoll/internal/history"
	"github.com/jpalmerr/taskpoll/internal/server"
	"github.com/jpalmerr/taskpoll/internal/store"
)

// Record is the stored view of a poll, running or finished.
type Record struct {
	// ID is the handle id.
	ID     string
	TaskID string
	Job    string

	// State is "running" or the finished poll's outcome name.
	State string

	MaxRetries int
	Checks     int
	Retries    int

	// Result is the job result on success.
	Result json.RawMessage

	// Error is the poll error message, empty on success.
	Error string

	StartedAt time.Time

	// FinishedAt is zero while the poll is running.
	FinishedAt time.Time
}

// Running reports whether the poll has not finished yet.
func (r Record) Running() bool {
	return r.State == store.StateRunning
}

func recordFromStore(sr store.TaskRecord) Record {
	r := Record{
		ID:         sr.ID,
		TaskID:     sr.TaskID,
		Job:        sr.Job,
		State:      sr.State,
		MaxRetries: sr.MaxRetries,
		Checks:     sr.Checks,
		Retries:    sr.Retries,
		Result:     copyBytes(sr.Result),
		StartedAt:  sr.StartedAt,
	}
	if sr.Error != nil {
		r.Error = *sr.Error
	}
	if sr.FinishedAt != nil {
		r.FinishedAt = *sr.FinishedAt
	}
	return r
}

// storeState maps an outcome onto the store's state vocabulary.
func storeState(o Outcome) string {
	switch o {
	case OutcomeSuccess:
		return store.StateSuccess
	case OutcomeJobFailed:
		return store.StateJobFailed
	case OutcomeUnavailable:
		return store.StateUnavailable
	default:
		return store.StateCancelled
	}
}

// recordOf builds the terminal record of the poll behind h.
func recordOf(h *Handle, res Result) store.TaskRecord {
	var errStr *string
	if res.Err != nil {
		s := res.Err.Error()
		errStr = &s
	}
	finished := res.FinishedAt

	return store.TaskRecord{
		ID:         h.id,
		TaskID:     h.taskID,
		Job:        h.job,
		State:      storeState(res.Outcome),
		MaxRetries: h.maxRetries,
		Checks:     res.Checks,
		Retries:    res.Retries,
		Result:     copyBytes(res.Payload),
		Error:      errStr,
		StartedAt:  h.startedAt,
		FinishedAt: &finished,
	}
}

func historyEntryOf(res Result) history.Entry {
	e := history.Entry{
		HandleID:   res.HandleID,
		TaskID:     res.TaskID,
		Job:        res.Job,
		Outcome:    res.Outcome.String(),
		Checks:     res.Checks,
		Retries:    res.Retries,
		Result:     string(res.Payload),
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
	}
	if res.Err != nil {
		e.Error = res.Err.Error()
	}
	return e
}

// launcher lets the HTTP API start and cancel polls. Polls it starts run
// under the Poller's base context rather than the request's. Errors are
// tagged with the server's error classes.
type launcher struct {
	p *Poller
}

// Launch polls taskID. A negative maxRetries selects the default budget.
func (l launcher) Launch(taskID string, maxRetries int) (store.TaskRecord, error) {
	if maxRetries < 0 {
		maxRetries = l.p.maxRetries
	}
	h, err := l.p.Poll(l.p.baseContext(), taskID, maxRetries, nil, nil)
	if err != nil {
		return store.TaskRecord{}, classify(err)
	}
	return l.recordFor(h), nil
}

// LaunchJob starts the named job and polls it.
func (l launcher) LaunchJob(ctx context.Context, name string) (store.TaskRecord, error) {
	j, ok := l.p.Job(name)
	if !ok {
		return store.TaskRecord{}, classify(fmt.Errorf("%w: %q", ErrUnknownJob, name))
	}
	if !l.p.running() {
		return store.TaskRecord{}, classify(ErrNotRunning)
	}
	// the start request follows the caller; the poll outlives it
	taskID, err := l.p.StartJob(ctx, j)
	if err != nil {
		return store.TaskRecord{}, classify(err)
	}
	h, err := l.p.poll(l.p.baseContext(), j.Name, taskID, j.retries(l.p.maxRetries), nil, nil)
	if err != nil {
		return store.TaskRecord{}, classify(err)
	}
	return l.recordFor(h), nil
}

func (l launcher) Cancel(id string) bool {
	return l.p.Cancel(id)
}

func (l launcher) Jobs() []string {
	return append([]string(nil), l.p.jobNames...)
}

func (l launcher) recordFor(h *Handle) store.TaskRecord {
	if r, ok := l.p.store.Get(h.id); ok {
		return r
	}
	return store.TaskRecord{
		ID:         h.id,
		TaskID:     h.taskID,
		Job:        h.job,
		State:      store.StateRunning,
		MaxRetries: h.maxRetries,
		StartedAt:  h.startedAt,
	}
}

// classify tags err with the server error class it maps onto.
func classify(err error) error {
	switch {
	case errors.Is(err, ErrEmptyTaskID), errors.Is(err, ErrNegativeRetries):
		return fmt.Errorf("%w: %w", server.ErrBadRequest, err)
	case errors.Is(err, ErrAlreadyPolling):
		return fmt.Errorf("%w: %w", server.ErrConflict, err)
	case errors.Is(err, ErrUnknownJob):
		return fmt.Errorf("%w: %w", server.ErrNotFound, err)
	case errors.Is(err, ErrNotRunning), errors.Is(err, ErrQueueFull):
		return fmt.Errorf("%w: %w", server.ErrUnavailable, err)
	default:
		return fmt.Errorf("%w: %w", server.ErrUpstream, err)
	}
}
