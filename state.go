package taskpoll

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/jpalmerr/taskpoll/internal/poller"
)

// State is a job state as reported by the task-status endpoint.
//
// The portal documents only [StatePending] and [StateSuccess]. Its backend is
// Celery, so the remaining Celery states are understood as well: the
// in-progress ones are polled like PENDING and the failed ones end the poll.
type State string

const (
	// StatePending means the job has not finished yet.
	StatePending State = "PENDING"

	// StateReceived, StateStarted and StateRetry are in-progress Celery states.
	StateReceived State = "RECEIVED"
	StateStarted  State = "STARTED"
	StateRetry    State = "RETRY"

	// StateSuccess means the job finished. A result of false under SUCCESS
	// still means the job failed.
	StateSuccess State = "SUCCESS"

	// StateFailure and StateRevoked end the poll as a failed job.
	StateFailure State = "FAILURE"
	StateRevoked State = "REVOKED"
)

// String returns the state as sent on the wire.
func (s State) String() string {
	return string(s)
}

// Terminal reports whether polling stops when the endpoint reports s.
// Unknown states are terminal.
func (s State) Terminal() bool {
	switch s {
	case StatePending, StateReceived, StateStarted, StateRetry:
		return false
	default:
		return true
	}
}

// Outcome is the terminal classification of a poll.
type Outcome int

const (
	// OutcomeSuccess means the job finished with a usable result.
	OutcomeSuccess Outcome = Outcome(poller.OutcomeSuccess)

	// OutcomeJobFailed means the job finished without a usable result.
	OutcomeJobFailed Outcome = Outcome(poller.OutcomeJobFailed)

	// OutcomeUnavailable means the status could not be obtained, either
	// because a status request failed or because the retry budget ran out.
	OutcomeUnavailable Outcome = Outcome(poller.OutcomeUnavailable)

	// OutcomeCancelled means the poll was abandoned before it finished.
	OutcomeCancelled Outcome = Outcome(poller.OutcomeCancelled)
)

// String returns the lowercase name of the outcome.
func (o Outcome) String() string {
	return poller.Outcome(o).String()
}

var (
	// ErrJobFailed is wrapped by the error passed to a failure continuation
	// when the job completed without a usable result.
	ErrJobFailed = poller.ErrJobFailed

	// ErrUnavailable is wrapped by the error passed to a failure continuation
	// when the job's status could not be obtained in time. The error also
	// wraps either [ErrTransport] or [ErrRetryBudgetExhausted].
	ErrUnavailable = poller.ErrUnavailable

	// ErrTransport marks an unavailable result caused by a failed status request.
	ErrTransport = poller.ErrTransport

	// ErrRetryBudgetExhausted marks an unavailable result caused by a job that
	// was still pending after the last permitted retry.
	ErrRetryBudgetExhausted = poller.ErrRetryBudgetExhausted

	// ErrCancelled is the error of a cancelled poll's [Result].
	ErrCancelled = poller.ErrCancelled

	// ErrNotRunning is returned by Poll before Start or after Stop.
	ErrNotRunning = poller.ErrNotRunning

	// ErrQueueFull is returned by Poll when every worker is busy and the
	// wait queue is full.
	ErrQueueFull = poller.ErrQueueFull

	// ErrNoTaskID is returned by StartJob when the endpoint's answer did not
	// carry a task id.
	ErrNoTaskID = poller.ErrNoTaskID

	// ErrAlreadyPolling is returned by Poll when the same task id is already
	// being polled by this Poller.
	ErrAlreadyPolling = errors.New("task is already being polled")

	// ErrEmptyTaskID is returned by Poll for an empty task id.
	ErrEmptyTaskID = errors.New("task id is required")

	// ErrNegativeRetries is returned by Poll for a negative retry budget.
	ErrNegativeRetries = errors.New("max retries must not be negative")

	// ErrUnknownJob is returned when a job name is not configured.
	ErrUnknownJob = errors.New("unknown job")
)

// Result holds the outcome of one poll.
//
// Result is immutable after creation. Payload is only set on success and is
// the job's result exactly as the endpoint returned it.
type Result struct {
	// HandleID identifies the poll.
	HandleID string

	// TaskID is the server-side job id that was polled.
	TaskID string

	// Job names the configured job that produced TaskID, if any.
	Job string

	// Outcome is the terminal classification.
	Outcome Outcome

	// State is the last state the endpoint reported, empty if it never answered.
	State State

	// Payload is the verbatim job result on success.
	Payload json.RawMessage

	// Checks is the number of status requests issued.
	Checks int

	// Retries is the part of the retry budget that was consumed.
	Retries int

	// Latency is the summed duration of all status requests.
	Latency time.Duration

	// Err is nil on success and wraps one of the package's sentinel errors
	// otherwise.
	Err error

	StartedAt  time.Time
	FinishedAt time.Time
}

func resultFromPoller(pr poller.Result) Result {
	return Result{
		HandleID:   pr.HandleID,
		TaskID:     pr.TaskID,
		Job:        pr.Job,
		Outcome:    Outcome(pr.Outcome),
		State:      State(pr.State),
		Payload:    copyBytes(pr.Payload),
		Checks:     pr.Checks,
		Retries:    pr.Retries,
		Latency:    pr.Latency,
		Err:        pr.Err,
		StartedAt:  pr.StartedAt,
		FinishedAt: pr.FinishedAt,
	}
}

// copyBytes returns a copy of the byte slice, or nil if input is nil.
func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
