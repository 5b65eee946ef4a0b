package poller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"
)

// State is a task state as reported by the status endpoint.
type State string

// Task states understood by the poller. The portal's backend is Celery, so
// its full state vocabulary is recognised even though the portal documents
// only PENDING and SUCCESS.
const (
	StatePending  State = "PENDING"
	StateReceived State = "RECEIVED"
	StateStarted  State = "STARTED"
	StateRetry    State = "RETRY"
	StateSuccess  State = "SUCCESS"
	StateFailure  State = "FAILURE"
	StateRevoked  State = "REVOKED"
)

// Outcome is the terminal classification of a poll.
type Outcome int

const (
	// OutcomeSuccess means the job finished with a usable result.
	OutcomeSuccess Outcome = iota + 1

	// OutcomeJobFailed means the job finished but produced no usable result.
	OutcomeJobFailed

	// OutcomeUnavailable means the status could not be obtained (transport
	// failure) or the retry budget ran out while the job was still pending.
	OutcomeUnavailable

	// OutcomeCancelled means the poll was abandoned by its caller.
	OutcomeCancelled
)

// String returns the lowercase name of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeJobFailed:
		return "job_failed"
	case OutcomeUnavailable:
		return "unavailable"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

var (
	// ErrJobFailed reports a job that completed without a usable result.
	ErrJobFailed = errors.New("job failed")

	// ErrUnavailable reports a task whose status could not be obtained in time.
	ErrUnavailable = errors.New("task status unavailable")

	// ErrTransport is wrapped together with ErrUnavailable when the status
	// request itself failed.
	ErrTransport = errors.New("status request failed")

	// ErrRetryBudgetExhausted is wrapped together with ErrUnavailable when the
	// job was still pending after the last permitted retry.
	ErrRetryBudgetExhausted = errors.New("retry budget exhausted")

	// ErrCancelled reports a poll abandoned by its caller.
	ErrCancelled = errors.New("poll cancelled")
)

// failureSentinel is the result value the portal returns under SUCCESS when
// the job produced nothing.
var failureSentinel = []byte("false")

// DelayFunc returns how long to wait before the given retry (1-based).
type DelayFunc func(retry int) time.Duration

// TokenFunc produces a fresh per-request token (a captcha token on the
// portal's validation flow). An error terminates the poll as unavailable.
type TokenFunc func(ctx context.Context) (string, error)

// Task is the poller-internal description of a single poll.
type Task struct {
	// HandleID identifies this poll. It is distinct from TaskID so that the
	// same server job can be polled again after a previous poll finished.
	HandleID string

	// TaskID is the opaque server-side job identifier.
	TaskID string

	// Job names the start-job endpoint that produced TaskID, if any.
	Job string

	// StatusURL is the task-status endpoint.
	StatusURL string

	// MaxRetries is the retry budget. Zero means a single check.
	MaxRetries int

	// Delay decides the wait before each retry. Nil means one second.
	Delay DelayFunc

	// Timeout is the per-request timeout.
	Timeout time.Duration

	// Headers are sent with every status request.
	Headers map[string]string

	// Token, when set, adds a token query parameter to every status request.
	Token TokenFunc
}

// Result is the terminal record of one poll.
type Result struct {
	HandleID string
	TaskID   string
	Job      string
	Outcome  Outcome

	// State is the last state reported by the endpoint, empty if none was.
	State State

	// Payload is the verbatim result on success.
	Payload json.RawMessage

	// Checks counts status requests issued, Retries the budget consumed.
	Checks  int
	Retries int

	// Latency is the summed duration of all status requests.
	Latency time.Duration

	// Err is nil on success and wraps one of the package sentinels otherwise.
	Err error

	StartedAt  time.Time
	FinishedAt time.Time
}

// statusBody mirrors the status endpoint's JSON.
type statusBody struct {
	State  State           `json:"state"`
	Result json.RawMessage `json:"result"`
}

// Run polls t's status endpoint until a terminal state and returns the result.
//
// Run issues one status request at a time, so at most one request is ever in
// flight for a task. A transport error ends the poll at once without touching
// the retry budget. A PENDING answer consumes one unit of budget and waits
// t.Delay before the next request; with the budget at zero it ends the poll.
// Cancelling ctx abandons the poll during either the request or the wait.
func Run(ctx context.Context, f Fetcher, t Task) Result {
	res := Result{
		HandleID:  t.HandleID,
		TaskID:    t.TaskID,
		Job:       t.Job,
		StartedAt: time.Now(),
	}
	finish := func(o Outcome, err error) Result {
		res.Outcome = o
		res.Err = err
		res.FinishedAt = time.Now()
		return res
	}

	delay := t.Delay
	if delay == nil {
		delay = func(int) time.Duration { return time.Second }
	}
	budget := t.MaxRetries

	for {
		if ctx.Err() != nil {
			return finish(OutcomeCancelled, ErrCancelled)
		}

		query := url.Values{"task_id": {t.TaskID}}
		if t.Token != nil {
			token, err := t.Token(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return finish(OutcomeCancelled, ErrCancelled)
				}
				return finish(OutcomeUnavailable, unavailable(ErrTransport, fmt.Errorf("token: %w", err)))
			}
			query.Set("token", token)
		}

		resp := f.Fetch(ctx, Request{
			URL:     t.StatusURL,
			Query:   query,
			Headers: t.Headers,
			Timeout: t.Timeout,
		})
		res.Checks++
		res.Latency += resp.Latency

		if resp.Error != nil {
			if ctx.Err() != nil {
				return finish(OutcomeCancelled, ErrCancelled)
			}
			return finish(OutcomeUnavailable, unavailable(ErrTransport, resp.Error))
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return finish(OutcomeUnavailable, unavailable(ErrTransport, fmt.Errorf("unexpected status code %d", resp.StatusCode)))
		}

		body, err := decodeStatus(resp.Body)
		if err != nil {
			return finish(OutcomeUnavailable, unavailable(ErrTransport, err))
		}
		res.State = body.State

		switch classify(body.State) {
		case phaseSucceeded:
			if isFailureSentinel(body.Result) {
				return finish(OutcomeJobFailed, fmt.Errorf("%w: task %s returned no result", ErrJobFailed, t.TaskID))
			}
			res.Payload = payloadOf(body.Result)
			return finish(OutcomeSuccess, nil)

		case phaseFailed:
			return finish(OutcomeJobFailed, fmt.Errorf("%w: task %s ended in state %s", ErrJobFailed, t.TaskID, body.State))

		case phaseWaiting:
			if budget <= 0 {
				return finish(OutcomeUnavailable, unavailable(ErrRetryBudgetExhausted,
					fmt.Errorf("task %s still %s after %d checks", t.TaskID, body.State, res.Checks)))
			}
			budget--
			res.Retries++

			if !sleep(ctx, delay(res.Retries)) {
				return finish(OutcomeCancelled, ErrCancelled)
			}
		}
	}
}

type phase int

const (
	phaseWaiting phase = iota
	phaseSucceeded
	phaseFailed
)

// classify maps a reported state onto the poll phase it drives.
// Unrecognised states are treated as failures rather than polled forever.
func classify(s State) phase {
	switch s {
	case StatePending, StateReceived, StateStarted, StateRetry:
		return phaseWaiting
	case StateSuccess:
		return phaseSucceeded
	default:
		return phaseFailed
	}
}

// decodeStatus parses a status body. The portal answers "No job id given."
// as plain text when the id is missing, which surfaces here as an error.
func decodeStatus(body []byte) (statusBody, error) {
	var sb statusBody
	if err := json.Unmarshal(body, &sb); err != nil {
		return statusBody{}, fmt.Errorf("malformed status body: %w", err)
	}
	if sb.State == "" {
		return statusBody{}, errors.New("malformed status body: missing state")
	}
	return sb, nil
}

func isFailureSentinel(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), failureSentinel)
}

// payloadOf copies raw so the result does not alias the response buffer.
// An absent result is reported as JSON null.
func payloadOf(raw json.RawMessage) json.RawMessage {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	return append(json.RawMessage(nil), raw...)
}

func unavailable(kind error, detail error) error {
	return fmt.Errorf("%w: %w: %w", ErrUnavailable, kind, detail)
}

// sleep waits for d or until ctx is done. It reports whether the full
// duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
