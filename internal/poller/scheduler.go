package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotRunning reports a submission to a scheduler that is not started
	// or already stopped.
	ErrNotRunning = errors.New("scheduler is not running")

	// ErrQueueFull reports a submission that found the job queue full.
	ErrQueueFull = errors.New("poll queue is full")
)

// Job is a unit of work for the [Scheduler]: one task to poll to completion.
type Job struct {
	// Task describes what to poll.
	Task Task

	// Ctx scopes this poll. Cancelling it abandons the poll.
	Ctx context.Context

	// Done is called exactly once with the terminal result, from the worker
	// goroutine, before the result is emitted on [Scheduler.Results].
	// It is also called for jobs that were still queued when the scheduler
	// stopped. Panics are recovered and logged.
	Done func(Result)
}

// Scheduler runs task polls on a bounded worker pool.
//
// Each submitted [Job] is polled by exactly one worker from start to finish,
// so polls for different tasks never share state. Results are emitted to a
// channel that can be consumed by the caller.
//
// All lifecycle methods (Start, Stop) are safe for concurrent use.
type Scheduler struct {
	fetcher        Fetcher
	maxConcurrency int
	jobs           chan Job
	results        chan Result
	logger         *slog.Logger
	ctx            context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup

	mu        sync.Mutex
	started   bool
	stopped   bool
	closeOnce sync.Once
}

// NewScheduler creates a new [Scheduler].
//
// Parameters:
//   - fetcher: HTTP transport used by every poll
//   - maxConcurrency: Maximum number of polls running at once
//   - queueSize: Number of jobs that may wait for a free worker
//   - logger: Logger for scheduler events (panic recovery, etc.)
//
// The scheduler must be started with [Scheduler.Start] and stopped with
// [Scheduler.Stop]. Results are available via [Scheduler.Results].
func NewScheduler(fetcher Fetcher, maxConcurrency, queueSize int, logger *slog.Logger) *Scheduler {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &Scheduler{
		fetcher:        fetcher,
		maxConcurrency: maxConcurrency,
		jobs:           make(chan Job, queueSize),
		results:        make(chan Result, queueSize),
		logger:         logger,
	}
}

// Results returns a receive-only channel that emits [Result] values.
//
// The channel is closed when the scheduler stops. Consumers should read from
// this channel until it is closed to receive all poll results. Results of
// polls that finish while the scheduler is stopping may be dropped; their
// Done callbacks still run.
func (s *Scheduler) Results() <-chan Result {
	return s.results
}

// Start launches the worker pool.
//
// If ctx is nil, context.Background() is used as the parent context.
// Cancelling the parent cancels every running poll.
// Start is idempotent; subsequent calls after the first are no-ops.
// If Stop was called before Start, Start is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true

	if ctx == nil {
		ctx = context.Background()
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	workerCtx := s.ctx // capture under lock to avoid race

	for i := 0; i < s.maxConcurrency; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case <-workerCtx.Done():
					return
				case job := <-s.jobs:
					s.runJob(workerCtx, job)
				}
			}
		}()
	}
}

// Submit queues a job for polling.
//
// Submit never blocks: it returns [ErrQueueFull] when every queue slot is
// taken and [ErrNotRunning] when the scheduler is not started or stopped.
func (s *Scheduler) Submit(job Job) error {
	if job.Ctx == nil {
		job.Ctx = context.Background()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || s.stopped {
		return ErrNotRunning
	}

	select {
	case s.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop halts the scheduler and waits for all workers to complete.
//
// Running polls are cancelled. Jobs still waiting in the queue are completed
// as cancelled so that every Done callback fires exactly once. Stop is
// idempotent and safe to call before Start.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		if s.cancel != nil {
			s.cancel()
		}
	}
	s.mu.Unlock()

	s.wg.Wait()

	// no Submit can succeed past this point, so the queue only drains
	for {
		select {
		case job := <-s.jobs:
			now := time.Now()
			s.safeDone(job, Result{
				HandleID:   job.Task.HandleID,
				TaskID:     job.Task.TaskID,
				Job:        job.Task.Job,
				Outcome:    OutcomeCancelled,
				Err:        ErrCancelled,
				StartedAt:  now,
				FinishedAt: now,
			})
			continue
		default:
		}
		break
	}

	if c, ok := s.fetcher.(interface{ Close() }); ok {
		c.Close()
	}

	s.closeOnce.Do(func() { close(s.results) })
}

// runJob polls a single job and emits its result.
func (s *Scheduler) runJob(workerCtx context.Context, job Job) {
	ctx, cancel := context.WithCancel(job.Ctx)
	defer cancel()
	stop := context.AfterFunc(workerCtx, cancel)
	defer stop()

	result := Run(ctx, s.fetcher, job.Task)
	s.safeDone(job, result)

	select {
	case s.results <- result:
	case <-workerCtx.Done():
	}
}

// safeDone calls the job's Done callback with panic recovery.
// A panic is logged with a correlation ID and the full stack trace.
func (s *Scheduler) safeDone(job Job, result Result) {
	if job.Done == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			s.logger.Error("poll completion panic",
				"correlation_id", correlationID,
				"task_id", result.TaskID,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
		}
	}()
	job.Done(result)
}
