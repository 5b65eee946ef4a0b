package taskpoll

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jpalmerr/taskpoll/internal/history"
	"github.com/jpalmerr/taskpoll/internal/poller"
	"github.com/jpalmerr/taskpoll/internal/server"
	"github.com/jpalmerr/taskpoll/internal/store"
)

const (
	defaultMaxRetries     = 20
	defaultTimeout        = 10 * time.Second
	defaultMaxConcurrency = 10
	defaultQueueSize      = 100

	// notifyTimeout bounds each notifier call.
	notifyTimeout = 10 * time.Second

	// historyTimeout bounds each history write.
	historyTimeout = 5 * time.Second
)

// Poller polls the status of server-side jobs until they finish.
//
// A Poller owns a bounded pool of workers. Each call to [Poller.Poll] hands
// one task id to a worker, which checks the status endpoint, waits according
// to the [RetryPolicy] while the job is pending, and stops on the first
// terminal answer, on a failed request, or when the retry budget runs out.
// Each finished poll sends exactly one [Notification] and then runs exactly
// one continuation. A cancelled poll does neither.
//
// The typical lifecycle is:
//
//	p, err := taskpoll.New(taskpoll.WithStatusURL("https://portal.example/search/get-task-info/"))
//	if err != nil {
//	    slog.Error("failed to create poller", "error", err)
//	    os.Exit(1)
//	}
//	p.Start(ctx)
//	defer p.Stop()
//
//	h, err := p.Poll(ctx, taskID, 20,
//	    func(result json.RawMessage) { /* use the result */ },
//	    func(err error) { /* report the failure */ },
//	)
type Poller struct {
	statusURL       string
	maxRetries      int
	policy          RetryPolicy
	timeout         time.Duration
	headers         map[string]string
	token           poller.TokenFunc
	logger          *slog.Logger
	notifiers       []Notifier
	resultCallbacks []func(Result)
	jobs            map[string]Job
	jobNames        []string

	client    *poller.Client
	scheduler *poller.Scheduler
	store     store.Store
	history   *history.Log

	mu      sync.Mutex
	ctx     context.Context
	started bool
	stopped bool
	active  map[string]*Handle // by task id
	handles map[string]*Handle // by handle id

	wg         sync.WaitGroup
	deliveries sync.WaitGroup // notification and continuation goroutines
	stopOnce   sync.Once
	done       chan struct{}
}

// New creates a new [Poller] with the given options.
//
// [WithStatusURL] is required. Other options have sensible defaults:
//   - Retry budget: 20
//   - Retry policy: FixedDelay(1s)
//   - Request timeout: 10 seconds
//   - Max concurrency: 10
//   - Records kept in memory, at most 1000 finished ones
//   - No history, notifications logged
//
// New connects to Redis and opens the history database when those are
// configured, and fails if either is unreachable.
func New(opts ...Option) (*Poller, error) {
	cfg := &tpConfig{
		maxRetries:     defaultMaxRetries,
		policy:         FixedDelay(defaultRetryDelay),
		timeout:        defaultTimeout,
		maxConcurrency: defaultMaxConcurrency,
		queueSize:      defaultQueueSize,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.statusURL == "" {
		return nil, errors.New("status url is required")
	}

	jobs := make(map[string]Job, len(cfg.jobs))
	jobNames := make([]string, 0, len(cfg.jobs))
	for _, j := range cfg.jobs {
		if _, dup := jobs[j.Name]; dup {
			return nil, fmt.Errorf("duplicate job name: %q", j.Name)
		}
		jobs[j.Name] = j
		jobNames = append(jobNames, j.Name)
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	notifiers := cfg.notifiers
	if len(notifiers) == 0 {
		notifiers = []Notifier{NewLogNotifier(logger)}
	}

	client, err := poller.NewClient(poller.ClientConfig{
		CSRFCookie: cfg.csrfCookie,
		CSRFHeader: cfg.csrfHeader,
	})
	if err != nil {
		return nil, err
	}

	var st store.Store
	if cfg.redis != nil {
		rs, err := store.NewRedisStore(context.Background(), store.RedisConfig{
			Addr:     cfg.redis.Addr,
			Password: cfg.redis.Password,
			DB:       cfg.redis.DB,
			Prefix:   cfg.redis.Prefix,
			TTL:      cfg.redis.TTL,
		}, logger)
		if err != nil {
			client.Close()
			return nil, err
		}
		st = rs
	} else {
		st = store.NewMemoryStoreWithRetention(store.Retention{
			MaxFinished: cfg.retention.MaxFinished,
			TTL:         cfg.retention.TTL,
		})
	}

	var hist *history.Log
	if cfg.historyPath != "" {
		hist, err = history.Open(context.Background(), cfg.historyPath)
		if err != nil {
			client.Close()
			_ = st.Close()
			return nil, err
		}
	}

	var token poller.TokenFunc
	if cfg.tokenSource != nil {
		token = cfg.tokenSource
	}

	return &Poller{
		statusURL:       cfg.statusURL,
		maxRetries:      cfg.maxRetries,
		policy:          cfg.policy,
		timeout:         cfg.timeout,
		headers:         cfg.headers,
		token:           token,
		logger:          logger,
		notifiers:       notifiers,
		resultCallbacks: cfg.resultCallbacks,
		jobs:            jobs,
		jobNames:        jobNames,
		client:          client,
		scheduler:       poller.NewScheduler(client, cfg.maxConcurrency, cfg.queueSize, logger),
		store:           st,
		history:         hist,
		active:          make(map[string]*Handle),
		handles:         make(map[string]*Handle),
		done:            make(chan struct{}),
	}, nil
}

// Start launches the worker pool.
//
// Cancelling ctx cancels every running poll. Start is idempotent and a no-op
// after [Poller.Stop].
func (p *Poller) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true
	p.ctx = ctx

	p.scheduler.Start(ctx)

	p.wg.Add(1)
	go p.consume()
}

// Stop cancels every running and queued poll and waits for the workers to
// finish. Once the last notification and continuation still in flight
// returns, the store, the history database and notifiers that implement
// Close() error are released and [Poller.Done] is closed.
//
// Stop may be called from a continuation or a notifier; it then returns
// without waiting for that call. Stop is idempotent and must be called even
// if Start never was.
func (p *Poller) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()

	p.scheduler.Stop() // closes results channel
	p.wg.Wait()        // wait for all results to be processed

	// no delivery can be added once the workers are gone
	p.stopOnce.Do(func() {
		go func() {
			p.deliveries.Wait()
			p.closeResources()
			close(p.done)
		}()
	})
}

// Done returns a channel closed once [Poller.Stop] has run and every
// resource is released.
func (p *Poller) Done() <-chan struct{} {
	return p.done
}

// Poll starts polling taskID and returns immediately.
//
// maxRetries is the number of PENDING answers tolerated before giving up, so
// at most maxRetries+1 status requests are issued. When the poll finishes,
// exactly one of onSuccess and onFailure runs: onSuccess with the job's
// result, onFailure with an error wrapping [ErrJobFailed] or
// [ErrUnavailable]. Either may be nil. Continuations run on their own
// goroutine after the poll's notification, so they may block, poll again or
// call [Poller.Stop]. Panics are recovered and logged.
//
// Cancelling ctx or the returned [Handle] abandons the poll without running
// either continuation.
//
// Poll returns [ErrEmptyTaskID], [ErrNegativeRetries], [ErrNotRunning],
// [ErrQueueFull], or [ErrAlreadyPolling] when taskID is already being polled.
func (p *Poller) Poll(ctx context.Context, taskID string, maxRetries int, onSuccess func(json.RawMessage), onFailure func(error)) (*Handle, error) {
	return p.poll(ctx, "", taskID, maxRetries, onSuccess, onFailure)
}

// Await polls taskID and blocks until it finishes or ctx is done, returning
// the job's result. Cancelling ctx cancels the poll.
func (p *Poller) Await(ctx context.Context, taskID string, maxRetries int) (json.RawMessage, error) {
	h, err := p.Poll(ctx, taskID, maxRetries, nil, nil)
	if err != nil {
		return nil, err
	}
	r, err := h.Wait(ctx)
	if err != nil {
		return nil, err
	}
	return r.Payload, nil
}

// StartJob calls j's start-job endpoint and returns the task id it answers
// with. It does not poll.
func (p *Poller) StartJob(ctx context.Context, j Job) (string, error) {
	if err := j.validate(false); err != nil {
		return "", err
	}
	taskID, err := poller.StartJob(ctx, p.client, poller.JobRequest{
		URL:     j.URL,
		Method:  strings.ToUpper(j.Method),
		Params:  j.Params,
		Headers: p.headers,
		Timeout: p.timeout,
	})
	if err != nil {
		return "", fmt.Errorf("failed to start job %q: %w", j.Name, err)
	}
	return taskID, nil
}

// Run starts j and polls the task id it answers with, using the job's retry
// budget or the Poller's default. Continuations behave as in [Poller.Poll].
func (p *Poller) Run(ctx context.Context, j Job, onSuccess func(json.RawMessage), onFailure func(error)) (*Handle, error) {
	if !p.running() {
		return nil, ErrNotRunning
	}
	taskID, err := p.StartJob(ctx, j)
	if err != nil {
		return nil, err
	}
	return p.poll(ctx, j.Name, taskID, j.retries(p.maxRetries), onSuccess, onFailure)
}

// RunNamed runs the job registered with [WithJob] under name.
func (p *Poller) RunNamed(ctx context.Context, name string, onSuccess func(json.RawMessage), onFailure func(error)) (*Handle, error) {
	j, ok := p.Job(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownJob, name)
	}
	return p.Run(ctx, j, onSuccess, onFailure)
}

// Cancel cancels the poll with the given handle id. It reports whether such
// a poll was running.
func (p *Poller) Cancel(handleID string) bool {
	p.mu.Lock()
	h, ok := p.handles[handleID]
	p.mu.Unlock()
	if !ok {
		return false
	}
	h.Cancel()
	return true
}

// Records returns every known poll record, oldest first.
func (p *Poller) Records() []Record {
	all := p.store.GetAll()
	records := make([]Record, len(all))
	for i, r := range all {
		records[i] = recordFromStore(r)
	}
	return records
}

// Record returns the record of the poll with the given handle id.
func (p *Poller) Record(handleID string) (Record, bool) {
	r, ok := p.store.Get(handleID)
	if !ok {
		return Record{}, false
	}
	return recordFromStore(r), true
}

// Job returns the job registered under name.
func (p *Poller) Job(name string) (Job, bool) {
	j, ok := p.jobs[name]
	if !ok {
		return Job{}, false
	}
	return j.clone(), true
}

// Jobs returns the registered jobs in registration order.
func (p *Poller) Jobs() []Job {
	jobs := make([]Job, len(p.jobNames))
	for i, name := range p.jobNames {
		jobs[i] = p.jobs[name].clone()
	}
	return jobs
}

// MaxRetries returns the default retry budget.
func (p *Poller) MaxRetries() int {
	return p.maxRetries
}

// Serve starts the Poller and serves the HTTP API on port.
//
// Serve is a blocking call that runs until ctx is cancelled, then stops the
// Poller. Returns nil on graceful shutdown and an error if the HTTP server
// fails to start.
func (p *Poller) Serve(ctx context.Context, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}

	p.logger.Info("taskpoll starting", "status_url", p.statusURL, "job_count", len(p.jobNames))
	p.logger.Info("api available", "url", fmt.Sprintf("http://localhost:%d/api/tasks", port))

	// check if context already cancelled
	if ctx.Err() != nil {
		p.Stop()
		return nil
	}

	p.Start(ctx)

	var hist server.HistoryReader
	if p.history != nil {
		hist = p.history
	}
	httpServer := server.NewServer(p.store, launcher{p: p}, hist, port, p.logger)
	if err := httpServer.Start(ctx); err != nil {
		p.Stop()
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	<-ctx.Done()
	p.Stop()
	<-p.Done()
	p.logger.Info("taskpoll stopped")
	return nil
}

func (p *Poller) running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started && !p.stopped
}

// baseContext is the context polls started through the HTTP API run under.
func (p *Poller) baseContext() context.Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ctx == nil {
		return context.Background()
	}
	return p.ctx
}

func (p *Poller) poll(ctx context.Context, job, taskID string, maxRetries int, onSuccess func(json.RawMessage), onFailure func(error)) (*Handle, error) {
	if strings.TrimSpace(taskID) == "" {
		return nil, ErrEmptyTaskID
	}
	if maxRetries < 0 {
		return nil, ErrNegativeRetries
	}
	if ctx == nil {
		ctx = context.Background()
	}

	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		return nil, ErrNotRunning
	}
	if _, busy := p.active[taskID]; busy {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyPolling, taskID)
	}
	pollCtx, cancel := context.WithCancel(ctx)
	h := newHandle(uuid.NewString(), taskID, job, maxRetries, cancel)
	p.active[taskID] = h
	p.handles[h.id] = h
	p.mu.Unlock()

	// the running record must land before any terminal one
	p.store.Update(store.TaskRecord{
		ID:         h.id,
		TaskID:     taskID,
		Job:        job,
		State:      store.StateRunning,
		MaxRetries: maxRetries,
		StartedAt:  h.startedAt,
	})

	err := p.scheduler.Submit(poller.Job{
		Task: poller.Task{
			HandleID:   h.id,
			TaskID:     taskID,
			Job:        job,
			StatusURL:  p.statusURL,
			MaxRetries: maxRetries,
			Delay:      delayFunc(p.policy),
			Timeout:    p.timeout,
			Headers:    p.headers,
			Token:      p.token,
		},
		Ctx: pollCtx,
		Done: func(r poller.Result) {
			p.complete(h, resultFromPoller(r), onSuccess, onFailure)
		},
	})
	if err != nil {
		cancel()
		p.release(h)
		msg := err.Error()
		now := time.Now()
		p.store.Update(store.TaskRecord{
			ID:         h.id,
			TaskID:     taskID,
			Job:        job,
			State:      store.StateCancelled,
			MaxRetries: maxRetries,
			Error:      &msg,
			StartedAt:  h.startedAt,
			FinishedAt: &now,
		})
		return nil, err
	}

	return h, nil
}

// complete runs once per poll on the worker goroutine. It stores the record
// and history entry, then hands notification, continuation and release of
// waiters to a delivery goroutine so that user code never holds a worker.
func (p *Poller) complete(h *Handle, res Result, onSuccess func(json.RawMessage), onFailure func(error)) {
	// free the task id first so a continuation may poll it again
	p.release(h)

	p.store.Update(recordOf(h, res))
	p.recordHistory(res)

	n, ok := notificationFor(res)
	if !ok {
		h.finish(res)
		return
	}

	p.deliveries.Add(1)
	go func() {
		defer p.deliveries.Done()
		p.notify(n)
		p.continueWith(res, onSuccess, onFailure)
		h.finish(res)
	}()
}

func (p *Poller) release(h *Handle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active[h.taskID] == h {
		delete(p.active, h.taskID)
	}
	delete(p.handles, h.id)
}

func (p *Poller) notify(n Notification) {
	for _, notifier := range p.notifiers {
		p.notifySafe(notifier, n)
	}
}

// notifySafe calls a notifier with panic recovery.
func (p *Poller) notifySafe(notifier Notifier, n Notification) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("notifier panicked",
				"correlation_id", uuid.NewString(),
				"task_id", n.TaskID,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	if err := notifier.Notify(ctx, n); err != nil {
		p.logger.Warn("notification failed", "task_id", n.TaskID, "kind", string(n.Kind), "error", err)
	}
}

// continueWith runs the continuation matching res with panic recovery.
func (p *Poller) continueWith(res Result, onSuccess func(json.RawMessage), onFailure func(error)) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("poll continuation panicked",
				"correlation_id", uuid.NewString(),
				"task_id", res.TaskID,
				"outcome", res.Outcome.String(),
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
		}
	}()

	if res.Outcome == OutcomeSuccess {
		if onSuccess != nil {
			onSuccess(copyBytes(res.Payload))
		}
		return
	}
	if onFailure != nil {
		onFailure(res.Err)
	}
}

func (p *Poller) recordHistory(res Result) {
	if p.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()
	if err := p.history.Record(ctx, historyEntryOf(res)); err != nil {
		p.logger.Warn("failed to record poll history", "task_id", res.TaskID, "error", err)
	}
}

// consume logs finished polls and invokes result callbacks until the
// scheduler's results channel is closed.
func (p *Poller) consume() {
	defer p.wg.Done()
	for pr := range p.scheduler.Results() {
		res := resultFromPoller(pr)

		for _, cb := range p.resultCallbacks {
			invokeCallbackSafe(cb, res, p.logger)
		}

		// log poll results (DEBUG level for success to reduce noise)
		logAttrs := []any{
			"outcome", res.Outcome.String(),
			"task_id", res.TaskID,
			"handle_id", res.HandleID,
			"checks", res.Checks,
			"latency_ms", res.Latency.Milliseconds(),
		}
		if res.Job != "" {
			logAttrs = append(logAttrs, "job", res.Job)
		}
		switch res.Outcome {
		case OutcomeJobFailed, OutcomeUnavailable:
			p.logger.Warn("poll finished with error", append(logAttrs, "error", res.Err.Error())...)
		default:
			p.logger.Debug("poll finished", logAttrs...)
		}
	}
}

func (p *Poller) closeResources() {
	if err := p.store.Close(); err != nil {
		p.logger.Warn("failed to close store", "error", err)
	}
	if err := p.history.Close(); err != nil {
		p.logger.Warn("failed to close history", "error", err)
	}
	for _, n := range p.notifiers {
		if c, ok := n.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				p.logger.Warn("failed to close notifier", "error", err)
			}
		}
	}
}

// invokeCallbackSafe calls a result callback with panic recovery.
// Panics are logged but do not propagate.
func invokeCallbackSafe(cb func(Result), result Result, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("result callback panicked",
				"panic", r,
				"task_id", result.TaskID,
			)
		}
	}()
	cb(result)
}
