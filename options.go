package taskpoll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"
)

// tpConfig holds mutable state during Poller construction.
type tpConfig struct {
	statusURL       string
	maxRetries      int
	policy          RetryPolicy
	timeout         time.Duration
	maxConcurrency  int
	queueSize       int
	headers         map[string]string
	tokenSource     func(ctx context.Context) (string, error)
	csrfCookie      string
	csrfHeader      string
	logger          *slog.Logger
	notifiers       []Notifier
	redis           *RedisConfig
	retention       Retention
	historyPath     string
	resultCallbacks []func(Result)
	jobs            []Job
}

// Option is a function that configures a [Poller] during construction.
//
// Option implements the functional options pattern. Options return an error
// if validation fails, and [New] returns that error.
type Option func(*tpConfig) error

// WithStatusURL sets the task-status endpoint. Required.
//
// Each check is a GET of this URL with a task_id query parameter, e.g.
// https://portal.example/search/get-task-info/?task_id=42.
//
// Returns an error if the URL is empty or not http(s).
func WithStatusURL(rawURL string) Option {
	return func(cfg *tpConfig) error {
		if strings.TrimSpace(rawURL) == "" {
			return errors.New("status url cannot be empty")
		}
		u, err := url.Parse(rawURL)
		if err != nil {
			return fmt.Errorf("invalid status url: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return errors.New("status url scheme must be http or https")
		}
		cfg.statusURL = rawURL
		return nil
	}
}

// WithMaxRetries sets the default retry budget used by [Poller.Run] for jobs
// without their own budget, and by the HTTP API when a request names none.
// Defaults to 20. Zero means a single check.
//
// Returns an error if n is negative.
func WithMaxRetries(n int) Option {
	return func(cfg *tpConfig) error {
		if n < 0 {
			return ErrNegativeRetries
		}
		cfg.maxRetries = n
		return nil
	}
}

// WithRetryPolicy sets how long to wait between checks. Defaults to
// FixedDelay(time.Second).
//
// Returns an error if the policy is nil.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(cfg *tpConfig) error {
		if p == nil {
			return errors.New("retry policy cannot be nil")
		}
		cfg.policy = p
		return nil
	}
}

// WithTimeout sets the timeout of each status and start-job request.
// Defaults to 10 seconds.
//
// Returns an error if the duration is zero or negative.
func WithTimeout(d time.Duration) Option {
	return func(cfg *tpConfig) error {
		if d <= 0 {
			return errors.New("timeout must be positive")
		}
		cfg.timeout = d
		return nil
	}
}

// WithMaxConcurrency sets how many polls run at once. Polls beyond that wait
// in a queue. Defaults to 10.
//
// Returns an error if the value is zero or negative.
func WithMaxConcurrency(n int) Option {
	return func(cfg *tpConfig) error {
		if n <= 0 {
			return errors.New("max concurrency must be positive")
		}
		cfg.maxConcurrency = n
		return nil
	}
}

// WithQueueSize sets how many polls may wait for a free worker before Poll
// returns [ErrQueueFull]. Defaults to 100.
//
// Returns an error if the value is zero or negative.
func WithQueueSize(n int) Option {
	return func(cfg *tpConfig) error {
		if n <= 0 {
			return errors.New("queue size must be positive")
		}
		cfg.queueSize = n
		return nil
	}
}

// WithHeaders adds headers sent with every request, as key-value pairs.
//
// Example:
//
//	taskpoll.WithHeaders("Authorization", "Bearer token", "Accept-Language", "en")
//
// Returns an error if an odd number of arguments is given or a key is empty.
func WithHeaders(kv ...string) Option {
	return func(cfg *tpConfig) error {
		if len(kv)%2 != 0 {
			return errors.New("headers must be key-value pairs")
		}
		if cfg.headers == nil {
			cfg.headers = make(map[string]string, len(kv)/2)
		}
		for i := 0; i < len(kv); i += 2 {
			if strings.TrimSpace(kv[i]) == "" {
				return errors.New("header name cannot be empty")
			}
			cfg.headers[kv[i]] = kv[i+1]
		}
		return nil
	}
}

// WithTokenSource adds a token query parameter to every status request,
// fetched fresh for each request. The portal's query-validation flow needs a
// new captcha token per check.
//
// A token source error ends the poll as unavailable. Nil is ignored.
func WithTokenSource(fn func(ctx context.Context) (string, error)) Option {
	return func(cfg *tpConfig) error {
		cfg.tokenSource = fn
		return nil
	}
}

// WithCSRF sets the cookie that holds the CSRF token and the header that
// echoes it on POST requests. Defaults to "csrftoken" and "X-CSRFToken".
//
// Returns an error if either name is empty.
func WithCSRF(cookie, header string) Option {
	return func(cfg *tpConfig) error {
		if strings.TrimSpace(cookie) == "" || strings.TrimSpace(header) == "" {
			return errors.New("csrf cookie and header names cannot be empty")
		}
		cfg.csrfCookie = cookie
		cfg.csrfHeader = header
		return nil
	}
}

// WithLogger sets a custom [slog.Logger]. If not specified, [slog.Default]
// is used.
//
// Returns an error if the logger is nil.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *tpConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithNotifier adds a [Notifier]. Several notifiers may be added; each
// receives every notification. Without any, notifications go to the logger
// through [NewLogNotifier].
//
// Returns an error if the notifier is nil.
func WithNotifier(n Notifier) Option {
	return func(cfg *tpConfig) error {
		if n == nil {
			return errors.New("notifier cannot be nil")
		}
		cfg.notifiers = append(cfg.notifiers, n)
		return nil
	}
}

// RedisConfig configures a Redis-backed record store.
type RedisConfig struct {
	// Addr is the host:port of the Redis server.
	Addr     string
	Password string
	DB       int

	// Prefix namespaces keys. Defaults to "taskpoll".
	Prefix string

	// TTL, when positive, expires finished records after the given duration.
	TTL time.Duration
}

// WithRedisStore keeps poll records in Redis instead of memory, so several
// instances share one view of running and finished polls. [New] fails if the
// server cannot be reached.
//
// Returns an error if the address is empty.
func WithRedisStore(rc RedisConfig) Option {
	return func(cfg *tpConfig) error {
		if strings.TrimSpace(rc.Addr) == "" {
			return errors.New("redis address cannot be empty")
		}
		cfg.redis = &rc
		return nil
	}
}

// Retention bounds the finished poll records kept in memory. Running polls
// are always kept.
type Retention struct {
	// MaxFinished caps the finished records kept, oldest evicted first.
	// Zero selects the default of 1000.
	MaxFinished int

	// TTL, when positive, evicts finished records once they are this old.
	TTL time.Duration
}

// WithRetention sets how many finished records the in-memory store keeps
// and for how long. It has no effect with [WithRedisStore], whose records
// expire by [RedisConfig.TTL].
//
// Returns an error if either value is negative.
func WithRetention(r Retention) Option {
	return func(cfg *tpConfig) error {
		if r.MaxFinished < 0 {
			return errors.New("retention max finished cannot be negative")
		}
		if r.TTL < 0 {
			return errors.New("retention ttl cannot be negative")
		}
		cfg.retention = r
		return nil
	}
}

// WithHistory records every finished poll in a SQLite database at path.
//
// Returns an error if the path is empty.
func WithHistory(path string) Option {
	return func(cfg *tpConfig) error {
		if strings.TrimSpace(path) == "" {
			return errors.New("history path cannot be empty")
		}
		cfg.historyPath = path
		return nil
	}
}

// WithResultCallback registers a function called with every finished poll,
// cancelled ones included.
//
// Callbacks are invoked synchronously from a single goroutine once the
// poll's record is stored, in registration order. They must not block or
// call [Poller.Stop]. Panics are recovered and logged.
//
// Nil callbacks are silently ignored.
func WithResultCallback(cb func(Result)) Option {
	return func(cfg *tpConfig) error {
		if cb == nil {
			return nil
		}
		cfg.resultCallbacks = append(cfg.resultCallbacks, cb)
		return nil
	}
}

// WithJob registers a named start-job endpoint, available to the HTTP API
// and [Poller.RunNamed].
//
// Returns an error if the job is invalid.
func WithJob(j Job) Option {
	return func(cfg *tpConfig) error {
		if err := j.validate(true); err != nil {
			return err
		}
		cfg.jobs = append(cfg.jobs, j.clone())
		return nil
	}
}
