package config

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/jpalmerr/taskpoll"
)

const defaultAMQPQueue = "taskpoll.notifications"

// BuildOptions converts parsed configuration into SDK options for
// [taskpoll.New].
//
// Grid dimensions are expanded via cartesian product into plain jobs. When
// notify.amqp.url is set, BuildOptions dials the broker; the returned
// notifier is closed by the Poller on Stop.
func BuildOptions(cfg *Config) ([]taskpoll.Option, error) {
	opts := []taskpoll.Option{
		taskpoll.WithStatusURL(cfg.StatusURL),
		taskpoll.WithRetryPolicy(buildPolicy(cfg.Retry)),
	}

	if cfg.MaxRetries != nil {
		opts = append(opts, taskpoll.WithMaxRetries(*cfg.MaxRetries))
	}
	if cfg.Timeout != 0 {
		opts = append(opts, taskpoll.WithTimeout(cfg.Timeout.Duration()))
	}
	if cfg.MaxConcurrency != 0 {
		opts = append(opts, taskpoll.WithMaxConcurrency(cfg.MaxConcurrency))
	}
	if cfg.QueueSize != 0 {
		opts = append(opts, taskpoll.WithQueueSize(cfg.QueueSize))
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, taskpoll.WithHeaders(mapToKeyValuePairs(cfg.Headers)...))
	}
	if cfg.CSRF.Cookie != "" {
		opts = append(opts, taskpoll.WithCSRF(cfg.CSRF.Cookie, cfg.CSRF.Header))
	}

	switch cfg.Store.Driver {
	case DriverRedis:
		opts = append(opts, taskpoll.WithRedisStore(taskpoll.RedisConfig{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
			Prefix:   cfg.Store.Redis.Prefix,
			TTL:      cfg.Store.Redis.TTL.Duration(),
		}))
	default:
		opts = append(opts, taskpoll.WithRetention(taskpoll.Retention{
			MaxFinished: cfg.Store.Memory.MaxFinished,
			TTL:         cfg.Store.Memory.TTL.Duration(),
		}))
	}
	if cfg.History.Path != "" {
		opts = append(opts, taskpoll.WithHistory(cfg.History.Path))
	}

	jobs, err := BuildJobs(cfg)
	if err != nil {
		return nil, err
	}
	for _, j := range jobs {
		opts = append(opts, taskpoll.WithJob(j))
	}

	// dial last so a job error does not leave a connection behind
	if cfg.Notify.AMQP.URL != "" {
		queue := cfg.Notify.AMQP.Queue
		if queue == "" {
			queue = defaultAMQPQueue
		}
		n, err := taskpoll.NewAMQPNotifier(cfg.Notify.AMQP.URL, queue)
		if err != nil {
			return nil, err
		}
		opts = append(opts, taskpoll.WithNotifier(n))
	}

	return opts, nil
}

// BuildJobs converts the jobs and job grids into SDK Job values.
func BuildJobs(cfg *Config) ([]taskpoll.Job, error) {
	var jobs []taskpoll.Job

	for _, jc := range cfg.Jobs {
		jobs = append(jobs, buildJob(jc))
	}

	// convert grids (cartesian product expansion)
	for _, gc := range cfg.JobGrids {
		gridJobs, err := buildGridJobs(gc)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, gridJobs...)
	}

	seen := make(map[string]struct{}, len(jobs))
	for _, j := range jobs {
		if _, dup := seen[j.Name]; dup {
			return nil, fmt.Errorf("duplicate job name %q", j.Name)
		}
		seen[j.Name] = struct{}{}
	}

	return jobs, nil
}

func buildPolicy(rc RetryConfig) taskpoll.RetryPolicy {
	if rc.Policy == PolicyExponential {
		return taskpoll.ExponentialBackoff(rc.Delay.Duration(), rc.MaxDelay.Duration(), rc.Factor)
	}
	return taskpoll.FixedDelay(rc.Delay.Duration())
}

// buildJob converts a single JobConfig to an SDK Job.
func buildJob(jc JobConfig) taskpoll.Job {
	j := taskpoll.Job{
		Name:   jc.Name,
		URL:    jc.URL,
		Method: strings.ToUpper(jc.Method),
		Params: jc.Params,
	}
	if jc.MaxRetries != nil {
		n := *jc.MaxRetries
		j.MaxRetries = &n
	}
	return j
}

// mapToKeyValuePairs converts a map to a sorted slice of key-value pairs.
func mapToKeyValuePairs(m map[string]string) []string {
	// sort keys for deterministic ordering
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(m)*2)
	for _, k := range keys {
		pairs = append(pairs, k, m[k])
	}
	return pairs
}

// buildGridJobs expands a JobGridConfig into multiple jobs via cartesian product.
func buildGridJobs(gc JobGridConfig) ([]taskpoll.Job, error) {
	// use missingkey=error to fail fast on missing template variables
	urlTmpl, err := template.New("url").Option("missingkey=error").Parse(gc.URLTemplate)
	if err != nil {
		return nil, err
	}

	paramTmpls := make(map[string]*template.Template, len(gc.Params))
	for k, v := range gc.Params {
		t, err := template.New(k).Option("missingkey=error").Parse(v)
		if err != nil {
			return nil, fmt.Errorf("grid (%s) params[%s]: %w", gc.Name, k, err)
		}
		paramTmpls[k] = t
	}

	var jobs []taskpoll.Job
	for _, combo := range cartesianProduct(gc.Dimensions) {
		url, err := render(urlTmpl, combo)
		if err != nil {
			return nil, fmt.Errorf("grid (%s) with dimensions %v: template execution failed: %w", gc.Name, combo, err)
		}

		var params map[string]string
		if len(paramTmpls) > 0 {
			params = make(map[string]string, len(paramTmpls))
			for k, t := range paramTmpls {
				v, err := render(t, combo)
				if err != nil {
					return nil, fmt.Errorf("grid (%s) with dimensions %v: params[%s]: %w", gc.Name, combo, k, err)
				}
				params[k] = v
			}
		}

		jobs = append(jobs, buildJob(JobConfig{
			Name:       buildGridName(gc.Name, combo),
			URL:        url,
			Method:     gc.Method,
			Params:     params,
			MaxRetries: gc.MaxRetries,
		}))
	}

	return jobs, nil
}

func render(t *template.Template, data map[string]string) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// buildGridName creates a job name for a grid combination, e.g.
// "favorites-xlsx". Values that cannot appear in a job name are replaced
// with '_'.
func buildGridName(baseName string, combo map[string]string) string {
	// sort keys for deterministic ordering
	keys := make([]string, 0, len(combo))
	for k := range combo {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(baseName)
	for _, k := range keys {
		b.WriteByte('-')
		b.WriteString(sanitizeNamePart(combo[k]))
	}
	return b.String()
}

func sanitizeNamePart(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '_'
		}
	}, s)
}

// cartesianProduct generates all combinations of dimension values.
func cartesianProduct(dimensions map[string][]string) []map[string]string {
	if len(dimensions) == 0 {
		return nil
	}

	// sort dimension keys for deterministic ordering
	keys := make([]string, 0, len(dimensions))
	for k := range dimensions {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	// start with single empty combination
	result := []map[string]string{{}}

	for _, key := range keys {
		values := dimensions[key]
		var newResult []map[string]string

		for _, combo := range result {
			for _, val := range values {
				// copy existing combo and add new dimension
				newCombo := make(map[string]string, len(combo)+1)
				for k, v := range combo {
					newCombo[k] = v
				}
				newCombo[key] = val
				newResult = append(newResult, newCombo)
			}
		}
		result = newResult
	}

	return result
}
