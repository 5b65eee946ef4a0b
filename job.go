package taskpoll

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Job describes one of the portal's "start job" endpoints.
//
// The portal starts long-running work (a document archive, a favorites
// export, a search validation) with a request that answers
// {"task_id": "..."} straight away; the task id is then polled. A Job names
// such an endpoint so that it can be started and polled in one step with
// [Poller.Run].
type Job struct {
	// Name identifies the job, e.g. "favorites-xlsx".
	Name string

	// URL is the start-job endpoint.
	URL string

	// Method is GET or POST. Empty means GET. POST requests carry the CSRF
	// token from the session cookie.
	Method string

	// Params are sent as query parameters for GET and as a form for POST.
	Params map[string]string

	// MaxRetries overrides the Poller's retry budget for this job when set.
	// Archive jobs take minutes, so they usually get a larger budget.
	MaxRetries *int
}

// validate checks the job is usable. Name is only required for jobs
// registered with [WithJob].
func (j Job) validate(named bool) error {
	if named && strings.TrimSpace(j.Name) == "" {
		return errors.New("job name is required")
	}
	if strings.TrimSpace(j.URL) == "" {
		return fmt.Errorf("job %q: url is required", j.Name)
	}
	u, err := url.Parse(j.URL)
	if err != nil {
		return fmt.Errorf("job %q: invalid url: %w", j.Name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("job %q: url scheme must be http or https", j.Name)
	}
	switch strings.ToUpper(j.Method) {
	case "", http.MethodGet, http.MethodPost:
	default:
		return fmt.Errorf("job %q: method must be GET or POST, got %q", j.Name, j.Method)
	}
	if j.MaxRetries != nil && *j.MaxRetries < 0 {
		return fmt.Errorf("job %q: %w", j.Name, ErrNegativeRetries)
	}
	return nil
}

// retries returns the job's budget, or def when it has none.
func (j Job) retries(def int) int {
	if j.MaxRetries != nil {
		return *j.MaxRetries
	}
	return def
}

// clone returns a copy sharing no mutable state with j.
func (j Job) clone() Job {
	j.Params = copyMap(j.Params)
	if j.MaxRetries != nil {
		n := *j.MaxRetries
		j.MaxRetries = &n
	}
	return j
}

// copyMap returns a copy of the map, or nil if input is nil.
func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
