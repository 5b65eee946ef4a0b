package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrNoTaskID reports a start-job response that did not carry a task id.
var ErrNoTaskID = errors.New("response has no task_id")

// JobRequest describes a call to one of the portal's "start job" endpoints.
type JobRequest struct {
	// URL is the start-job endpoint.
	URL string

	// Method is GET or POST. Empty defaults to GET.
	Method string

	// Params are sent as query parameters for GET and as a form body for POST.
	Params map[string]string

	// Headers are sent with the request.
	Headers map[string]string

	// Timeout is the request timeout.
	Timeout time.Duration
}

// StartJob calls a start-job endpoint and returns the task id it answers with.
//
// The portal answers {"task_id": "<uuid>"}; numeric ids are accepted too and
// returned in their decimal form.
func StartJob(ctx context.Context, f Fetcher, j JobRequest) (string, error) {
	params := make(url.Values, len(j.Params))
	for k, v := range j.Params {
		params.Set(k, v)
	}

	req := Request{
		Method:  j.Method,
		URL:     j.URL,
		Headers: j.Headers,
		Timeout: j.Timeout,
	}
	if strings.EqualFold(j.Method, http.MethodPost) {
		req.Form = params
	} else {
		req.Query = params
	}

	resp := f.Fetch(ctx, req)
	if resp.Error != nil {
		return "", fmt.Errorf("%w: %w", ErrTransport, resp.Error)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: unexpected status code %d", ErrTransport, resp.StatusCode)
	}

	var body map[string]json.RawMessage
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return "", fmt.Errorf("malformed start-job body: %w", err)
	}
	raw, ok := body["task_id"]
	if !ok {
		return "", ErrNoTaskID
	}

	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		var num json.Number
		if numErr := json.Unmarshal(raw, &num); numErr != nil {
			return "", fmt.Errorf("malformed task_id %s", raw)
		}
		id = num.String()
	}
	if id == "" {
		return "", ErrNoTaskID
	}
	return id, nil
}
