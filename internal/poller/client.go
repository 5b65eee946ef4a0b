package poller

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"
)

const maxResponseBodySize = 1 << 20 // 1MB

// connection pooling limits to prevent resource exhaustion when many tasks are polled at once
const (
	defaultMaxIdleConns        = 100
	defaultMaxIdleConnsPerHost = 10
	defaultMaxConnsPerHost     = 10
	defaultIdleConnTimeout     = 60 * time.Second // conservative: matches common ALB defaults
)

const (
	// DefaultCSRFCookie is the cookie Django stores its CSRF token in.
	DefaultCSRFCookie = "csrftoken"

	// DefaultCSRFHeader is the header Django expects the CSRF token in.
	DefaultCSRFHeader = "X-CSRFToken"

	requestedWithHeader = "X-Requested-With"
	requestedWithValue  = "XMLHttpRequest"
)

// Response holds the result of an HTTP request made by [Client].
//
// Response captures all relevant information from an HTTP request including
// the body (limited to 1MB), status code, latency, and any error that occurred.
type Response struct {
	// Body contains the HTTP response body, limited to 1MB.
	Body []byte

	// StatusCode is the HTTP status code (e.g., 200, 404, 500).
	// Zero if the request failed before receiving a response.
	StatusCode int

	// Latency is the total time taken for the request.
	Latency time.Duration

	// Error contains any error that occurred during the request.
	// nil indicates the request completed (though status may indicate an error).
	Error error
}

// Request describes a single call made through [Client.Fetch].
type Request struct {
	// Method is the HTTP method. Empty defaults to GET.
	Method string

	// URL is the target URL. Existing query parameters are preserved.
	URL string

	// Query is merged into the URL's query string.
	Query url.Values

	// Form is sent as an application/x-www-form-urlencoded body.
	// Ignored for GET and HEAD.
	Form url.Values

	// Headers contains custom HTTP headers to send.
	Headers map[string]string

	// Timeout is applied to the request via context. Zero means no timeout.
	Timeout time.Duration
}

// Fetcher performs a single HTTP round trip. [Client] is the production
// implementation; tests substitute scripted fakes.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) Response
}

// ClientConfig configures a [Client].
type ClientConfig struct {
	// CSRFCookie names the cookie holding the CSRF token. Defaults to "csrftoken".
	CSRFCookie string

	// CSRFHeader names the header the token is echoed in. Defaults to "X-CSRFToken".
	CSRFHeader string
}

// Client is an HTTP client wrapper for talking to the portal's task endpoints.
//
// Client keeps a cookie jar so that the CSRF cookie set by the portal is
// paired with the CSRF header on every state-mutating request. Every request
// is marked as an XMLHttpRequest, which the portal's ajax-only views require.
// Timeouts are applied per request via context rather than globally.
type Client struct {
	httpClient *http.Client
	csrfCookie string
	csrfHeader string
}

// NewClient creates a new [Client].
//
// Connection pooling configuration:
//   - MaxIdleConns: 100 total idle connections
//   - MaxIdleConnsPerHost: 10 idle connections per host
//   - MaxConnsPerHost: 10 concurrent connections per host
//   - IdleConnTimeout: 60 seconds before closing idle connections
func NewClient(cfg ClientConfig) (*Client, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	if cfg.CSRFCookie == "" {
		cfg.CSRFCookie = DefaultCSRFCookie
	}
	if cfg.CSRFHeader == "" {
		cfg.CSRFHeader = DefaultCSRFHeader
	}

	return &Client{
		httpClient: &http.Client{
			// no default timeout - we use per-request timeouts via context
			Jar: jar,
			Transport: &http.Transport{
				MaxIdleConns:        defaultMaxIdleConns,
				MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
				MaxConnsPerHost:     defaultMaxConnsPerHost,
				IdleConnTimeout:     defaultIdleConnTimeout,
				DisableKeepAlives:   false,
			},
		},
		csrfCookie: cfg.CSRFCookie,
		csrfHeader: cfg.CSRFHeader,
	}, nil
}

// Fetch performs an HTTP request and returns a structured [Response].
//
// Fetch always returns a Response; errors are captured in the Error field
// rather than returned separately. This keeps the poll state machine free of
// two-value plumbing.
func (c *Client) Fetch(ctx context.Context, r Request) Response {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	start := time.Now()

	method := strings.ToUpper(r.Method)
	if method == "" {
		method = http.MethodGet
	}

	target, err := withQuery(r.URL, r.Query)
	if err != nil {
		return Response{
			Latency: time.Since(start),
			Error:   fmt.Errorf("failed to create request: %w", err),
		}
	}

	var body io.Reader
	mutating := method != http.MethodGet && method != http.MethodHead
	if mutating && len(r.Form) > 0 {
		body = strings.NewReader(r.Form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return Response{
			Latency: time.Since(start),
			Error:   fmt.Errorf("failed to create request: %w", err),
		}
	}

	req.Header.Set(requestedWithHeader, requestedWithValue)
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if mutating {
		if token := c.csrfToken(req.URL); token != "" {
			req.Header.Set(c.csrfHeader, token)
		}
	}
	for key, value := range r.Headers {
		req.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Response{
			Latency: time.Since(start),
			Error:   fmt.Errorf("request failed: %w", err),
		}
	}
	defer func() { _ = resp.Body.Close() }()

	limitedReader := io.LimitReader(resp.Body, maxResponseBodySize)
	respBody, err := io.ReadAll(limitedReader)
	if err != nil {
		return Response{
			StatusCode: resp.StatusCode,
			Latency:    time.Since(start),
			Error:      fmt.Errorf("failed to read response body: %w", err),
		}
	}

	return Response{
		Body:       respBody,
		StatusCode: resp.StatusCode,
		Latency:    time.Since(start),
	}
}

// csrfToken returns the CSRF cookie value the jar holds for u, if any.
func (c *Client) csrfToken(u *url.URL) string {
	if c.httpClient.Jar == nil {
		return ""
	}
	for _, cookie := range c.httpClient.Jar.Cookies(u) {
		if cookie.Name == c.csrfCookie {
			return cookie.Value
		}
	}
	return ""
}

// Close closes all idle connections in the client's connection pool.
//
// Safe to call multiple times. After Close, the client remains usable but
// new connections will be established as needed.
func (c *Client) Close() {
	if c == nil || c.httpClient == nil {
		return
	}
	if transport, ok := c.httpClient.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
}

// withQuery merges extra query parameters into rawURL.
func withQuery(rawURL string, extra url.Values) (string, error) {
	if len(extra) == 0 {
		return rawURL, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for key, values := range extra {
		q.Del(key)
		for _, v := range values {
			q.Add(key, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
