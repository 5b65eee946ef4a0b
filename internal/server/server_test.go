package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jpalmerr/taskpoll/internal/history"
	"github.com/jpalmerr/taskpoll/internal/store"
)

// testLogger returns a logger that discards all output for clean test output.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeLauncher records launches into a store and answers canned errors.
type fakeLauncher struct {
	st        store.Store
	mu        sync.Mutex
	launched  []string
	budgets   []int
	launchErr error
	running   map[string]bool
	jobs      []string
}

func newFakeLauncher(st store.Store) *fakeLauncher {
	return &fakeLauncher{st: st, running: map[string]bool{}}
}

func (f *fakeLauncher) Launch(taskID string, maxRetries int) (store.TaskRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.launchErr != nil {
		return store.TaskRecord{}, f.launchErr
	}
	f.launched = append(f.launched, taskID)
	f.budgets = append(f.budgets, maxRetries)
	id := fmt.Sprintf("h%d", len(f.launched))
	r := store.TaskRecord{ID: id, TaskID: taskID, State: store.StateRunning, MaxRetries: maxRetries, StartedAt: time.Now()}
	f.st.Update(r)
	f.running[id] = true
	return r, nil
}

func (f *fakeLauncher) LaunchJob(_ context.Context, name string) (store.TaskRecord, error) {
	for _, j := range f.jobs {
		if j == name {
			r, err := f.Launch("job-"+name, 60)
			r.Job = name
			return r, err
		}
	}
	return store.TaskRecord{}, fmt.Errorf("%w: unknown job %q", ErrNotFound, name)
}

func (f *fakeLauncher) Cancel(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running[id] {
		return false
	}
	delete(f.running, id)
	return true
}

func (f *fakeLauncher) Jobs() []string { return f.jobs }

type fakeHistory struct {
	entries []history.Entry
	err     error
	limit   int
}

func (f *fakeHistory) Recent(_ context.Context, limit int) ([]history.Entry, error) {
	f.limit = limit
	return f.entries, f.err
}

// newTestAPI serves the API routes over a real connection.
func newTestAPI(t *testing.T, hist HistoryReader) (*httptest.Server, *store.MemoryStore, *fakeLauncher) {
	t.Helper()
	ms := store.NewMemoryStore()
	fl := newFakeLauncher(ms)
	srv := NewServer(ms, fl, hist, 0, testLogger())
	ts := httptest.NewServer(srv.routes())
	t.Cleanup(ts.Close)
	return ts, ms, fl
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s error = %v", url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func doRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s error = %v", method, url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// --- REST API ---

func TestHandleLaunch_Accepted(t *testing.T) {
	ts, _, fl := newTestAPI(t, nil)

	resp := postJSON(t, ts.URL+"/api/tasks", `{"task_id": "42", "max_retries": 5}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusAccepted)
	}

	var record store.TaskRecord
	if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
		t.Fatalf("failed to decode record: %v", err)
	}
	if record.TaskID != "42" || record.State != store.StateRunning {
		t.Errorf("record = %+v, want running record for task 42", record)
	}
	if fl.budgets[0] != 5 {
		t.Errorf("budget = %d, want 5", fl.budgets[0])
	}
}

func TestHandleLaunch_DefaultBudget(t *testing.T) {
	ts, _, fl := newTestAPI(t, nil)

	resp := postJSON(t, ts.URL+"/api/tasks", `{"task_id": "42"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusAccepted)
	}
	if fl.budgets[0] != -1 {
		t.Errorf("budget = %d, want -1 (launcher default)", fl.budgets[0])
	}
}

func TestHandleLaunch_BadRequests(t *testing.T) {
	ts, _, fl := newTestAPI(t, nil)

	tests := map[string]string{
		"not json":         `task 42`,
		"unknown field":    `{"task_id": "42", "retries": 3}`,
		"negative retries": `{"task_id": "42", "max_retries": -1}`,
		"numeric task id":  `{"task_id": 42}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			resp := postJSON(t, ts.URL+"/api/tasks", body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
			}
		})
	}
	if len(fl.launched) != 0 {
		t.Errorf("launched %v, want nothing", fl.launched)
	}
}

func TestHandleLaunch_ErrorClasses(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: task id is required", ErrBadRequest), http.StatusBadRequest},
		{fmt.Errorf("%w: already polling", ErrConflict), http.StatusConflict},
		{fmt.Errorf("%w: not running", ErrUnavailable), http.StatusServiceUnavailable},
		{fmt.Errorf("%w: connection refused", ErrUpstream), http.StatusBadGateway},
		{errors.New("untagged"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		ts, _, fl := newTestAPI(t, nil)
		fl.launchErr = tt.err

		resp := postJSON(t, ts.URL+"/api/tasks", `{"task_id": "42"}`)
		if resp.StatusCode != tt.want {
			t.Errorf("error %q: status = %d, want %d", tt.err, resp.StatusCode, tt.want)
		}

		var body map[string]string
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode error body: %v", err)
		}
		if body["error"] != tt.err.Error() {
			t.Errorf("error body = %q, want %q", body["error"], tt.err.Error())
		}
	}
}

func TestHandleLaunchJob(t *testing.T) {
	ts, _, fl := newTestAPI(t, nil)
	fl.jobs = []string{"favorites-xlsx"}

	resp := postJSON(t, ts.URL+"/api/jobs/favorites-xlsx", ``)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusAccepted)
	}
	var record store.TaskRecord
	if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
		t.Fatalf("failed to decode record: %v", err)
	}
	if record.Job != "favorites-xlsx" {
		t.Errorf("Job = %q, want %q", record.Job, "favorites-xlsx")
	}

	resp = postJSON(t, ts.URL+"/api/jobs/missing", ``)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown job status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

func TestHandleJobs(t *testing.T) {
	ts, _, fl := newTestAPI(t, nil)

	resp := doRequest(t, http.MethodGet, ts.URL+"/api/jobs")
	body, _ := io.ReadAll(resp.Body)
	if strings.TrimSpace(string(body)) != "[]" {
		t.Errorf("body with no jobs = %s, want []", body)
	}

	fl.jobs = []string{"a", "b"}
	resp = doRequest(t, http.MethodGet, ts.URL+"/api/jobs")
	var names []string
	if err := json.NewDecoder(resp.Body).Decode(&names); err != nil {
		t.Fatalf("failed to decode jobs: %v", err)
	}
	if len(names) != 2 || names[0] != "a" {
		t.Errorf("jobs = %v, want [a b]", names)
	}
}

func TestHandleListAndGet(t *testing.T) {
	ts, ms, _ := newTestAPI(t, nil)
	base := time.Now()
	ms.Update(store.TaskRecord{ID: "h1", TaskID: "1", State: store.StateSuccess, StartedAt: base})
	ms.Update(store.TaskRecord{ID: "h2", TaskID: "2", State: store.StateRunning, StartedAt: base.Add(time.Second)})

	resp := doRequest(t, http.MethodGet, ts.URL+"/api/tasks")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var records []store.TaskRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		t.Fatalf("failed to decode list: %v", err)
	}
	if len(records) != 2 || records[0].ID != "h1" {
		t.Errorf("records = %+v, want h1 then h2", records)
	}

	resp = doRequest(t, http.MethodGet, ts.URL+"/api/tasks/h2")
	var one store.TaskRecord
	if err := json.NewDecoder(resp.Body).Decode(&one); err != nil {
		t.Fatalf("failed to decode record: %v", err)
	}
	if one.TaskID != "2" {
		t.Errorf("TaskID = %q, want %q", one.TaskID, "2")
	}

	resp = doRequest(t, http.MethodGet, ts.URL+"/api/tasks/nope")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing record status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

func TestHandleCancel(t *testing.T) {
	ts, ms, fl := newTestAPI(t, nil)

	r, _ := fl.Launch("42", 3)

	resp := doRequest(t, http.MethodDelete, ts.URL+"/api/tasks/"+r.ID)
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("cancel status = %d, want %d", resp.StatusCode, http.StatusAccepted)
	}

	// the record still exists but is no longer running
	ms.Update(store.TaskRecord{ID: r.ID, TaskID: "42", State: store.StateCancelled})
	resp = doRequest(t, http.MethodDelete, ts.URL+"/api/tasks/"+r.ID)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("second cancel status = %d, want %d", resp.StatusCode, http.StatusConflict)
	}

	resp = doRequest(t, http.MethodDelete, ts.URL+"/api/tasks/unknown")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown cancel status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

func TestHandleHistory(t *testing.T) {
	now := time.Now()
	fh := &fakeHistory{entries: []history.Entry{
		{HandleID: "h1", TaskID: "42", Outcome: "success", StartedAt: now, FinishedAt: now},
	}}
	ts, _, _ := newTestAPI(t, fh)

	resp := doRequest(t, http.MethodGet, ts.URL+"/api/history?limit=5")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	var entries []history.Entry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		t.Fatalf("failed to decode history: %v", err)
	}
	if len(entries) != 1 || entries[0].TaskID != "42" {
		t.Errorf("entries = %+v", entries)
	}
	if fh.limit != 5 {
		t.Errorf("limit = %d, want 5", fh.limit)
	}

	for _, bad := range []string{"0", "-3", "ten"} {
		resp := doRequest(t, http.MethodGet, ts.URL+"/api/history?limit="+bad)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("limit=%s status = %d, want %d", bad, resp.StatusCode, http.StatusBadRequest)
		}
	}

	fh.err = errors.New("disk gone")
	resp = doRequest(t, http.MethodGet, ts.URL+"/api/history")
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("failing history status = %d, want %d", resp.StatusCode, http.StatusInternalServerError)
	}
}

func TestHandleHistory_Disabled(t *testing.T) {
	ts, _, _ := newTestAPI(t, nil)

	resp := doRequest(t, http.MethodGet, ts.URL+"/api/history")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

func TestRoutes_MethodNotAllowed(t *testing.T) {
	ts, _, _ := newTestAPI(t, nil)

	resp := doRequest(t, http.MethodPut, ts.URL+"/api/tasks")
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("PUT /api/tasks status = %d, want %d", resp.StatusCode, http.StatusMethodNotAllowed)
	}
}

// --- SSE ---

func TestHandleSSE_BasicFlow(t *testing.T) {
	ms := store.NewMemoryStore()
	ms.Update(store.TaskRecord{ID: "h1", TaskID: "task-1", State: store.StateRunning})
	ms.Update(store.TaskRecord{ID: "h2", TaskID: "task-2", State: store.StateSuccess})

	srv := NewServer(ms, newFakeLauncher(ms), nil, 0, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/sse", nil)
	rec := httptest.NewRecorder()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	req = req.WithContext(ctx)

	srv.handleSSE(rec, req)

	body := rec.Body.String()

	// should contain initial records
	if !strings.Contains(body, "task-1") {
		t.Errorf("response should contain task-1, got: %s", body)
	}
	if !strings.Contains(body, "task-2") {
		t.Errorf("response should contain task-2, got: %s", body)
	}
}

func TestHandleSSE_StreamsUpdates(t *testing.T) {
	ms := store.NewMemoryStore()
	srv := NewServer(ms, newFakeLauncher(ms), nil, 0, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/sse", nil)
	rec := httptest.NewRecorder()

	ctx, cancel := context.WithCancel(context.Background())
	req = req.WithContext(ctx)

	done := make(chan struct{})
	go func() {
		srv.handleSSE(rec, req)
		close(done)
	}()

	// give handler time to subscribe
	time.Sleep(50 * time.Millisecond)

	ms.Update(store.TaskRecord{ID: "h9", TaskID: "new-task", State: store.StateRunning})

	// give time for update to be written
	time.Sleep(50 * time.Millisecond)

	cancel()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("handler did not exit after context cancellation")
	}

	body := rec.Body.String()
	if !strings.Contains(body, "new-task") {
		t.Errorf("response should contain streamed update new-task, got: %s", body)
	}
}

func TestHandleSSE_StoreClosed(t *testing.T) {
	ms := store.NewMemoryStore()
	srv := NewServer(ms, newFakeLauncher(ms), nil, 0, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/sse", nil)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		srv.handleSSE(rec, req)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	_ = ms.Close()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("handler did not exit after store closed")
	}
}

func TestHandleSSE_NoGoroutineLeaks(t *testing.T) {
	// allow existing goroutines to settle
	runtime.GC()
	time.Sleep(100 * time.Millisecond)
	before := runtime.NumGoroutine()

	ms := store.NewMemoryStore()
	srv := NewServer(ms, newFakeLauncher(ms), nil, 0, testLogger())

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer cancel()

			req := httptest.NewRequest(http.MethodGet, "/api/sse", nil)
			req = req.WithContext(ctx)
			rec := httptest.NewRecorder()

			srv.handleSSE(rec, req)
		}()
	}

	wg.Wait()

	runtime.GC()
	time.Sleep(200 * time.Millisecond)

	after := runtime.NumGoroutine()
	if after > before+2 { // small tolerance for runtime variance
		t.Errorf("potential goroutine leak: before=%d, after=%d", before, after)
	}
}

func TestHandleSSE_ConcurrentClientsShutdown(t *testing.T) {
	ms := store.NewMemoryStore()
	ms.Update(store.TaskRecord{ID: "h1", TaskID: "42", State: store.StateRunning})

	srv := NewServer(ms, newFakeLauncher(ms), nil, 0, testLogger())

	serverCtx, serverCancel := context.WithCancel(context.Background())

	numClients := 10
	var wg sync.WaitGroup
	started := make(chan struct{})
	var startedCount atomic.Int32

	for i := 0; i < numClients; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			req := httptest.NewRequest(http.MethodGet, "/api/sse", nil)
			req = req.WithContext(serverCtx)
			rec := httptest.NewRecorder()

			// use Add's return value to ensure only one goroutine closes the channel
			if startedCount.Add(1) == int32(numClients) {
				close(started)
			}

			srv.handleSSE(rec, req)
		}()
	}

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("clients did not start in time")
	}

	time.Sleep(100 * time.Millisecond)
	serverCancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("not all handlers exited after shutdown")
	}
}

func TestHandleSSE_SSENotSupported(t *testing.T) {
	ms := store.NewMemoryStore()
	srv := NewServer(ms, newFakeLauncher(ms), nil, 0, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/sse", nil)

	// use a writer that doesn't support flushing
	w := &nonFlushWriter{header: make(http.Header)}

	srv.handleSSE(w, req)

	if w.statusCode != http.StatusInternalServerError {
		t.Errorf("expected status %d, got %d", http.StatusInternalServerError, w.statusCode)
	}
}

type nonFlushWriter struct {
	header     http.Header
	statusCode int
	body       []byte
}

func (n *nonFlushWriter) Header() http.Header {
	return n.header
}

func (n *nonFlushWriter) Write(b []byte) (int, error) {
	n.body = append(n.body, b...)
	return len(b), nil
}

func (n *nonFlushWriter) WriteHeader(statusCode int) {
	n.statusCode = statusCode
}

func TestHandleSSE_Headers(t *testing.T) {
	ms := store.NewMemoryStore()
	srv := NewServer(ms, newFakeLauncher(ms), nil, 0, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/sse", nil)
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()

	srv.handleSSE(rec, req)

	expectedHeaders := map[string]string{
		"Content-Type":                "text/event-stream",
		"Cache-Control":               "no-cache",
		"Connection":                  "keep-alive",
		"Access-Control-Allow-Origin": "*",
	}

	for key, expected := range expectedHeaders {
		if got := rec.Header().Get(key); got != expected {
			t.Errorf("header %s = %q, want %q", key, got, expected)
		}
	}
}

func TestHandleSSE_JSONFormat(t *testing.T) {
	ms := store.NewMemoryStore()
	ms.Update(store.TaskRecord{
		ID:         "h1",
		TaskID:     "42",
		State:      store.StateSuccess,
		MaxRetries: 20,
		Checks:     3,
		Retries:    2,
		Result:     json.RawMessage(`"/files/report.pdf"`),
		StartedAt:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	})

	srv := NewServer(ms, newFakeLauncher(ms), nil, 0, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/sse", nil)
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()

	srv.handleSSE(rec, req)

	body := rec.Body.String()

	// extract JSON from "data: {...}\n\n" format
	var jsonData string
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "data: ") {
			jsonData = strings.TrimPrefix(line, "data: ")
			break
		}
	}

	if jsonData == "" {
		t.Fatalf("no SSE data found in response: %s", body)
	}

	var record store.TaskRecord
	if err := json.Unmarshal([]byte(jsonData), &record); err != nil {
		t.Fatalf("failed to parse JSON: %v, data: %s", err, jsonData)
	}

	if record.TaskID != "42" {
		t.Errorf("TaskID = %q, want %q", record.TaskID, "42")
	}
	if record.State != store.StateSuccess {
		t.Errorf("State = %q, want %q", record.State, store.StateSuccess)
	}
	if !bytes.Equal(record.Result, []byte(`"/files/report.pdf"`)) {
		t.Errorf("Result = %s", record.Result)
	}
}

// TestServer_SSEIntegration streams over a real connection through the
// router, which supports write deadlines.
func TestServer_SSEIntegration(t *testing.T) {
	ms := store.NewMemoryStore()
	ms.Update(store.TaskRecord{ID: "h1", TaskID: "integration", State: store.StateRunning})

	srv := NewServer(ms, newFakeLauncher(ms), nil, 0, testLogger())
	ts := httptest.NewServer(srv.routes())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/sse", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /api/sse error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	buf := make([]byte, 4096)
	n, err := resp.Body.Read(buf)
	if err != nil && n == 0 {
		t.Fatalf("read error = %v", err)
	}
	if !strings.Contains(string(buf[:n]), "integration") {
		t.Errorf("first event = %q, want record for task integration", buf[:n])
	}
}

// --- Start ---

func TestStart_AvailablePort_ReturnsNil(t *testing.T) {
	ms := store.NewMemoryStore()
	srv := NewServer(ms, newFakeLauncher(ms), nil, 0, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := srv.Start(ctx); err != nil {
		t.Errorf("Start() error = %v, want nil", err)
	}
}

func TestStart_PortInUse_ReturnsError(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	defer func() { _ = ln.Close() }()

	port := ln.Addr().(*net.TCPAddr).Port

	ms := store.NewMemoryStore()
	srv := NewServer(ms, newFakeLauncher(ms), nil, port, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err = srv.Start(ctx)
	if err == nil {
		t.Fatal("Start() error = nil, want error for port in use")
	}
	if !strings.Contains(err.Error(), "failed to bind") {
		t.Errorf("Start() error = %v, want 'failed to bind' message", err)
	}
}

func TestStart_InvalidPort_ReturnsError(t *testing.T) {
	ms := store.NewMemoryStore()
	srv := NewServer(ms, newFakeLauncher(ms), nil, -1, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := srv.Start(ctx); err == nil {
		t.Error("Start() error = nil, want error for invalid port")
	}
}
