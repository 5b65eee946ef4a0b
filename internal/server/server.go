package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/jpalmerr/taskpoll/internal/history"
	"github.com/jpalmerr/taskpoll/internal/store"
)

const (
	// sseWriteTimeout is the maximum time allowed for a single SSE write operation.
	// This prevents goroutine leaks when clients are slow or disconnected.
	// Must be <= shutdown timeout to ensure clean shutdown.
	sseWriteTimeout = 5 * time.Second

	shutdownTimeout = 5 * time.Second

	// maxBodyBytes caps request bodies on POST endpoints.
	maxBodyBytes = 64 << 10
)

// Error classes a [Launcher] tags its errors with. The server maps them onto
// HTTP status codes; anything untagged is a 500.
var (
	ErrBadRequest  = errors.New("bad request")
	ErrConflict    = errors.New("conflict")
	ErrNotFound    = errors.New("not found")
	ErrUnavailable = errors.New("unavailable")
	ErrUpstream    = errors.New("upstream failure")
)

// Launcher starts and cancels polls on behalf of API clients.
type Launcher interface {
	// Launch polls taskID. A negative maxRetries selects the default budget.
	Launch(taskID string, maxRetries int) (store.TaskRecord, error)

	// LaunchJob starts the named job and polls the task id it answers with.
	LaunchJob(ctx context.Context, name string) (store.TaskRecord, error)

	// Cancel cancels a running poll and reports whether one was found.
	Cancel(id string) bool

	// Jobs lists the configured job names.
	Jobs() []string
}

// HistoryReader reads the finished-poll history.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]history.Entry, error)
}

// Server handles HTTP requests for the TaskPoll API.
//
// Server provides these endpoints:
//   - POST /api/tasks: Start polling a task id
//   - GET /api/tasks: All poll records as JSON
//   - GET /api/tasks/{id}: One poll record
//   - DELETE /api/tasks/{id}: Cancel a running poll
//   - GET /api/jobs: Configured job names
//   - POST /api/jobs/{name}: Start a configured job and poll it
//   - GET /api/history: Recent finished polls, when history is enabled
//   - GET /api/sse: Server-Sent Events stream of record updates
//
// The server is designed for graceful shutdown via context cancellation.
type Server struct {
	store      store.Store
	launcher   Launcher
	history    HistoryReader
	port       int
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a new HTTP [Server].
//
// Parameters:
//   - st: Store implementation for poll records
//   - launcher: Starts and cancels polls
//   - hist: Finished-poll history (may be nil)
//   - port: TCP port to listen on
//   - logger: Logger for server events
//
// The server is not started until [Server.Start] is called.
func NewServer(st store.Store, launcher Launcher, hist HistoryReader, port int, logger *slog.Logger) *Server {
	return &Server{
		store:    st,
		launcher: launcher,
		history:  hist,
		port:     port,
		logger:   logger,
	}
}

// Start begins serving HTTP requests in a background goroutine.
//
// Start is non-blocking and returns immediately after confirming the server
// is listening. The server will continue running until the context is
// cancelled, at which point it initiates a graceful shutdown with a 5-second
// timeout.
//
// Returns an error if the server fails to bind to the configured port.
func (s *Server) Start(ctx context.Context) error {
	// create listener first to verify port availability synchronously
	addr := fmt.Sprintf(":%d", s.port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind to port %d: %w", s.port, err)
	}

	s.httpServer = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		// BaseContext derives all request contexts from the server context.
		// When ctx is cancelled, all request contexts are also cancelled,
		// enabling graceful shutdown of long-running handlers like SSE.
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server error", "error", err)
		}
	}()

	// shutdown on context cancellation
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http server shutdown error", "error", err)
		}
	}()

	return nil
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/tasks", s.handleLaunch)
	mux.HandleFunc("GET /api/tasks", s.handleList)
	mux.HandleFunc("GET /api/tasks/{id}", s.handleGet)
	mux.HandleFunc("DELETE /api/tasks/{id}", s.handleCancel)
	mux.HandleFunc("GET /api/jobs", s.handleJobs)
	mux.HandleFunc("POST /api/jobs/{name}", s.handleLaunchJob)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("GET /api/sse", s.handleSSE)
	return mux
}

// launchRequest is the body of POST /api/tasks.
type launchRequest struct {
	TaskID     string `json:"task_id"`
	MaxRetries *int   `json:"max_retries"`
}

// handleLaunch starts polling a task id.
func (s *Server) handleLaunch(w http.ResponseWriter, r *http.Request) {
	var req launchRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	maxRetries := -1
	if req.MaxRetries != nil {
		if *req.MaxRetries < 0 {
			s.writeError(w, http.StatusBadRequest, "max_retries must not be negative")
			return
		}
		maxRetries = *req.MaxRetries
	}

	record, err := s.launcher.Launch(req.TaskID, maxRetries)
	if err != nil {
		s.writeLaunchError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, record)
}

// handleLaunchJob starts a configured job and polls it.
func (s *Server) handleLaunchJob(w http.ResponseWriter, r *http.Request) {
	record, err := s.launcher.LaunchJob(r.Context(), r.PathValue("name"))
	if err != nil {
		s.writeLaunchError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, record)
}

// handleList returns all poll records as JSON.
func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.store.GetAll())
}

// handleGet returns one poll record.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	record, ok := s.store.Get(r.PathValue("id"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	}
	s.writeJSON(w, http.StatusOK, record)
}

// handleCancel cancels a running poll. A finished poll answers 409.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.launcher.Cancel(id) {
		s.writeJSON(w, http.StatusAccepted, map[string]any{"id": id, "cancelled": true})
		return
	}
	if _, ok := s.store.Get(id); ok {
		s.writeError(w, http.StatusConflict, "task already finished")
		return
	}
	s.writeError(w, http.StatusNotFound, "task not found")
}

// handleJobs lists the configured job names.
func (s *Server) handleJobs(w http.ResponseWriter, _ *http.Request) {
	jobs := s.launcher.Jobs()
	if jobs == nil {
		jobs = []string{}
	}
	s.writeJSON(w, http.StatusOK, jobs)
}

// handleHistory returns recent finished polls, newest first.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, http.StatusNotFound, "history is not enabled")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to read history", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read history")
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	s.writeJSON(w, http.StatusOK, entries)
}

// handleSSE streams record updates via Server-Sent Events.
//
// The handler uses write deadlines to prevent goroutine leaks when clients are
// slow or disconnected. Without deadlines, a blocked Fprintf call would prevent
// the handler from detecting context cancellation or channel closure.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	// check if flushing is supported
	if _, ok := w.(http.Flusher); !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	// ResponseController provides deadline-aware write and flush operations.
	rc := http.NewResponseController(w)

	// track if write deadlines are supported (may not be for some ResponseWriter impls)
	deadlinesSupported := true

	writeAndFlush := func(data []byte) error {
		if deadlinesSupported {
			if err := rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout)); err != nil {
				// deadline not supported by underlying connection, continue without
				s.logger.Warn("sse write deadlines not supported", "error", err)
				deadlinesSupported = false
			}
		}

		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}

		// ResponseController.Flush respects the write deadline
		return rc.Flush()
	}

	// set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	// subscribe before the snapshot so no update falls in between
	ch := s.store.Subscribe()
	defer s.store.Unsubscribe(ch)

	for _, record := range s.store.GetAll() {
		data, err := json.Marshal(record)
		if err != nil {
			continue
		}
		if err := writeAndFlush(data); err != nil {
			return
		}
	}

	// stream updates
	for {
		select {
		case record, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(record)
			if err != nil {
				continue
			}
			if err := writeAndFlush(data); err != nil {
				return
			}

		case <-r.Context().Done():
			// request context is derived from server context via BaseContext,
			// so this fires on both client disconnect AND server shutdown
			return
		}
	}
}

func (s *Server) writeLaunchError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrBadRequest):
		code = http.StatusBadRequest
	case errors.Is(err, ErrConflict):
		code = http.StatusConflict
	case errors.Is(err, ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, ErrUnavailable):
		code = http.StatusServiceUnavailable
	case errors.Is(err, ErrUpstream):
		code = http.StatusBadGateway
	}
	if code >= http.StatusInternalServerError {
		s.logger.Warn("failed to launch poll", "status", code, "error", err)
	}
	s.writeError(w, code, err.Error())
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, map[string]string{"error": msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}
