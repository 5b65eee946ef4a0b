package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpalmerr/taskpoll"
)

func main() {
	// start mock portal (see mock_portal.go)
	go StartMockPortal(":9999")
	time.Sleep(100 * time.Millisecond)

	archive := func(secCode string) taskpoll.Job {
		return taskpoll.Job{
			Name:   "original-documents-" + secCode,
			URL:    "http://localhost:9999/services/original-document/",
			Params: map[string]string{"sec_code": secCode},
		}
	}

	p, err := taskpoll.New(
		taskpoll.WithStatusURL("http://localhost:9999/search/get-task-info/"),
		taskpoll.WithMaxRetries(20),
		taskpoll.WithRetryPolicy(taskpoll.ExponentialBackoff(500*time.Millisecond, 2*time.Second, 2)),
		taskpoll.WithJob(archive("600000")),
		taskpoll.WithJob(archive("000000")),
	)
	if err != nil {
		slog.Error("failed to create poller", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Serve starts the poller too; Start is idempotent, so jobs can be
	// launched before the API comes up
	p.Start(ctx)

	_, err = p.RunNamed(ctx, "original-documents-600000",
		func(result json.RawMessage) { slog.Info("archive ready", "path", string(result)) },
		func(err error) { slog.Warn("archive failed", "error", err) },
	)
	if err != nil {
		slog.Error("failed to run job", "error", err)
	}

	go func() {
		h, err := p.RunNamed(ctx, "original-documents-000000", nil, nil)
		if err != nil {
			slog.Error("failed to run job", "error", err)
			return
		}
		if _, err := h.Wait(ctx); errors.Is(err, taskpoll.ErrJobFailed) {
			slog.Info("job failed as expected", "task_id", h.TaskID())
		}
	}()

	// API on :8080; try curl localhost:8080/api/tasks
	if err := p.Serve(ctx, 8080); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}
