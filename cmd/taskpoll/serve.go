package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/jpalmerr/taskpoll"
	"github.com/jpalmerr/taskpoll/config"
	"github.com/spf13/cobra"
)

// newServeCmd starts the TaskPoll HTTP API.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the TaskPoll HTTP API.

The server will:
  - Load configuration from the YAML file, flags and environment
  - Accept task ids to poll on POST /api/tasks
  - Start configured jobs on POST /api/jobs/{name}
  - Stream poll records on GET /api/sse

The server runs until interrupted (Ctrl+C) or receives SIGTERM. Running polls
are cancelled on shutdown.

Example:
  taskpoll serve -c config.yaml
  TASKPOLL_STATUS_URL=https://portal.example/search/get-task-info/ taskpoll serve`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	_, logger, cfg, err := setup(cmd)
	if err != nil {
		return err
	}

	logger.Info("config loaded",
		"jobs", len(cfg.Jobs),
		"job_grids", len(cfg.JobGrids),
		"store", cfg.Store.Driver,
	)

	opts, err := config.BuildOptions(cfg)
	if err != nil {
		return fmt.Errorf("failed to build options: %w", err)
	}
	opts = append(opts, taskpoll.WithLogger(logger))

	p, err := taskpoll.New(opts...)
	if err != nil {
		return fmt.Errorf("failed to create poller: %w", err)
	}

	// set up context with signal handling - cancel on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Serve blocks until ctx is cancelled and stops the poller on return
	if err := p.Serve(ctx, cfg.Port); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// startPoller builds and starts a poller for the one-shot commands. The
// caller must call stopPoller.
func startPoller(ctx context.Context, cmd *cobra.Command) (*taskpoll.Poller, error) {
	_, logger, cfg, err := setup(cmd)
	if err != nil {
		return nil, err
	}

	opts, err := config.BuildOptions(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build options: %w", err)
	}
	opts = append(opts, taskpoll.WithLogger(logger))

	p, err := taskpoll.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create poller: %w", err)
	}
	p.Start(ctx)
	return p, nil
}

// stopPoller stops p and waits until the history database and notifiers are
// closed, so nothing is lost when the process exits.
func stopPoller(p *taskpoll.Poller) {
	p.Stop()
	<-p.Done()
}
