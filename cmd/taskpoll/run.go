package main

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

// newRunCmd starts a configured job and polls it.
func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <job>",
		Short: "Start a configured job and poll it",
		Long: `Start one of the jobs defined in the config file (including jobs
expanded from job grids), poll the task id it answers with, and print the
job's result as JSON on stdout.

Example:
  taskpoll run original-documents -c config.yaml
  taskpoll run favorites-xlsx -c config.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: runJob,
	}
}

func runJob(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, err := startPoller(ctx, cmd)
	if err != nil {
		return err
	}
	defer stopPoller(p)

	if _, ok := p.Job(args[0]); !ok {
		names := make([]string, 0, len(p.Jobs()))
		for _, j := range p.Jobs() {
			names = append(names, j.Name)
		}
		return fmt.Errorf("unknown job %q (configured: %s)", args[0], strings.Join(names, ", "))
	}

	h, err := p.RunNamed(ctx, args[0], nil, nil)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "polling task %s\n", h.TaskID())

	res, err := h.Wait(ctx)
	if err != nil {
		return err
	}
	return printPayload(cmd.OutOrStdout(), res.Payload)
}
