package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// newPollCmd polls a single task id and prints its result.
func newPollCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "poll <task_id>",
		Short: "Poll one task id until it finishes",
		Long: `Poll a task id until the job succeeds, fails, or runs out of retries,
then print the job's result as JSON on stdout.

Exit codes:
  0 - The job succeeded
  1 - The job failed, its status was unavailable, or polling was interrupted

Example:
  taskpoll poll 4f1c2b9e -c config.yaml
  taskpoll poll 4f1c2b9e --status-url https://portal.example/search/get-task-info/ --max-retries 60`,
		Args: cobra.ExactArgs(1),
		RunE: runPoll,
	}
}

func runPoll(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, err := startPoller(ctx, cmd)
	if err != nil {
		return err
	}
	defer stopPoller(p)

	payload, err := p.Await(ctx, args[0], p.MaxRetries())
	if err != nil {
		return err
	}
	return printPayload(cmd.OutOrStdout(), payload)
}

// printPayload writes a job result, indented, followed by a newline.
func printPayload(w io.Writer, payload json.RawMessage) error {
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, payload, "", "  "); err != nil {
		// not valid JSON; print as received
		buf.Reset()
		buf.Write(payload)
	}
	_, err := fmt.Fprintln(w, buf.String())
	return err
}
