package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/jpalmerr/taskpoll/internal/history"
	"github.com/spf13/cobra"
)

// newHistoryCmd prints recently finished polls from the history database.
func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recently finished polls",
		Long: `Show recently finished polls from the SQLite history database named by
history.path in the config file, --history-path or TASKPOLL_HISTORY_PATH.

Example:
  taskpoll history -c config.yaml
  taskpoll history --history-path taskpoll.db --task 4f1c2b9e --json`,
		Args: cobra.NoArgs,
		RunE: runHistory,
	}
	cmd.Flags().Int("limit", history.DefaultLimit, "number of entries to show")
	cmd.Flags().String("task", "", "only show polls of this task id")
	cmd.Flags().Bool("json", false, "print entries as JSON")
	return cmd
}

func runHistory(cmd *cobra.Command, args []string) error {
	v, err := newViper(cmd)
	if err != nil {
		return err
	}

	// history needs no status URL, so the config file is optional here
	path := v.GetString(keyHistoryPath)
	if path == "" && v.GetString(keyConfig) != "" {
		cfg, err := loadConfig(v)
		if err != nil {
			return err
		}
		path = cfg.History.Path
	}
	if path == "" {
		return errors.New("no history database configured (set history.path or --history-path)")
	}

	log, err := history.Open(cmd.Context(), path)
	if err != nil {
		return err
	}
	defer log.Close()

	limit, _ := cmd.Flags().GetInt("limit")
	taskID, _ := cmd.Flags().GetString("task")

	var entries []history.Entry
	if taskID != "" {
		entries, err = log.ForTask(cmd.Context(), taskID)
	} else {
		entries, err = log.Recent(cmd.Context(), limit)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		if entries == nil {
			entries = []history.Entry{}
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	if len(entries) == 0 {
		fmt.Fprintln(out, "No finished polls recorded.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FINISHED\tTASK\tJOB\tOUTCOME\tCHECKS\tDURATION\tERROR")
	for _, e := range entries {
		job := e.Job
		if job == "" {
			job = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			e.FinishedAt.Local().Format(time.DateTime),
			e.TaskID,
			job,
			e.Outcome,
			e.Checks,
			e.FinishedAt.Sub(e.StartedAt).Round(time.Millisecond),
			e.Error,
		)
	}
	return tw.Flush()
}
