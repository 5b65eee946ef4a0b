// Package main is the entry point for the taskpoll CLI.
//
// TaskPoll can be used as a library (SDK) or as a standalone binary with YAML
// configuration. This CLI provides the standalone binary approach.
//
// Usage:
//
//	taskpoll serve -c config.yaml       # Start the HTTP API
//	taskpoll poll 4f1c... -c config.yaml # Poll one task id and print its result
//	taskpoll run favorites-xlsx -c config.yaml
//	taskpoll history -c config.yaml     # Show recently finished polls
//	taskpoll validate -c config.yaml    # Validate configuration
//	taskpoll version                    # Show version info
//
// Every setting given as a flag can also come from a TASKPOLL_ environment
// variable, e.g. TASKPOLL_STATUS_URL. Flags win over the environment, which
// wins over the config file.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information - set by GoReleaser at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// newRootCmd builds the command tree. A fresh tree per execution keeps flag
// state from leaking between runs.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "taskpoll",
		Short: "Poll asynchronous portal jobs until they finish",
		Long: `TaskPoll tracks long-running portal jobs (document archives, exports,
search validations) by polling their task-status endpoint until each job
succeeds, fails, or runs out of retries.

Quick start:
  1. Create a config file (taskpoll.yaml)
  2. Run: taskpoll serve -c taskpoll.yaml
  3. POST {"task_id": "..."} to http://localhost:8080/api/tasks

Example config:
  port: 8080
  status_url: https://portal.example/search/get-task-info/
  max_retries: 20
  jobs:
    - name: original-documents
      url: https://portal.example/services/original-document/`,
		SilenceUsage: true,
		// No Run/RunE means this just shows help when called without subcommands
	}

	addSettingsFlags(root.PersistentFlags())

	root.AddCommand(
		newVersionCmd(),
		newServeCmd(),
		newPollCmd(),
		newRunCmd(),
		newHistoryCmd(),
		newValidateCmd(),
	)
	return root
}

// Execute runs the root command.
// This is the main entry point called from main().
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		// Cobra already prints the error, just exit with code 1
		os.Exit(1)
	}
}

func main() {
	Execute()
}

// newVersionCmd prints version information.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long:  `Print the version, commit hash, and build date of this taskpoll binary.`,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "taskpoll %s\n", version)
			fmt.Fprintf(out, "  commit: %s\n", commit)
			fmt.Fprintf(out, "  built:  %s\n", date)
		},
	}
}
