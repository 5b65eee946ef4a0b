package main

import (
	"fmt"

	"github.com/jpalmerr/taskpoll/config"
	"github.com/spf13/cobra"
)

// newValidateCmd validates a config file without starting anything.
func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate a config file",
		Long: `Validate a TaskPoll configuration file without starting the server.

This command parses the YAML, expands environment variables, applies flag
and environment overrides, validates all fields and expands job grids. It's
useful for CI/CD pipelines or pre-deployment checks.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  taskpoll validate -c config.yaml
  taskpoll validate --config /etc/taskpoll/config.yaml`,
		Args: cobra.NoArgs,
		RunE: runValidate,
	}
}

func runValidate(cmd *cobra.Command, args []string) error {
	v, err := newViper(cmd)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(v)
	if err != nil {
		return err
	}

	jobs, err := config.BuildJobs(cfg)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	gridJobs := len(jobs) - len(cfg.Jobs)

	history := "disabled"
	if cfg.History.Path != "" {
		history = cfg.History.Path
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config is valid!\n")
	fmt.Fprintf(out, "  Port:        %d\n", cfg.Port)
	fmt.Fprintf(out, "  Status URL:  %s\n", cfg.StatusURL)
	fmt.Fprintf(out, "  Max retries: %d\n", *cfg.MaxRetries)
	fmt.Fprintf(out, "  Retry:       %s (%s)\n", cfg.Retry.Policy, cfg.Retry.Delay.Duration())
	fmt.Fprintf(out, "  Store:       %s\n", cfg.Store.Driver)
	fmt.Fprintf(out, "  History:     %s\n", history)
	fmt.Fprintf(out, "  Jobs:        %d direct + %d from grids = %d total\n",
		len(cfg.Jobs), gridJobs, len(jobs))

	return nil
}
