package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/jpalmerr/taskpoll/config"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

const envPrefix = "TASKPOLL"

// settings keys, shared by flags (with dashes) and TASKPOLL_ env vars.
const (
	keyConfig      = "config"
	keyStatusURL   = "status_url"
	keyMaxRetries  = "max_retries"
	keyPort        = "port"
	keyHistoryPath = "history_path"
	keyLogLevel    = "log_level"
	keyLogFormat   = "log_format"
)

// addSettingsFlags registers the flags every subcommand understands.
func addSettingsFlags(fs *pflag.FlagSet) {
	fs.StringP("config", "c", "", "path to config file")
	fs.String("status-url", "", "task-status endpoint, overrides status_url")
	fs.Int("max-retries", 0, "retry budget, overrides max_retries")
	fs.Int("port", 0, "HTTP port, overrides port")
	fs.String("history-path", "", "SQLite history file, overrides history.path")
	fs.String("log-level", "info", "log level: debug, info, warn or error")
	fs.String("log-format", "auto", "log format: auto, text or json")
}

// newViper binds the command's flags and TASKPOLL_ environment variables.
func newViper(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	fs := cmd.Flags()
	for _, key := range []string{keyConfig, keyStatusURL, keyMaxRetries, keyPort, keyHistoryPath, keyLogLevel, keyLogFormat} {
		f := fs.Lookup(strings.ReplaceAll(key, "_", "-"))
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", f.Name, err)
		}
	}
	return v, nil
}

// loadConfig reads the config file when one is given and applies flag and
// environment overrides. Without a file, the status URL must come from a
// flag or TASKPOLL_STATUS_URL.
func loadConfig(v *viper.Viper) (*config.Config, error) {
	cfg := &config.Config{}
	if path := v.GetString(keyConfig); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}

	// IsSet is true for env vars and changed flags, never for flag defaults
	if v.IsSet(keyStatusURL) && v.GetString(keyStatusURL) != "" {
		cfg.StatusURL = v.GetString(keyStatusURL)
	}
	if v.IsSet(keyMaxRetries) {
		n := v.GetInt(keyMaxRetries)
		cfg.MaxRetries = &n
	}
	if v.IsSet(keyPort) && v.GetInt(keyPort) != 0 {
		cfg.Port = v.GetInt(keyPort)
	}
	if v.IsSet(keyHistoryPath) && v.GetString(keyHistoryPath) != "" {
		cfg.History.Path = v.GetString(keyHistoryPath)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the CLI logger on w. The "auto" format writes text to a
// terminal and JSON otherwise.
func newLogger(v *viper.Viper, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(v.GetString(keyLogLevel))); err != nil {
		return nil, fmt.Errorf("invalid log level %q", v.GetString(keyLogLevel))
	}
	opts := &slog.HandlerOptions{Level: level}

	switch format := v.GetString(keyLogFormat); format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "", "auto":
		if isTerminal(w) {
			return slog.New(slog.NewTextHandler(w, opts)), nil
		}
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// setup binds settings, builds the logger and loads the config.
func setup(cmd *cobra.Command) (*viper.Viper, *slog.Logger, *config.Config, error) {
	v, err := newViper(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	logger, err := newLogger(v, cmd.ErrOrStderr())
	if err != nil {
		return nil, nil, nil, err
	}
	cfg, err := loadConfig(v)
	if err != nil {
		return nil, nil, nil, err
	}
	return v, logger, cfg, nil
}
