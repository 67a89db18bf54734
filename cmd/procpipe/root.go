package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nerrad567/procpipe/internal/infrastructure/config"
	"github.com/nerrad567/procpipe/internal/infrastructure/logging"
)

// configEnvVar names the config file when --config is not given.
const configEnvVar = "PROCPIPE_CONFIG"

// globals holds the persistent flags and the streams shared by every
// subcommand.
type globals struct {
	configPath string
	logLevel   string

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

// usageError marks errors caused by bad flags or arguments.
type usageError struct{ err error }

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func isUsageError(err error) bool {
	var ue *usageError
	return errors.As(err, &ue)
}

func newRootCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	g := &globals{stdin: stdin, stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "procpipe",
		Short: "Run a command under supervision",
		Long: `procpipe launches a command in its own process group, relays its output,
and exits with its status. Ctrl+C, MQTT stop requests and the HTTP API all
stop the child with the configured signal, escalating to SIGKILL.

Example:
  procpipe run -- make test
  procpipe run --shell -- 'tar cf - . | gzip > backup.tgz'
  procpipe history --limit 10`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	root.PersistentFlags().StringVar(&g.configPath, "config", "", "configuration file (default: $"+configEnvVar+")")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")

	root.AddCommand(
		newRunCmd(g),
		newHistoryCmd(g),
		newTokenCmd(g),
		newVersionCmd(g),
	)
	return root
}

// loadConfig resolves the config path and loads it.
func (g *globals) loadConfig() (*config.Config, error) {
	path := g.configPath
	if path == "" {
		path = os.Getenv(configEnvVar)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if g.logLevel != "" {
		cfg.Logging.Level = g.logLevel
	}
	return cfg, nil
}

// logger builds the process logger, honouring the streams the command tree
// was created with.
func (g *globals) logger(cfg config.LoggingConfig) *logging.Logger {
	var w io.Writer
	switch strings.ToLower(cfg.Output) {
	case "stdout":
		w = g.stdout
	case "discard", "none":
		w = io.Discard
	default:
		w = g.stderr
	}
	return logging.NewWithWriter(cfg, version, w)
}

func newVersionCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  noArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(g.stdout, "procpipe %s\ncommit: %s\nbuilt: %s\n", version, commit, date)
		},
	}
}

func noArgs(cmd *cobra.Command, args []string) error {
	if err := cobra.NoArgs(cmd, args); err != nil {
		return &usageError{err: err}
	}
	return nil
}
