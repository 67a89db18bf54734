package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/procpipe/internal/infrastructure/config"
	"github.com/nerrad567/procpipe/internal/lifecycle"
	"github.com/nerrad567/procpipe/internal/process"
	"github.com/nerrad567/procpipe/internal/runner"
)

// runFlags are the per-run overrides of the process section.
type runFlags struct {
	dir         string
	env         []string
	shell       bool
	stopSignal  string
	killTimeout time.Duration
	noStdin     bool
	runID       string
}

func newRunCmd(g *globals) *cobra.Command {
	f := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run [flags] -- <command> [args...]",
		Short: "Run a command under supervision",
		Long: `Run launches the command in its own process group and relays its stdin,
stdout and stderr. procpipe exits with the child's exit code, or 128+N when
the child was terminated by signal N. A command that cannot be launched
exits 127.

With --shell the arguments are joined into one line and split with shell
quoting rules; no shell is invoked.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.MinimumNArgs(1)(cmd, args); err != nil {
				return &usageError{err: err}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(cmd.Context(), g, f, cmd.Flags().Changed("kill-timeout"), args)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.dir, "dir", "", "working directory for the child (default: process.work_dir)")
	flags.StringArrayVar(&f.env, "env", nil, "set KEY=VALUE in the child environment (repeatable)")
	flags.BoolVar(&f.shell, "shell", false, "treat the arguments as one shell-quoted command line")
	flags.StringVar(&f.stopSignal, "stop-signal", "", "signal sent on cancellation (default: process.stop_signal)")
	flags.DurationVar(&f.killTimeout, "kill-timeout", 0, "wait before SIGKILL after the stop signal; 0 disables")
	flags.BoolVar(&f.noStdin, "no-stdin", false, "close the child's stdin instead of forwarding ours")
	flags.StringVar(&f.runID, "run-id", "", "run identifier (default: random UUID)")
	return cmd
}

// apply layers the flags over the loaded configuration.
func (f *runFlags) apply(cfg *config.Config) error {
	if f.dir != "" {
		cfg.Process.WorkDir = f.dir
	}
	if f.stopSignal != "" {
		if _, err := process.ParseSignal(f.stopSignal); err != nil {
			return &usageError{err: fmt.Errorf("--stop-signal: %w", err)}
		}
		cfg.Process.StopSignal = f.stopSignal
	}
	if len(f.env) == 0 {
		return nil
	}

	env := make(map[string]string, len(cfg.Process.Env)+len(f.env))
	for k, v := range cfg.Process.Env {
		env[k] = v
	}
	for _, kv := range f.env {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return &usageError{err: fmt.Errorf("--env %q: want KEY=VALUE", kv)}
		}
		env[k] = v
	}
	cfg.Process.Env = env
	return nil
}

// commandFor builds the child command from positional arguments.
func (f *runFlags) commandFor(args []string) process.Command {
	if f.shell {
		return process.Shell(strings.Join(args, " "))
	}
	return process.Argv(args...)
}

func runCommand(ctx context.Context, g *globals, f *runFlags, killTimeoutSet bool, args []string) error {
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	if err := f.apply(cfg); err != nil {
		return err
	}
	if killTimeoutSet && f.killTimeout < 0 {
		return &usageError{err: errors.New("--kill-timeout must not be negative")}
	}

	log := g.logger(cfg.Logging)

	rcfg, err := runner.FromConfig(cfg, f.commandFor(args))
	if err != nil {
		return err
	}
	if killTimeoutSet {
		rcfg.KillTimeout = f.killTimeout
	}
	rcfg.Stdout = g.stdout
	rcfg.Stderr = g.stderr
	if !f.noStdin {
		rcfg.Stdin = g.stdin
	}

	fanout := lifecycle.NewFanout(log.Component("lifecycle"))
	svc, err := openServices(ctx, cfg, log, fanout)
	if err != nil {
		return err
	}
	defer svc.Close()

	opts := []runner.Option{runner.WithLogger(log.Component("runner"))}
	if f.runID != "" {
		opts = append(opts, runner.WithRunID(f.runID))
	}
	r := runner.New(rcfg, fanout, opts...)

	if err := svc.attach(ctx, r, rcfg.StopSignal, fanout); err != nil {
		return err
	}

	log.Debug("starting run", "run_id", r.RunID(), "command", rcfg.Command.String(), "sinks", fanout.Len())

	res, err := r.Run(ctx)
	if err != nil {
		if errors.Is(err, process.ErrLaunchFailed) {
			return &exitError{code: exitLaunchFailed, err: err}
		}
		return &exitError{code: exitFailure, err: err}
	}

	if code := res.ExitStatus(); code != 0 {
		return &exitError{code: code}
	}
	return nil
}
