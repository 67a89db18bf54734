package runner

import (
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/nerrad567/procpipe/internal/infrastructure/config"
	"github.com/nerrad567/procpipe/internal/process"
)

const (
	defaultPollInterval = 50 * time.Millisecond
	defaultReadBuffer   = 32 * 1024
	defaultKillTimeout  = 10 * time.Second

	// drainTimeout bounds how long output is collected after exit. A
	// grandchild holding the pipe open would otherwise keep Run waiting.
	drainTimeout = 5 * time.Second

	emitTimeout = 5 * time.Second
)

// Config describes one run.
type Config struct {
	Command process.Command
	Dir     string

	// Env is the complete child environment; nil inherits the caller's.
	Env map[string]string

	StopSignal syscall.Signal

	// KillTimeout is the wait between StopSignal and SIGKILL when a
	// cancelled run does not exit. Zero disables escalation; a negative
	// value selects the 10s default.
	KillTimeout time.Duration

	PollInterval time.Duration
	ReadBuffer   int

	// Stdout and Stderr receive child output. Nil discards it.
	Stdout io.Writer
	Stderr io.Writer

	// Stdin is pumped into the child until EOF. When nil the child's stdin
	// is closed right after launch.
	Stdin io.Reader
}

// FromConfig builds a run Config for cmd from the process section of cfg.
func FromConfig(cfg *config.Config, cmd process.Command) (Config, error) {
	sig, err := process.ParseSignal(cfg.Process.StopSignal)
	if err != nil {
		return Config{}, fmt.Errorf("stop signal: %w", err)
	}
	return Config{
		Command:      cmd,
		Dir:          cfg.Process.WorkDir,
		Env:          BuildEnv(cfg.Process.InheritEnv, cfg.Process.Env),
		StopSignal:   sig,
		KillTimeout:  cfg.KillTimeout(),
		PollInterval: cfg.PollInterval(),
		ReadBuffer:   cfg.Process.ReadBuffer,
	}, nil
}

// BuildEnv computes the child environment. With inherit set, env is layered
// over the caller's environment; an empty overlay returns nil so the handle
// inherits directly. Without inherit the child sees env alone.
func BuildEnv(inherit bool, env map[string]string) map[string]string {
	if inherit && len(env) == 0 {
		return nil
	}

	out := make(map[string]string, len(env))
	if inherit {
		for _, kv := range os.Environ() {
			k, v, ok := strings.Cut(kv, "=")
			if !ok || k == "" {
				continue
			}
			out[k] = v
		}
	}
	for k, v := range env {
		out[k] = v
	}
	return out
}

// withDefaults fills zero values.
func (c Config) withDefaults() Config {
	if c.StopSignal == 0 {
		c.StopSignal = process.DefaultStopSignal
	}
	if c.KillTimeout < 0 {
		c.KillTimeout = defaultKillTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.ReadBuffer <= 0 {
		c.ReadBuffer = defaultReadBuffer
	}
	if c.Stdout == nil {
		c.Stdout = io.Discard
	}
	if c.Stderr == nil {
		c.Stderr = io.Discard
	}
	return c
}
