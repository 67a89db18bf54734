package process

import (
	"fmt"
	"os"
	"sort"
	"syscall"

	"github.com/nerrad567/procpipe/internal/descriptor"
)

// DefaultStopSignal is the signal Stop callers use when they have no
// preference.
const DefaultStopSignal = syscall.SIGTERM

// Logger defines the logging interface for the process handle.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Handle supervises exactly one child process.
//
// The pid and exit code are read lazily from the OS and memoized the first
// time they are observed; later readings never overwrite them. Liveness is
// never memoized.
//
// A Handle has a single owner and does no locking of its own.
type Handle struct {
	command  Command
	argv     []string
	cmdErr   error
	dir      string
	env      map[string]string
	launcher Launcher
	logger   Logger

	proc     OSProcess
	pid      once
	exitCode once
	state    State
	closed   bool

	stdin  *descriptor.Descriptor
	stdout *descriptor.Descriptor
	stderr *descriptor.Descriptor
}

// Option configures a Handle at construction.
type Option func(*Handle)

// WithDir sets the working directory the child starts in.
func WithDir(dir string) Option {
	return func(h *Handle) {
		h.dir = dir
	}
}

// WithEnv sets the complete child environment. Without it the child
// inherits the caller's environment.
func WithEnv(env map[string]string) Option {
	return func(h *Handle) {
		h.env = copyEnv(env)
	}
}

// WithLauncher replaces the OS launcher.
func WithLauncher(l Launcher) Option {
	return func(h *Handle) {
		h.launcher = l
	}
}

// WithLogger sets the logger used for lifecycle messages.
func WithLogger(l Logger) Option {
	return func(h *Handle) {
		if l != nil {
			h.logger = l
		}
	}
}

// New creates a Handle for cmd. No OS call is made until Start.
func New(cmd Command, opts ...Option) *Handle {
	h := &Handle{
		command:  cmd,
		launcher: OSLauncher{},
		logger:   noopLogger{},
	}
	for _, opt := range opts {
		opt(h)
	}
	h.argv, h.cmdErr = cmd.Resolve()
	return h
}

// StartOption overrides configuration for a single Start call.
type StartOption func(*startOptions)

type startOptions struct {
	dir    string
	dirSet bool
	env    map[string]string
	envSet bool
}

// WithStartDir overrides the working directory for this launch only.
func WithStartDir(dir string) StartOption {
	return func(o *startOptions) {
		o.dir = dir
		o.dirSet = true
	}
}

// WithStartEnv overrides the environment for this launch only.
func WithStartEnv(env map[string]string) StartOption {
	return func(o *startOptions) {
		o.env = env
		o.envSet = true
	}
}

// Command returns the command the handle was built with.
func (h *Handle) Command() Command {
	return h.command
}

// State returns the last observed lifecycle state without querying the OS.
func (h *Handle) State() State {
	return h.state
}

// Start launches the child.
//
// Overrides apply to this call only; otherwise the constructor values are
// used, then the caller's own working directory and environment. On failure
// the handle is left unstarted with nothing open, and the returned error
// wraps ErrLaunchFailed.
func (h *Handle) Start(opts ...StartOption) error {
	if h.proc != nil {
		return ErrAlreadyStarted
	}
	if h.closed {
		return ErrClosed
	}
	if h.cmdErr != nil {
		return fmt.Errorf("%w: %w", ErrLaunchFailed, h.cmdErr)
	}

	var so startOptions
	for _, opt := range opts {
		opt(&so)
	}

	dir := h.dir
	if so.dirSet {
		dir = so.dir
	}
	env := h.env
	if so.envSet {
		env = so.env
	}

	proc, pipes, err := h.launcher.Launch(LaunchSpec{
		Argv: h.argv,
		Dir:  dir,
		Env:  environ(env),
	})
	if err != nil {
		h.logger.Warn("process launch failed",
			"command", h.command.String(),
			"error", err,
		)
		return fmt.Errorf("%w: %w", ErrLaunchFailed, err)
	}

	h.proc = proc
	h.stdin = pipes.Stdin
	h.stdout = pipes.Stdout
	h.stderr = pipes.Stderr
	h.state = StateRunning

	h.logger.Info("process started",
		"command", h.command.String(),
		"pid", proc.Pid(),
		"dir", dir,
	)
	return nil
}

// Status queries the OS for a fresh snapshot.
//
// As a side effect it records the pid if not yet known, and the exit code
// the first time the process is seen not running. The returned snapshot is
// always the fresh reading, even where it disagrees with memoized values.
func (h *Handle) Status() (Snapshot, error) {
	if err := h.checkStarted(); err != nil {
		return Snapshot{}, err
	}

	snap, err := h.proc.Query()
	if err != nil {
		return Snapshot{}, fmt.Errorf("querying process status: %w", err)
	}

	h.pid.setIfUnset(snap.PID)
	if !snap.Running {
		if _, set := h.exitCode.get(); !set {
			h.logger.Debug("process exit observed",
				"pid", snap.PID,
				"exit_code", snap.ExitCode,
				"signaled", snap.Signaled,
			)
		}
		h.exitCode.setIfUnset(snap.ExitCode)
		h.state = StateExited
	}

	return snap, nil
}

// PID returns the process id, querying the OS only if it is not yet known.
func (h *Handle) PID() (int, bool, error) {
	if pid, ok := h.pid.get(); ok {
		return pid, true, nil
	}
	if _, err := h.Status(); err != nil {
		return 0, false, err
	}
	pid, ok := h.pid.get()
	return pid, ok, nil
}

// Code returns the exit code. The bool is false while the process is still
// running.
func (h *Handle) Code() (int, bool, error) {
	if code, ok := h.exitCode.get(); ok {
		return code, true, nil
	}
	if _, err := h.Status(); err != nil {
		return 0, false, err
	}
	code, ok := h.exitCode.get()
	return code, ok, nil
}

// Running reports current liveness. It always queries the OS.
func (h *Handle) Running() (bool, error) {
	snap, err := h.Status()
	if err != nil {
		return false, err
	}
	return snap.Running, nil
}

// Stop sends sig to the child's process group if it is still running.
//
// The bool reports whether the signal was dispatched, not whether the child
// has exited. Stopping a process that already exited succeeds without
// sending anything.
func (h *Handle) Stop(sig syscall.Signal) (bool, error) {
	running, err := h.Running()
	if err != nil {
		return false, err
	}
	if !running {
		return true, nil
	}

	if err := h.proc.Signal(sig); err != nil {
		h.logger.Debug("signal dispatch failed",
			"pid", h.proc.Pid(),
			"signal", sig.String(),
			"error", err,
		)
		return false, nil
	}

	h.logger.Info("signal dispatched", "pid", h.proc.Pid(), "signal", sig.String())
	return true, nil
}

// Stdin returns the child's standard input in non-blocking mode.
func (h *Handle) Stdin() (*descriptor.Descriptor, error) {
	return h.stream(h.stdin)
}

// Stdout returns the child's standard output in non-blocking mode.
func (h *Handle) Stdout() (*descriptor.Descriptor, error) {
	return h.stream(h.stdout)
}

// Stderr returns the child's standard error in non-blocking mode.
func (h *Handle) Stderr() (*descriptor.Descriptor, error) {
	return h.stream(h.stderr)
}

func (h *Handle) stream(d *descriptor.Descriptor) (*descriptor.Descriptor, error) {
	if err := h.checkStarted(); err != nil {
		return nil, err
	}
	if err := d.Unblock(); err != nil {
		return nil, err
	}
	return d, nil
}

// Close disposes of the handle.
//
// If the child is still running its OS handle is released, which leaves it
// running unattended; call Stop first when termination matters. The stream
// descriptors are always closed. Close never fails and may be called more
// than once.
func (h *Handle) Close() {
	if h.proc == nil || h.closed {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("panic recovered during process cleanup", "panic", r)
		}
	}()

	running, err := h.Running()
	h.closed = true

	if err == nil && running {
		h.logger.Warn("releasing process that is still running", "pid", h.proc.Pid())
	}
	if relErr := h.proc.Release(); relErr != nil {
		h.logger.Debug("releasing process handle", "pid", h.proc.Pid(), "error", relErr)
	}

	for _, d := range []*descriptor.Descriptor{h.stdin, h.stdout, h.stderr} {
		if closeErr := d.Close(); closeErr != nil {
			h.logger.Debug("closing stream", "stream", d.Name(), "error", closeErr)
		}
	}
}

func (h *Handle) checkStarted() error {
	if h.closed {
		return ErrClosed
	}
	if h.proc == nil {
		return ErrNotStarted
	}
	return nil
}

// environ flattens env into KEY=VALUE pairs in key order. A nil map means
// inherit.
func environ(env map[string]string) []string {
	if env == nil {
		return os.Environ()
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

func copyEnv(env map[string]string) map[string]string {
	if env == nil {
		return nil
	}
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[k] = v
	}
	return out
}
