package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/procpipe/internal/descriptor"
	"github.com/nerrad567/procpipe/internal/lifecycle"
	"github.com/nerrad567/procpipe/internal/process"
)

// Logger defines the logging interface for the runner.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type stopRequest struct {
	sig   syscall.Signal
	reply chan stopReply
}

type stopReply struct {
	dispatched bool
	err        error
}

// Runner supervises a single run. Create one per command with New.
type Runner struct {
	cfg    Config
	runID  string
	sink   lifecycle.Sink
	logger Logger
	handle *process.Handle

	status  atomic.Pointer[Status]
	started atomic.Bool
	stops   chan stopRequest
	done    chan struct{}
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger. The same logger is handed to the process
// handle.
func WithLogger(l Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithRunID overrides the generated run identifier.
func WithRunID(id string) Option {
	return func(r *Runner) {
		if id != "" {
			r.runID = id
		}
	}
}

// New prepares a run. Nothing is launched until Run. A nil sink drops
// lifecycle events.
func New(cfg Config, sink lifecycle.Sink, opts ...Option) *Runner {
	r := &Runner{
		cfg:    cfg.withDefaults(),
		runID:  uuid.NewString(),
		sink:   sink,
		logger: noopLogger{},
		stops:  make(chan stopRequest),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.sink == nil {
		r.sink = lifecycle.SinkFunc(func(context.Context, lifecycle.Event) error { return nil })
	}

	r.handle = process.New(r.cfg.Command,
		process.WithDir(r.cfg.Dir),
		process.WithEnv(r.cfg.Env),
		process.WithLogger(r.logger),
	)
	r.status.Store(&Status{
		RunID:   r.runID,
		Command: r.cfg.Command.String(),
		Phase:   PhasePending,
	})
	return r
}

// RunID returns the identifier used in events and history.
func (r *Runner) RunID() string {
	return r.runID
}

// Snapshot returns the most recently published status.
func (r *Runner) Snapshot() Status {
	return *r.status.Load()
}

// Done is closed when Run returns.
func (r *Runner) Done() <-chan struct{} {
	return r.done
}

// RequestStop asks the run loop to send sig to the child. The bool reports
// whether the signal was dispatched; a child that already exited counts as
// stopped.
func (r *Runner) RequestStop(ctx context.Context, sig syscall.Signal) (bool, error) {
	switch r.Snapshot().Phase {
	case PhaseRunning, PhaseStopping:
	default:
		return false, ErrNotRunning
	}

	req := stopRequest{sig: sig, reply: make(chan stopReply, 1)}
	select {
	case r.stops <- req:
	case <-r.done:
		return false, ErrNotRunning
	case <-ctx.Done():
		return false, ctx.Err()
	}

	select {
	case rep := <-req.reply:
		return rep.dispatched, rep.err
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Run launches the command and supervises it until it exits.
//
// A launch failure returns an error wrapping process.ErrLaunchFailed after
// emitting launch_failed. Otherwise Run returns once the child has exited
// and its output has been drained, whether or not ctx was cancelled.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	if !r.started.CompareAndSwap(false, true) {
		return Result{}, ErrAlreadyRun
	}
	defer close(r.done)

	startedAt := time.Now()
	command := r.cfg.Command.String()

	if err := r.handle.Start(); err != nil {
		r.publishStatus(PhaseLaunchFailed, startedAt, process.Snapshot{ExitCode: -1}, err)
		r.emit(ctx, lifecycle.Event{
			Type:     lifecycle.TypeLaunchFailed,
			Command:  command,
			Dir:      r.cfg.Dir,
			ExitCode: -1,
			Error:    err.Error(),
			Time:     startedAt,
		})
		return Result{RunID: r.runID, ExitCode: -1}, err
	}
	defer r.handle.Close()

	pid, _, err := r.handle.PID()
	if err != nil {
		return Result{RunID: r.runID, ExitCode: -1}, fmt.Errorf("reading pid: %w", err)
	}
	r.publishStatus(PhaseRunning, startedAt, process.Snapshot{PID: pid, Running: true, ExitCode: -1}, nil)
	r.emit(ctx, lifecycle.Event{
		Type:    lifecycle.TypeStarted,
		Command: command,
		Dir:     r.cfg.Dir,
		PID:     pid,
		Time:    startedAt,
	})

	snap, err := r.supervise(ctx, startedAt)
	if err != nil {
		return Result{RunID: r.runID, PID: pid, ExitCode: -1}, err
	}

	ended := time.Now()
	res := Result{
		RunID:    r.runID,
		PID:      pid,
		ExitCode: snap.ExitCode,
		Signaled: snap.Signaled,
		Signal:   snap.TermSignal,
		Duration: ended.Sub(startedAt),
	}

	r.publishStatus(PhaseExited, startedAt, snap, nil)
	r.emit(ctx, lifecycle.Event{
		Type:     lifecycle.TypeExited,
		Command:  command,
		Dir:      r.cfg.Dir,
		PID:      pid,
		ExitCode: res.ExitCode,
		Signal:   res.SignalName(),
		Time:     ended,
		Duration: res.Duration,
	})

	r.logger.Info("run finished",
		"run_id", r.runID,
		"pid", pid,
		"exit_code", res.ExitCode,
		"signal", res.SignalName(),
		"duration", res.Duration,
	)
	return res, nil
}

// output is one child stream being copied to a caller writer.
type output struct {
	d    *descriptor.Descriptor
	w    io.Writer
	open bool
	werr error
}

// supervise runs the poll loop until the child exits, then drains output.
func (r *Runner) supervise(ctx context.Context, startedAt time.Time) (process.Snapshot, error) {
	outs, err := r.outputs()
	if err != nil {
		return process.Snapshot{}, err
	}
	feed, err := r.stdinFeed()
	if err != nil {
		return process.Snapshot{}, err
	}
	defer feed.close()

	buf := make([]byte, r.cfg.ReadBuffer)
	cancelled := ctx.Done()
	var killAt time.Time
	killed := false

	for {
		r.pollOutputs(outs, buf, r.cfg.PollInterval)
		feed.step()

		select {
		case <-cancelled:
			cancelled = nil
			killAt = r.cancelStop()
			r.publishStatus(PhaseStopping, startedAt, r.Snapshot().Process, nil)
		case req := <-r.stops:
			r.serveStop(ctx, req)
		default:
		}

		snap, err := r.handle.Status()
		if err != nil {
			return process.Snapshot{}, err
		}
		if !snap.Running {
			feed.close()
			r.drain(outs, buf)
			return snap, nil
		}

		phase := PhaseRunning
		if cancelled == nil {
			phase = PhaseStopping
		}
		r.publishStatus(phase, startedAt, snap, nil)

		if !killAt.IsZero() && !killed && time.Now().After(killAt) {
			r.logger.Warn("stop timeout, sending SIGKILL",
				"run_id", r.runID,
				"pid", snap.PID,
				"timeout", r.cfg.KillTimeout,
			)
			if _, err := r.handle.Stop(syscall.SIGKILL); err != nil {
				r.logger.Warn("killing process group", "run_id", r.runID, "error", err)
			}
			killed = true
		}
	}
}

func (r *Runner) outputs() ([]*output, error) {
	stdout, err := r.handle.Stdout()
	if err != nil {
		return nil, err
	}
	stderr, err := r.handle.Stderr()
	if err != nil {
		return nil, err
	}
	return []*output{
		{d: stdout, w: r.cfg.Stdout, open: true},
		{d: stderr, w: r.cfg.Stderr, open: true},
	}, nil
}

func (r *Runner) stdinFeed() (*stdinFeed, error) {
	in, err := r.handle.Stdin()
	if err != nil {
		return nil, err
	}
	feed := &stdinFeed{child: in, logger: r.logger}
	if r.cfg.Stdin == nil {
		feed.pump = &stdinPump{quit: make(chan struct{})}
		feed.close()
		return feed, nil
	}
	feed.pump = startStdinPump(r.cfg.Stdin, r.cfg.ReadBuffer)
	return feed, nil
}

// pollOutputs waits up to timeout for output and copies whatever is ready.
// With no stream left open it simply sleeps so the loop keeps its cadence.
func (r *Runner) pollOutputs(outs []*output, buf []byte, timeout time.Duration) {
	open := make([]*descriptor.Descriptor, 0, len(outs))
	for _, o := range outs {
		if o.open {
			open = append(open, o.d)
		}
	}
	if len(open) == 0 {
		time.Sleep(timeout)
		return
	}

	ready, err := descriptor.Poll(timeout, open...)
	if err != nil {
		r.logger.Warn("polling child output", "run_id", r.runID, "error", err)
		time.Sleep(timeout)
		return
	}
	for _, d := range ready {
		for _, o := range outs {
			if o.d == d {
				r.copyAvailable(o, buf)
			}
		}
	}
}

// copyAvailable reads o until it would block or hits EOF.
func (r *Runner) copyAvailable(o *output, buf []byte) {
	for o.open {
		n, err := o.d.Read(buf)
		if n > 0 && o.werr == nil {
			if _, werr := o.w.Write(buf[:n]); werr != nil {
				o.werr = werr
				r.logger.Warn("output writer failed, discarding further output",
					"run_id", r.runID,
					"stream", o.d.Name(),
					"error", werr,
				)
			}
		}
		switch {
		case err == nil:
		case errors.Is(err, descriptor.ErrWouldBlock):
			return
		case errors.Is(err, io.EOF):
			o.open = false
		default:
			r.logger.Debug("reading child output", "stream", o.d.Name(), "error", err)
			o.open = false
		}
	}
}

// drain collects output left after exit until EOF on every stream or
// drainTimeout.
func (r *Runner) drain(outs []*output, buf []byte) {
	deadline := time.Now().Add(drainTimeout)
	for time.Now().Before(deadline) {
		anyOpen := false
		for _, o := range outs {
			anyOpen = anyOpen || o.open
		}
		if !anyOpen {
			return
		}
		r.pollOutputs(outs, buf, r.cfg.PollInterval)
	}
	r.logger.Warn("output still open after exit, giving up",
		"run_id", r.runID,
		"timeout", drainTimeout,
	)
}

// cancelStop sends the configured stop signal after ctx is cancelled and
// returns the SIGKILL deadline, zero when escalation is disabled.
func (r *Runner) cancelStop() time.Time {
	r.logger.Info("run cancelled, stopping process",
		"run_id", r.runID,
		"signal", process.SignalName(r.cfg.StopSignal),
	)
	if _, err := r.handle.Stop(r.cfg.StopSignal); err != nil {
		r.logger.Warn("sending stop signal", "run_id", r.runID, "error", err)
	}
	if r.cfg.KillTimeout == 0 {
		return time.Time{}
	}
	return time.Now().Add(r.cfg.KillTimeout)
}

func (r *Runner) serveStop(ctx context.Context, req stopRequest) {
	dispatched, err := r.handle.Stop(req.sig)
	req.reply <- stopReply{dispatched: dispatched, err: err}

	pid, _, _ := r.handle.PID() //nolint:errcheck // Memoized after start
	r.emit(ctx, lifecycle.Event{
		Type:    lifecycle.TypeStopRequested,
		Command: r.cfg.Command.String(),
		Dir:     r.cfg.Dir,
		PID:     pid,
		Signal:  process.SignalName(req.sig),
		Time:    time.Now(),
	})
}

func (r *Runner) publishStatus(phase Phase, startedAt time.Time, snap process.Snapshot, err error) {
	st := &Status{
		RunID:     r.runID,
		Command:   r.cfg.Command.String(),
		Phase:     phase,
		StartedAt: startedAt,
		Process:   snap,
	}
	if err != nil {
		st.Error = err.Error()
	}
	r.status.Store(st)
}

// emit delivers e to the sink. Delivery outlives cancellation of ctx so the
// final events of a cancelled run are still recorded.
func (r *Runner) emit(ctx context.Context, e lifecycle.Event) {
	e.RunID = r.runID
	emitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), emitTimeout)
	defer cancel()

	if err := r.sink.Publish(emitCtx, e); err != nil {
		r.logger.Warn("publishing lifecycle event",
			"run_id", r.runID,
			"type", string(e.Type),
			"error", err,
		)
	}
}
