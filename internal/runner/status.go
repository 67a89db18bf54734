package runner

import (
	"syscall"
	"time"

	"github.com/nerrad567/procpipe/internal/process"
)

// Phase is the runner's view of the run.
type Phase string

// Run phases.
const (
	PhasePending      Phase = "pending"
	PhaseRunning      Phase = "running"
	PhaseStopping     Phase = "stopping"
	PhaseExited       Phase = "exited"
	PhaseLaunchFailed Phase = "launch_failed"
)

// Status is the latest published view of a run.
type Status struct {
	RunID     string           `json:"run_id"`
	Command   string           `json:"command"`
	Phase     Phase            `json:"phase"`
	StartedAt time.Time        `json:"started_at,omitempty"`
	Process   process.Snapshot `json:"process"`
	Error     string           `json:"error,omitempty"`
}

// Result summarises a finished run.
type Result struct {
	RunID    string
	PID      int
	ExitCode int
	Signaled bool
	Signal   syscall.Signal
	Duration time.Duration
}

// ExitStatus maps the result to a shell-style status: the exit code, or
// 128 plus the signal number when the child was killed by a signal.
func (r Result) ExitStatus() int {
	if r.Signaled {
		return 128 + int(r.Signal)
	}
	return r.ExitCode
}

// SignalName returns the terminating signal's name, or "".
func (r Result) SignalName() string {
	if !r.Signaled {
		return ""
	}
	return process.SignalName(r.Signal)
}
