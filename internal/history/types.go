package history

import (
	"context"
	"time"
)

// Run states as stored in the runs table.
const (
	StateRunning      = "running"
	StateExited       = "exited"
	StateLaunchFailed = "launch_failed"
)

// Run is one recorded execution of a command.
type Run struct {
	ID      string `json:"id"`
	Command string `json:"command"`
	Dir     string `json:"dir,omitempty"`
	PID     int    `json:"pid,omitempty"`
	State   string `json:"state"`

	// ExitCode is nil until the run has finished. It is -1 when the child
	// was killed by a signal.
	ExitCode *int   `json:"exit_code,omitempty"`
	Signal   string `json:"signal,omitempty"`
	Error    string `json:"error,omitempty"`

	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// Duration returns the wall time of a finished run, or zero.
func (r Run) Duration() time.Duration {
	if r.EndedAt == nil {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// Outcome is what Finish records for a run.
type Outcome struct {
	State    string
	ExitCode int
	Signal   string
	Error    string
	EndedAt  time.Time
}

// Repository stores and retrieves runs.
//
// Implementations must be safe for concurrent use.
type Repository interface {
	// Create inserts a new run. The ID must be unique.
	Create(ctx context.Context, run Run) error

	// Finish records the outcome of a run. Returns ErrRunNotFound for an
	// unknown ID.
	Finish(ctx context.Context, id string, outcome Outcome) error

	// Get returns one run or ErrRunNotFound.
	Get(ctx context.Context, id string) (Run, error)

	// List returns the most recent runs, newest first.
	List(ctx context.Context, limit int) ([]Run, error)
}
