// Package lifecycle defines the events a supervised run emits and the sinks
// that consume them.
//
// A run produces at most one "started" or "launch_failed" event, any number
// of "stop_requested" events, and exactly one "exited" event after a
// successful start. Sinks never see child output.
package lifecycle

import (
	"fmt"
	"time"
)

// Type identifies what happened to a run.
type Type string

// Event types.
const (
	TypeStarted       Type = "started"
	TypeStopRequested Type = "stop_requested"
	TypeExited        Type = "exited"
	TypeLaunchFailed  Type = "launch_failed"
)

// Valid reports whether t is a known event type.
func (t Type) Valid() bool {
	switch t {
	case TypeStarted, TypeStopRequested, TypeExited, TypeLaunchFailed:
		return true
	default:
		return false
	}
}

// Event is a lifecycle transition of one run.
type Event struct {
	RunID   string `json:"run_id"`
	Type    Type   `json:"type"`
	Command string `json:"command"`
	Dir     string `json:"dir,omitempty"`
	PID     int    `json:"pid,omitempty"`

	// ExitCode is meaningful for exited events only; -1 when the process
	// was terminated by a signal.
	ExitCode int `json:"exit_code"`

	// Signal names the terminating signal for exited events, or the
	// requested signal for stop_requested events.
	Signal string `json:"signal,omitempty"`

	// Error carries the launch failure cause.
	Error string `json:"error,omitempty"`

	Time     time.Time     `json:"time"`
	Duration time.Duration `json:"duration_ns,omitempty"`
}

// Terminal reports whether no further events follow for the run.
func (e Event) Terminal() bool {
	return e.Type == TypeExited || e.Type == TypeLaunchFailed
}

// Outcome returns a short description for logs and metric tags.
func (e Event) Outcome() string {
	switch {
	case e.Type == TypeLaunchFailed:
		return "launch_failed"
	case e.Type != TypeExited:
		return string(e.Type)
	case e.Signal != "":
		return "signaled"
	case e.ExitCode == 0:
		return "success"
	default:
		return fmt.Sprintf("exit_%d", e.ExitCode)
	}
}
