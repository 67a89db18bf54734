package process

import (
	"fmt"
	"syscall"
)

// Snapshot is a point-in-time reading of a child process.
//
// ExitCode is -1 while the process is running and when it was terminated by
// a signal; in the latter case Signaled is true and TermSignal names the
// signal.
type Snapshot struct {
	PID        int            `json:"pid"`
	Running    bool           `json:"running"`
	ExitCode   int            `json:"exit_code"`
	Signaled   bool           `json:"signaled"`
	TermSignal syscall.Signal `json:"term_signal,omitempty"`
	Stopped    bool           `json:"stopped"`
	StopSignal syscall.Signal `json:"stop_signal,omitempty"`
}

// State is the lifecycle state of a Handle as last observed.
type State int

const (
	// StateUnstarted means Start has not succeeded yet.
	StateUnstarted State = iota
	// StateRunning means the process was launched and not yet seen exiting.
	StateRunning
	// StateExited means a status query observed the process gone.
	StateExited
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// once holds a value that may be written a single time.
type once struct {
	value int
	set   bool
}

func (o *once) setIfUnset(v int) {
	if !o.set {
		o.value = v
		o.set = true
	}
}

func (o once) get() (int, bool) {
	return o.value, o.set
}
