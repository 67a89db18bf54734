package runner

import "errors"

var (
	// ErrAlreadyRun is returned when Run is called twice on one Runner.
	ErrAlreadyRun = errors.New("runner: already run")

	// ErrNotRunning is returned by RequestStop when no child is live.
	ErrNotRunning = errors.New("runner: no running process")
)
