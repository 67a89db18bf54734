package history

import "errors"

// Sentinel errors for run history.
var (
	// ErrRunNotFound is returned when no run has the requested ID.
	ErrRunNotFound = errors.New("history: run not found")

	// ErrRunExists is returned by Create for a duplicate ID.
	ErrRunExists = errors.New("history: run already exists")

	// ErrInvalidRun is returned when a run is missing required fields.
	ErrInvalidRun = errors.New("history: invalid run")
)
