package process

import "errors"

// Sentinel errors for process lifecycle operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrLaunchFailed is returned by Start when the OS could not create the
	// process. The underlying cause is wrapped.
	ErrLaunchFailed = errors.New("process: launch failed")

	// ErrNotStarted is returned by accessors invoked before Start.
	ErrNotStarted = errors.New("process: not started")

	// ErrAlreadyStarted is returned when Start is called a second time.
	ErrAlreadyStarted = errors.New("process: already started")

	// ErrInvalidCommand is returned when a command resolves to an empty argv
	// or a shell string cannot be tokenized.
	ErrInvalidCommand = errors.New("process: invalid command")

	// ErrClosed is returned by accessors invoked after Close.
	ErrClosed = errors.New("process: handle closed")
)
