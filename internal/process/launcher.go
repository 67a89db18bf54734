package process

import (
	"syscall"

	"github.com/nerrad567/procpipe/internal/descriptor"
)

// LaunchSpec is everything the launcher needs to create a child.
type LaunchSpec struct {
	// Argv is the resolved command; Argv[0] is looked up on PATH unless it
	// contains a slash.
	Argv []string

	// Dir is the working directory. Empty inherits the caller's.
	Dir string

	// Env is the complete child environment in KEY=VALUE form.
	Env []string
}

// Pipes holds the parent-side ends of the child's standard streams.
type Pipes struct {
	Stdin  *descriptor.Descriptor
	Stdout *descriptor.Descriptor
	Stderr *descriptor.Descriptor
}

// Close closes every non-nil end. Errors are ignored; it is used on
// failure paths only.
func (p Pipes) Close() {
	for _, d := range []*descriptor.Descriptor{p.Stdin, p.Stdout, p.Stderr} {
		if d != nil {
			_ = d.Close() //nolint:errcheck // Best effort cleanup on error path
		}
	}
}

// OSProcess is the opaque reference to a launched child.
type OSProcess interface {
	// Pid returns the OS process id assigned at launch.
	Pid() int

	// Query returns a fresh status reading without blocking.
	Query() (Snapshot, error)

	// Signal delivers sig to the child's process group.
	Signal(sig syscall.Signal) error

	// Release frees the OS resources held for the child without
	// terminating it.
	Release() error
}

// Launcher creates child processes.
type Launcher interface {
	// Launch starts the child described by spec. On error nothing is left
	// open.
	Launch(spec LaunchSpec) (OSProcess, Pipes, error)
}
