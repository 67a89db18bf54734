// procpipe runs one command under supervision: it launches the child in its
// own process group, relays its output, forwards stop requests from the
// terminal, MQTT or the HTTP API, and exits with the child's status.
//
// Each run is recorded in a local SQLite history and optionally published to
// MQTT and InfluxDB.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Exit codes used when the child's own status is unavailable.
const (
	exitFailure      = 1
	exitUsage        = 2
	exitLaunchFailed = 127
)

func main() {
	// The child runs in its own process group, so terminal signals reach
	// procpipe only; cancelling ctx forwards the configured stop signal.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}

// exitError carries an exit status out of a cobra RunE.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// execute runs the command tree and maps the outcome to a process exit code.
func execute(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	root := newRootCmd(stdin, stdout, stderr)
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintf(stderr, "procpipe: %v\n", ee.err)
		}
		return ee.code
	}

	fmt.Fprintf(stderr, "procpipe: %v\n", err)
	if isUsageError(err) {
		return exitUsage
	}
	return exitFailure
}
