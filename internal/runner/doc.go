// Package runner drives one supervised run from launch to exit.
//
// A Runner owns a process.Handle and is the only goroutine that touches it.
// Other goroutines observe the run through Snapshot and ask for stops
// through RequestStop; both are safe for concurrent use.
//
//	r := runner.New(cfg, fanout, runner.WithLogger(log))
//	res, err := r.Run(ctx)
//
// Child output is copied verbatim to the configured writers and never
// logged. Cancelling ctx sends the configured stop signal, then SIGKILL once
// the kill timeout passes.
package runner
