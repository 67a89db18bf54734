// Package history records every supervised run in SQLite.
//
// A run row is created when the child starts (or fails to launch) and is
// finished when it exits. The SQLiteRepository doubles as a lifecycle.Sink so
// the runner never calls it directly.
package history
