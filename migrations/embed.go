// Package migrations embeds the SQLite schema for run history so the
// binary carries its own migrations.
package migrations

import "embed"

// FS holds every *.sql migration at its root.
//
//go:embed *.sql
var FS embed.FS
