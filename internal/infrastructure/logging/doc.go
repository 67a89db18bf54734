// Package logging provides structured logging for procpipe.
//
// It wraps log/slog with default fields (service, version) and level
// filtering. Supervised child output is never routed through this package;
// callers own the interpretation of stream contents.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "text"     # json, text
//	  output: "stderr"   # stderr, stdout, discard
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("process started", "pid", pid)
package logging
