// Package api implements procpipe's HTTP control API and lifecycle
// WebSocket stream.
//
// This package provides:
//   - GET /api/v1/health, unauthenticated
//   - GET /api/v1/process and POST /api/v1/process/stop for the live run
//   - GET /api/v1/runs and /api/v1/runs/{id} for recorded history
//   - GET /api/v1/ws streaming lifecycle events
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Security
//
// Every route except health requires a bearer token minted by the auth
// package. Stopping the process needs the control scope. Browsers, which
// cannot set headers on a WebSocket handshake, exchange their token for a
// single-use ticket at POST /api/v1/auth/ws-ticket and pass it as ?ticket=.
//
// # Graceful Degradation
//
// History endpoints answer 503 when the run store is disabled; the live
// process endpoints answer 503 when no run is attached.
package api
