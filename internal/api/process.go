package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"syscall"

	"github.com/nerrad567/procpipe/internal/process"
	"github.com/nerrad567/procpipe/internal/runner"
)

// stopRequest is the body of POST /process/stop. An empty body uses the
// configured stop signal.
type stopRequest struct {
	Signal string `json:"signal"`
}

// stopResponse reports whether the signal was dispatched. Dispatch does not
// mean the process has exited yet.
type stopResponse struct {
	RunID      string `json:"run_id"`
	Signal     string `json:"signal"`
	Dispatched bool   `json:"dispatched"`
}

func (s *Server) handleGetProcess(w http.ResponseWriter, _ *http.Request) {
	if s.process == nil {
		writeUnavailable(w, "no process attached")
		return
	}
	writeJSON(w, http.StatusOK, s.process.Snapshot())
}

func (s *Server) handleStopProcess(w http.ResponseWriter, r *http.Request) {
	if s.process == nil {
		writeUnavailable(w, "no process attached")
		return
	}

	var req stopRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	sig := s.stopSignal
	if req.Signal != "" {
		parsed, err := process.ParseSignal(req.Signal)
		if err != nil {
			writeBadRequest(w, err.Error())
			return
		}
		sig = parsed
	}

	dispatched, err := s.process.RequestStop(r.Context(), sig)
	switch {
	case errors.Is(err, runner.ErrNotRunning):
		writeConflict(w, "process is not running")
		return
	case err != nil:
		s.logger.Error("stop request failed", "error", err, "request_id", r.Context().Value(ctxKeyRequestID))
		writeInternalError(w, "stop request failed")
		return
	}

	subject := ""
	if claims := claimsFrom(r.Context()); claims != nil {
		subject = claims.Subject
	}
	s.logger.Info("stop requested via API",
		"signal", signalName(sig),
		"dispatched", dispatched,
		"subject", subject,
	)

	writeJSON(w, http.StatusAccepted, stopResponse{
		RunID:      s.process.Snapshot().RunID,
		Signal:     signalName(sig),
		Dispatched: dispatched,
	})
}

func signalName(sig syscall.Signal) string {
	if name := process.SignalName(sig); name != "" {
		return name
	}
	return sig.String()
}
