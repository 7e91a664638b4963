package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/otgw-core/internal/engine"
)

// handleListSetpoints returns the arbitration state of every target.
func (s *Server) handleListSetpoints(w http.ResponseWriter, _ *http.Request) {
	targets := s.engine.Targets()
	out := make([]engine.SetpointStatus, 0, len(targets))
	for _, t := range targets {
		st, err := s.engine.Setpoint(t)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		out = append(out, st)
	}
	writeJSON(w, http.StatusOK, map[string]any{"setpoints": out})
}

// handleGetSetpoint returns the arbitration state of one target.
func (s *Server) handleGetSetpoint(w http.ResponseWriter, r *http.Request) {
	target, ok := targetParam(w, r)
	if !ok {
		return
	}
	st, err := s.engine.Setpoint(target)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleWriteSetpoint records a source's requested value.
func (s *Server) handleWriteSetpoint(w http.ResponseWriter, r *http.Request) {
	target, ok := targetParam(w, r)
	if !ok {
		return
	}
	source := chi.URLParam(r, "source")

	var req struct {
		Value *float64 `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Value == nil {
		writeBadRequest(w, "value is required")
		return
	}

	s.setpointChange(w, r, target, source, "write", func() error {
		return s.engine.WriteSetpoint(target, source, *req.Value)
	})
}

// handleInvalidateSetpoint marks a source's request invalid.
func (s *Server) handleInvalidateSetpoint(w http.ResponseWriter, r *http.Request) {
	target, ok := targetParam(w, r)
	if !ok {
		return
	}
	source := chi.URLParam(r, "source")
	s.setpointChange(w, r, target, source, "invalidate", func() error {
		return s.engine.InvalidateSetpoint(target, source)
	})
}

// handleWithdrawSetpoint drops a source's request.
func (s *Server) handleWithdrawSetpoint(w http.ResponseWriter, r *http.Request) {
	target, ok := targetParam(w, r)
	if !ok {
		return
	}
	source := chi.URLParam(r, "source")
	s.setpointChange(w, r, target, source, "withdraw", func() error {
		return s.engine.WithdrawSetpoint(target, source)
	})
}

// setpointChange applies fn and answers with the new arbitration state.
func (s *Server) setpointChange(w http.ResponseWriter, r *http.Request, target uint8, source, action string, fn func() error) {
	if err := fn(); err != nil {
		writeEngineError(w, err)
		return
	}
	s.logger.Info("api setpoint change",
		"target", target,
		"source_id", source,
		"action", action,
		"subject", subject(r),
		"request_id", r.Context().Value(ctxKeyRequestID),
	)
	st, err := s.engine.Setpoint(target)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// targetParam parses the {target} data id. It writes a 400 response and
// returns false when the parameter is not a data id.
func targetParam(w http.ResponseWriter, r *http.Request) (uint8, bool) {
	raw := chi.URLParam(r, "target")
	v, err := strconv.ParseUint(raw, 10, 8)
	if err != nil {
		writeBadRequest(w, "target must be a data id: "+raw)
		return 0, false
	}
	return uint8(v), true
}
