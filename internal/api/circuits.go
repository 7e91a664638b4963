package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/otgw-core/internal/climate"
	"github.com/nerrad567/otgw-core/internal/engine"
)

// updateCircuitRequest is the body of PATCH /circuits/{name}.
type updateCircuitRequest struct {
	Mode              *climate.Mode `json:"mode,omitempty"`
	TargetTemperature *float64      `json:"target_temperature,omitempty"`
}

// handleListCircuits returns the status of every heating circuit.
func (s *Server) handleListCircuits(w http.ResponseWriter, _ *http.Request) {
	statuses, err := s.engine.CircuitStatuses()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if statuses == nil {
		statuses = []climate.Status{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"circuits": statuses,
		"count":    len(statuses),
	})
}

// handleGetCircuit returns one circuit's status.
func (s *Server) handleGetCircuit(w http.ResponseWriter, r *http.Request) {
	h, ok := s.circuit(w, r)
	if !ok {
		return
	}
	st, err := h.Status()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleUpdateCircuit changes a circuit's mode and/or target temperature.
func (s *Server) handleUpdateCircuit(w http.ResponseWriter, r *http.Request) {
	h, ok := s.circuit(w, r)
	if !ok {
		return
	}

	var req updateCircuitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Mode == nil && req.TargetTemperature == nil {
		writeBadRequest(w, "mode or target_temperature is required")
		return
	}

	if req.Mode != nil {
		if err := h.SetMode(*req.Mode); err != nil {
			writeEngineError(w, err)
			return
		}
	}
	if req.TargetTemperature != nil {
		if err := h.SetTargetTemperature(*req.TargetTemperature); err != nil {
			writeEngineError(w, err)
			return
		}
	}
	s.logger.Info("api circuit update",
		"circuit", h.Name(),
		"subject", subject(r),
		"request_id", r.Context().Value(ctxKeyRequestID),
	)

	st, err := h.Status()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// circuit resolves the {name} parameter, writing a 404 when unknown.
func (s *Server) circuit(w http.ResponseWriter, r *http.Request) (*engine.CircuitHandle, bool) {
	name := chi.URLParam(r, "name")
	h, ok := s.engine.Circuit(name)
	if !ok {
		writeEngineError(w, fmt.Errorf("%w: %s", engine.ErrUnknownCircuit, name))
		return nil, false
	}
	return h, true
}
