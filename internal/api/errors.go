package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/otgw-core/internal/arbiter"
	"github.com/nerrad567/otgw-core/internal/engine"
	"github.com/nerrad567/otgw-core/internal/opentherm"
	"github.com/nerrad567/otgw-core/internal/sequencer"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeUnauthorized   = "unauthorised"
	ErrCodeConflict       = "conflict"
	ErrCodeInternal       = "internal_error"
	ErrCodeValidation     = "validation_error"
	ErrCodeUnsupported    = "unsupported"
	ErrCodeRejected       = "rejected"
	ErrCodeUnavailable    = "unavailable"
	ErrCodeGatewayTimeout = "gateway_timeout"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeEngineError maps an engine or transaction error to a response.
func writeEngineError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	writeError(w, status, code, err.Error())
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, opentherm.ErrUnknownItem),
		errors.Is(err, engine.ErrUnknownTarget),
		errors.Is(err, engine.ErrUnknownCircuit),
		errors.Is(err, arbiter.ErrUnknownSource):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, opentherm.ErrNotWritable),
		errors.Is(err, opentherm.ErrValueRange),
		errors.Is(err, engine.ErrInvalidValue),
		errors.Is(err, arbiter.ErrInvalidValue),
		errors.Is(err, opentherm.ErrUnknownCommand),
		errors.Is(err, opentherm.ErrSyntax),
		errors.Is(err, sequencer.ErrInvalidRequest):
		return http.StatusBadRequest, ErrCodeValidation
	case errors.Is(err, engine.ErrUnsupported):
		return http.StatusBadRequest, ErrCodeUnsupported
	case errors.Is(err, sequencer.ErrSuperseded),
		errors.Is(err, engine.ErrArbitrated):
		return http.StatusConflict, ErrCodeConflict
	case errors.Is(err, sequencer.ErrQueueFull),
		errors.Is(err, engine.ErrStopped),
		errors.Is(err, sequencer.ErrCancelled):
		return http.StatusServiceUnavailable, ErrCodeUnavailable
	case errors.Is(err, sequencer.ErrCommunicationFailure),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ErrCodeGatewayTimeout
	case errors.Is(err, opentherm.ErrBadValue),
		errors.Is(err, opentherm.ErrOutOfRange),
		errors.Is(err, opentherm.ErrNoSpace),
		errors.Is(err, opentherm.ErrNotFound),
		errors.Is(err, opentherm.ErrOverrun):
		return http.StatusUnprocessableEntity, ErrCodeRejected
	default:
		return http.StatusInternalServerError, ErrCodeInternal
	}
}
