package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/atharvarekhawar/DropIt/internal/domain"
)

// Stable error kinds exposed in JSON error payloads.
const (
	kindValidation     = "validation_error"
	kindNotFound       = "not_found"
	kindCreationFailed = "creation_failed"
	kindDispatch       = "dispatch_error"
	kindPersistence    = "persistence_error"
	kindInternal       = "internal_error"
	kindRateLimited    = "rate_limited"
	kindUnauthorized   = "unauthorized"
)

// writeJSON writes a JSON response with status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError sends a structured error with a stable kind field.
func writeError(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, map[string]string{"error": msg, "kind": kind})
}

// writeServiceError classifies a service-layer error into status + kind.
// Adapter errors never cross this boundary raw.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, kindValidation, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, kindNotFound, err.Error())
	case errors.Is(err, domain.ErrCreationFailed):
		writeError(w, http.StatusConflict, kindCreationFailed, err.Error())
	case errors.Is(err, domain.ErrDispatch):
		writeError(w, http.StatusBadGateway, kindDispatch, err.Error())
	case errors.Is(err, domain.ErrPersistence):
		writeError(w, http.StatusInternalServerError, kindPersistence, "persistence failure")
	default:
		writeError(w, http.StatusInternalServerError, kindInternal, "internal error")
	}
}
