// Package httpapi wires the ledger's HTTP surface: gorilla/mux routing,
// JSON request/response handling and apperr.Kind → HTTP status mapping.
// Grounded on internal/api/handlers.go (respondWithJSON/
// respondWithError, promauto request counters, mux.Vars path params).
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/ledgerflow/ledgercore/internal/apperr"
)

// WriteJSON encodes payload as the response body with the given status. A
// nil payload writes only headers and status, matching
// respondWithJSON(w, code, nil) call sites. Exported so internal/authgate
// can format its own 401/429 bodies the same way without importing back
// into httpapi for every response path.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	WriteJSON(w, status, payload)
}

func writeError(w http.ResponseWriter, err error) {
	appErr, ok := err.(*apperr.Error)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	status := statusForKind(appErr.Kind)
	body := map[string]any{"error": appErr.Message}
	if appErr.Kind == apperr.KindRateLimited {
		body["retry_after_seconds"] = appErr.RetryAfterSeconds
		w.Header().Set("Retry-After", strconv.Itoa(appErr.RetryAfterSeconds))
	}
	if status >= 500 {
		body["error"] = "internal error"
	}
	writeJSON(w, status, body)
}

func statusForKind(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidationFailed, apperr.KindInsufficientFunds:
		return http.StatusBadRequest
	case apperr.KindUnauthenticated:
		return http.StatusUnauthorized
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
