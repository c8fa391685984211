package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/healthdx/consent-engine/v1/models"
)

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// respondWithJSON sends a JSON response with the given status code
func respondWithJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		// If encoding fails, log it but don't try to send another response
		// as headers have already been written
		slog.Error("Failed to encode JSON response", "error", err, "statusCode", statusCode)
		return
	}
}

// respondWithError sends a JSON error response with the given status code
func respondWithError(w http.ResponseWriter, statusCode int, errorCode models.ErrorCode, message string) {
	response := ErrorResponse{}
	response.Error.Code = string(errorCode)
	response.Error.Message = message

	respondWithJSON(w, statusCode, response)
}

// respondWithServiceError maps a service-layer error onto the HTTP surface
// via its sentinel kind.
func respondWithServiceError(w http.ResponseWriter, r *http.Request, err error, operation string) {
	if r.Context().Err() != nil {
		slog.Warn("Request context cancelled during service call", "operation", operation, "error", r.Context().Err())
		respondWithError(w, http.StatusRequestTimeout, models.ErrorCodeInternalError, "Request timeout or cancelled")
		return
	}

	switch {
	case errors.Is(err, models.ErrValidation):
		respondWithError(w, http.StatusBadRequest, models.ErrorCodeBadRequest, err.Error())
	case errors.Is(err, models.ErrNotFound):
		respondWithError(w, http.StatusNotFound, models.ErrorCodeNotFound, err.Error())
	case errors.Is(err, models.ErrConflict):
		respondWithError(w, http.StatusConflict, models.ErrorCodeConflict, err.Error())
	case errors.Is(err, models.ErrForbidden):
		respondWithError(w, http.StatusForbidden, models.ErrorCodeForbidden, err.Error())
	case errors.Is(err, models.ErrRateLimited):
		respondWithError(w, http.StatusTooManyRequests, models.ErrorCodeRateLimited, err.Error())
	default:
		slog.Error("Operation failed", "operation", operation, "error", err)
		respondWithError(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "An unexpected error occurred")
	}
}

// decodeJSONBody parses the request body into target, responding with 400
// on malformed JSON. Returns false when the response has been written.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		respondWithError(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "Invalid request body")
		return false
	}
	return true
}

// callerOrigin is the network origin recorded in access events and audit
// entries for externally-triggered actions.
func callerOrigin(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}
