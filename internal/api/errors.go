package api

import (
	"encoding/json"
	"errors"
	"net/http"

	apperrors "github.com/market-sync/internal/errors"
	"github.com/market-sync/internal/types"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error types.ServiceError `json:"error"`
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, statusCode int, code, message string, details map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Error: types.ServiceError{
			Code:    code,
			Message: message,
			Details: details,
		},
	}

	json.NewEncoder(w).Encode(response)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// parseJSONBody parses JSON request body.
func parseJSONBody(r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

// Common error codes
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// mapError maps pipeline errors to HTTP status codes.
func mapError(err error) (int, string, string) {
	var ce *apperrors.CategorizedError
	if errors.As(err, &ce) {
		status := ce.StatusCode
		if status == 0 {
			status = http.StatusInternalServerError
		}
		return status, ce.Code, ce.Message
	}

	return http.StatusInternalServerError, ErrCodeInternalError, "An internal error occurred"
}
