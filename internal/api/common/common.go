// Package common provides shared HTTP utility functions for API handlers.
package common

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/stacklok/cargo-registry-server/internal/errs"
)

// ErrorDetail is one entry of a cargo error body
type ErrorDetail struct {
	Detail string `json:"detail"`
}

// ErrorResponse is the error body cargo prints to its user
type ErrorResponse struct {
	Errors []ErrorDetail `json:"errors"`
}

// WriteJSONResponse writes a JSON response with the given data
func WriteJSONResponse(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode JSON response", "error", err)
	}
}

// WriteErrorResponse writes a cargo error body with a single detail
func WriteErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	WriteJSONResponse(w, ErrorResponse{Errors: []ErrorDetail{{Detail: message}}}, statusCode)
}

// WriteError maps err to a status code and writes it as a cargo error body.
// Internal failures are logged and reported without their details.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	code := errs.HTTPStatus(err)
	message := err.Error()
	if code >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "Request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"kind", errs.KindOf(err).String(),
			"error", err)
		if code == http.StatusInternalServerError {
			message = "internal server error"
		}
	}
	WriteErrorResponse(w, message, code)
}
