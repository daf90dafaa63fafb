// Package httputil provides HTTP utilities including consistent error responses.
package httputil

import (
	"encoding/json"
	"net/http"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/graphport/graphport/internal/pkg/logger"
)

// ErrorResponse represents a consistent error response format.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// Error codes for consistent error identification.
const (
	CodeBadRequest         = "BAD_REQUEST"
	CodeNotFound           = "NOT_FOUND"
	CodeInternalError      = "INTERNAL_ERROR"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeBadGateway         = "BAD_GATEWAY"
	CodeInvalidJSON        = "INVALID_JSON"
)

// WriteError writes a consistent JSON error response.
func WriteError(w http.ResponseWriter, r *http.Request, status int, code, message string, details string) {
	logger.Error("HTTP error",
		"request_id", chimiddleware.GetReqID(r.Context()),
		"status", status,
		"code", code,
		"message", message,
		"details", details,
		"path", r.URL.Path,
		"method", r.Method,
	)

	resp := ErrorResponse{
		Error:   message,
		Code:    code,
		Details: details,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// BadRequest writes a 400 Bad Request error response.
func BadRequest(w http.ResponseWriter, r *http.Request, message string) {
	WriteError(w, r, http.StatusBadRequest, CodeBadRequest, message, "")
}

// NotFound writes a 404 Not Found error response.
func NotFound(w http.ResponseWriter, r *http.Request, message string) {
	if message == "" {
		message = "Not found"
	}
	WriteError(w, r, http.StatusNotFound, CodeNotFound, message, "")
}

// InternalError writes a 500 Internal Server Error response.
func InternalError(w http.ResponseWriter, r *http.Request, err error) {
	details := ""
	if err != nil {
		details = err.Error()
	}
	WriteError(w, r, http.StatusInternalServerError, CodeInternalError, "Internal server error", details)
}

// BadGateway writes a 502 Bad Gateway error response. Used when the deployed
// database endpoint cannot be reached.
func BadGateway(w http.ResponseWriter, r *http.Request, message string, err error) {
	details := ""
	if err != nil {
		details = err.Error()
	}
	WriteError(w, r, http.StatusBadGateway, CodeBadGateway, message, details)
}

// InvalidJSON writes a 400 error for JSON parsing errors.
func InvalidJSON(w http.ResponseWriter, r *http.Request, err error) {
	details := ""
	if err != nil {
		details = err.Error()
	}
	WriteError(w, r, http.StatusBadRequest, CodeInvalidJSON, "Invalid JSON in request body", details)
}
