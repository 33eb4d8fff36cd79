package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/openjobspec/ojs-jobstore-nats/internal/core"
)

// Error codes returned in ErrorBody.Code.
const (
	ErrCodeInvalidRequest = "invalid_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeConflict       = "conflict"
	ErrCodeInUse          = "in_use"
	ErrCodeUnprocessable  = "unprocessable"
	ErrCodeUnavailable    = "unavailable"
	ErrCodeInternalError  = "internal_error"
)

// APIError is the error payload of a failed request.
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	RequestID string `json:"request_id,omitempty"`
}

// ErrorResponse wraps an APIError.
type ErrorResponse struct {
	Error *APIError `json:"error"`
}

func NewInvalidRequestError(message string) *APIError {
	return &APIError{Code: ErrCodeInvalidRequest, Message: message}
}

func NewNotFoundError(kind, key string) *APIError {
	return &APIError{Code: ErrCodeNotFound, Message: kind + " " + key + " not found"}
}

func NewInternalError(message string) *APIError {
	return &APIError{Code: ErrCodeInternalError, Message: message, Retryable: true}
}

// WriteJSON writes v as the response body.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", core.OJSMediaType)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// WriteError writes an error response, stamping the request id.
func WriteError(w http.ResponseWriter, status int, apiErr *APIError) {
	e := *apiErr
	e.RequestID = w.Header().Get("X-Request-Id")
	WriteJSON(w, status, ErrorResponse{Error: &e})
}

// HandleError maps a job store error to a status and writes it.
func HandleError(w http.ResponseWriter, err error) {
	status, apiErr := classify(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
	}
	WriteError(w, status, apiErr)
}

func classify(err error) (int, *APIError) {
	msg := err.Error()
	switch {
	case errors.Is(err, core.ErrInvalidKey), errors.Is(err, core.ErrInvalidTrigger):
		return http.StatusBadRequest, &APIError{Code: ErrCodeInvalidRequest, Message: msg}
	case errors.Is(err, core.ErrUnknownType), errors.Is(err, core.ErrDecode):
		return http.StatusUnprocessableEntity, &APIError{Code: ErrCodeUnprocessable, Message: msg}
	case errors.Is(err, core.ErrJobNotFound), errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound, &APIError{Code: ErrCodeNotFound, Message: msg}
	case errors.Is(err, core.ErrAlreadyExists):
		return http.StatusConflict, &APIError{Code: ErrCodeConflict, Message: msg}
	case errors.Is(err, core.ErrCalendarInUse):
		return http.StatusConflict, &APIError{Code: ErrCodeInUse, Message: msg}
	case errors.Is(err, core.ErrPersistence):
		return http.StatusServiceUnavailable, &APIError{Code: ErrCodeUnavailable, Message: msg, Retryable: true}
	}
	return http.StatusInternalServerError, NewInternalError(msg)
}
