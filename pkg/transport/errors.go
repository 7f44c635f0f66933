package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// ErrorType represents the category of an API error.
type ErrorType string

const (
	ErrorTypeServerError     ErrorType = "server_error"
	ErrorTypeInvalidRequest  ErrorType = "invalid_request"
	ErrorTypeUnauthorized    ErrorType = "unauthorized"
	ErrorTypeNotFound        ErrorType = "not_found"
	ErrorTypeTooManyRequests ErrorType = "too_many_requests"
	ErrorTypeBadGateway      ErrorType = "bad_gateway"
)

// APIError is the error body returned to clients.
type APIError struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorResponse wraps an APIError for JSON serialization as the top-level error response.
type ErrorResponse struct {
	Error *APIError `json:"error"`
}

func NewInvalidRequestError(message string) *APIError {
	return &APIError{Type: ErrorTypeInvalidRequest, Message: message}
}

func NewUnauthorizedError(message string) *APIError {
	return &APIError{Type: ErrorTypeUnauthorized, Message: message}
}

func NewNotFoundError(message string) *APIError {
	return &APIError{Type: ErrorTypeNotFound, Message: message}
}

func NewServerError(message string) *APIError {
	return &APIError{Type: ErrorTypeServerError, Message: message}
}

func NewTooManyRequestsError(message string) *APIError {
	return &APIError{Type: ErrorTypeTooManyRequests, Message: message}
}

func NewBadGatewayError(message string) *APIError {
	return &APIError{Type: ErrorTypeBadGateway, Message: message}
}

// HTTPStatusFromError maps an APIError type to the corresponding HTTP status code.
func HTTPStatusFromError(err *APIError) int {
	switch err.Type {
	case ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeUnauthorized:
		return http.StatusUnauthorized
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeTooManyRequests:
		return http.StatusTooManyRequests
	case ErrorTypeBadGateway:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// WriteErrorStatus writes a JSON error response with an explicit status code.
func WriteErrorStatus(w http.ResponseWriter, apiErr *APIError, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{Error: apiErr})
}

// WriteError writes an APIError response, deriving the HTTP status code
// from the error type.
func WriteError(w http.ResponseWriter, apiErr *APIError) {
	WriteErrorStatus(w, apiErr, HTTPStatusFromError(apiErr))
}
