// Package chigate provides a request gate middleware for Chi routers.
//
// This file contains the structured error types the gate and the response wrapper
// use for rejections. When Handler is installed, rejections are rendered as
// Stripe-style JSON errors; otherwise they fall back to plain text.
package chigate

import (
	"net/http"
)

// APIError represents a structured API error response.
type APIError struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Status  int    `json:"-"`
}

type errorResponse struct {
	Error *APIError `json:"error"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return e.Message
}

// Is implements errors.Is for comparing error types.
func (e *APIError) Is(target error) bool {
	if e == nil {
		return target == nil
	}
	t, ok := target.(*APIError)
	if !ok {
		return false
	}
	return e.Type == t.Type && e.Code == t.Code
}

// With returns a copy of the error with a custom message.
func (e *APIError) With(message string) *APIError {
	if e == nil {
		return nil
	}
	dup := *e
	dup.Message = message
	return &dup
}

// Predefined sentinel errors
var (
	ErrBadRequest        = &APIError{Type: "request_error", Code: "bad_request", Message: "Bad request", Status: http.StatusBadRequest}
	ErrForbidden         = &APIError{Type: "auth_error", Code: "forbidden", Message: "Forbidden", Status: http.StatusForbidden}
	ErrNotFound          = &APIError{Type: "not_found", Code: "resource_not_found", Message: "Resource not found", Status: http.StatusNotFound}
	ErrRateLimited       = &APIError{Type: "rate_limit_error", Code: "limit_exceeded", Message: "Rate limit exceeded", Status: http.StatusTooManyRequests}
	ErrInternal          = &APIError{Type: "internal_error", Code: "internal", Message: "Internal server error", Status: http.StatusInternalServerError}
	ErrBadGateway        = &APIError{Type: "internal_error", Code: "bad_gateway", Message: "Upstream unavailable", Status: http.StatusBadGateway}
	ErrClientBlocked     = &APIError{Type: "auth_error", Code: "client_blocked", Message: "Access denied", Status: http.StatusForbidden}
	ErrSuspiciousRequest = &APIError{Type: "request_error", Code: "suspicious_request", Message: "Invalid request", Status: http.StatusBadRequest}
	ErrCSRFInvalid       = &APIError{Type: "auth_error", Code: "csrf_invalid", Message: "Invalid CSRF token", Status: http.StatusForbidden}
)
