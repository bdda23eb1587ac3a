package errors

import (
	"fmt"
	"net/http"

	"github.com/go-chi/render"
)

// APIError represents a structured API error response
type APIError struct {
	StatusCode int         `json:"status_code"`
	ErrorCode  string      `json:"error_code"`
	Message    string      `json:"message"`
	Details    interface{} `json:"details,omitempty"`
	RetryAfter int         `json:"retry_after,omitempty"`
	TraceID    string      `json:"trace_id,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return e.Message
}

// Render implements the render.Renderer interface for chi/render
func (e *APIError) Render(w http.ResponseWriter, r *http.Request) error {
	if e.RetryAfter > 0 {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", e.RetryAfter))
	}
	render.Status(r, e.StatusCode)
	return nil
}

// ValidationError represents a single field validation failure
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// New creates a new APIError with the given parameters
func New(statusCode int, errorCode, message string) *APIError {
	return &APIError{
		StatusCode: statusCode,
		ErrorCode:  errorCode,
		Message:    message,
	}
}

// NewWithDetails creates a new APIError with additional details
func NewWithDetails(statusCode int, errorCode, message string, details interface{}) *APIError {
	return &APIError{
		StatusCode: statusCode,
		ErrorCode:  errorCode,
		Message:    message,
		Details:    details,
	}
}

// Predefined error types for common scenarios
var (
	// 400 Bad Request
	ErrInvalidRequest   = New(http.StatusBadRequest, "INVALID_REQUEST", "Invalid request format")
	ErrValidationFailed = New(http.StatusBadRequest, "VALIDATION_FAILED", "Request validation failed")
	ErrMalformedClaim   = New(http.StatusBadRequest, "MALFORMED", "Claim is missing required fields")

	// 401 Unauthorized
	ErrUnauthorized = New(http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")

	// 403 Forbidden
	ErrForbidden = New(http.StatusForbidden, "FORBIDDEN", "Access denied")
	// ErrVerificationFailed covers both invalid proofs and unknown
	// credentials so a prober cannot tell the two apart.
	ErrVerificationFailed = New(http.StatusForbidden, "VERIFICATION_FAILED", "Credential verification failed")
	ErrCredentialDisabled = New(http.StatusForbidden, "DISABLED", "Credential is disabled")
	ErrCredentialExpired  = New(http.StatusForbidden, "EXPIRED", "Credential has expired")

	// 404 Not Found
	ErrNotFound           = New(http.StatusNotFound, "NOT_FOUND", "Resource not found")
	ErrCredentialNotFound = New(http.StatusNotFound, "CREDENTIAL_NOT_FOUND", "Credential not found")

	// 409 Conflict
	ErrCredentialExists = New(http.StatusConflict, "CREDENTIAL_EXISTS", "Credential already exists")

	// 429 Too Many Requests
	ErrRateLimited      = New(http.StatusTooManyRequests, "RATE_LIMITED", "Too many failed attempts from this origin")
	ErrCredentialLocked = New(http.StatusTooManyRequests, "CREDENTIAL_LOCKED", "Credential is temporarily locked")

	// 500 Internal Server Error
	ErrInternalServer = New(http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "Internal server error")
)

// InvalidRequestWithError creates an invalid request error with details
func InvalidRequestWithError(err error) *APIError {
	return NewWithDetails(http.StatusBadRequest, "INVALID_REQUEST", "Invalid request format", err.Error())
}

// ErrValidation creates a validation error with field details
func ErrValidation(field, message string) *APIError {
	return NewWithDetails(http.StatusBadRequest, "VALIDATION_FAILED", "Request validation failed", ValidationError{
		Field:   field,
		Message: message,
	})
}

// RateLimitedError creates a rate limit error carrying the retry-after hint
func RateLimitedError(code, message string, retryAfterSeconds int) *APIError {
	e := New(http.StatusTooManyRequests, code, message)
	e.RetryAfter = retryAfterSeconds
	return e
}
