package erp

import (
	"errors"
	"fmt"
)

// ErrRateBudgetExceeded is returned when a caller could not acquire a rate
// limiter permit within the configured wait budget. Callers must treat it as
// backpressure, not as an ERP failure.
var ErrRateBudgetExceeded = errors.New("erp: rate limiter wait budget exceeded")

// APIError is an error response from the ERP. Validation errors (4xx) are
// terminal for the attempt; transient errors (5xx) are eligible for the
// caller's retry policy.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

// Error implements the error interface
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("erp: %s (%s, http %d)", e.Message, e.Code, e.StatusCode)
	}
	return fmt.Sprintf("erp: %s (http %d)", e.Message, e.StatusCode)
}

// Temporary reports whether the error is transient and worth retrying
func (e *APIError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// IsValidation reports whether the error is a terminal business validation error
func (e *APIError) IsValidation() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500 && e.StatusCode != 429
}
