// Package errs defines the domain error taxonomy shared by all services.
package errs

import "fmt"

// ValidationError is returned for bad or unsafe parameters: price out of
// band, investment cap exceeded, quantity below the symbol minimum.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Validationf builds a ValidationError with a formatted message.
func Validationf(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ConflictError is returned when an operation would violate the
// single-active-grid invariant.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// InsufficientBalanceError carries the shortfall details so callers can
// report exactly what was missing.
type InsufficientBalanceError struct {
	Message   string
	Required  string
	Available string
	Asset     string
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("%s (required=%s available=%s asset=%s)", e.Message, e.Required, e.Available, e.Asset)
}

// ResourceNotFoundError is returned for unknown grid or order ids.
type ResourceNotFoundError struct {
	Message string
}

func (e *ResourceNotFoundError) Error() string { return e.Message }

// NotFoundf builds a ResourceNotFoundError with a formatted message.
func NotFoundf(format string, args ...interface{}) *ResourceNotFoundError {
	return &ResourceNotFoundError{Message: fmt.Sprintf(format, args...)}
}

// UnauthorizedError is returned when no API credentials are configured.
type UnauthorizedError struct {
	Message string
}

func (e *UnauthorizedError) Error() string { return e.Message }

// ExchangeAPIError wraps a failed upstream exchange call.
type ExchangeAPIError struct {
	Message string
	Cause   error
}

func (e *ExchangeAPIError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExchangeAPIError) Unwrap() error { return e.Cause }
