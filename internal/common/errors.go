package common

import (
	"errors"
	"fmt"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Failure taxonomy. Every error that crosses a component boundary wraps
// exactly one of these sentinels so callers can branch with errors.Is.
var (
	ErrNotFound        = errors.New("resource not found")
	ErrInvalidInput    = errors.New("invalid input")
	ErrTransport       = errors.New("transport failure")
	ErrRateLimit       = errors.New("rate limited")
	ErrValidation      = errors.New("validation failed")
	ErrPollTimeout     = errors.New("poll timeout")
	ErrStateCorruption = errors.New("state corruption")
	ErrConfiguration   = errors.New("configuration error")
)

// FailureReason tags a FailureRecord with the taxonomy class that ended a row.
type FailureReason string

const (
	ReasonTransport  FailureReason = "transport"
	ReasonRateLimit  FailureReason = "rate_limit"
	ReasonValidation FailureReason = "validation"
	ReasonUnknown    FailureReason = "unknown"
)

// ClassifyFailure maps an error to its FailureReason tag.
func ClassifyFailure(err error) FailureReason {
	switch {
	case errors.Is(err, ErrRateLimit):
		return ReasonRateLimit
	case errors.Is(err, ErrTransport):
		return ReasonTransport
	case errors.Is(err, ErrValidation):
		return ReasonValidation
	default:
		return ReasonUnknown
	}
}

// Retryable reports whether the error class may self-resolve on a retry.
// Validation failures never do: the same input yields the same answer.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransport) || errors.Is(err, ErrRateLimit)
}

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
