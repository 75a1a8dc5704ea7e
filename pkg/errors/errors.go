package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrNotFound   = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrConflict   = New("CONFLICT", http.StatusConflict, "conflict")
	ErrValidation = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal   = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
)

// Domain errors raised by the assignment, promotion and voting engines.
var (
	ErrNotRegistered          = New("NOT_REGISTERED", http.StatusNotFound, "student is not registered")
	ErrInvalidLevelTransition = New("INVALID_LEVEL_TRANSITION", http.StatusConflict, "level transition is not allowed")
	ErrCapacityExceeded       = New("CAPACITY_EXCEEDED", http.StatusConflict, "group is at capacity")
	ErrDuplicateVote          = New("DUPLICATE_VOTE", http.StatusConflict, "student already voted in this period")
	ErrInvalidVoteTarget      = New("INVALID_VOTE_TARGET", http.StatusBadRequest, "vote recipient is not allowed")
	ErrPeriodClosed           = New("PERIOD_CLOSED", http.StatusConflict, "exam period is already closed")
	ErrNoActivePeriod         = New("NO_ACTIVE_PERIOD", http.StatusNotFound, "no active exam period for this level")
	ErrMalformedSubmission    = New("MALFORMED_SUBMISSION", http.StatusBadRequest, "exam submission is malformed")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// Is reports whether err carries the same error code as target.
func Is(err error, target *Error) bool {
	if err == nil || target == nil {
		return false
	}
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == target.Code
}
