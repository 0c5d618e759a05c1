package types

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unified error code across the skill system.
type ErrorCode string

// Skill error codes
const (
	ErrNotFound           ErrorCode = "NOT_FOUND"
	ErrCircularDependency ErrorCode = "CIRCULAR_DEPENDENCY"
	ErrMissingDependency  ErrorCode = "MISSING_DEPENDENCY"
	ErrCapacityExceeded   ErrorCode = "CAPACITY_EXCEEDED"
	ErrValidationFailed   ErrorCode = "VALIDATION_FAILED"
	ErrAlreadyActive      ErrorCode = "ALREADY_ACTIVE"
	ErrNotActive          ErrorCode = "NOT_ACTIVE"
	ErrAmbiguousMatch     ErrorCode = "AMBIGUOUS_MATCH"
)

// Storage error codes
const (
	ErrInvalidCacheData    ErrorCode = "INVALID_CACHE_DATA"
	ErrInvalidRegistryData ErrorCode = "INVALID_REGISTRY_DATA"
	ErrPersistenceFailed   ErrorCode = "PERSISTENCE_FAILED"
)

// Generic error codes
const (
	ErrInvalidArgument ErrorCode = "INVALID_ARGUMENT"
	ErrRateLimited     ErrorCode = "RATE_LIMITED"
	ErrInternalError   ErrorCode = "INTERNAL_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	Skill      string    `json:"skill,omitempty"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Skill != "" {
		msg = fmt.Sprintf("%s (skill=%s)", e.Message, e.Skill)
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, msg, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, msg)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf creates a new Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithSkill tags the error with the skill it refers to.
func (e *Error) WithSkill(name string) *Error {
	e.Skill = name
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// AsError extracts a *Error from an error chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// IsCode reports whether any error in err's chain carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

// HTTPStatusOf maps an error to the HTTP status used by the API layer.
func HTTPStatusOf(err error) int {
	e, ok := AsError(err)
	if !ok {
		return http.StatusInternalServerError
	}
	if e.HTTPStatus != 0 {
		return e.HTTPStatus
	}
	switch e.Code {
	case ErrNotFound, ErrNotActive:
		return http.StatusNotFound
	case ErrInvalidArgument, ErrValidationFailed:
		return http.StatusBadRequest
	case ErrCircularDependency, ErrMissingDependency, ErrAmbiguousMatch, ErrAlreadyActive:
		return http.StatusUnprocessableEntity
	case ErrCapacityExceeded:
		return http.StatusConflict
	case ErrRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
