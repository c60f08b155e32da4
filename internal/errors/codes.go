package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents internal error codes for view operations
type ErrorCode int

const (
	// Success
	ErrCodeOK ErrorCode = 0

	// Client errors (4xx equivalent)
	ErrCodeInvalidArgument ErrorCode = 1000
	ErrCodeNotFound        ErrorCode = 1001

	// Sync errors
	ErrCodeIOFailure              ErrorCode = 2000
	ErrCodeMalformedMetadata      ErrorCode = 2001
	ErrCodeInvalidStateTransition ErrorCode = 2002
	ErrCodeSyncUnsafe             ErrorCode = 2003

	// Server errors (5xx equivalent)
	ErrCodeInternal ErrorCode = 3000
	ErrCodeClosed   ErrorCode = 3001
)

func (c ErrorCode) String() string {
	switch c {
	case ErrCodeOK:
		return "OK"
	case ErrCodeInvalidArgument:
		return "INVALID_ARGUMENT"
	case ErrCodeNotFound:
		return "NOT_FOUND"
	case ErrCodeIOFailure:
		return "IO_FAILURE"
	case ErrCodeMalformedMetadata:
		return "MALFORMED_METADATA"
	case ErrCodeInvalidStateTransition:
		return "INVALID_STATE_TRANSITION"
	case ErrCodeSyncUnsafe:
		return "SYNC_UNSAFE"
	case ErrCodeClosed:
		return "CLOSED"
	default:
		return "INTERNAL"
	}
}

// ViewError represents a structured error with code and context
type ViewError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *ViewError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *ViewError) Unwrap() error {
	return e.Cause
}

// HTTPStatus maps the error code onto an HTTP status for the query API
func (e *ViewError) HTTPStatus() int {
	switch e.Code {
	case ErrCodeOK:
		return http.StatusOK
	case ErrCodeInvalidArgument:
		return http.StatusBadRequest
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeInvalidStateTransition, ErrCodeSyncUnsafe:
		return http.StatusConflict
	case ErrCodeIOFailure, ErrCodeClosed:
		return http.StatusServiceUnavailable
	case ErrCodeMalformedMetadata:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// NewViewError creates a new ViewError
func NewViewError(code ErrorCode, message string, cause error) *ViewError {
	return &ViewError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Cause:   cause,
	}
}

// WithDetail adds a detail to the error
func (e *ViewError) WithDetail(key string, value interface{}) *ViewError {
	e.Details[key] = value
	return e
}

// Convenience constructors for common errors

func InvalidArgument(message string, cause error) *ViewError {
	return NewViewError(ErrCodeInvalidArgument, message, cause)
}

func NotFound(kind, name string) *ViewError {
	return NewViewError(ErrCodeNotFound, fmt.Sprintf("%s not found: %s", kind, name), nil).
		WithDetail("kind", kind).
		WithDetail("name", name)
}

func IOFailure(message string, cause error) *ViewError {
	return NewViewError(ErrCodeIOFailure, message, cause)
}

func MalformedMetadata(message string, cause error) *ViewError {
	return NewViewError(ErrCodeMalformedMetadata, message, cause)
}

func InvalidStateTransition(message string) *ViewError {
	return NewViewError(ErrCodeInvalidStateTransition, message, nil)
}

func SyncUnsafe(lastSynced, firstAvailable string) *ViewError {
	return NewViewError(ErrCodeSyncUnsafe,
		fmt.Sprintf("last synced instant %s precedes the first timeline instant %s", lastSynced, firstAvailable), nil).
		WithDetail("last_synced", lastSynced).
		WithDetail("first_available", firstAvailable)
}

func Closed(what string) *ViewError {
	return NewViewError(ErrCodeClosed, fmt.Sprintf("%s is closed", what), nil)
}

func InternalError(message string, cause error) *ViewError {
	return NewViewError(ErrCodeInternal, message, cause)
}

// IsViewError checks if an error is, or wraps, a ViewError
func IsViewError(err error) bool {
	var ve *ViewError
	return stderrors.As(err, &ve)
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var ve *ViewError
	if stderrors.As(err, &ve) {
		return ve.Code
	}
	return ErrCodeInternal
}

// Is reports whether err carries the given code
func Is(err error, code ErrorCode) bool {
	return err != nil && GetCode(err) == code
}

// HTTPStatus returns the HTTP status for any error
func HTTPStatus(err error) int {
	var ve *ViewError
	if stderrors.As(err, &ve) {
		return ve.HTTPStatus()
	}
	return http.StatusInternalServerError
}
