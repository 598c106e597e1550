package models

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies orchestrator failures. Kinds are stable strings so they
// can travel through API responses and event payloads.
type ErrorKind string

const (
	ErrConfig             ErrorKind = "config_error"
	ErrNoCapableNode      ErrorKind = "no_capable_node"
	ErrTransport          ErrorKind = "transport_error"
	ErrTimeout            ErrorKind = "timeout"
	ErrRejectedByWorker   ErrorKind = "rejected_by_worker"
	ErrMissingParameter   ErrorKind = "missing_parameter"
	ErrUnsupportedAdapter ErrorKind = "unsupported_adapter"
	ErrNotFound           ErrorKind = "not_found"
	ErrCorruptExport      ErrorKind = "corrupt_export"
	ErrCancelled          ErrorKind = "cancelled"
	ErrUnknownModel       ErrorKind = "unknown_model"
)

// Error carries an ErrorKind alongside a human-readable message and an
// optional wrapped cause.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates an Error with the given kind and message.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Errorf creates an Error with a formatted message.
func Errorf(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError creates an Error wrapping a cause.
func WrapError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the ErrorKind from an error chain. Unclassified errors
// report as ErrTransport since they almost always originate at an I/O site.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrTransport
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// HTTPStatus maps an error kind to the status code returned to API callers.
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case ErrNoCapableNode:
		return http.StatusServiceUnavailable
	case ErrMissingParameter, ErrUnsupportedAdapter, ErrCorruptExport:
		return http.StatusBadRequest
	case ErrNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
