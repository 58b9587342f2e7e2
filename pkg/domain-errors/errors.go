// Package domainerrors carries machine-readable error codes across layer
// boundaries. Services return these; the transport layer maps codes to HTTP
// status codes and never leaks wrapped internals to callers.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code identifies the class of failure. Codes are stable API; messages are not.
type Code string

const (
	// CodeInvalidInput: caller sent missing or malformed input. Not retryable.
	CodeInvalidInput Code = "invalid_input"
	// CodeNotFound: the referenced record does not exist. Terminal.
	CodeNotFound Code = "not_found"
	// CodeConflict: duplicate creation, or concurrent-update retries exhausted.
	// The caller may retry with backoff.
	CodeConflict Code = "conflict"
	// CodeUnauthorized: the requester is not permitted to read the payload.
	CodeUnauthorized Code = "unauthorized"
	// CodeAuthenticationFailed: ciphertext or tag failed verification on
	// decrypt. Fatal for the read; no partial plaintext is ever returned.
	CodeAuthenticationFailed Code = "authentication_failed"
	// CodeUnavailable: a backing store is unreachable after internal retries.
	CodeUnavailable Code = "unavailable"
	// CodeTimeout: the operation exceeded its deadline.
	CodeTimeout Code = "timeout"
	// CodePartialDelete: a purge removed only part of a record's state.
	// Requires operator attention; the remainder must be compensated.
	CodePartialDelete Code = "partial_delete"
	// CodeInternal: unexpected failure. Details are logged, never surfaced.
	CodeInternal Code = "internal"
)

// Error is a domain error with a stable code and a human-readable message.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a domain error with the given code.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error, preserving the
// cause for errors.Is/As chains.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, cause: err}
}

// HasCode reports whether err or any error in its chain carries the code.
func HasCode(err error, code Code) bool {
	var de *Error
	for errors.As(err, &de) {
		if de.Code == code {
			return true
		}
		err = de.cause
		de = nil
	}
	return false
}

// CodeOf returns the outermost domain-error code, or CodeInternal when err is
// not a domain error.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// MessageOf returns the outermost domain-error message, or an empty string.
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return ""
}
