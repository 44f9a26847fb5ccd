// Package exitcode defines the structured exit codes of the orka CLI so
// scripts can distinguish failure classes without parsing error text.
//
//   - 0: success
//   - 1: general error (I/O, network, internal)
//   - 2: precondition failure (tmux missing, project not registered,
//     invariant would be violated)
package exitcode

import (
	"errors"
	"fmt"
)

const (
	// Success indicates the command completed.
	Success = 0

	// ErrGeneral is any unclassified failure.
	ErrGeneral = 1

	// ErrPrecondition is a refused operation: the environment or state did
	// not meet the command's requirements and nothing was changed.
	ErrPrecondition = 2
)

// Error wraps an error with a specific exit code.
type Error struct {
	Code    int
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a coded error.
func New(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with printf-style formatting.
func Newf(code int, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an existing error.
func Wrap(code int, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Precondition marks a failure as a refused precondition (exit 2).
func Precondition(message string, cause error) *Error {
	return &Error{Code: ErrPrecondition, Message: message, Cause: cause}
}

// Code extracts the exit code from an error, ErrGeneral when uncoded.
func Code(err error) int {
	if err == nil {
		return Success
	}
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ErrGeneral
}

// Is reports whether an error carries a specific exit code.
func Is(err error, code int) bool {
	return Code(err) == code
}
