package pipeline

import (
	"errors"
	"fmt"
)

// Error codes for programmatic handling.
const (
	CodeValidation      = "VALIDATION_ERROR"
	CodeAlreadyExists   = "ALREADY_EXISTS"
	CodeNotFound        = "NOT_FOUND"
	CodeCommandFailed   = "COMMAND_FAILED"
	CodeTimeout         = "TIMEOUT"
	CodeUnsupportedType = "UNSUPPORTED_TYPE"
)

// Error is a classified pipeline error. Step names the failing pipeline
// step when the error surfaced mid-pipeline; Output carries captured
// diagnostic output from the underlying action, shown only in verbose
// modes.
type Error struct {
	Code    string
	Step    string
	Message string
	Output  string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Step != "" {
		msg = fmt.Sprintf("step %s: %s", e.Step, msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches errors by code, so callers can use errors.Is with the
// sentinel helpers below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithStep attaches the failing step name, keeping the first one set.
func (e *Error) WithStep(step string) *Error {
	if e.Step == "" {
		e.Step = step
	}
	return e
}

// NewValidationError reports bad or missing descriptor fields, caught
// before any mutation.
func NewValidationError(format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// NewAlreadyExistsError reports a descriptor or OS-resource identity
// conflict.
func NewAlreadyExistsError(format string, args ...any) *Error {
	return &Error{Code: CodeAlreadyExists, Message: fmt.Sprintf(format, args...)}
}

// NewNotFoundError reports a missing descriptor or OS resource.
func NewNotFoundError(format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// NewCommandError reports a shelled-out action that returned nonzero.
func NewCommandError(message, output string, err error) *Error {
	return &Error{Code: CodeCommandFailed, Message: message, Output: output, Err: err}
}

// NewTimeoutError reports a shelled-out action that exceeded its timeout.
func NewTimeoutError(message string, err error) *Error {
	return &Error{Code: CodeTimeout, Message: message, Err: err}
}

// NewUnsupportedTypeError reports an unknown project type.
func NewUnsupportedTypeError(t string) *Error {
	return &Error{Code: CodeUnsupportedType, Message: fmt.Sprintf("unsupported project type %q", t)}
}

// CodeOf returns the code of err if it is a pipeline error, or empty.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsValidation reports whether err is classified as a validation error.
func IsValidation(err error) bool { return CodeOf(err) == CodeValidation }

// IsAlreadyExists reports whether err is classified as already-exists.
func IsAlreadyExists(err error) bool { return CodeOf(err) == CodeAlreadyExists }

// IsNotFound reports whether err is classified as not-found.
func IsNotFound(err error) bool { return CodeOf(err) == CodeNotFound }
