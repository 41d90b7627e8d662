package domainerrors

import "errors"

// Code represents a failure category independent of transport or SDK layer.
// These codes describe what went wrong in lifecycle terms, not HTTP terms,
// and feed the classifier that decides retry and recovery behavior.
type Code string

const (
	CodeConnectivity   Code = "connectivity"
	CodeTimeout        Code = "timeout"
	CodeAuthentication Code = "authentication"
	CodeValidation     Code = "validation"
	CodeRateLimit      Code = "rate_limit"
	CodeConfiguration  Code = "configuration"
	CodeService        Code = "service"
	CodeUnknown        Code = "unknown"

	// Infrastructure codes used by stores and collaborators.
	CodeNotFound Code = "not_found"
	CodeInternal Code = "internal_error"
)

// Error wraps domain or infrastructure failures with a stable code.
// It is transport-agnostic and can be used across service, store, and
// collaborator layers.
type Error struct {
	Code    Code
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Code)
}

// Unwrap implements error unwrapping for error chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is enables errors.Is() to match errors by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates a new domain error with the given code and message.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Wrap creates a new domain error wrapping an existing error.
// If the wrapped error is already a domain error, the original code is preserved.
func Wrap(err error, code Code, msg string) error {
	var existing *Error
	if errors.As(err, &existing) {
		return &Error{Code: existing.Code, Message: msg, Err: err}
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// HasCode checks if an error is a domain error with the given code.
func HasCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// CodeOf extracts the code from a domain error, or CodeUnknown when the
// error carries no code.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}
