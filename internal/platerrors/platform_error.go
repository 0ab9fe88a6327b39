package platerrors

import (
	"encoding/json"
	"errors"
	"fmt"
)

// PlatformError is a typed error carrying one [ErrorCode] plus a
// human-readable message and an opaque engine-specific payload. Values are
// never mutated after creation; the With* helpers return copies.
type PlatformError struct {
	// Code is the error kind. It is always a member of the closed enumeration
	// for errors produced by this package.
	Code ErrorCode

	// Message is a human-readable description, not meant for branching.
	Message string

	// DetailsJSON is an opaque diagnostic payload, round-tripped but
	// never interpreted.
	DetailsJSON string

	// Cause is the underlying error, if any. It does not cross the boundary.
	Cause error
}

var _ error = &PlatformError{}

// New creates a [PlatformError] with the given code and message.
func New(code ErrorCode, message string) *PlatformError {
	return &PlatformError{Code: code, Message: message}
}

// Newf is like [New] but formats the message.
func Newf(code ErrorCode, format string, v ...any) *PlatformError {
	return New(code, fmt.Sprintf(format, v...))
}

// Wrap creates a [PlatformError] with the given code whose message is the
// cause's own description.
func Wrap(code ErrorCode, cause error) *PlatformError {
	msg := string(code)
	if cause != nil {
		msg = cause.Error()
	}
	return &PlatformError{Code: code, Message: msg, Cause: cause}
}

// WithCause returns a copy of e with the given cause.
func (e *PlatformError) WithCause(cause error) *PlatformError {
	c := *e
	c.Cause = cause
	return &c
}

// WithDetails returns a copy of e whose DetailsJSON is the JSON encoding of
// details. If details cannot be encoded, it is formatted with %+v and stored
// as a JSON string.
func (e *PlatformError) WithDetails(details any) *PlatformError {
	c := *e
	data, err := json.Marshal(details)
	if err != nil {
		data, _ = json.Marshal(fmt.Sprintf("%+v", details))
	}
	c.DetailsJSON = string(data)
	return &c
}

// Error implements error.
func (e *PlatformError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Message == "" || e.Message == string(e.Code) {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the cause.
func (e *PlatformError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a *PlatformError with the same code, so that
// errors.Is(err, platerrors.New(platerrors.InvalidPort, "")) works.
func (e *PlatformError) Is(target error) bool {
	var t *PlatformError
	if !errors.As(target, &t) || t == nil {
		return false
	}
	return e.Code == t.Code
}

// CodeOf returns the code of the first *PlatformError in err's chain, or
// [InternalError] if there is none.
func CodeOf(err error) ErrorCode {
	var pe *PlatformError
	if errors.As(err, &pe) && pe != nil && pe.Code.IsValid() {
		return pe.Code
	}
	return InternalError
}
