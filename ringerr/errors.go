// Package ringerr defines the coded error kinds construction and close
// paths of the ring transport surface to callers.
package ringerr

import (
	stderrors "errors"

	pkgerrors "github.com/pkg/errors"
)

// Code identifies the kind of failure behind an Error.
type Code int

const (
	// ResourceAcquisition means the backing region could not be created,
	// extended, or mapped.
	ResourceAcquisition Code = iota
	// ConfigurationMismatch means a supplied capacity or max-message-size
	// differs from what is persisted in, or implied by, the file.
	ConfigurationMismatch
	// FileNotFound means capacity or consumer count was requested to be
	// inferred but the backing file does not exist.
	FileNotFound
	// InvalidArgument covers out-of-range tolerances, bad rollback counts,
	// and similar caller errors.
	InvalidArgument
	// LagOvertake means a non-blocking consumer was overtaken by the
	// producer and its window has wrapped.
	LagOvertake
	// IntegrityFailure means a checksum did not match its slot's payload.
	IntegrityFailure
)

func (c Code) String() string {
	switch c {
	case ResourceAcquisition:
		return "resource_acquisition"
	case ConfigurationMismatch:
		return "configuration_mismatch"
	case FileNotFound:
		return "file_not_found"
	case InvalidArgument:
		return "invalid_argument"
	case LagOvertake:
		return "lag_overtake"
	case IntegrityFailure:
		return "integrity_failure"
	default:
		return "unknown"
	}
}

// Error is a coded error carrying an optional wrapped cause.
type Error struct {
	Code Code
	err  error
}

func (e *Error) Error() string {
	return e.err.Error()
}

func (e *Error) Unwrap() error {
	return e.err
}

// New constructs a coded error with a formatted message.
func New(code Code, format string, args ...any) error {
	return &Error{Code: code, err: pkgerrors.Errorf(format, args...)}
}

// Wrap attaches a code and message to an existing cause.
func Wrap(code Code, cause error, msg string) error {
	return &Error{Code: code, err: pkgerrors.Wrap(cause, msg)}
}

// CodeOf extracts the Code from err, if it (or something it wraps) is an
// *Error.
func CodeOf(err error) (Code, bool) {
	var re *Error
	if stderrors.As(err, &re) {
		return re.Code, true
	}
	return 0, false
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}
