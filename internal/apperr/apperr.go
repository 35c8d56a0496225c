// Package apperr defines the error taxonomy shared by the service layers.
// Errors carry a Kind so handlers and orchestrators can map failures to
// status codes and user-facing messages without string matching.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for status mapping and failure messages.
type Kind string

const (
	KindNotFound            Kind = "NotFound"
	KindConflict            Kind = "Conflict"
	KindValidation          Kind = "Validation"
	KindUpstreamUnavailable Kind = "Upstream.Unavailable"
	KindUpstreamTimeout     Kind = "Upstream.Timeout"
	KindUpstreamHTTP        Kind = "Upstream.HTTP"
	KindStorage             Kind = "Storage"
	KindTransport           Kind = "Transport"
	KindInternal            Kind = "Internal"
)

// Error is a classified error with an optional wrapped cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error with a message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error. A nil err yields nil.
func Wrap(kind Kind, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf returns the Kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsNotFound reports whether err is a NotFound error.
func IsNotFound(err error) bool { return Is(err, KindNotFound) }

// SystemMessage renders the user-facing failure text persisted on tasks and
// messages when a run fails. The kind is included so operators can correlate
// the stored status with server logs.
func SystemMessage(err error) string {
	return fmt.Sprintf("System error (%s). Check the server logs for details.", KindOf(err))
}

// FailureMessage renders the text persisted when a run fails. Validation and
// NotFound failures are caused by the request itself, so the concrete reason
// is stored verbatim; everything else gets the opaque system message.
func FailureMessage(err error) string {
	switch KindOf(err) {
	case KindValidation, KindNotFound:
		return err.Error()
	default:
		return SystemMessage(err)
	}
}
