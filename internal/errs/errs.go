// Package errs defines the gateway's error-kind taxonomy.
//
// Domain errors are values wrapped around the generic sentinels in
// containerd/errdefs, so the errdefs Is* predicates recognize them.
// Inside the gateway, callers classify with KindOf rather than by
// inspecting message strings; internal/server maps each kind through
// Status to the HTTP status and {detail: ...} envelope it must produce.
package errs

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/containerd/errdefs"
)

// Kind names an error class for logging and metrics. The HTTP mapping
// lives in Status, not here, so adding a kind never silently changes
// status codes elsewhere.
type Kind string

const (
	Unauthorized      Kind = "Unauthorized"
	UnknownInterface  Kind = "UnknownInterface"
	InvalidParameters Kind = "InvalidParameters"
	UpstreamTimeout   Kind = "UpstreamTimeout"
	UpstreamError     Kind = "UpstreamError"
	ResultTooLarge    Kind = "ResultTooLarge"
	CacheIOError      Kind = "CacheIOError"
	PathViolation     Kind = "PathViolation"
	TooLarge          Kind = "TooLarge"
	NotFound          Kind = "NotFound"
	ParseError        Kind = "ParseError"
	ModelUnreachable  Kind = "ModelUnreachable"
	Internal          Kind = "Internal"
)

// kindSentinel maps each Kind to the generic errdefs sentinel it wraps.
var kindSentinel = map[Kind]error{
	Unauthorized:      errdefs.ErrUnauthenticated,
	UnknownInterface:  errdefs.ErrNotFound,
	InvalidParameters: errdefs.ErrInvalidArgument,
	UpstreamTimeout:   errdefs.ErrUnavailable,
	UpstreamError:     errdefs.ErrUnavailable,
	ResultTooLarge:    errdefs.ErrResourceExhausted,
	CacheIOError:      errdefs.ErrInternal,
	PathViolation:     errdefs.ErrPermissionDenied,
	TooLarge:          errdefs.ErrResourceExhausted,
	NotFound:          errdefs.ErrNotFound,
	ParseError:        errdefs.ErrInvalidArgument,
	ModelUnreachable:  errdefs.ErrUnavailable,
	Internal:          errdefs.ErrInternal,
}

// Error is a domain error carrying a Kind and a human-readable,
// client-safe message. It wraps both an optional cause and the
// kind's errdefs sentinel so errors.Is sees through to either.
type Error struct {
	kind    Kind
	message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.message)
}

func (e *Error) Unwrap() error {
	sentinel := kindSentinel[e.kind]
	if e.cause == nil {
		return sentinel
	}
	return &joined{sentinel: sentinel, cause: e.cause}
}

// joined lets Unwrap expose both the sentinel (for errdefs.Is*) and the
// original cause (for diagnostic errors.Is/As) without picking one.
type joined struct {
	sentinel error
	cause    error
}

func (j *joined) Error() string { return j.cause.Error() }
func (j *joined) Unwrap() []error {
	return []error{j.sentinel, j.cause}
}

// New builds a domain error of the given kind with a client-safe message.
func New(kind Kind, message string) *Error {
	return &Error{kind: kind, message: message}
}

// Wrap builds a domain error of the given kind around a lower-level cause.
// The cause's text never reaches the client; only message does.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{kind: kind, message: message, cause: cause}
}

// KindOf extracts the Kind from err, defaulting to Internal when err was
// not produced via New/Wrap.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.kind
	}
	return Internal
}

// Message returns the client-safe message, falling back to a generic
// message for errors that did not originate in this package.
func Message(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.message
	}
	return "internal error"
}

// Status maps a Kind to the HTTP status code it produces at the edge.
func Status(kind Kind) int {
	switch kind {
	case Unauthorized:
		return http.StatusUnauthorized
	case UnknownInterface, InvalidParameters, PathViolation, ParseError:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case ResultTooLarge, TooLarge:
		return http.StatusRequestEntityTooLarge
	case UpstreamTimeout:
		return http.StatusGatewayTimeout
	case UpstreamError, ModelUnreachable:
		return http.StatusBadGateway
	case CacheIOError, Internal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
