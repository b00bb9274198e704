// Package fault carries the error taxonomy shared by the supervisor and
// the HTTP gateway. Every failure that can cross a package boundary is
// classified so the gateway can map it to a status code without string
// matching.
package fault

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	// Unavailable: no resolvable opencode binary.
	Unavailable Kind = iota
	// Timeout: port detection, readiness or first-signal window expired.
	Timeout
	// Unreachable: the supervised process or an external API could not be reached.
	Unreachable
	// Validation: caller supplied bad input.
	Validation
	// NotFound: missing directory or config entity.
	NotFound
	// Internal: unexpected I/O or state.
	Internal
)

func (k Kind) String() string {
	switch k {
	case Unavailable:
		return "unavailable"
	case Timeout:
		return "timeout"
	case Unreachable:
		return "unreachable"
	case Validation:
		return "validation"
	case NotFound:
		return "not_found"
	default:
		return "internal"
	}
}

// HTTPStatus maps a kind to the status the gateway reports for it.
func (k Kind) HTTPStatus() int {
	switch k {
	case Unavailable:
		return http.StatusServiceUnavailable
	case Timeout:
		return http.StatusGatewayTimeout
	case Unreachable:
		return http.StatusBadGateway
	case Validation:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classified error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error. A nil err yields nil.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the kind from err, defaulting to Internal for
// unclassified errors.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Internal
}

// StatusOf is shorthand for KindOf(err).HTTPStatus().
func StatusOf(err error) int { return KindOf(err).HTTPStatus() }
