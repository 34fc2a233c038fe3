package canonical

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorKind classifies translation failures.
type ErrorKind int

const (
	KindUnsupportedProvider ErrorKind = iota + 1
	KindUnsupportedSurface
	KindMalformedInput
	KindMissingRequiredField
	KindUnmappableRole
	KindStreamFrameError
	KindStreamTerminatedAbnormally
	KindUpstreamError
)

func (k ErrorKind) String() string {
	switch k {
	case KindUnsupportedProvider:
		return "unsupported provider"
	case KindUnsupportedSurface:
		return "unsupported surface"
	case KindMalformedInput:
		return "malformed input"
	case KindMissingRequiredField:
		return "missing required field"
	case KindUnmappableRole:
		return "unmappable role"
	case KindStreamFrameError:
		return "stream frame error"
	case KindStreamTerminatedAbnormally:
		return "stream terminated abnormally"
	case KindUpstreamError:
		return "upstream error"
	default:
		return "unknown error"
	}
}

// Sentinels for errors.Is. Every *Error matches the sentinel of its kind.
var (
	ErrUnsupportedProvider        = &Error{Kind: KindUnsupportedProvider}
	ErrUnsupportedSurface         = &Error{Kind: KindUnsupportedSurface}
	ErrMalformedInput             = &Error{Kind: KindMalformedInput}
	ErrMissingRequiredField       = &Error{Kind: KindMissingRequiredField}
	ErrUnmappableRole             = &Error{Kind: KindUnmappableRole}
	ErrStreamFrame                = &Error{Kind: KindStreamFrameError}
	ErrStreamTerminatedAbnormally = &Error{Kind: KindStreamTerminatedAbnormally}
	ErrUpstream                   = &Error{Kind: KindUpstreamError}
)

// Error is the request-scoped error returned by every translator.
type Error struct {
	Kind     ErrorKind
	Provider string
	API      string

	// Field names the missing field for KindMissingRequiredField.
	Field string
	// Role is the offending role string for KindUnmappableRole.
	Role string
	// Frame is the chunk sequence position for stream errors.
	Frame int
	// Type and Message carry a provider error envelope for KindUpstreamError.
	Type    string
	Message string

	Err error
}

func (e *Error) Error() string {
	var b strings.Builder

	b.WriteString(e.Kind.String())

	if e.Provider != "" {
		b.WriteString(" [")
		b.WriteString(e.Provider)

		if e.API != "" {
			b.WriteByte(' ')
			b.WriteString(e.API)
		}

		b.WriteByte(']')
	}

	switch e.Kind {
	case KindMissingRequiredField:
		fmt.Fprintf(&b, ": %q", e.Field)
	case KindUnmappableRole:
		fmt.Fprintf(&b, ": %q", e.Role)
	case KindStreamFrameError:
		fmt.Fprintf(&b, ": frame %d", e.Frame)
	case KindUpstreamError:
		fmt.Fprintf(&b, ": %s: %s", e.Type, e.Message)
	}

	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}

	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so the package sentinels work
// with errors.Is regardless of the details carried.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}

	return t.Kind == e.Kind
}

// Recoverable reports whether a stream may continue after this error.
func (e *Error) Recoverable() bool {
	return e.Kind == KindStreamFrameError
}

// Malformed builds a KindMalformedInput error wrapping cause.
func Malformed(cause error) *Error {
	return &Error{Kind: KindMalformedInput, Err: cause}
}

// MissingField builds a KindMissingRequiredField error.
func MissingField(field string) *Error {
	return &Error{Kind: KindMissingRequiredField, Field: field}
}

// UnmappableRole builds a KindUnmappableRole error.
func UnmappableRole(role string) *Error {
	return &Error{Kind: KindUnmappableRole, Role: role}
}

// Upstream builds a KindUpstreamError from a provider error envelope.
func Upstream(typ, message string) *Error {
	return &Error{Kind: KindUpstreamError, Type: typ, Message: message}
}

// HTTPStatus maps an error to the status a proxy should answer with.
func HTTPStatus(err error) int {
	var e *Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}

	switch e.Kind {
	case KindUnsupportedProvider, KindUnsupportedSurface:
		return http.StatusNotFound
	case KindMalformedInput, KindMissingRequiredField, KindUnmappableRole:
		return http.StatusBadRequest
	case KindStreamFrameError, KindStreamTerminatedAbnormally, KindUpstreamError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
