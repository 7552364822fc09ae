// Package gatewayerr defines the error taxonomy shared by every layer of the
// gateway (spec §7). Handlers in internal/httpapi translate these into the
// client's own API dialect; nothing below this package knows about HTTP
// status codes or SSE framing.
package gatewayerr

import "fmt"

// Kind classifies an error for retry and propagation decisions.
type Kind string

const (
	KindConfig            Kind = "config"
	KindAuthFatal         Kind = "auth_fatal"
	KindAuthTransient     Kind = "auth_transient"
	KindRequestInvalid    Kind = "request_invalid"
	KindContextOverflow   Kind = "context_overflow"
	KindUpstreamTransient Kind = "upstream_transient"
	KindUpstreamFatal     Kind = "upstream_fatal"
	KindStreamBroken      Kind = "stream_broken"
	KindParserProtocol    Kind = "parser_protocol"
	KindFraming           Kind = "framing"
	KindFirstTokenTimeout Kind = "first_token_timeout"
)

// Error is the gateway's typed error. Retryable is advisory for callers that
// don't already know the retry policy for Kind (the retry coordinator in
// internal/retry has its own authoritative switch).
type Error struct {
	Kind       Kind
	Message    string
	StatusHint int // suggested client-facing HTTP status; 0 = let the caller decide
	Retryable  bool
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error with no wrapped cause.
func New(kind Kind, status int, retryable bool, msg string) *Error {
	return &Error{Kind: kind, Message: msg, StatusHint: status, Retryable: retryable}
}

// Wrap builds an Error around an existing error.
func Wrap(kind Kind, status int, retryable bool, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, StatusHint: status, Retryable: retryable, Cause: cause}
}

// FirstTokenTimeout is raised by the upstream parser's watchdog. It is the
// only error kind the retry coordinator may swallow silently, since by
// definition no byte has reached the client yet.
func FirstTokenTimeout(msg string) *Error {
	return New(KindFirstTokenTimeout, 504, true, msg)
}

// IsFirstTokenTimeout reports whether err (or something it wraps) is a
// first-token timeout.
func IsFirstTokenTimeout(err error) bool {
	var e *Error
	if As(err, &e) {
		return e.Kind == KindFirstTokenTimeout
	}
	return false
}

// As is a local alias of errors.As kept here so callers in this package's
// dependents don't need an extra import for the common case.
func As(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
