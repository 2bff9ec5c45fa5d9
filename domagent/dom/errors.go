package dom

import (
	"fmt"
)

// Kind classifies action and resolution failures.
type Kind int

const (
	KindNotFound        Kind = iota + 1 // selector, text or index resolves to nothing
	KindUnsupported                     // operation not valid for the target
	KindTimeout                         // deadline exceeded while polling
	KindStaleSession                    // no valid addressable target or session
	KindProtocolFailure                 // RPC failure not covered above
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindUnsupported:
		return "unsupported"
	case KindTimeout:
		return "timeout"
	case KindStaleSession:
		return "stale session"
	case KindProtocolFailure:
		return "protocol failure"
	}
	return "unknown"
}

// Error is the typed error raised by every public operation.
type Error struct {
	Kind   Kind
	Op     string // e.g. "click", "resolve"
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := "webpilot: "
	if e.Op != "" {
		msg += e.Op + ": "
	}
	msg += e.Kind.String()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind when the target carries no Op,
// so errors.Is(err, dom.ErrNotFound) works across wrapping.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
}

// Sentinels for errors.Is.
var (
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrUnsupported     = &Error{Kind: KindUnsupported}
	ErrTimeout         = &Error{Kind: KindTimeout}
	ErrStaleSession    = &Error{Kind: KindStaleSession}
	ErrProtocolFailure = &Error{Kind: KindProtocolFailure}
)

func newError(kind Kind, op string, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Detail: fmt.Sprintf(format, args...), Err: err}
}

// NotFound builds a KindNotFound error.
func NotFound(op, format string, args ...any) *Error {
	return newError(KindNotFound, op, nil, format, args...)
}

// Unsupported builds a KindUnsupported error.
func Unsupported(op, format string, args ...any) *Error {
	return newError(KindUnsupported, op, nil, format, args...)
}

// Timeout builds a KindTimeout error.
func Timeout(op, format string, args ...any) *Error {
	return newError(KindTimeout, op, nil, format, args...)
}

// StaleSession builds a KindStaleSession error wrapping cause.
func StaleSession(op string, cause error) *Error {
	return newError(KindStaleSession, op, cause, "session is not addressable")
}

// Protocol wraps an RPC failure.
func Protocol(op string, cause error) *Error {
	return &Error{Kind: KindProtocolFailure, Op: op, Err: cause}
}

// KindOf returns the Kind carried by err, KindProtocolFailure for foreign
// errors and 0 for nil.
func KindOf(err error) Kind {
	if err == nil {
		return 0
	}
	for e := err; e != nil; {
		if de, ok := e.(*Error); ok {
			return de.Kind
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			break
		}
		e = u.Unwrap()
	}
	return KindProtocolFailure
}
