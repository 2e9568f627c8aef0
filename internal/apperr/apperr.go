// Package apperr defines the error taxonomy shared by every ariadne
// component. Errors carry a Kind, not a concrete type; callers branch with
// KindOf or the Is* helpers and wrap with %w as usual.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation and HTTP translation.
type Kind int

const (
	// KindUnknown is the zero value; errors without a kind map to it.
	KindUnknown Kind = iota
	// KindNotFound: symbol/job/entry does not exist.
	KindNotFound
	// KindInvalidArgument: unknown rule id, bad depth, bad filter.
	KindInvalidArgument
	// KindUnavailable: database missing, vector store down, ingestor unreachable.
	KindUnavailable
	// KindIntegrity: shadow verification or migration found an inconsistency.
	KindIntegrity
	// KindRebuildFailed: rebuild aborted; shadow discarded, live DB untouched.
	KindRebuildFailed
	// KindConflict: job acquisition lost a race; rebuild already running.
	KindConflict
	// KindTransient: LLM/network failure worth retrying with backoff.
	KindTransient
	// KindFatal: schema migration cannot apply; process aborts at startup.
	KindFatal
)

// String returns the stable name used in logs and problem type URIs.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not-found"
	case KindInvalidArgument:
		return "invalid-argument"
	case KindUnavailable:
		return "unavailable"
	case KindIntegrity:
		return "integrity-error"
	case KindRebuildFailed:
		return "rebuild-failed"
	case KindConflict:
		return "conflict"
	case KindTransient:
		return "transient"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error is a kinded error. Err may be nil for leaf errors.
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

// Is lets errors.Is match on kind: errors.Is(err, &Error{Kind: KindConflict}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New creates a leaf error of the given kind.
func New(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with a kind and message. Returns nil if err is nil.
func Wrap(kind Kind, err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func IsNotFound(err error) bool        { return KindOf(err) == KindNotFound }
func IsInvalidArgument(err error) bool { return KindOf(err) == KindInvalidArgument }
func IsUnavailable(err error) bool     { return KindOf(err) == KindUnavailable }
func IsIntegrity(err error) bool       { return KindOf(err) == KindIntegrity }
func IsConflict(err error) bool        { return KindOf(err) == KindConflict }
func IsTransient(err error) bool       { return KindOf(err) == KindTransient }
