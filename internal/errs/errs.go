// Package errs defines the typed error kinds the pipeline branches on (§7).
// Where the teacher's MageAgentClient.isRetryable guesses retryability from
// a substring match on the error text, callers here get an explicit Kind
// instead, because the dispatcher needs to distinguish five different
// provider SDKs' failure shapes without depending on their wording.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies why an operation failed.
type Kind int

const (
	// Unknown is the zero value; treated like Fatal by callers that switch
	// on Kind without a default case.
	Unknown Kind = iota
	NotFound
	Transient
	InvalidInput
	Auth
	Fatal
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case Transient:
		return "transient"
	case InvalidInput:
		return "invalid_input"
	case Auth:
		return "auth"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a Kind.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a *Error carrying op, kind and the wrapped cause.
func New(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// KindOf extracts the Kind from err, or Unknown if err isn't an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// IsRetryable reports whether err's kind is Transient — the only kind the
// caller should retry with backoff (§7).
func IsRetryable(err error) bool {
	return KindOf(err) == Transient
}
