// Package xerr implements the error taxonomy shared by every component of
// the position protection engine. Components return a Kind-tagged error
// rather than raw exchange or validation strings, so the caller can branch
// on taxonomy without parsing messages.
package xerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation-policy decisions. It is not a
// Go error type itself; Error wraps it with context.
type Kind string

const (
	InvalidInput       Kind = "invalid_input"
	InvalidOrder       Kind = "invalid_order"
	RateLimited        Kind = "rate_limited"
	TransientNetwork   Kind = "transient_network"
	StopReplaceFailed  Kind = "stop_replace_failed"
	InsufficientMargin Kind = "insufficient_margin"
	QuotaExhausted     Kind = "quota_exhausted"
	TradingSuspended   Kind = "trading_suspended"
	InvariantViolation Kind = "invariant_violation"
)

// Error is the concrete error type every component returns. Context is a
// human-readable string; Cause, if non-nil, is the underlying error (never
// surfaced to persisted state directly — only through Error()/Unwrap()).
type Error struct {
	Kind    Kind
	Context string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Context, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Context)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error with no underlying cause.
func New(kind Kind, context string) *Error {
	return &Error{Kind: kind, Context: context}
}

// Wrap builds an *Error around an existing cause.
func Wrap(kind Kind, context string, cause error) *Error {
	return &Error{Kind: kind, Context: context, Cause: cause}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, if any.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
