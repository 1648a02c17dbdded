package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind classifies why an operation was rejected.
type Kind uint8

const (
	KindUnknown Kind = iota
	// KindAuthorization covers signature, nonce, expiry, whitelist and role
	// failures.
	KindAuthorization
	// KindValidation covers malformed or out-of-range input.
	KindValidation
	// KindState covers operations that conflict with stored sale state.
	KindState
	// KindExternal covers failed token or custody transfers.
	KindExternal
)

func (k Kind) String() string {
	switch k {
	case KindAuthorization:
		return "authorization"
	case KindValidation:
		return "validation"
	case KindState:
		return "state"
	case KindExternal:
		return "external"
	default:
		return "unknown"
	}
}

// Error carries the kind of failure, the underlying reason and the offending
// value. errors.Is matches against Reason.
type Error struct {
	Kind   Kind
	Reason error
	Value  string
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	reason := "operation rejected"
	if e.Reason != nil {
		reason = e.Reason.Error()
	}
	if e.Value == "" {
		return reason
	}
	return fmt.Sprintf("%s (%s)", reason, e.Value)
}

func (e *Error) Unwrap() error { return e.Reason }

func newError(kind Kind, reason error, format string, args ...interface{}) error {
	value := format
	if len(args) > 0 {
		value = fmt.Sprintf(format, args...)
	}
	return &Error{Kind: kind, Reason: reason, Value: value}
}

func Authorization(reason error, format string, args ...interface{}) error {
	return newError(KindAuthorization, reason, format, args...)
}

func Validation(reason error, format string, args ...interface{}) error {
	return newError(KindValidation, reason, format, args...)
}

func State(reason error, format string, args ...interface{}) error {
	return newError(KindState, reason, format, args...)
}

// External wraps a collaborator failure. A nil cause yields nil.
func External(cause error, format string, args ...interface{}) error {
	if cause == nil {
		return nil
	}
	var typed *Error
	if stderrors.As(cause, &typed) {
		return cause
	}
	return newError(KindExternal, cause, format, args...)
}

// KindOf returns the kind of the first structured error in err's chain.
func KindOf(err error) Kind {
	var typed *Error
	if stderrors.As(err, &typed) {
		return typed.Kind
	}
	return KindUnknown
}
