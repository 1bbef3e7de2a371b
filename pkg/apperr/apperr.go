// Package apperr defines the error taxonomy shared by the calculator, the
// session manager and the backend client.
//
// Every failure that crosses a component boundary is an *Error carrying a
// Kind and a single human-readable message. errors.Is matches on Kind, so
// callers compare against the sentinels below:
//
//	if errors.Is(err, apperr.ErrSessionExpired) { ... }
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindInvalidInput
	KindNoApplicableRate
	KindValidation
	KindDuplicateAccount
	KindInvalidCredentials
	KindNetwork
	KindSessionExpired
	KindServer
	KindNotAuthenticated
	KindStorage
	KindInProgress
)

var kindNames = map[Kind]string{
	KindUnknown:            "unknown error",
	KindInvalidInput:       "invalid input",
	KindNoApplicableRate:   "no applicable rate",
	KindValidation:         "validation failed",
	KindDuplicateAccount:   "account already exists",
	KindInvalidCredentials: "invalid credentials",
	KindNetwork:            "network error",
	KindSessionExpired:     "session expired",
	KindServer:             "server error",
	KindNotAuthenticated:   "not logged in",
	KindStorage:            "credential storage error",
	KindInProgress:         "operation already in progress",
}

// String returns a short description of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Error is the single error type surfaced by the core.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// Sentinels for errors.Is comparisons.
var (
	ErrInvalidInput       = &Error{Kind: KindInvalidInput}
	ErrNoApplicableRate   = &Error{Kind: KindNoApplicableRate}
	ErrValidation         = &Error{Kind: KindValidation}
	ErrDuplicateAccount   = &Error{Kind: KindDuplicateAccount}
	ErrInvalidCredentials = &Error{Kind: KindInvalidCredentials}
	ErrNetwork            = &Error{Kind: KindNetwork}
	ErrSessionExpired     = &Error{Kind: KindSessionExpired}
	ErrServer             = &Error{Kind: KindServer}
	ErrNotAuthenticated   = &Error{Kind: KindNotAuthenticated}
	ErrStorage            = &Error{Kind: KindStorage}
	ErrInProgress         = &Error{Kind: KindInProgress}
)

// New returns an error of the given kind with a formatted message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns an error of the given kind that keeps err as its cause.
func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the cause for errors.As chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Message returns the text that is safe to show to a user. Causes are
// omitted so transport and driver internals never leak.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if !errors.As(err, &e) {
		return KindUnknown.String()
	}
	if e.Message != "" {
		return e.Message
	}
	return e.Kind.String()
}

// Retryable reports whether the failure is transient.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindNetwork, KindServer:
		return true
	default:
		return false
	}
}
