// Package payerr defines the error kinds surfaced by the payment core.
// Every failure crossing a package boundary is wrapped in an *Error so the
// HTTP layer can map it to a status code without string matching.
package payerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for API mapping and logging.
type Kind string

const (
	KindValidation     Kind = "validation_error"
	KindNotFound       Kind = "not_found"
	KindConflict       Kind = "conflict"
	KindCrypto         Kind = "crypto_error"
	KindProvider       Kind = "provider_error"
	KindNetwork        Kind = "network_error"
	KindState          Kind = "state_error"
	KindNotImplemented Kind = "not_implemented"
)

// Error carries a kind, an optional acquirer-native code and a message.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s [%s]: %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with a kind and message while keeping the chain intact.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Provider creates a provider_error carrying the acquirer's native code.
func Provider(code, message string) *Error {
	return &Error{Kind: KindProvider, Code: code, Message: message}
}

// KindOf returns the kind of err, or the empty kind when err carries no
// *Error. Unknown errors are treated as internal by callers.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind && kind != ""
}

// CodeOf returns the acquirer-native code attached to err, if any.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
