// Package apperr defines the error kinds surfaced by the booking services.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers and the HTTP layer
type Kind string

const (
	KindNotFound              Kind = "NOT_FOUND"
	KindInvalidRequest        Kind = "INVALID_REQUEST"
	KindInsufficientInventory Kind = "INSUFFICIENT_INVENTORY"
	KindPaymentProvider       Kind = "PAYMENT_PROVIDER_ERROR"
	KindSignatureInvalid      Kind = "SIGNATURE_INVALID"
	KindInventoryMismatch     Kind = "INVENTORY_MISMATCH"
	KindPersistence           Kind = "PERSISTENCE_ERROR"
)

// Sentinels for errors.Is
var (
	ErrNotFound              = &Error{Kind: KindNotFound}
	ErrInvalidRequest        = &Error{Kind: KindInvalidRequest}
	ErrInsufficientInventory = &Error{Kind: KindInsufficientInventory}
	ErrPaymentProvider       = &Error{Kind: KindPaymentProvider}
	ErrSignatureInvalid      = &Error{Kind: KindSignatureInvalid}
	ErrInventoryMismatch     = &Error{Kind: KindInventoryMismatch}
	ErrPersistence           = &Error{Kind: KindPersistence}
)

type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so the sentinels work with errors.Is
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, msg string) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

func NotFound(format string, args ...interface{}) *Error {
	return New(KindNotFound, format, args...)
}

func InvalidRequest(format string, args ...interface{}) *Error {
	return New(KindInvalidRequest, format, args...)
}

// KindOf returns the kind of err. Errors that did not originate here are
// treated as persistence failures.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindPersistence
}

// Recoverable reports whether a caller may retry or correct its input.
// InventoryMismatch signals a data-integrity violation and is never recoverable.
func Recoverable(err error) bool {
	return KindOf(err) != KindInventoryMismatch
}

// Persistence wraps a store failure unless it already carries a kind
func Persistence(err error, msg string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return Wrap(KindPersistence, err, msg)
}
