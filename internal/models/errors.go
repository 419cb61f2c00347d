package models

import (
	"errors"
	"fmt"
)

var (
	ErrSlotNotFound     = errors.New("slot not found")
	ErrSlotFull         = errors.New("slot is full")
	ErrConflict         = errors.New("booking conflict, please retry")
	ErrListingNotFound  = errors.New("listing not found")
	ErrBookingNotFound  = errors.New("booking not found")
	ErrAlreadyCancelled = errors.New("booking already cancelled")
	ErrUserNotFound     = errors.New("user not found")
	ErrForbidden        = errors.New("forbidden")
)

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Invalid builds a *ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// ErrorKind is the category a caller branches on.
type ErrorKind string

const (
	KindNone       ErrorKind = ""
	KindValidation ErrorKind = "validation"
	KindNotFound   ErrorKind = "not_found"
	KindSlotFull   ErrorKind = "slot_full"
	KindConflict   ErrorKind = "conflict"
	KindForbidden  ErrorKind = "forbidden"
	KindInternal   ErrorKind = "internal"
)

// KindOf classifies err. Wrapped errors are unwrapped.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}

	var vErr *ValidationError
	switch {
	case errors.As(err, &vErr):
		return KindValidation
	case errors.Is(err, ErrSlotFull):
		return KindSlotFull
	case errors.Is(err, ErrConflict), errors.Is(err, ErrAlreadyCancelled):
		return KindConflict
	case errors.Is(err, ErrSlotNotFound),
		errors.Is(err, ErrListingNotFound),
		errors.Is(err, ErrBookingNotFound),
		errors.Is(err, ErrUserNotFound):
		return KindNotFound
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	default:
		return KindInternal
	}
}

// Retryable reports whether the same request may succeed if repeated.
func (k ErrorKind) Retryable() bool {
	return k == KindConflict || k == KindInternal
}
