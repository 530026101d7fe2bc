package payment

import (
	"errors"
	"fmt"
)

// ErrorKind separates a processor decision from a processor outage.
type ErrorKind int

const (
	// Declined means the processor answered and refused the charge.
	Declined ErrorKind = iota + 1
	// Unavailable means the processor could not be reached, timed out or failed.
	Unavailable
)

func (k ErrorKind) String() string {
	switch k {
	case Declined:
		return "declined"
	case Unavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Error is a classified gateway failure. Message is safe to show to the payer.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("payment %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("payment %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func declined(msg string) *Error { return &Error{Kind: Declined, Message: msg} }

func unavailable(msg string, cause error) *Error {
	return &Error{Kind: Unavailable, Message: msg, Err: cause}
}

// KindOf returns the kind of a gateway error. Unclassified errors count as Unavailable.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unavailable
}
