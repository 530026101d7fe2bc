// Package apperr defines the error taxonomy shared by the auth, ledger, provisioning
// and callback services. Services wrap adapter failures into an *Error at their
// boundary; handlers map the Kind to a transport status.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for callers.
type Kind string

const (
	KindInvalidInput       Kind = "invalid_input"
	KindInvalidCredentials Kind = "invalid_credentials"
	KindInvalidToken       Kind = "invalid_token"
	KindUnauthorized       Kind = "unauthorized"
	KindForbidden          Kind = "forbidden"
	KindNotFound           Kind = "not_found"
	KindConflict           Kind = "conflict"
	KindPaymentFailed      Kind = "payment_failed"
	KindServiceUnavailable Kind = "service_unavailable"
	KindInternal           Kind = "internal"
)

// Error is a classified error. Message is safe to return to callers; Detail is
// optional caller-visible context (e.g. the gateway decline reason). Err is the
// underlying cause and is never exposed.
type Error struct {
	Kind    Kind
	Message string
	Detail  string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same Kind, so callers can write
// errors.Is(err, apperr.ErrNotFound).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Err == nil
}

// Kind-only sentinels for errors.Is comparisons.
var (
	ErrInvalidInput       = &Error{Kind: KindInvalidInput}
	ErrInvalidCredentials = &Error{Kind: KindInvalidCredentials}
	ErrInvalidToken       = &Error{Kind: KindInvalidToken}
	ErrUnauthorized       = &Error{Kind: KindUnauthorized}
	ErrForbidden          = &Error{Kind: KindForbidden}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrConflict           = &Error{Kind: KindConflict}
	ErrPaymentFailed      = &Error{Kind: KindPaymentFailed}
	ErrServiceUnavailable = &Error{Kind: KindServiceUnavailable}
	ErrInternal           = &Error{Kind: KindInternal}
)

func InvalidInput(msg string) error { return &Error{Kind: KindInvalidInput, Message: msg} }
func InvalidCredentials() error { return &Error{Kind: KindInvalidCredentials, Message: "Invalid credentials"} }
func InvalidToken() error { return &Error{Kind: KindInvalidToken, Message: "Invalid or expired token"} }
func Unauthorized(msg string) error { return &Error{Kind: KindUnauthorized, Message: msg} }
func Forbidden(msg string) error { return &Error{Kind: KindForbidden, Message: msg} }
func NotFound(msg string) error { return &Error{Kind: KindNotFound, Message: msg} }
func Conflict(msg string) error { return &Error{Kind: KindConflict, Message: msg} }
func PaymentFailed(detail string) error { return &Error{Kind: KindPaymentFailed, Message: "Payment failed", Detail: detail} }
func ServiceUnavailable(msg string, cause error) error {
	return &Error{Kind: KindServiceUnavailable, Message: msg, Err: cause}
}

// Internal wraps an unexpected adapter failure. The message is generic; cause is
// kept for logging.
func Internal(cause error) error {
	return &Error{Kind: KindInternal, Message: "internal error", Err: cause}
}

// KindOf returns the Kind of err, or KindInternal when err is not classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus maps a Kind to its HTTP status code.
func HTTPStatus(k Kind) int {
	switch k {
	case KindInvalidInput, KindPaymentFailed:
		return http.StatusBadRequest
	case KindInvalidCredentials, KindInvalidToken, KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Public returns the caller-visible message and detail for err. Internal errors
// collapse to a generic message.
func Public(err error) (message, detail string) {
	var e *Error
	if !errors.As(err, &e) || e.Kind == KindInternal {
		return "Internal server error", ""
	}
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	return msg, e.Detail
}
