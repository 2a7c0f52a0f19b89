// Package apperr carries the stable wire error taxonomy that every
// booking-engine component returns instead of ad hoc sentinel errors.
package apperr

import (
	"errors"
	"net/http"
)

// Code is one of the stable taxonomy values from the error handling design.
type Code string

const (
	CodeValidation       Code = "VALIDATION"
	CodeAuthRequired     Code = "AUTH_REQUIRED"
	CodeAuthRevoked      Code = "AUTH_REVOKED"
	CodeNotFound         Code = "NOT_FOUND"
	CodeConflict         Code = "CONFLICT"
	CodeStale            Code = "STALE"
	CodeRateLimited      Code = "RATE_LIMITED"
	CodeInFlight         Code = "IN_FLIGHT"
	CodePaymentRejected  Code = "PAYMENT_VERIFICATION_FAILED"
	CodeNoAvailability   Code = "NO_AVAILABILITY"
	CodeEventClosed      Code = "EVENT_CLOSED"
	CodeInternal         Code = "INTERNAL"
)

// Error is the typed error every component-boundary operation returns.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Status maps a Code onto its HTTP status per the propagation policy.
// The payment webhook does not go through this mapping: it picks its
// own status codes (400 on a bad signature or malformed body, 5xx on a
// transient failure, 200 otherwise).
func (e *Error) Status() int {
	switch e.Code {
	case CodeValidation, CodeStale, CodeEventClosed:
		return http.StatusBadRequest
	case CodeAuthRequired:
		return http.StatusUnauthorized
	case CodeAuthRevoked:
		return http.StatusUnauthorized
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict, CodeInFlight, CodeNoAvailability:
		return http.StatusConflict
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodePaymentRejected:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// As extracts an *Error from err, if any wraps one.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// Common, reusable instances for conditions that carry no extra context.
var (
	ErrConflict      = New(CodeConflict, "resource is already held by another request")
	ErrStaleLocks    = New(CodeStale, "one or more locks are no longer valid")
	ErrAlreadyBooked = New(CodeConflict, "seat is already linked to another booking")
	ErrNoAvailability = New(CodeNoAvailability, "seat type has no remaining availability")
	ErrEventClosed   = New(CodeEventClosed, "event is not open for booking")
	ErrInFlight      = New(CodeInFlight, "an identical request is already in flight")
	ErrNotFound      = New(CodeNotFound, "resource not found")
)
