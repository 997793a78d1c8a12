// Package errors defines the closed error-kind taxonomy shared by every
// component of the activation SDK. Every error the SDK returns to a caller
// is (or wraps) an *Error with one of the Kind values below.
package errors

import "fmt"

// Kind identifies which part of the activation lifecycle an error came from.
// The set is intentionally closed: hosts that want to branch on error kind
// can switch over it exhaustively without a default case surprising them
// later.
type Kind string

const (
	KindConfiguration Kind = "ConfigurationError"
	KindInput         Kind = "InputError"
	KindTransport     Kind = "TransportError"
	KindServer        Kind = "ServerError"
	KindCrypto        Kind = "CryptoError"
	KindStore         Kind = "StoreError"
	KindValidation    Kind = "ValidationError"
	KindFileShape     Kind = "FileShapeError"
)

// Error is the concrete error type returned by this module. It always
// carries a Kind and a human-readable message, optionally wraps a cause,
// and may carry kind-specific detail (e.g. the HTTP status code for a
// KindServer error, or the activation Status for a KindValidation error).
type Error struct {
	Kind    Kind
	Message string
	Cause   error

	// StatusCode is set for KindServer errors.
	StatusCode int
	// Body is the raw response body for KindServer errors.
	Body string
	// Detail holds the validation-status string for KindValidation errors.
	Detail string
}

func (e *Error) Error() string {
	switch {
	case e.Cause != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is allows errors.Is(err, &Error{Kind: KindX}) style kind checks without
// requiring the message or cause to match.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind == "" {
		return false
	}
	return e.Kind == t.Kind
}

func newError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func Configuration(message string, cause error) *Error { return newError(KindConfiguration, message, cause) }
func Input(message string, cause error) *Error          { return newError(KindInput, message, cause) }
func Transport(message string, cause error) *Error      { return newError(KindTransport, message, cause) }
func Crypto(message string, cause error) *Error         { return newError(KindCrypto, message, cause) }
func Store(message string, cause error) *Error          { return newError(KindStore, message, cause) }
func FileShape(message string) *Error                   { return newError(KindFileShape, message, nil) }

// Server builds a KindServer error carrying the non-2xx status code and
// response body the transport received.
func Server(statusCode int, body string) *Error {
	e := newError(KindServer, fmt.Sprintf("server responded with status %d", statusCode), nil)
	e.StatusCode = statusCode
	e.Body = body
	return e
}

// Validation builds a KindValidation error carrying the terminal activation
// status (e.g. "InvalidSignature", "LicenseExpired") that caused it.
func Validation(status string) *Error {
	e := newError(KindValidation, fmt.Sprintf("activation failed validation: %s", status), nil)
	e.Detail = status
	return e
}
