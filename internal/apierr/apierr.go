// Package apierr defines the error taxonomy surfaced by the HTTP API.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for status mapping.
type Kind string

const (
	KindValidation     Kind = "VALIDATION_ERROR"
	KindAuthentication Kind = "AUTHENTICATION_ERROR"
	KindAuthorization  Kind = "AUTHORIZATION_ERROR"
	KindNotFound       Kind = "NOT_FOUND"
	KindRateLimited    Kind = "RATE_LIMITED"
	KindRemote         Kind = "REMOTE_SERVICE_ERROR"
	KindInternal       Kind = "INTERNAL_ERROR"
)

// Error is an API-facing error. Title becomes the "error" field of the
// response body and Message the "message" field.
type Error struct {
	Kind    Kind
	Status  int
	Title   string
	Message string
	// Code is the remote service error code, if any.
	Code string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && (t.Status == 0 || t.Status == e.Status)
}

// Validation returns a 400 error. err is usually a validate.Errors list.
func Validation(err error) *Error {
	return &Error{Kind: KindValidation, Status: http.StatusBadRequest, Title: "Validation Error", Message: err.Error(), Err: err}
}

// BadRequest returns a 400 error with a plain message.
func BadRequest(msg string) *Error {
	return &Error{Kind: KindValidation, Status: http.StatusBadRequest, Title: "Bad Request", Message: msg}
}

// Unauthorized returns a 401 error.
func Unauthorized(title, msg string) *Error {
	return &Error{Kind: KindAuthentication, Status: http.StatusUnauthorized, Title: title, Message: msg}
}

// InvalidToken returns a 422 error for tokens that cannot be parsed or verified.
func InvalidToken(msg string) *Error {
	return &Error{Kind: KindAuthentication, Status: http.StatusUnprocessableEntity, Title: "Invalid Token", Message: msg}
}

// Forbidden returns a 403 error.
func Forbidden(msg string) *Error {
	return &Error{Kind: KindAuthorization, Status: http.StatusForbidden, Title: "Forbidden", Message: msg}
}

// NotFound returns a 404 error.
func NotFound(msg string) *Error {
	return &Error{Kind: KindNotFound, Status: http.StatusNotFound, Title: "Not Found", Message: msg}
}

// RateLimited returns a 429 error.
func RateLimited() *Error {
	return &Error{Kind: KindRateLimited, Status: http.StatusTooManyRequests, Title: "Too Many Requests", Message: "Rate limit exceeded"}
}

// Remote wraps a failure reported by an AWS control plane.
func Remote(service, code string, err error) *Error {
	return &Error{
		Kind:    KindRemote,
		Status:  http.StatusInternalServerError,
		Title:   service + " Error",
		Message: fmt.Sprintf("%s request failed", service),
		Code:    code,
		Err:     err,
	}
}

// Internal wraps an unexpected failure.
func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Status: http.StatusInternalServerError, Title: "Internal Server Error", Message: "An unexpected error occurred", Err: err}
}

// From converts any error into an *Error. Unknown errors become Internal.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err)
}

// IsNotFound reports whether err is a NotFound error.
func IsNotFound(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindNotFound
}

// Sentinels for errors.Is.
var (
	ErrValidation = &Error{Kind: KindValidation}
	ErrNotFound   = &Error{Kind: KindNotFound}
	ErrForbidden  = &Error{Kind: KindAuthorization}
	ErrRemote     = &Error{Kind: KindRemote}
)
