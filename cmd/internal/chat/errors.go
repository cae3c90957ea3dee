// Package chat composes request normalization, authorization, streaming, and persistence for one
// chat turn.
package chat

import (
	"errors"
	"net/http"
)

// Code is the closed set of failure kinds surfaced to callers.
type Code string

const (
	CodeUnauthorized          Code = "UNAUTHORIZED"
	CodeRateLimited           Code = "RATE_LIMITED"
	CodeInvalidRequest        Code = "INVALID_REQUEST"
	CodeInviteExhausted       Code = "INVITE_CODE_EXHAUSTED"
	CodeForbidden             Code = "FORBIDDEN"
	CodeNotFound              Code = "NOT_FOUND"
	CodeProviderNotConfigured Code = "PROVIDER_NOT_CONFIGURED"
	CodeUpstream              Code = "UPSTREAM_ERROR"
	CodeInternal              Code = "INTERNAL_ERROR"
)

// Error is a tagged failure. Msg is safe to show to callers; Err is for logs only.
type Error struct {
	Code Code
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return string(e.Code) + ": " + e.Msg + ": " + e.Err.Error()
	}
	return string(e.Code) + ": " + e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// newError builds a tagged error wrapping cause (may be nil).
func newError(code Code, msg string, cause error) *Error {
	return &Error{Code: code, Msg: msg, Err: cause}
}

// Status maps a code to its HTTP status.
func Status(c Code) int {
	switch c {
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeInvalidRequest:
		return http.StatusBadRequest
	case CodeInviteExhausted, CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeUpstream:
		return http.StatusBadGateway
	case CodeProviderNotConfigured, CodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// AsError extracts a tagged error. Anything unrecognized becomes an opaque INTERNAL_ERROR.
func AsError(err error) *Error {
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}
	return newError(CodeInternal, "internal error", err)
}
