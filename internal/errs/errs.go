// Package errs defines the error kinds the secure-session fabric
// distinguishes and wires them into go-zero's httpx error responses.
package errs

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/zeromicro/go-zero/rest/httpx"
)

// Kind is one of the error classes the core distinguishes.
type Kind string

const (
	Unauthenticated    Kind = "Unauthenticated"
	Forbidden          Kind = "Forbidden"
	RateLimited        Kind = "RateLimited"
	EncryptionRequired Kind = "EncryptionRequired"
	SecurityViolation  Kind = "SecurityViolation"
	ValidationFailed   Kind = "ValidationFailed"
	NotFound           Kind = "NotFound"
	Conflict           Kind = "Conflict"
	TransientFailure   Kind = "TransientFailure"
	Cancelled          Kind = "Cancelled"
)

var statusByKind = map[Kind]int{
	Unauthenticated:    http.StatusUnauthorized,
	Forbidden:          http.StatusForbidden,
	RateLimited:        http.StatusTooManyRequests,
	EncryptionRequired: http.StatusForbidden,
	SecurityViolation:  http.StatusUnauthorized,
	ValidationFailed:   http.StatusBadRequest,
	NotFound:           http.StatusNotFound,
	Conflict:           http.StatusConflict,
	TransientFailure:   http.StatusServiceUnavailable,
	Cancelled:          499,
}

// Error is a typed error carrying one of the Kind values plus an opaque
// message safe to return to the caller. RetryAfterSeconds is only
// meaningful for RateLimited.
type Error struct {
	Kind              Kind
	Message           string
	RetryAfterSeconds int
	cause             error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.cause }

// StatusCode returns the HTTP status to use for this error.
func (e *Error) StatusCode() int {
	if code, ok := statusByKind[e.Kind]; ok {
		return code
	}
	return http.StatusInternalServerError
}

// New builds a typed error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a Kind to an underlying error, keeping it retrievable via
// errors.Unwrap/errors.As.
func Wrap(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Message: cause.Error(), cause: cause}
}

// RateLimitedWithRetry builds a RateLimited error carrying the seconds the
// caller should wait before retrying.
func RateLimitedWithRetry(retryAfter int) *Error {
	return &Error{Kind: RateLimited, Message: "rate limit exceeded", RetryAfterSeconds: retryAfter}
}

// Is reports whether err (or something it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// bodyResponse is the wire shape for every non-2xx HTTP response the
// gateway returns.
type bodyResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Handle writes err to w, setting status and headers (Retry-After on
// RateLimited) per the Kind it carries. Errors that aren't *Error are
// opaque-wrapped as 500s so internals never leak to the caller.
func Handle(w http.ResponseWriter, err error) {
	var e *Error
	if !errors.As(err, &e) {
		e = &Error{Kind: "Internal", Message: "internal error"}
		httpx.WriteJson(w, http.StatusInternalServerError, bodyResponse{Code: string(e.Kind), Message: e.Message})
		return
	}
	if e.Kind == RateLimited && e.RetryAfterSeconds > 0 {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", e.RetryAfterSeconds))
	}
	httpx.WriteJson(w, e.StatusCode(), bodyResponse{Code: string(e.Kind), Message: e.Message})
}
