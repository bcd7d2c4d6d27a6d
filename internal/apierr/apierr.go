// Package apierr is the single error taxonomy surfaced to clients. Every
// failure inside the serving pipeline is classified once into an *APIError
// and rendered in the caller's wire dialect at the edge.
package apierr

import (
	"fmt"
	"net/http"
)

// Kind enumerates the client-visible error classes.
type Kind string

const (
	KindAuthentication Kind = "authentication_error"
	KindPermission     Kind = "permission_error"
	KindRateLimit      Kind = "rate_limit_error"
	KindQuotaExceeded  Kind = "quota_exceeded"
	KindInvalidRequest Kind = "invalid_request_error"
	KindUpstream       Kind = "upstream_error"
	KindServer         Kind = "server_error"
)

// APIError carries classification, HTTP mapping and retryability in one
// value instead of status codes smuggled through panics.
type APIError struct {
	Kind       Kind
	HTTPStatus int
	Message    string
	Retryable  bool
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Kind, e.HTTPStatus, e.Message)
}

// New builds an APIError with an explicit status.
func New(kind Kind, status int, msg string) *APIError {
	return &APIError{Kind: kind, HTTPStatus: status, Message: msg}
}

// Authentication returns a 401 authentication_error.
func Authentication(msg string) *APIError {
	return New(KindAuthentication, http.StatusUnauthorized, msg)
}

// Permission returns a 403 permission_error.
func Permission(msg string) *APIError {
	return New(KindPermission, http.StatusForbidden, msg)
}

// RateLimited returns a 429 rate_limit_error.
func RateLimited(msg string) *APIError {
	e := New(KindRateLimit, http.StatusTooManyRequests, msg)
	e.Retryable = true
	return e
}

// QuotaExceeded returns a 402 quota_exceeded error.
func QuotaExceeded(msg string) *APIError {
	return New(KindQuotaExceeded, http.StatusPaymentRequired, msg)
}

// InvalidRequest returns a 400 invalid_request_error.
func InvalidRequest(msg string) *APIError {
	return New(KindInvalidRequest, http.StatusBadRequest, msg)
}

// Upstream returns a 502 upstream_error for non-2xx upstream outcomes that
// survived the retry policy.
func Upstream(msg string) *APIError {
	e := New(KindUpstream, http.StatusBadGateway, msg)
	e.Retryable = true
	return e
}

// Internal returns a 500 server_error.
func Internal(msg string) *APIError {
	return New(KindServer, http.StatusInternalServerError, msg)
}

// From coerces an arbitrary error into an *APIError, defaulting to
// server_error for anything unclassified.
func From(err error) *APIError {
	if err == nil {
		return nil
	}
	if ae, ok := err.(*APIError); ok {
		return ae
	}
	return Internal(err.Error())
}
