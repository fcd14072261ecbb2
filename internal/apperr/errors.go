// Package apperr defines the typed errors raised by the auth core. Each
// type maps to one fixed HTTP status at the transport boundary; components
// return them unmodified (wrapping with %w is fine) and never downgrade one
// kind into another.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// AuthenticationError means the caller's identity could not be established:
// missing, malformed or expired token, or invalid credentials.
type AuthenticationError struct {
	Reason string
	Err    error
}

func (e *AuthenticationError) Error() string {
	if e.Err != nil {
		return "authentication failed: " + e.Reason + ": " + e.Err.Error()
	}
	return "authentication failed: " + e.Reason
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// AuthorizationError means the identity is valid but lacks a capability.
// The fields exist for audit logging; the public message never lists them.
type AuthorizationError struct {
	OrganizationID string
	Permission     string
	RequiredRoles  []string
}

func (e *AuthorizationError) Error() string {
	var b strings.Builder
	b.WriteString("authorization denied")
	if e.Permission != "" {
		b.WriteString(": permission=" + e.Permission)
	}
	if e.OrganizationID != "" {
		b.WriteString(" organization=" + e.OrganizationID)
	}
	if len(e.RequiredRoles) > 0 {
		b.WriteString(" roles=" + strings.Join(e.RequiredRoles, ","))
	}
	return b.String()
}

// ValidationError is a client error in the request shape, for example an
// active-context override the caller is not entitled to.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

// RateLimitError is returned when a limiter key has exhausted its window.
type RateLimitError struct {
	Key        string
	Limit      int
	RetryAfter time.Duration
	ResetAt    time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s (limit %d, retry after %s)", e.Key, e.Limit, e.RetryAfter)
}

// RetryAfterSeconds rounds up so clients never retry early.
func (e *RateLimitError) RetryAfterSeconds() int {
	secs := int((e.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// OpRateLimit marks a StoreUnavailableError raised by the rate limiter.
const OpRateLimit = "ratelimit"

// StoreUnavailableError wraps a cache or database failure that leaves an
// operation inconclusive. It is never treated as a negative answer.
type StoreUnavailableError struct {
	Op  string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	if e.Op == OpRateLimit {
		return "limiter unavailable: " + errString(e.Err)
	}
	return "store unavailable: " + e.Op + ": " + errString(e.Err)
}

func (e *StoreUnavailableError) Unwrap() error { return e.Err }

// LimiterUnavailable reports whether the failure came from the rate limiter.
func (e *StoreUnavailableError) LimiterUnavailable() bool { return e.Op == OpRateLimit }

func errString(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}

// Unauthenticated builds an AuthenticationError.
func Unauthenticated(reason string, err error) error {
	return &AuthenticationError{Reason: reason, Err: err}
}

// Invalid builds a ValidationError.
func Invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

// Unavailable wraps err as a StoreUnavailableError for op.
func Unavailable(op string, err error) error {
	return &StoreUnavailableError{Op: op, Err: err}
}

// Status maps err onto its HTTP status code. Unknown errors are 500.
func Status(err error) int {
	var (
		authn *AuthenticationError
		authz *AuthorizationError
		inval *ValidationError
		rl    *RateLimitError
		su    *StoreUnavailableError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &rl):
		return http.StatusTooManyRequests
	case errors.As(err, &authz):
		return http.StatusForbidden
	case errors.As(err, &authn):
		return http.StatusUnauthorized
	case errors.As(err, &inval):
		return http.StatusBadRequest
	case errors.As(err, &su):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// Code returns the stable machine-readable code for err.
func Code(err error) string {
	var su *StoreUnavailableError
	switch Status(err) {
	case http.StatusTooManyRequests:
		return "too_many_requests"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusUnauthorized:
		return "unauthenticated"
	case http.StatusBadRequest:
		return "invalid_request"
	case http.StatusServiceUnavailable:
		if errors.As(err, &su) && su.LimiterUnavailable() {
			return "limiter_unavailable"
		}
		return "service_unavailable"
	}
	return "internal_error"
}
