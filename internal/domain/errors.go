package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies authentication failures.
type ErrorKind string

const (
	KindMalformedToken      ErrorKind = "MALFORMED_TOKEN"
	KindExpired             ErrorKind = "TOKEN_EXPIRED"
	KindInvalidToken        ErrorKind = "INVALID_TOKEN"
	KindIncompleteIdentity  ErrorKind = "INCOMPLETE_IDENTITY"
	KindRateLimited         ErrorKind = "RATE_LIMITED"
	KindUpstreamUnavailable ErrorKind = "UPSTREAM_UNAVAILABLE"
	KindAccountClosed       ErrorKind = "ACCOUNT_CLOSED"
)

// Retryable reports whether a later retry of the same request may succeed.
func (k ErrorKind) Retryable() bool {
	return k == KindRateLimited || k == KindUpstreamUnavailable
}

// AuthError is the error type returned by every stage of the authentication layer.
type AuthError struct {
	Kind       ErrorKind
	Reason     string
	RetryAfter time.Duration
	Err        error
}

func (e *AuthError) Error() string {
	msg := string(e.Kind)
	if e.Reason != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Reason)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// NewAuthError constructs an AuthError of the given kind.
func NewAuthError(kind ErrorKind, reason string, err error) *AuthError {
	return &AuthError{Kind: kind, Reason: reason, Err: err}
}

func ErrMalformedToken(reason string) error {
	return NewAuthError(KindMalformedToken, reason, nil)
}

func ErrExpired(err error) error {
	return NewAuthError(KindExpired, "token has expired", err)
}

func ErrInvalidToken(reason string, err error) error {
	return NewAuthError(KindInvalidToken, reason, err)
}

func ErrIncompleteIdentity(reason string) error {
	return NewAuthError(KindIncompleteIdentity, reason, nil)
}

func ErrRateLimited(reason string, retryAfter time.Duration) error {
	return &AuthError{Kind: KindRateLimited, Reason: reason, RetryAfter: retryAfter}
}

func ErrUpstreamUnavailable(reason string, err error) error {
	return NewAuthError(KindUpstreamUnavailable, reason, err)
}

func ErrAccountClosed() error {
	return NewAuthError(KindAccountClosed, "account has been closed", nil)
}

// AsAuthError extracts the AuthError from an error chain.
func AsAuthError(err error) (*AuthError, bool) {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr, true
	}
	return nil, false
}

// IsKind reports whether err carries an AuthError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	authErr, ok := AsAuthError(err)
	return ok && authErr.Kind == kind
}
