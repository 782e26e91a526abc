package errorutil

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/authgate/internal/domain"
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	RetryAfter time.Duration
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewUnauthorized(message string) error {
	return NewDomainError("UNAUTHORIZED", message, http.StatusUnauthorized, nil)
}

func NewForbidden(message string) error {
	return NewDomainError("FORBIDDEN", message, http.StatusForbidden, nil)
}

func NewTooManyRequests(message string, retryAfter time.Duration, details map[string]any) error {
	de := NewDomainError("RATE_LIMITED", message, http.StatusTooManyRequests, details)
	de.RetryAfter = retryAfter
	return de
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       "INTERNAL_ERROR",
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// ToDomainError converts any error into the envelope rendered at the HTTP boundary.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	if authErr, ok := domain.AsAuthError(err); ok {
		return fromAuthError(authErr)
	}
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return &DomainError{
			Code:       codeForStatus(fiberErr.Code),
			Message:    fiberErr.Message,
			HTTPStatus: fiberErr.Code,
			Err:        err,
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &DomainError{
			Code:       string(domain.KindUpstreamUnavailable),
			Message:    "request did not complete in time",
			HTTPStatus: http.StatusServiceUnavailable,
			Err:        err,
		}
	}
	return &DomainError{
		Code:       "INTERNAL_ERROR",
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

func fromAuthError(e *domain.AuthError) *DomainError {
	de := &DomainError{Code: string(e.Kind), Err: e}
	switch e.Kind {
	case domain.KindAccountClosed:
		de.HTTPStatus = http.StatusForbidden
		de.Message = "account has been closed"
	case domain.KindRateLimited:
		de.HTTPStatus = http.StatusTooManyRequests
		de.Message = "too many requests, retry later"
		de.RetryAfter = e.RetryAfter
	case domain.KindUpstreamUnavailable:
		de.HTTPStatus = http.StatusServiceUnavailable
		de.Message = "identity provider unavailable, retry later"
	case domain.KindExpired:
		de.HTTPStatus = http.StatusUnauthorized
		de.Message = "token has expired"
	default:
		de.HTTPStatus = http.StatusUnauthorized
		de.Message = "invalid credentials"
		if e.Reason != "" {
			de.Message = e.Reason
		}
	}
	return de
}

// RetryAfterSeconds renders a Retry-After value, rounding up to whole seconds.
func RetryAfterSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "BAD_REQUEST"
	case http.StatusUnauthorized:
		return "UNAUTHORIZED"
	case http.StatusForbidden:
		return "FORBIDDEN"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "METHOD_NOT_ALLOWED"
	case http.StatusTooManyRequests:
		return "RATE_LIMITED"
	case http.StatusServiceUnavailable:
		return "SERVICE_UNAVAILABLE"
	}
	if status >= 500 {
		return "INTERNAL_ERROR"
	}
	return "REQUEST_FAILED"
}
