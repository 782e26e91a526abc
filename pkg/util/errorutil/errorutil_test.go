package errorutil

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"

	"github.com/spec-kit/authgate/internal/domain"
)

func TestToDomainError_AuthKinds(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"malformed", domain.ErrMalformedToken("bad"), http.StatusUnauthorized, "MALFORMED_TOKEN"},
		{"expired", domain.ErrExpired(nil), http.StatusUnauthorized, "TOKEN_EXPIRED"},
		{"invalid", domain.ErrInvalidToken("audience mismatch", nil), http.StatusUnauthorized, "INVALID_TOKEN"},
		{"incomplete", domain.ErrIncompleteIdentity("no email"), http.StatusUnauthorized, "INCOMPLETE_IDENTITY"},
		{"closed", domain.ErrAccountClosed(), http.StatusForbidden, "ACCOUNT_CLOSED"},
		{"rate limited", domain.ErrRateLimited("quota", 3*time.Second), http.StatusTooManyRequests, "RATE_LIMITED"},
		{"unavailable", domain.ErrUpstreamUnavailable("down", nil), http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE"},
		{"wrapped", fmt.Errorf("resolve: %w", domain.ErrAccountClosed()), http.StatusForbidden, "ACCOUNT_CLOSED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			de := ToDomainError(tt.err)
			assert.Equal(t, tt.status, de.HTTPStatus)
			assert.Equal(t, tt.code, de.Code)
		})
	}
}

func TestToDomainError_AccountClosedMessage(t *testing.T) {
	de := ToDomainError(domain.ErrAccountClosed())
	assert.Equal(t, "account has been closed", de.Message)
}

func TestToDomainError_RateLimitedCarriesRetryAfter(t *testing.T) {
	de := ToDomainError(domain.ErrRateLimited("quota", 1500*time.Millisecond))
	assert.Equal(t, 1500*time.Millisecond, de.RetryAfter)
	assert.Equal(t, 2, RetryAfterSeconds(de.RetryAfter))
}

func TestToDomainError_Other(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, ToDomainError(fiber.ErrNotFound).HTTPStatus)
	assert.Equal(t, http.StatusServiceUnavailable, ToDomainError(context.DeadlineExceeded).HTTPStatus)
	assert.Equal(t, http.StatusServiceUnavailable, ToDomainError(fmt.Errorf("lookup: %w", context.Canceled)).HTTPStatus)

	internal := ToDomainError(errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, internal.HTTPStatus)
	assert.Equal(t, "internal server error", internal.Message)

	assert.Nil(t, ToDomainError(nil))
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 1, RetryAfterSeconds(0))
	assert.Equal(t, 1, RetryAfterSeconds(200*time.Millisecond))
	assert.Equal(t, 60, RetryAfterSeconds(time.Minute))
}
