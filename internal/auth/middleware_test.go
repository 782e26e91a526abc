package auth

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/authgate/internal/domain"
	apperrors "github.com/spec-kit/authgate/pkg/util/errorutil"
)

type stubValidator struct {
	claims domain.Claims
	err    error
	calls  int
}

func (s *stubValidator) Validate(context.Context, string) (domain.Claims, error) {
	s.calls++
	return s.claims, s.err
}

type stubResolver struct {
	user *domain.LocalUser
	err  error
}

func (s *stubResolver) Resolve(context.Context, domain.Claims) (*domain.LocalUser, error) {
	return s.user, s.err
}

func newTestApp(m *AuthMiddleware, guards ...fiber.Handler) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			de := apperrors.ToDomainError(err)
			return c.Status(de.HTTPStatus).SendString(de.Code)
		},
	})
	handlers := append([]fiber.Handler{m.Handle}, guards...)
	handlers = append(handlers, func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			return c.SendString("anonymous")
		}
		return c.SendString(principal.User.ID)
	})
	app.Get("/", handlers...)
	return app
}

func do(t *testing.T, app *fiber.App, header string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestAuthMiddleware_AnonymousWithoutUsableHeader(t *testing.T) {
	validator := &stubValidator{}
	app := newTestApp(NewAuthMiddleware(validator, &stubResolver{}, nil, nil))

	for _, header := range []string{"", "Basic dXNlcjpwYXNz", "Bearer", "Bearer   "} {
		status, body := do(t, app, header)
		assert.Equal(t, http.StatusOK, status, header)
		assert.Equal(t, "anonymous", body, header)
	}
	assert.Zero(t, validator.calls)
}

func TestAuthMiddleware_ResolvesPrincipal(t *testing.T) {
	validator := &stubValidator{claims: domain.Claims{Subject: "abc123", Email: "a@x.com", Source: domain.ClaimsSourceLocalJWT}}
	resolver := &stubResolver{user: &domain.LocalUser{ID: "user-1", IsActive: true}}
	app := newTestApp(NewAuthMiddleware(validator, resolver, nil, nil), RequireAuthenticated())

	status, body := do(t, app, "bearer some.jwt.token")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "user-1", body)
}

func TestAuthMiddleware_PropagatesErrors(t *testing.T) {
	tests := []struct {
		name     string
		validate error
		resolve  error
		status   int
		code     string
	}{
		{"expired", domain.ErrExpired(nil), nil, http.StatusUnauthorized, "TOKEN_EXPIRED"},
		{"malformed", domain.ErrMalformedToken("bad"), nil, http.StatusUnauthorized, "MALFORMED_TOKEN"},
		{"upstream", domain.ErrUpstreamUnavailable("down", nil), nil, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE"},
		{"closed", nil, domain.ErrAccountClosed(), http.StatusForbidden, "ACCOUNT_CLOSED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			validator := &stubValidator{claims: domain.Claims{Subject: "abc123", Email: "a@x.com"}, err: tt.validate}
			resolver := &stubResolver{user: &domain.LocalUser{ID: "user-1"}, err: tt.resolve}
			app := newTestApp(NewAuthMiddleware(validator, resolver, nil, nil))

			status, body := do(t, app, "Bearer token")
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, body)
		})
	}
}

func TestRequireAuthenticated_RejectsAnonymous(t *testing.T) {
	app := newTestApp(NewAuthMiddleware(&stubValidator{}, &stubResolver{}, nil, nil), RequireAuthenticated())

	status, body := do(t, app, "")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "UNAUTHORIZED", body)
}

func TestRequireActive_RejectsInactiveUser(t *testing.T) {
	validator := &stubValidator{claims: domain.Claims{Subject: "abc123", Email: "a@x.com"}}
	resolver := &stubResolver{user: &domain.LocalUser{ID: "user-1", IsActive: false}}
	app := newTestApp(NewAuthMiddleware(validator, resolver, nil, nil), RequireActive())

	status, _ := do(t, app, "Bearer token")
	assert.Equal(t, http.StatusForbidden, status)
}
