package auth

import (
	"github.com/gofiber/fiber/v2"

	apperrors "github.com/spec-kit/authgate/pkg/util/errorutil"
)

// RequireAuthenticated rejects anonymous callers.
func RequireAuthenticated() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if _, ok := PrincipalFromContext(c); !ok {
			return apperrors.NewUnauthorized("authentication required")
		}
		return c.Next()
	}
}

// RequireActive rejects principals whose local account is disabled.
func RequireActive() fiber.Handler {
	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			return apperrors.NewUnauthorized("authentication required")
		}
		if !principal.User.IsActive {
			return apperrors.NewForbidden("account is inactive")
		}
		return c.Next()
	}
}
