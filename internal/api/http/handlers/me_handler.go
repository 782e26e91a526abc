package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/authgate/internal/api/dto"
	"github.com/spec-kit/authgate/internal/auth"
	"github.com/spec-kit/authgate/internal/ratelimit"
	apperrors "github.com/spec-kit/authgate/pkg/util/errorutil"
)

// MeHandler exposes the caller's own account.
type MeHandler struct{}

// NewMeHandler constructs handler.
func NewMeHandler() *MeHandler {
	return &MeHandler{}
}

// Get handles GET /v1/me.
func (h *MeHandler) Get(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}

	user := principal.User
	return c.JSON(fiber.Map{
		"data": dto.PrincipalResponse{
			User: dto.UserResponse{
				ID:        user.ID,
				Email:     user.Email,
				FirstName: user.FirstName,
				LastName:  user.LastName,
				IsActive:  user.IsActive,
				CreatedAt: user.CreatedAt,
			},
			Source: string(principal.Source),
			Stale:  principal.Stale,
		},
	})
}

// AIQuota handles GET /v1/ai/quota. The ai class has already charged one
// unit, so the response reports what remains after this call.
func (h *MeHandler) AIQuota(c *fiber.Ctx) error {
	decision, ok := ratelimit.DecisionsFromContext(c)["ai"]
	if !ok {
		return apperrors.NewInternalError(nil)
	}
	return c.JSON(fiber.Map{
		"data": dto.QuotaResponse{
			Tier:      decision.Tier,
			Remaining: decision.Remaining,
			ResetAt:   decision.ResetAt,
			Degraded:  decision.Degraded,
		},
	})
}
