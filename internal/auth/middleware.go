package auth

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/authgate/internal/domain"
	"github.com/spec-kit/authgate/internal/observability"
)

const principalKey = "auth_principal"

// Principal represents the authenticated caller.
type Principal struct {
	User   *domain.LocalUser
	Source domain.ClaimsSource
	Stale  bool
}

// TokenValidator turns a bearer token into claims.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (domain.Claims, error)
}

// UserResolver maps claims to the local account.
type UserResolver interface {
	Resolve(ctx context.Context, claims domain.Claims) (*domain.LocalUser, error)
}

// AuthMiddleware validates bearer tokens and loads principals.
type AuthMiddleware struct {
	tokens  TokenValidator
	users   UserResolver
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewAuthMiddleware constructs middleware.
func NewAuthMiddleware(tokens TokenValidator, users UserResolver, logger *zap.Logger, metrics *observability.Metrics) *AuthMiddleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthMiddleware{tokens: tokens, users: users, logger: logger, metrics: metrics}
}

// Handle resolves the caller when a bearer token is present. Requests without
// a usable Authorization header continue anonymously.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	token, ok := bearerToken(c.Get(fiber.HeaderAuthorization))
	if !ok {
		m.metrics.RecordAuthOutcome("anonymous")
		return c.Next()
	}

	ctx := c.UserContext()
	claims, err := m.tokens.Validate(ctx, token)
	if err != nil {
		m.reject(c, err)
		return err
	}

	user, err := m.users.Resolve(ctx, claims)
	if err != nil {
		m.reject(c, err)
		return err
	}

	m.metrics.RecordAuthOutcome(string(claims.Source))
	c.Locals(principalKey, &Principal{User: user, Source: claims.Source, Stale: claims.Stale})
	c.Locals(observability.UserIDLocal, user.ID)
	return c.Next()
}

func (m *AuthMiddleware) reject(c *fiber.Ctx, err error) {
	outcome := "error"
	if authErr, ok := domain.AsAuthError(err); ok {
		outcome = strings.ToLower(string(authErr.Kind))
	}
	m.metrics.RecordAuthOutcome(outcome)
	m.logger.Debug("authentication failed",
		zap.String("path", c.Path()),
		zap.String("outcome", outcome),
		zap.Error(err),
	)
}

// PrincipalFromContext retrieves the authenticated entity.
func PrincipalFromContext(c *fiber.Ctx) (*Principal, bool) {
	val := c.Locals(principalKey)
	if val == nil {
		return nil, false
	}
	principal, ok := val.(*Principal)
	return principal, ok
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}
