package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/spec-kit/authgate/internal/domain"
)

// RemoteLookup resolves tokens that cannot be verified locally.
type RemoteLookup interface {
	Lookup(ctx context.Context, token string) (domain.Claims, error)
}

// tokenClaims is the payload of a provider-signed access token.
type tokenClaims struct {
	Email         string          `json:"email"`
	GivenName     string          `json:"given_name"`
	FamilyName    string          `json:"family_name"`
	EmailVerified domain.FlexBool `json:"email_verified"`
	jwt.RegisteredClaims
}

// ValidatorOption customizes a Validator.
type ValidatorOption func(*Validator)

// WithValidatorClock overrides the time used for exp and nbf checks.
func WithValidatorClock(now func() time.Time) ValidatorOption {
	return func(v *Validator) {
		if now != nil {
			v.now = now
		}
	}
}

// Validator verifies signed tokens locally and hands encrypted ones to the
// provider.
type Validator struct {
	issuer   string
	audience string
	keys     KeySource
	remote   RemoteLookup
	now      func() time.Time
}

// NewValidator builds a Validator for one issuer and audience.
func NewValidator(issuer, audience string, keys KeySource, remote RemoteLookup, opts ...ValidatorOption) *Validator {
	v := &Validator{
		issuer:   normalizeIssuer(issuer),
		audience: audience,
		keys:     keys,
		remote:   remote,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate returns the claims carried by token. Signed tokens never fall back
// to the provider when local verification fails.
func (v *Validator) Validate(ctx context.Context, token string) (domain.Claims, error) {
	kind, err := Classify(token)
	if err != nil {
		return domain.Claims{}, err
	}
	if kind == domain.TokenKindEncrypted {
		return v.remote.Lookup(ctx, token)
	}
	return v.validateSigned(ctx, token)
}

func (v *Validator) validateSigned(ctx context.Context, raw string) (domain.Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)

	var claims tokenClaims
	_, err := parser.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, domain.ErrInvalidToken("token header has no kid", nil)
		}
		return v.keys.Key(ctx, kid)
	})
	if err != nil {
		return domain.Claims{}, classifyJWTError(err)
	}

	if normalizeIssuer(claims.Issuer) != v.issuer {
		return domain.Claims{}, domain.ErrInvalidToken("issuer mismatch", nil)
	}

	out := domain.Claims{
		Subject:       strings.TrimSpace(claims.Subject),
		Email:         domain.NormalizeEmail(claims.Email),
		GivenName:     claims.GivenName,
		FamilyName:    claims.FamilyName,
		EmailVerified: bool(claims.EmailVerified),
		Source:        domain.ClaimsSourceLocalJWT,
	}
	if !out.Complete() {
		return domain.Claims{}, domain.ErrIncompleteIdentity("token lacks sub or email")
	}
	return out, nil
}

func classifyJWTError(err error) error {
	if authErr, ok := domain.AsAuthError(err); ok {
		return authErr
	}
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return domain.ErrExpired(err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return domain.ErrMalformedToken("token payload could not be decoded")
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return domain.ErrInvalidToken("signature verification failed", err)
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return domain.ErrInvalidToken("audience mismatch", err)
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return domain.ErrInvalidToken("token not valid yet", err)
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return domain.ErrInvalidToken("required claim missing", err)
	default:
		return domain.ErrInvalidToken("token rejected", err)
	}
}

func normalizeIssuer(iss string) string {
	return strings.TrimRight(strings.TrimSpace(iss), "/")
}
