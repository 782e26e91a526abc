package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/authgate/internal/cache"
	"github.com/spec-kit/authgate/internal/domain"
	"github.com/spec-kit/authgate/internal/observability"
	"github.com/spec-kit/authgate/internal/resilience"
)

const maxUserInfoBytes = 1 << 20

// userInfo is the introspection response body.
type userInfo struct {
	Subject       string          `json:"sub"`
	Email         string          `json:"email"`
	GivenName     string          `json:"given_name"`
	FamilyName    string          `json:"family_name"`
	EmailVerified domain.FlexBool `json:"email_verified"`
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default tuned client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// Client resolves opaque tokens through the provider's userinfo endpoint. It
// is the only writer of the identity cache and the provider breaker.
type Client struct {
	userInfoURL string
	timeout     time.Duration
	httpClient  *http.Client
	cache       *cache.ResilientCache
	breaker     *resilience.Breaker
	keyer       *cache.Keyer
	logger      *zap.Logger
	metrics     *observability.Metrics
}

// NewClient builds a Client for issuerURL with a per-call timeout.
func NewClient(
	issuerURL string,
	timeout time.Duration,
	identityCache *cache.ResilientCache,
	breaker *resilience.Breaker,
	keyer *cache.Keyer,
	logger *zap.Logger,
	opts ...Option,
) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		userInfoURL: strings.TrimRight(issuerURL, "/") + "/userinfo",
		timeout:     timeout,
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		cache:   identityCache,
		breaker: breaker,
		keyer:   keyer,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Lookup returns the provider's claims for token, serving cached claims when
// fresh and stale ones when the provider cannot answer.
func (c *Client) Lookup(ctx context.Context, token string) (domain.Claims, error) {
	key := c.keyer.Key(token)

	if claims, ok := c.cache.Get(ctx, key); ok {
		c.metrics.RecordLookup("cache")
		return claims, nil
	}

	if !c.breaker.AllowCall() {
		c.metrics.RecordLookup("breaker_open")
		return c.serveStale(ctx, key, domain.ErrUpstreamUnavailable("identity provider circuit open", nil))
	}

	resp, err := c.fetch(ctx, token)
	if err != nil {
		c.breaker.Release()
		if ctx.Err() != nil {
			// The caller gave up; leave cache and breaker untouched.
			c.metrics.RecordLookup("cancelled")
			return domain.Claims{}, fmt.Errorf("identity lookup: %w", ctx.Err())
		}
		c.metrics.RecordLookup("network_error")
		c.logger.Warn("identity provider unreachable", zap.Error(err))
		return c.serveStale(ctx, key, domain.ErrUpstreamUnavailable("identity provider unreachable", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return c.accept(ctx, key, resp.Body)

	case resp.StatusCode == http.StatusTooManyRequests:
		c.breaker.RecordFailure()
		c.metrics.RecordLookup("rate_limited")
		c.logger.Warn("identity provider rate limited lookups", zap.Duration("cooldown", c.breaker.RetryAfter()))
		return c.serveStale(ctx, key, domain.ErrRateLimited("identity provider rate limit", c.breaker.RetryAfter()))

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		c.breaker.RecordSuccess()
		c.metrics.RecordLookup("rejected")
		return domain.Claims{}, domain.ErrInvalidToken(fmt.Sprintf("identity provider rejected token (status %d)", resp.StatusCode), nil)

	default:
		c.breaker.Release()
		c.metrics.RecordLookup("upstream_error")
		c.logger.Warn("identity provider returned unexpected status", zap.Int("status", resp.StatusCode))
		return c.serveStale(ctx, key, domain.ErrUpstreamUnavailable(fmt.Sprintf("identity provider returned status %d", resp.StatusCode), nil))
	}
}

func (c *Client) fetch(ctx context.Context, token string) (*http.Response, error) {
	// The timeout covers the whole exchange including the body read in accept.
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)

	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, c.userInfoURL, nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

func (c *Client) accept(ctx context.Context, key string, body io.Reader) (domain.Claims, error) {
	var info userInfo
	if err := json.NewDecoder(io.LimitReader(body, maxUserInfoBytes)).Decode(&info); err != nil {
		c.breaker.Release()
		if ctx.Err() != nil {
			c.metrics.RecordLookup("cancelled")
			return domain.Claims{}, fmt.Errorf("identity lookup: %w", ctx.Err())
		}
		c.metrics.RecordLookup("decode_error")
		return c.serveStale(ctx, key, domain.ErrUpstreamUnavailable("identity provider returned an unreadable body", err))
	}

	claims := domain.Claims{
		Subject:       strings.TrimSpace(info.Subject),
		Email:         domain.NormalizeEmail(info.Email),
		GivenName:     info.GivenName,
		FamilyName:    info.FamilyName,
		EmailVerified: bool(info.EmailVerified),
		Source:        domain.ClaimsSourceRemoteLookup,
	}

	c.breaker.RecordSuccess()
	if !claims.Complete() {
		c.metrics.RecordLookup("incomplete")
		return domain.Claims{}, domain.ErrIncompleteIdentity("userinfo response lacks sub or email")
	}

	c.cache.Put(ctx, key, claims)
	c.metrics.RecordLookup("remote")
	return claims, nil
}

// serveStale returns any cached claims regardless of age, or cause.
func (c *Client) serveStale(ctx context.Context, key string, cause error) (domain.Claims, error) {
	if claims, ok := c.cache.GetStaleIfPresent(ctx, key); ok {
		c.logger.Info("serving stale identity", zap.String("cause", cause.Error()))
		return claims, nil
	}
	return domain.Claims{}, cause
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
