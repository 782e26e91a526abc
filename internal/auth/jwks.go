package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/spec-kit/authgate/internal/domain"
)

// KeySource returns the RSA verification key for a key ID.
type KeySource interface {
	Key(ctx context.Context, kid string) (*rsa.PublicKey, error)
}

type jwksResponse struct {
	Keys []jwk `json:"keys"`
}

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKSProvider fetches and caches the issuer's published signing keys.
type JWKSProvider struct {
	url     string
	ttl     time.Duration
	timeout time.Duration
	client  *http.Client
	refetch *rate.Limiter
	now     func() time.Time
	logger  *zap.Logger

	backoff time.Duration
	fetches singleflight.Group

	mu      sync.RWMutex
	keys    map[string]*rsa.PublicKey
	fetched time.Time
	retryAt time.Time
	lastErr error
}

var _ KeySource = (*JWKSProvider)(nil)

// JWKSOption customizes a JWKSProvider.
type JWKSOption func(*JWKSProvider)

// WithJWKSHTTPClient replaces the HTTP client.
func WithJWKSHTTPClient(hc *http.Client) JWKSOption {
	return func(p *JWKSProvider) {
		if hc != nil {
			p.client = hc
		}
	}
}

// WithJWKSClock overrides the time source used for the key set TTL.
func WithJWKSClock(now func() time.Time) JWKSOption {
	return func(p *JWKSProvider) {
		if now != nil {
			p.now = now
		}
	}
}

// NewJWKSProvider serves keys from {issuer}/.well-known/jwks.json. An unknown
// kid forces an early refetch at most refetchPerMinute times a minute, and a
// failed fetch is not retried sooner than the same interval.
func NewJWKSProvider(issuerURL string, ttl, timeout time.Duration, refetchPerMinute int, logger *zap.Logger, opts ...JWKSOption) *JWKSProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if refetchPerMinute < 1 {
		refetchPerMinute = 1
	}
	p := &JWKSProvider{
		url:     strings.TrimRight(issuerURL, "/") + "/.well-known/jwks.json",
		ttl:     ttl,
		timeout: timeout,
		client:  &http.Client{},
		refetch: rate.NewLimiter(rate.Every(time.Minute/time.Duration(refetchPerMinute)), 1),
		backoff: time.Minute / time.Duration(refetchPerMinute),
		now:     time.Now,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Key returns the key for kid, refreshing the set when it is stale or does
// not know kid yet. Concurrent refreshes share one fetch, and after a failed
// fetch callers get the cached key without refetching until the backoff ends.
func (p *JWKSProvider) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	key, known, fresh := p.lookup(kid)
	if known && fresh {
		return key, nil
	}

	// A fresh set without kid only refetches when the throttle allows.
	if fresh && !p.refetch.Allow() {
		return nil, domain.ErrInvalidToken("unknown signing key", nil)
	}

	if err := p.backoffErr(); err != nil {
		return p.fallback(kid, key, known, err)
	}

	// The fetch outlives a cancelled caller so waiters sharing it still get a result.
	seen := p.fetchedAt()
	result := p.fetches.DoChan("jwks", func() (any, error) {
		return p.refresh(context.WithoutCancel(ctx), seen)
	})

	select {
	case <-ctx.Done():
		if known {
			return key, nil
		}
		return nil, fmt.Errorf("wait for signing keys: %w", ctx.Err())
	case res := <-result:
		if res.Err != nil {
			return p.fallback(kid, key, known, res.Err)
		}
		key, ok := res.Val.(map[string]*rsa.PublicKey)[kid]
		if !ok {
			return nil, domain.ErrInvalidToken("unknown signing key", nil)
		}
		return key, nil
	}
}

func (p *JWKSProvider) fallback(kid string, key *rsa.PublicKey, known bool, err error) (*rsa.PublicKey, error) {
	if known {
		p.logger.Warn("jwks refresh failed, using cached key", zap.String("kid", kid), zap.Error(err))
		return key, nil
	}
	return nil, domain.ErrUpstreamUnavailable("signing keys unavailable", err)
}

// refresh fetches the key set unless it changed since seen or a recent
// failure is still backing off.
func (p *JWKSProvider) refresh(ctx context.Context, seen time.Time) (map[string]*rsa.PublicKey, error) {
	p.mu.RLock()
	if p.fetched.After(seen) {
		keys := p.keys
		p.mu.RUnlock()
		return keys, nil
	}
	p.mu.RUnlock()

	if err := p.backoffErr(); err != nil {
		return nil, err
	}

	keys, err := p.fetch(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.lastErr = err
		p.retryAt = p.now().Add(p.backoff)
		return nil, err
	}
	p.keys = keys
	p.fetched = p.now()
	p.lastErr = nil
	p.retryAt = time.Time{}
	return keys, nil
}

// backoffErr returns the last fetch error while its backoff is running.
func (p *JWKSProvider) backoffErr() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.lastErr != nil && p.now().Before(p.retryAt) {
		return p.lastErr
	}
	return nil
}

func (p *JWKSProvider) fetchedAt() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.fetched
}

func (p *JWKSProvider) lookup(kid string) (key *rsa.PublicKey, known, fresh bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	fresh = p.keys != nil && p.now().Sub(p.fetched) < p.ttl
	key, known = p.keys[kid]
	return key, known, fresh
}

func (p *JWKSProvider) fetch(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create jwks request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("jwks request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jwks endpoint returned status %d", resp.StatusCode)
	}

	var set jwksResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&set); err != nil {
		return nil, fmt.Errorf("decode jwks: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Kid == "" || k.Kty != "RSA" || (k.Use != "" && k.Use != "sig") {
			continue
		}
		pub, err := parseRSAPublicKey(k.N, k.E)
		if err != nil {
			p.logger.Warn("skipping malformed jwk", zap.String("kid", k.Kid), zap.Error(err))
			continue
		}
		keys[k.Kid] = pub
	}
	return keys, nil
}

func parseRSAPublicKey(nBase64, eBase64 string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(nBase64)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(eBase64)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}
	e := new(big.Int).SetBytes(eBytes)
	if len(nBytes) == 0 || !e.IsInt64() || e.Int64() < 3 {
		return nil, errors.New("invalid rsa parameters")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: int(e.Int64())}, nil
}
