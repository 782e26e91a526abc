package ratelimit

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/authgate/internal/config"
	"github.com/spec-kit/authgate/internal/observability"
)

// Tier is one named token bucket policy. Each tier keeps an independent bucket
// per identifier.
type Tier struct {
	Name            string
	Capacity        float64
	RefillPerSecond float64
	// FailClosed denies requests when the bucket store is unreachable.
	FailClosed bool
}

// TierFromConfig converts a configured tier.
func TierFromConfig(cfg config.RateTier) Tier {
	return Tier{
		Name:            cfg.Name,
		Capacity:        cfg.Capacity,
		RefillPerSecond: cfg.RefillPerSecond(),
		FailClosed:      cfg.FailClosed,
	}
}

// Decision is the outcome of a bucket check.
type Decision struct {
	Allowed    bool
	Tier       string
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
	// Degraded is set when the store failed and the tier policy decided.
	Degraded bool
}

// Store refills and takes one token from the bucket at key. It reports whether
// a token was taken and how many tokens remain afterwards.
type Store interface {
	Take(ctx context.Context, key string, tier Tier, now time.Time) (allowed bool, tokens float64, err error)
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// WithStoreTimeout bounds each store round trip.
func WithStoreTimeout(d time.Duration) Option {
	return func(l *Limiter) {
		l.storeTimeout = d
	}
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *observability.Metrics) Option {
	return func(l *Limiter) {
		l.metrics = m
	}
}

// Limiter applies token bucket tiers to identifiers.
type Limiter struct {
	store        Store
	now          func() time.Time
	storeTimeout time.Duration
	logger       *zap.Logger
	metrics      *observability.Metrics
}

// New builds a Limiter over store.
func New(store Store, logger *zap.Logger, opts ...Option) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Limiter{
		store:  store,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CheckAndConsume takes one token from identifier's bucket for tier. Store
// failures fail open unless the tier is marked fail-closed.
func (l *Limiter) CheckAndConsume(ctx context.Context, identifier string, tier Tier) Decision {
	now := l.now()

	storeCtx := ctx
	if l.storeTimeout > 0 {
		var cancel context.CancelFunc
		storeCtx, cancel = context.WithTimeout(ctx, l.storeTimeout)
		defer cancel()
	}

	allowed, tokens, err := l.store.Take(storeCtx, bucketKey(tier.Name, identifier), tier, now)
	if err != nil {
		l.metrics.RecordRateLimitStoreError(tier.Name)
		l.logger.Warn("rate limit store unavailable",
			zap.String("tier", tier.Name),
			zap.Bool("fail_closed", tier.FailClosed),
			zap.Error(err),
		)
		if tier.FailClosed {
			return Decision{Tier: tier.Name, RetryAfter: time.Second, Degraded: true}
		}
		return Decision{Allowed: true, Tier: tier.Name, Remaining: int(tier.Capacity), ResetAt: now, Degraded: true}
	}

	l.metrics.RecordRateLimit(tier.Name, allowed)
	return decide(tier, allowed, tokens, now)
}

// CheckAll runs tiers in order and returns the first denial, or the last
// allowed decision when every tier passes. Tokens taken by tiers before a
// denial stay consumed.
func (l *Limiter) CheckAll(ctx context.Context, identifier string, tiers []Tier) Decision {
	decision := Decision{Allowed: true}
	for _, tier := range tiers {
		decision = l.CheckAndConsume(ctx, identifier, tier)
		if !decision.Allowed {
			return decision
		}
	}
	return decision
}

func decide(tier Tier, allowed bool, tokens float64, now time.Time) Decision {
	if !allowed {
		wait := (1 - tokens) / tier.RefillPerSecond
		return Decision{Tier: tier.Name, RetryAfter: seconds(wait)}
	}
	return Decision{
		Allowed:   true,
		Tier:      tier.Name,
		Remaining: int(math.Floor(tokens)),
		ResetAt:   now.Add(seconds((tier.Capacity - tokens) / tier.RefillPerSecond)),
	}
}

// refill returns the token count after continuous refill, capped at capacity.
func refill(tokens float64, last, now time.Time, tier Tier) float64 {
	elapsed := now.Sub(last).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	return math.Min(tier.Capacity, tokens+elapsed*tier.RefillPerSecond)
}

func bucketKey(tier, identifier string) string {
	return "ratelimit:" + tier + ":" + identifier
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
