package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/authgate/internal/domain"
	"github.com/spec-kit/authgate/internal/observability"
)

// Entry is one cached identity. StoredAt decides freshness; tiers keep entries
// physically past their TTL so the outage path can still read them.
type Entry struct {
	Key      string
	Value    domain.Claims
	StoredAt time.Time
	Tier     string
}

// Tier is a single cache layer with its own nominal TTL.
type Tier interface {
	Name() string
	TTL() time.Duration
	// Load returns the entry regardless of nominal freshness.
	Load(ctx context.Context, key string) (Entry, bool, error)
	// Store keeps entry for at least retain.
	Store(ctx context.Context, entry Entry, retain time.Duration) error
}

// ErrNoTiers is returned when a cache is built without tiers.
var ErrNoTiers = errors.New("cache: at least one tier is required")

// Option customizes a ResilientCache.
type Option func(*ResilientCache)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *ResilientCache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithStaleRetention sets how long entries survive past their tier TTL.
func WithStaleRetention(d time.Duration) Option {
	return func(c *ResilientCache) {
		if d >= 0 {
			c.staleRetention = d
		}
	}
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *ResilientCache) {
		c.metrics = m
	}
}

// ResilientCache is an ordered set of tiers, shortest TTL first, read through
// with promotion into faster tiers.
type ResilientCache struct {
	tiers          []Tier
	staleRetention time.Duration
	now            func() time.Time
	logger         *zap.Logger
	metrics        *observability.Metrics
}

// New builds a cache over tiers, ordered by ascending TTL so each slower tier
// holds an entry at least as long as the tiers in front of it.
func New(logger *zap.Logger, tiers []Tier, opts ...Option) (*ResilientCache, error) {
	if len(tiers) == 0 {
		return nil, ErrNoTiers
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ordered := append([]Tier(nil), tiers...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].TTL() < ordered[j].TTL()
	})
	for _, tier := range ordered {
		if tier.TTL() <= 0 {
			return nil, fmt.Errorf("cache: tier %s has non-positive ttl", tier.Name())
		}
	}

	c := &ResilientCache{
		tiers:          ordered,
		staleRetention: 7 * 24 * time.Hour,
		now:            time.Now,
		logger:         logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Tiers returns the tiers in probe order.
func (c *ResilientCache) Tiers() []Tier {
	return append([]Tier(nil), c.tiers...)
}

// Get probes tiers fastest first and returns the first fresh value. A hit on
// tier N is written back into tiers 0..N-1.
func (c *ResilientCache) Get(ctx context.Context, key string) (domain.Claims, bool) {
	now := c.now()
	for i, tier := range c.tiers {
		entry, ok, err := tier.Load(ctx, key)
		if err != nil {
			c.logger.Warn("cache tier load failed", zap.String("tier", tier.Name()), zap.Error(err))
			continue
		}
		if !ok || now.Sub(entry.StoredAt) >= tier.TTL() {
			continue
		}

		c.metrics.RecordCacheHit(tier.Name())
		if i > 0 {
			c.promote(ctx, c.tiers[:i], key, entry.Value, now)
		}
		return entry.Value.WithSource(domain.ClaimsSourceCache), true
	}
	c.metrics.RecordCacheMiss()
	return domain.Claims{}, false
}

// Put writes value into every tier, each under its own TTL.
func (c *ResilientCache) Put(ctx context.Context, key string, value domain.Claims) {
	value.Stale = false
	c.promote(ctx, c.tiers, key, value, c.now())
}

// GetStaleIfPresent probes tiers slowest first and returns whatever is held,
// ignoring nominal TTLs. Only the circuit-open fallback path may call it.
func (c *ResilientCache) GetStaleIfPresent(ctx context.Context, key string) (domain.Claims, bool) {
	for i := len(c.tiers) - 1; i >= 0; i-- {
		tier := c.tiers[i]
		entry, ok, err := tier.Load(ctx, key)
		if err != nil {
			c.logger.Warn("cache tier stale load failed", zap.String("tier", tier.Name()), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}

		c.metrics.RecordStaleServed()
		value := entry.Value.WithSource(domain.ClaimsSourceCache)
		value.Stale = true
		return value, true
	}
	return domain.Claims{}, false
}

func (c *ResilientCache) promote(ctx context.Context, tiers []Tier, key string, value domain.Claims, now time.Time) {
	value.Stale = false
	for _, tier := range tiers {
		entry := Entry{Key: key, Value: value, StoredAt: now, Tier: tier.Name()}
		if err := tier.Store(ctx, entry, tier.TTL()+c.staleRetention); err != nil {
			c.logger.Warn("cache tier store failed", zap.String("tier", tier.Name()), zap.Error(err))
		}
	}
}
