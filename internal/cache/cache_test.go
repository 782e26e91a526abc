package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/authgate/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeTier struct {
	name    string
	ttl     time.Duration
	mu      sync.Mutex
	entries map[string]Entry
	retain  map[string]time.Duration
	loadErr error
	stores  int
}

func newFakeTier(name string, ttl time.Duration) *fakeTier {
	return &fakeTier{
		name:    name,
		ttl:     ttl,
		entries: make(map[string]Entry),
		retain:  make(map[string]time.Duration),
	}
}

func (f *fakeTier) Name() string       { return f.name }
func (f *fakeTier) TTL() time.Duration { return f.ttl }

func (f *fakeTier) Load(_ context.Context, key string) (Entry, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return Entry{}, false, f.loadErr
	}
	entry, ok := f.entries[key]
	return entry, ok, nil
}

func (f *fakeTier) Store(_ context.Context, entry Entry, retain time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[entry.Key] = entry
	f.retain[entry.Key] = retain
	f.stores++
	return nil
}

func (f *fakeTier) entry(key string) (Entry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.entries[key]
	return entry, ok
}

var alice = domain.Claims{
	Subject: "sub-alice",
	Email:   "alice@example.com",
	Source:  domain.ClaimsSourceRemoteLookup,
}

func newTestCache(t *testing.T, clock *fakeClock, tiers ...Tier) *ResilientCache {
	t.Helper()
	c, err := New(zap.NewNop(), tiers, WithClock(clock.Now), WithStaleRetention(24*time.Hour))
	require.NoError(t, err)
	return c
}

func TestNew_RequiresTiers(t *testing.T) {
	_, err := New(zap.NewNop(), nil)
	assert.ErrorIs(t, err, ErrNoTiers)
}

func TestNew_OrdersTiersByTTL(t *testing.T) {
	slow := newFakeTier("slow", time.Hour)
	fast := newFakeTier("fast", time.Minute)

	c, err := New(zap.NewNop(), []Tier{slow, fast})
	require.NoError(t, err)

	tiers := c.Tiers()
	require.Len(t, tiers, 2)
	assert.Equal(t, "fast", tiers[0].Name())
	assert.Equal(t, "slow", tiers[1].Name())
}

func TestNew_RejectsNonPositiveTTL(t *testing.T) {
	_, err := New(zap.NewNop(), []Tier{newFakeTier("broken", 0)})
	assert.Error(t, err)
}

func TestPut_WritesEveryTierWithRetention(t *testing.T) {
	clock := newFakeClock()
	fast := newFakeTier("fast", time.Minute)
	slow := newFakeTier("slow", time.Hour)
	c := newTestCache(t, clock, fast, slow)

	c.Put(context.Background(), "k", alice)

	for _, tier := range []*fakeTier{fast, slow} {
		entry, ok := tier.entry("k")
		require.True(t, ok, tier.name)
		assert.Equal(t, clock.Now(), entry.StoredAt)
		assert.Equal(t, tier.ttl+24*time.Hour, tier.retain["k"])
	}
}

func TestPut_Idempotent(t *testing.T) {
	clock := newFakeClock()
	fast := newFakeTier("fast", time.Minute)
	c := newTestCache(t, clock, fast)

	c.Put(context.Background(), "k", alice)
	c.Put(context.Background(), "k", alice)

	got, ok := c.Get(context.Background(), "k")
	require.True(t, ok)
	assert.Equal(t, alice.Subject, got.Subject)
	assert.Len(t, fast.entries, 1)
}

func TestGet_HitReportsCacheSource(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock, newFakeTier("fast", time.Minute))

	c.Put(context.Background(), "k", alice)
	clock.Advance(30 * time.Second)

	got, ok := c.Get(context.Background(), "k")
	require.True(t, ok)
	assert.Equal(t, domain.ClaimsSourceCache, got.Source)
	assert.False(t, got.Stale)
	assert.Equal(t, alice.Email, got.Email)
}

func TestGet_PromotesIntoFasterTiers(t *testing.T) {
	clock := newFakeClock()
	fast := newFakeTier("fast", time.Minute)
	slow := newFakeTier("slow", time.Hour)
	c := newTestCache(t, clock, fast, slow)

	c.Put(context.Background(), "k", alice)
	clock.Advance(10 * time.Minute)

	got, ok := c.Get(context.Background(), "k")
	require.True(t, ok)
	assert.Equal(t, alice.Subject, got.Subject)

	promoted, ok := fast.entry("k")
	require.True(t, ok)
	assert.Equal(t, clock.Now(), promoted.StoredAt)

	// The slow tier keeps its original timestamp.
	original, ok := slow.entry("k")
	require.True(t, ok)
	assert.Equal(t, clock.Now().Add(-10*time.Minute), original.StoredAt)
}

func TestGet_MissWhenEveryTierExpired(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock, newFakeTier("fast", time.Minute), newFakeTier("slow", 5*time.Minute))

	c.Put(context.Background(), "k", alice)
	clock.Advance(5 * time.Minute)

	_, ok := c.Get(context.Background(), "k")
	assert.False(t, ok)
}

func TestGet_TierErrorIsTreatedAsMiss(t *testing.T) {
	clock := newFakeClock()
	fast := newFakeTier("fast", time.Minute)
	slow := newFakeTier("slow", time.Hour)
	c := newTestCache(t, clock, fast, slow)

	c.Put(context.Background(), "k", alice)
	fast.loadErr = errors.New("connection reset")

	got, ok := c.Get(context.Background(), "k")
	require.True(t, ok)
	assert.Equal(t, alice.Subject, got.Subject)
}

func TestGetStaleIfPresent_IgnoresTTL(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock, newFakeTier("fast", time.Minute), newFakeTier("slow", 5*time.Minute))

	c.Put(context.Background(), "k", alice)
	clock.Advance(10 * time.Minute)

	_, ok := c.Get(context.Background(), "k")
	require.False(t, ok)

	got, ok := c.GetStaleIfPresent(context.Background(), "k")
	require.True(t, ok)
	assert.True(t, got.Stale)
	assert.Equal(t, domain.ClaimsSourceCache, got.Source)
	assert.Equal(t, alice.Email, got.Email)
}

func TestGetStaleIfPresent_Absent(t *testing.T) {
	c := newTestCache(t, newFakeClock(), newFakeTier("fast", time.Minute))

	_, ok := c.GetStaleIfPresent(context.Background(), "missing")
	assert.False(t, ok)
}

func TestPut_ClearsStaleFlag(t *testing.T) {
	clock := newFakeClock()
	fast := newFakeTier("fast", time.Minute)
	c := newTestCache(t, clock, fast)

	stale := alice
	stale.Stale = true
	c.Put(context.Background(), "k", stale)

	entry, ok := fast.entry("k")
	require.True(t, ok)
	assert.False(t, entry.Value.Stale)
}
