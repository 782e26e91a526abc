package cache

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/blake3"

	"github.com/spec-kit/authgate/internal/domain"
)

func TestMemoryTier_StoreLoad(t *testing.T) {
	tier, err := NewMemoryTier("memory", time.Minute, 100)
	require.NoError(t, err)
	t.Cleanup(tier.Close)

	storedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, tier.Store(context.Background(), Entry{Key: "k", Value: alice, StoredAt: storedAt}, time.Hour))

	entry, ok, err := tier.Load(context.Background(), "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, alice, entry.Value)
	assert.Equal(t, storedAt, entry.StoredAt)

	_, ok, err = tier.Load(context.Background(), "other")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryTier_HoldsConfiguredEntries(t *testing.T) {
	const maxEntries = 1000
	tier, err := NewMemoryTier("memory", time.Minute, maxEntries)
	require.NoError(t, err)
	t.Cleanup(tier.Close)

	ctx := context.Background()
	storedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < maxEntries; i++ {
		require.NoError(t, tier.Store(ctx, Entry{Key: fmt.Sprintf("key-%d", i), Value: alice, StoredAt: storedAt}, time.Hour))
	}

	held := 0
	for i := 0; i < maxEntries; i++ {
		if _, ok, _ := tier.Load(ctx, fmt.Sprintf("key-%d", i)); ok {
			held++
		}
	}
	assert.Equal(t, maxEntries, held)
}

func TestNewMemoryTier_RejectsZeroCapacity(t *testing.T) {
	_, err := NewMemoryTier("memory", time.Minute, 0)
	assert.Error(t, err)
}

func newRedisTier(t *testing.T, name string, ttl time.Duration) (*RedisTier, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisTier(client, name, ttl), mr
}

func TestRedisTier_RoundTrip(t *testing.T) {
	tier, mr := newRedisTier(t, "shared", time.Hour)

	value := domain.Claims{
		Subject:       "sub-bob",
		Email:         "bob@example.com",
		GivenName:     "Bob",
		FamilyName:    "Builder",
		EmailVerified: true,
		Source:        domain.ClaimsSourceRemoteLookup,
	}
	storedAt := time.UnixMilli(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).UnixMilli())
	require.NoError(t, tier.Store(context.Background(), Entry{Key: "digest", Value: value, StoredAt: storedAt}, 2*time.Hour))

	assert.True(t, mr.Exists("authcache:shared:digest"))
	assert.Equal(t, 2*time.Hour, mr.TTL("authcache:shared:digest"))

	entry, ok, err := tier.Load(context.Background(), "digest")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, value, entry.Value)
	assert.True(t, storedAt.Equal(entry.StoredAt))
	assert.Equal(t, "shared", entry.Tier)
}

func TestRedisTier_ExpiresAfterRetention(t *testing.T) {
	tier, mr := newRedisTier(t, "shared", time.Minute)

	require.NoError(t, tier.Store(context.Background(), Entry{Key: "digest", Value: alice, StoredAt: time.Now()}, 10*time.Minute))
	mr.FastForward(11 * time.Minute)

	_, ok, err := tier.Load(context.Background(), "digest")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisTier_CorruptValue(t *testing.T) {
	tier, mr := newRedisTier(t, "shared", time.Minute)
	require.NoError(t, mr.Set("authcache:shared:digest", "not-cbor"))

	_, ok, err := tier.Load(context.Background(), "digest")
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestRedisTier_UnavailableBackend(t *testing.T) {
	tier, mr := newRedisTier(t, "shared", time.Minute)
	mr.Close()

	_, _, err := tier.Load(context.Background(), "digest")
	assert.Error(t, err)
}

func TestKeyer_Deterministic(t *testing.T) {
	k, err := NewKeyer("")
	require.NoError(t, err)

	a := k.Key("token-a")
	assert.Equal(t, a, k.Key("token-a"))
	assert.NotEqual(t, a, k.Key("token-b"))
	assert.Len(t, a, 64)
	assert.NotContains(t, a, "token-a")
}

func TestKeyer_SecretChangesKeys(t *testing.T) {
	plain, err := NewKeyer("")
	require.NoError(t, err)
	secret, err := NewKeyer("deployment-secret")
	require.NoError(t, err)

	assert.NotEqual(t, plain.Key("token"), secret.Key("token"))
}

func TestKeyer_ConcurrentKeysMatchSequential(t *testing.T) {
	k, err := NewKeyer("deployment-secret")
	require.NoError(t, err)

	tokens := make([]string, 64)
	want := make([]string, len(tokens))
	for i := range tokens {
		tokens[i] = fmt.Sprintf("token-%d", i)
		want[i] = k.Key(tokens[i])
	}

	var wg sync.WaitGroup
	got := make([][]string, 16)
	for g := range got {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			out := make([]string, len(tokens))
			for i, tok := range tokens {
				out[i] = k.Key(tok)
			}
			got[g] = out
		}(g)
	}
	wg.Wait()

	for _, out := range got {
		assert.Equal(t, want, out)
	}
}

func TestKeyer_DefaultKeyDigest(t *testing.T) {
	k, err := NewKeyer("")
	require.NoError(t, err)

	h, err := blake3.NewKeyed(defaultKey[:])
	require.NoError(t, err)
	_, _ = h.WriteString("token")
	assert.Equal(t, hex.EncodeToString(h.Sum(nil)), k.Key("token"))
}
