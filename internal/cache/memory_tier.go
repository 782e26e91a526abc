package cache

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// MemoryTier is an in-process tier backed by ristretto.
type MemoryTier struct {
	name    string
	ttl     time.Duration
	entries *ristretto.Cache[string, Entry]
}

var _ Tier = (*MemoryTier)(nil)

// NewMemoryTier builds a tier holding at most maxEntries identities.
func NewMemoryTier(name string, ttl time.Duration, maxEntries int64) (*MemoryTier, error) {
	if maxEntries <= 0 {
		return nil, errors.New("memory tier: max entries must be positive")
	}
	entries, err := ristretto.NewCache(&ristretto.Config[string, Entry]{
		NumCounters:        maxEntries * 10,
		MaxCost:            maxEntries,
		BufferItems:        64,
		// Each entry costs 1, so MaxCost counts entries.
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, err
	}
	return &MemoryTier{name: name, ttl: ttl, entries: entries}, nil
}

func (t *MemoryTier) Name() string { return t.name }

func (t *MemoryTier) TTL() time.Duration { return t.ttl }

func (t *MemoryTier) Load(_ context.Context, key string) (Entry, bool, error) {
	entry, ok := t.entries.Get(key)
	return entry, ok, nil
}

func (t *MemoryTier) Store(_ context.Context, entry Entry, retain time.Duration) error {
	t.entries.SetWithTTL(entry.Key, entry, 1, retain)
	// Sets are buffered; wait so the next Load observes this write.
	t.entries.Wait()
	return nil
}

// Close releases ristretto's background goroutines.
func (t *MemoryTier) Close() {
	t.entries.Close()
}
