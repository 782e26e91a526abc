package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/redis/go-redis/v9"

	"github.com/spec-kit/authgate/internal/domain"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("cache: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("cache: CBOR decoder initialization failed: " + err.Error())
	}
}

// storedEntry is the Redis value layout.
type storedEntry struct {
	Value    domain.Claims `cbor:"1,keyasint"`
	StoredAt int64         `cbor:"2,keyasint"`
}

// RedisTier is a shared tier backed by Redis. Each tier owns its own key prefix.
type RedisTier struct {
	name   string
	ttl    time.Duration
	client redis.UniversalClient
	prefix string
}

var _ Tier = (*RedisTier)(nil)

// NewRedisTier builds a tier storing entries under "authcache:<name>:".
func NewRedisTier(client redis.UniversalClient, name string, ttl time.Duration) *RedisTier {
	return &RedisTier{
		name:   name,
		ttl:    ttl,
		client: client,
		prefix: "authcache:" + name + ":",
	}
}

func (t *RedisTier) Name() string { return t.name }

func (t *RedisTier) TTL() time.Duration { return t.ttl }

func (t *RedisTier) Load(ctx context.Context, key string) (Entry, bool, error) {
	raw, err := t.client.Get(ctx, t.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}

	var stored storedEntry
	if err := decMode.Unmarshal(raw, &stored); err != nil {
		return Entry{}, false, fmt.Errorf("decode %s entry: %w", t.name, err)
	}
	return Entry{
		Key:      key,
		Value:    stored.Value,
		StoredAt: time.UnixMilli(stored.StoredAt),
		Tier:     t.name,
	}, true, nil
}

func (t *RedisTier) Store(ctx context.Context, entry Entry, retain time.Duration) error {
	raw, err := encMode.Marshal(storedEntry{Value: entry.Value, StoredAt: entry.StoredAt.UnixMilli()})
	if err != nil {
		return fmt.Errorf("encode %s entry: %w", t.name, err)
	}
	return t.client.Set(ctx, t.prefix+entry.Key, raw, retain).Err()
}
