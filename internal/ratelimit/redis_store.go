package ratelimit

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// takeScript refills and takes one token atomically. Bucket state is a hash of
// tokens and last_refill (unix ms). The caller supplies now so every replica
// shares one notion of time per request.
//
// KEYS[1] bucket key
// ARGV[1] capacity, ARGV[2] refill per ms, ARGV[3] now ms, ARGV[4] expiry ms
var takeScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local state = redis.call("HMGET", KEYS[1], "tokens", "last_refill")
local tokens = tonumber(state[1])
local last = tonumber(state[2])
local allowed = 0

if tokens == nil or last == nil then
	tokens = capacity - 1
	allowed = 1
else
	local elapsed = math.max(0, now - last)
	tokens = math.min(capacity, tokens + elapsed * rate)
	if tokens >= 1 then
		tokens = tokens - 1
		allowed = 1
	end
end

redis.call("HSET", KEYS[1], "tokens", tostring(tokens), "last_refill", tostring(now))
redis.call("PEXPIRE", KEYS[1], ttl)
return {allowed, tostring(tokens)}
`)

// RedisStore keeps buckets in Redis so every replica shares them.
type RedisStore struct {
	client redis.UniversalClient
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore builds a Redis-backed store.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Take(ctx context.Context, key string, tier Tier, now time.Time) (bool, float64, error) {
	// A bucket idle for a full refill is indistinguishable from a new one.
	expiry := int64(math.Ceil(tier.Capacity/tier.RefillPerSecond*1000)) + 1000

	res, err := takeScript.Run(ctx, s.client, []string{key},
		tier.Capacity,
		tier.RefillPerSecond/1000,
		now.UnixMilli(),
		expiry,
	).Slice()
	if err != nil {
		return false, 0, err
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("rate limit script: unexpected reply %v", res)
	}

	allowed, ok := res[0].(int64)
	if !ok {
		return false, 0, fmt.Errorf("rate limit script: unexpected allowed %T", res[0])
	}
	raw, ok := res[1].(string)
	if !ok {
		return false, 0, fmt.Errorf("rate limit script: unexpected tokens %T", res[1])
	}
	tokens, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return false, 0, fmt.Errorf("rate limit script: %w", err)
	}
	return allowed == 1, tokens, nil
}
