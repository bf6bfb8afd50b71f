package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Logical script names as known to the rest of the core.
const (
	ScriptTokenBucket = "token_bucket"
	ScriptDualBucket  = "dual_bucket"
)

// tokenBucketSrc admits or rejects one request in a single round trip.
//
// KEYS[1] rate-limit bucket (hash: tokens, ts)
// KEYS[2] blacklist set
// KEYS[3] aux key reserved for per-bucket overrides (unused fields ignored)
// ARGV:   burst, refill/sec, cost, now (epoch seconds), identity type, identity value
//
// Returns {status, remaining, retry_after} with status 1=allowed,
// 0=rate-limited, -1=blacklisted. A blacklist hit never mutates the bucket.
const tokenBucketSrc = `
if redis.call('SISMEMBER', KEYS[2], ARGV[6]) == 1 then
  return {-1, 0, 0}
end
local burst = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])
local state = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local tokens = tonumber(state[1])
local ts = tonumber(state[2])
if tokens == nil or ts == nil then
  tokens = burst
  ts = now
end
local elapsed = now - ts
if elapsed < 0 then
  elapsed = 0
end
tokens = math.min(burst, tokens + elapsed * rate)
local ttl = math.ceil(burst / rate) * 2
if tokens >= cost then
  tokens = tokens - cost
  redis.call('HSET', KEYS[1], 'tokens', tokens, 'ts', now)
  redis.call('EXPIRE', KEYS[1], ttl)
  return {1, math.floor(tokens), 0}
end
redis.call('HSET', KEYS[1], 'tokens', tokens, 'ts', now)
redis.call('EXPIRE', KEYS[1], ttl)
local wait = math.ceil((cost - tokens) / rate)
return {0, math.floor(tokens), wait}
`

// dualBucketSrc probes the rotating membership pair and records the item on
// a miss.
//
// KEYS[1] current bucket set
// KEYS[2] previous bucket set
// ARGV:   item, ttl seconds for the current bucket
//
// Returns 1 when the item was already in either bucket (no mutation),
// 0 otherwise after adding it to current and refreshing current's TTL.
const dualBucketSrc = `
if redis.call('SISMEMBER', KEYS[1], ARGV[1]) == 1 then
  return 1
end
if redis.call('SISMEMBER', KEYS[2], ARGV[1]) == 1 then
  return 1
end
redis.call('SADD', KEYS[1], ARGV[1])
redis.call('EXPIRE', KEYS[1], ARGV[2])
return 0
`

// Registry holds the name-to-script map. go-redis invokes by SHA and falls
// back to a full EVAL reload when the server no longer knows the hash, which
// covers script-cache flushes and failovers.
type Registry struct {
	client  *Client
	scripts map[string]*redis.Script
}

// NewRegistry builds the script library for the given client. Script calls
// share the client's breaker and per-operation timeout.
func NewRegistry(c *Client) *Registry {
	return &Registry{
		client: c,
		scripts: map[string]*redis.Script{
			ScriptTokenBucket: redis.NewScript(tokenBucketSrc),
			ScriptDualBucket:  redis.NewScript(dualBucketSrc),
		},
	}
}

// Load pushes every script to the server so the first request does not pay
// the EVAL round trip.
func (r *Registry) Load(ctx context.Context) error {
	for name, s := range r.scripts {
		if err := s.Load(ctx, r.client.rdb).Err(); err != nil {
			return fmt.Errorf("load script %s: %w", name, err)
		}
	}
	return nil
}

// Run invokes a registered script by logical name.
func (r *Registry) Run(ctx context.Context, name string, keys []string, args ...any) (any, error) {
	s, ok := r.scripts[name]
	if !ok {
		return nil, fmt.Errorf("unknown script %q", name)
	}

	ctx, cancel := r.client.withTimeout(ctx)
	defer cancel()

	var res any
	err := r.client.breaker.Do(func() error {
		var err error
		res, err = s.Run(ctx, r.client.rdb, keys, args...).Result()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("script %s: %w", name, err)
	}
	return res, nil
}
