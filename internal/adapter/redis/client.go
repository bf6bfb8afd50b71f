// Package redis implements the key-value store and atomic script ports using
// a shared Redis instance.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nimbuscrm/nimbus/internal/config"
	"github.com/nimbuscrm/nimbus/internal/resilience"
)

// Client wraps go-redis with the narrow surface the core needs. Every call
// applies the configured per-operation timeout so a slow store cannot stall
// the request path, and runs behind a shared breaker so a dead store is
// rejected locally instead of timing out on every request.
type Client struct {
	rdb       *redis.Client
	opTimeout time.Duration
	breaker   *resilience.Breaker
}

// Connect creates a Client and verifies the connection.
func Connect(ctx context.Context, cfg config.Redis) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{
		rdb:       rdb,
		opTimeout: cfg.OpTimeout,
		breaker:   resilience.NewBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown),
	}, nil
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping reports whether the store is reachable. It bypasses the breaker so
// health probes observe the real state of the connection.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.opTimeout)
}

// Get returns the string value at key. ok is false on a clean miss.
func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var (
		val string
		ok  bool
	)
	err := c.breaker.Do(func() error {
		v, err := c.rdb.Get(ctx, key).Result()
		if err != nil {
			// A miss is a healthy answer; it must not count against
			// the breaker.
			if errors.Is(err, redis.Nil) {
				return nil
			}
			return err
		}
		val, ok = v, true
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, ok, nil
}

// Set stores value at key with the given TTL. A non-positive TTL persists
// the key.
func (c *Client) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	err := c.breaker.Do(func() error {
		return c.rdb.Set(ctx, key, value, ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (c *Client) Delete(ctx context.Context, key string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	err := c.breaker.Do(func() error {
		return c.rdb.Del(ctx, key).Err()
	})
	if err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// AddMember adds member to the named set.
func (c *Client) AddMember(ctx context.Context, set, member string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	err := c.breaker.Do(func() error {
		return c.rdb.SAdd(ctx, set, member).Err()
	})
	if err != nil {
		return fmt.Errorf("redis sadd %s: %w", set, err)
	}
	return nil
}

// IsMember reports set membership.
func (c *Client) IsMember(ctx context.Context, set, member string) (bool, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var ok bool
	err := c.breaker.Do(func() error {
		var err error
		ok, err = c.rdb.SIsMember(ctx, set, member).Result()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("redis sismember %s: %w", set, err)
	}
	return ok, nil
}

// RemoveMember removes member from the named set.
func (c *Client) RemoveMember(ctx context.Context, set, member string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	err := c.breaker.Do(func() error {
		return c.rdb.SRem(ctx, set, member).Err()
	})
	if err != nil {
		return fmt.Errorf("redis srem %s: %w", set, err)
	}
	return nil
}

// Incr increments key and, when this call created the key, applies ttl so
// the counter behaves as a sliding window.
func (c *Client) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var n int64
	err := c.breaker.Do(func() error {
		var err error
		n, err = c.rdb.Incr(ctx, key).Result()
		if err != nil {
			return err
		}
		if n == 1 && ttl > 0 {
			return c.rdb.Expire(ctx, key, ttl).Err()
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis incr %s: %w", key, err)
	}
	return n, nil
}
