// Package kv defines the port interfaces for the shared key-value store and
// its server-side atomic scripts.
package kv

import (
	"context"
	"time"
)

// Store is the minimal wire surface the core needs from the shared key-value
// store: string get/set-with-ttl/delete, named-set membership, and a counter
// primitive for the login-failure window.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	AddMember(ctx context.Context, set, member string) error
	IsMember(ctx context.Context, set, member string) (bool, error)
	RemoveMember(ctx context.Context, set, member string) error

	// Incr increments key by one and applies ttl only when the increment
	// created the key, giving a sliding-window counter.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// ScriptRunner invokes a pre-registered atomic script by logical name. The
// script executes as one indivisible unit in the store; implementations
// re-resolve the script handle when the store reports it unknown.
type ScriptRunner interface {
	Run(ctx context.Context, name string, keys []string, args ...any) (any, error)
}
