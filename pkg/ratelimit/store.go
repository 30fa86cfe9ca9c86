// Package ratelimit implements the gateway's three-tier fixed-window
// admission control: a shared key-value store tracks per-window counters,
// and a Limiter cascades global -> per-caller -> per-key checks over it.
package ratelimit

import (
	"context"
	"time"
)

// Store is the atomic-increment contract the limiter needs from a shared
// key-value backend. Implementations must make IncrementAndGetTTL atomic
// against concurrent callers across the whole fleet, not just the process.
type Store interface {
	// IncrementAndGetTTL atomically increments key and returns the resulting
	// count plus the key's current TTL. A TTL <= 0 means the key has no
	// expiry yet (it was just created by this call).
	IncrementAndGetTTL(ctx context.Context, key string, window time.Duration) (count int64, ttl time.Duration, err error)
	// SetExpiry attaches a TTL to a key that currently has none.
	SetExpiry(ctx context.Context, key string, window time.Duration) error
	// Peek reads a bucket's current count and TTL without incrementing it.
	Peek(ctx context.Context, key string) (count int64, ttl time.Duration, err error)
	// KeysMatching lists every key with the given prefix.
	KeysMatching(ctx context.Context, prefix string) ([]string, error)
	// Delete removes the given keys; missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error
}
