// Package cache provides the two-tier cache behind the gateway's stateful
// stages: a Redis-backed remote tier when configured and an in-process TTL
// store that is always available as the fallback tier.
package cache

import (
	"context"
	"time"
)

// Store is the contract shared by both cache tiers.
//
// Get returns ok=false on a miss or an expired entry. Set overwrites any
// prior entry unconditionally; a non-positive TTL means the entry is already
// expired. Increment atomically bumps an integer counter, creating it with
// the given TTL on first use, and returns the new count.
type Store interface {
	Get(ctx context.Context, key string) (Value, bool, error)
	Set(ctx context.Context, key string, value Value, ttl time.Duration) error
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
}
