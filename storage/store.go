package storage

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is the key-value capability every component is built on: string
// get/set with TTL, atomic increment, set-if-absent, set membership and
// server-side script execution.
type Store interface {
	// Get returns the raw value at key, or ErrNotFound. An empty, non-nil
	// slice means the key holds the empty string.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set writes value at key. A ttl of zero means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetNX writes value only if key does not exist and reports whether it did.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Incr atomically increments the integer at key and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)

	// Delete removes keys.
	Delete(ctx context.Context, keys ...string) error

	// SIsMember reports whether member is in the set at key.
	SIsMember(ctx context.Context, key, member string) (bool, error)

	// Run executes a server-side script atomically.
	Run(ctx context.Context, script *redis.Script, keys []string, args ...any) *redis.Cmd

	// Close closes the store connection.
	Close() error
}
