package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates the key is absent or its TTL has elapsed.
	ErrNotFound = errors.New("store: key not found")
)

// Store is the key-value capability the service persists all shared state
// through: OAuth state and token records, latest ticks, bounded tick history,
// and service health. Each key has exactly one conceptual writer; the store
// only needs to provide atomic single-key operations.
type Store interface {
	// Set writes value under key with the given TTL. A non-positive TTL
	// stores the value without expiration.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// Scan returns all keys beginning with prefix.
	Scan(ctx context.Context, prefix string) ([]string, error)
	// PushTrim prepends value to the list at key, trims the list to at most
	// max entries (oldest dropped), and refreshes the list TTL.
	PushTrim(ctx context.Context, key, value string, max int, ttl time.Duration) error
	// Range returns list entries between start and stop inclusive, newest
	// first. Indices follow Redis LRANGE semantics: negative values count
	// back from the tail, so Range(key, 0, -1) returns the whole list.
	Range(ctx context.Context, key string, start, stop int64) ([]string, error)
	// Close releases underlying connections.
	Close() error
}
