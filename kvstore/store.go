package kvstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when no value exists under the key.
var ErrNotFound = errors.New("key not found")

// ErrStoreUnavailable wraps transport-level failures of the backing store.
var ErrStoreUnavailable = errors.New("store unavailable")

// Store is the persistent key-value contract shared by every core component.
//
// All calls are bounded by the caller's context; implementations must not
// block past cancellation. A ttl of zero means no expiry.
type Store interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put writes value under key, replacing any existing value.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// PutIfAbsent writes value only when no value exists under key.
	// Returns true when this call created the entry.
	PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// CompareAndSwap replaces the value under key only when the current
	// value is byte-identical to old. Returns false when the key is absent
	// or holds a different value (a concurrent mutation won).
	CompareAndSwap(ctx context.Context, key string, old, new []byte, ttl time.Duration) (bool, error)

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns up to count keys matching prefix, starting from cursor.
	// A zero next cursor means the listing is complete.
	List(ctx context.Context, prefix string, cursor uint64, count int64) (keys []string, next uint64, err error)
}
