// Package approvalstore provides the key-value backing store for pending
// approvals: set-with-expiry, get, prefix scan, and a compare-and-swap
// primitive so two concurrent decisions on the same approval can't both win.
package approvalstore

import (
	"context"
	"time"
)

// KVStore is the storage surface internal/approvalmanager depends on.
// Values are opaque byte payloads (JSON-encoded approval records).
type KVStore interface {
	// SetEX stores value under key with the given time-to-live.
	SetEX(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Get returns the value stored under key, or ok=false if absent or expired.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	// Scan returns every key currently stored with the given prefix.
	Scan(ctx context.Context, prefix string) ([]string, error)
	// CAS atomically replaces the value at key with newValue only if the
	// current value equals expected, preserving the remaining TTL. It
	// reports whether the swap happened.
	CAS(ctx context.Context, key string, expected, newValue []byte, ttl time.Duration) (swapped bool, err error)
	// Delete removes key, if present.
	Delete(ctx context.Context, key string) error
}
