// Package cache defines the port for the bridge's duplicate-suppression
// window: a bounded, expiring set of envelope ids.
package cache

import (
	"context"
	"time"
)

// Window remembers keys for a limited time.
type Window interface {
	// MarkSeen records key for ttl and reports whether it was already
	// present. Only the first call for a key within ttl returns false.
	MarkSeen(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Nop never reports a key as seen. Used when deduplication is disabled.
type Nop struct{}

// MarkSeen always returns false.
func (Nop) MarkSeen(context.Context, string, time.Duration) (bool, error) { return false, nil }
