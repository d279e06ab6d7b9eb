// Package ristretto implements the cache port using dgraph-io/ristretto as an
// in-process, cost-bounded id window.
package ristretto

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/orderline/eventgate/internal/port/cache"
)

// Window is a ristretto-backed cache.Window. Keys cost their byte length and
// nothing else.
type Window struct {
	mu sync.Mutex
	c  *ristretto.Cache[string, struct{}]
}

var _ cache.Window = (*Window)(nil)

// New creates a window bounded to roughly maxCostBytes of key material.
func New(maxCostBytes int64) (*Window, error) {
	if maxCostBytes <= 0 {
		return nil, fmt.Errorf("ristretto: max cost must be > 0, got %d", maxCostBytes)
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, struct{}]{
		NumCounters: max(maxCostBytes/36*10, 1000), // ~10x expected uuid keys
		MaxCost:     maxCostBytes,
		BufferItems: 64,

		// Budget counts key bytes only, not ristretto's per-item overhead.
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("ristretto: %w", err)
	}
	return &Window{c: c}, nil
}

// MarkSeen reports whether key is already in the window and inserts it if
// not. The check and insert are serialized so concurrent callers agree on
// which of them saw the key first.
func (w *Window) MarkSeen(_ context.Context, key string, ttl time.Duration) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, found := w.c.Get(key); found {
		return true, nil
	}
	w.c.SetWithTTL(key, struct{}{}, int64(len(key)), ttl)
	// Sets are buffered; wait so the next Get observes this one.
	w.c.Wait()
	return false, nil
}

// Close shuts down the cache and releases resources.
func (w *Window) Close() {
	w.c.Close()
}
