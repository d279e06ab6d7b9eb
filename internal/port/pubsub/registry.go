package pubsub

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"sync"
)

// ErrUnsupportedScheme is returned by Dial when no backend is registered for
// the URL scheme.
var ErrUnsupportedScheme = errors.New("pubsub: unsupported url scheme")

// Factory connects to a backend described by rawURL.
type Factory func(ctx context.Context, rawURL string) (PubSub, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register makes a backend factory available for a URL scheme.
// It is typically called from an init() function in the adapter package.
func Register(scheme string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := factories[scheme]; exists {
		panic(fmt.Sprintf("pubsub: duplicate registration for %q", scheme))
	}
	factories[scheme] = factory
}

// Dial connects to the backend registered for the scheme of rawURL.
func Dial(ctx context.Context, rawURL string) (PubSub, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("pubsub: parse url: %w", err)
	}

	mu.RLock()
	factory, ok := factories[u.Scheme]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	return factory(ctx, rawURL)
}

// Available returns the registered schemes in sorted order.
func Available() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
