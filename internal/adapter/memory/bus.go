// Package memory implements the pubsub port with an in-process bus. Several
// gateways in one process (or one test) share a Bus the way separate
// processes share a NATS or Redis server.
package memory

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/orderline/eventgate/internal/port/pubsub"
)

// ErrDisconnected is returned while the bus simulates a backend outage.
var ErrDisconnected = errors.New("memory: bus disconnected")

// Bus routes published messages to every subscriber of a channel.
type Bus struct {
	mu        sync.RWMutex
	subs      map[string]map[*subscription]struct{}
	down      atomic.Bool
	published atomic.Int64
	delivered atomic.Int64
}

type subscription struct {
	client  *Client
	handler pubsub.Handler
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[*subscription]struct{})}
}

// Client returns a new connection to the bus.
func (b *Bus) Client() *Client {
	return &Client{bus: b, subs: make(map[*subscription]string)}
}

// SetDown toggles a simulated outage. While down, Publish fails and nothing
// is delivered.
func (b *Bus) SetDown(down bool) {
	b.down.Store(down)
}

// Published returns the number of successful Publish calls on the bus.
func (b *Bus) Published() int64 {
	return b.published.Load()
}

// Delivered returns the number of handler invocations.
func (b *Bus) Delivered() int64 {
	return b.delivered.Load()
}

// SubscriberCount returns the number of live subscriptions on channel.
func (b *Bus) SubscriberCount(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[channel])
}

func (b *Bus) publish(ctx context.Context, channel string, data []byte) error {
	if b.down.Load() {
		return ErrDisconnected
	}
	b.published.Add(1)

	b.mu.RLock()
	targets := make([]*subscription, 0, len(b.subs[channel]))
	for s := range b.subs[channel] {
		targets = append(targets, s)
	}
	b.mu.RUnlock()

	for _, s := range targets {
		// Each subscriber gets its own copy, as it would off the wire.
		buf := make([]byte, len(data))
		copy(buf, data)
		b.delivered.Add(1)
		if err := s.handler(ctx, channel, buf); err != nil {
			slog.Error("memory bus handler failed", "channel", channel, "error", err)
		}
	}
	return nil
}

func (b *Bus) add(channel string, s *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.subs[channel]
	if !ok {
		set = make(map[*subscription]struct{})
		b.subs[channel] = set
	}
	set[s] = struct{}{}
}

func (b *Bus) drop(channel string, s *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.subs[channel]
	if !ok {
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(b.subs, channel)
	}
}

// Client is one connection to a Bus. It implements pubsub.PubSub.
type Client struct {
	bus *Bus

	mu     sync.Mutex
	closed bool
	subs   map[*subscription]string
}

var _ pubsub.PubSub = (*Client)(nil)

// Publish sends data to every subscriber of channel, this client included.
func (c *Client) Publish(ctx context.Context, channel string, data []byte) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return pubsub.ErrClosed
	}
	return c.bus.publish(ctx, channel, data)
}

// Subscribe registers handler for channel.
func (c *Client) Subscribe(_ context.Context, channel string, handler pubsub.Handler) (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, pubsub.ErrClosed
	}

	s := &subscription{client: c, handler: handler}
	c.subs[s] = channel
	c.bus.add(channel, s)

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, s)
			c.mu.Unlock()
			c.bus.drop(channel, s)
		})
	}, nil
}

// Close drops every subscription held by this client. It is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	for s, channel := range c.subs {
		c.bus.drop(channel, s)
	}
	c.subs = nil
	return nil
}

// IsConnected reports whether the client is open and the bus is up.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && !c.bus.down.Load()
}

var (
	namedMu sync.Mutex
	named   = make(map[string]*Bus)
)

// Named returns the process-wide bus registered under name, creating it on
// first use. memory://<name> bridge URLs resolve through it.
func Named(name string) *Bus {
	namedMu.Lock()
	defer namedMu.Unlock()
	b, ok := named[name]
	if !ok {
		b = NewBus()
		named[name] = b
	}
	return b
}

func init() {
	pubsub.Register("memory", func(_ context.Context, rawURL string) (pubsub.PubSub, error) {
		u, err := url.Parse(rawURL)
		if err != nil {
			return nil, err
		}
		return Named(u.Host).Client(), nil
	})
}
