// Package redis implements the pubsub port using Redis PUBLISH/SUBSCRIBE.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/orderline/eventgate/internal/port/pubsub"
)

const pingTimeout = 3 * time.Second

// PubSub implements pubsub.PubSub. Publishes go through the pooled client;
// every subscription holds its own dedicated connection, which go-redis
// re-establishes and re-subscribes after a network failure.
type PubSub struct {
	client  *redis.Client
	healthy atomic.Bool

	mu     sync.Mutex
	closed bool
	subs   map[*redis.PubSub]struct{}
	wg     sync.WaitGroup
}

var _ pubsub.PubSub = (*PubSub)(nil)

// Connect parses a redis:// or rediss:// URL and verifies the server answers.
func Connect(ctx context.Context, rawURL string) (*PubSub, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	return connect(ctx, redis.NewClient(opts))
}

func connect(ctx context.Context, client *redis.Client) (*PubSub, error) {
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	p := &PubSub{client: client, subs: make(map[*redis.PubSub]struct{})}
	p.healthy.Store(true)
	slog.Info("redis connected", "addr", client.Options().Addr)
	return p, nil
}

// Publish sends data on the given channel.
func (p *PubSub) Publish(ctx context.Context, channel string, data []byte) error {
	if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
		p.healthy.Store(false)
		return fmt.Errorf("redis publish %s: %w", channel, err)
	}
	p.healthy.Store(true)
	return nil
}

// Subscribe registers a handler for messages on the given channel. It waits
// for the server's subscription confirmation before returning.
func (p *PubSub) Subscribe(ctx context.Context, channel string, handler pubsub.Handler) (func(), error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, pubsub.ErrClosed
	}
	p.mu.Unlock()

	ps := p.client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", channel, err)
	}

	p.mu.Lock()
	p.subs[ps] = struct{}{}
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for msg := range ps.Channel() {
			if err := handler(context.Background(), msg.Channel, []byte(msg.Payload)); err != nil {
				slog.Error("redis handler failed", "channel", msg.Channel, "error", err)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subs, ps)
			p.mu.Unlock()
			if err := ps.Close(); err != nil {
				slog.Debug("redis unsubscribe failed", "channel", channel, "error", err)
			}
		})
	}, nil
}

// Close unsubscribes everything, waits for handler goroutines and closes
// the client pool.
func (p *PubSub) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	subs := p.subs
	p.subs = nil
	p.mu.Unlock()

	for ps := range subs {
		_ = ps.Close()
	}
	p.wg.Wait()
	p.healthy.Store(false)

	if err := p.client.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}

// IsConnected reports whether the last publish or ping succeeded.
func (p *PubSub) IsConnected() bool {
	return p.healthy.Load()
}
