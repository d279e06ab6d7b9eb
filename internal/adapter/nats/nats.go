// Package nats implements the pubsub port using core NATS subjects.
// Broadcast traffic is fire-and-forget, so JetStream persistence is not used.
package nats

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/orderline/eventgate/internal/logger"
	"github.com/orderline/eventgate/internal/port/pubsub"
)

const (
	clientName      = "eventgate"
	reconnectWait   = 2 * time.Second
	flushTimeout    = 5 * time.Second
	headerRequestID = "X-Request-ID"
)

// PubSub implements pubsub.PubSub on a single NATS connection. Reconnection
// is left to the nats.go client (unlimited attempts).
type PubSub struct {
	nc *nats.Conn

	mu   sync.Mutex
	subs map[*nats.Subscription]struct{}
}

var _ pubsub.PubSub = (*PubSub)(nil)

// Connect establishes a connection to NATS. Extra options are appended to the
// defaults.
func Connect(_ context.Context, url string, opts ...nats.Option) (*PubSub, error) {
	base := []nats.Option{
		nats.Name(clientName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(reconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			slog.Info("nats connection closed")
		}),
	}

	nc, err := nats.Connect(url, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	slog.Info("nats connected", "url", nc.ConnectedUrl())
	return &PubSub{nc: nc, subs: make(map[*nats.Subscription]struct{})}, nil
}

// Publish sends data on the given subject. The request ID in ctx, if any,
// travels as a message header.
func (p *PubSub) Publish(ctx context.Context, channel string, data []byte) error {
	msg := &nats.Msg{Subject: channel, Data: data}
	if id := logger.RequestID(ctx); id != "" {
		msg.Header = nats.Header{}
		msg.Header.Set(headerRequestID, id)
	}
	if err := p.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("nats publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe registers a handler for messages on the given subject. The
// subscription is flushed to the server before Subscribe returns.
func (p *PubSub) Subscribe(_ context.Context, channel string, handler pubsub.Handler) (func(), error) {
	sub, err := p.nc.Subscribe(channel, func(msg *nats.Msg) {
		ctx := context.Background()
		if id := msg.Header.Get(headerRequestID); id != "" {
			ctx = logger.WithRequestID(ctx, id)
		}
		if err := handler(ctx, msg.Subject, msg.Data); err != nil {
			slog.Error("nats handler failed", "subject", msg.Subject, "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", channel, err)
	}
	if err := p.nc.FlushTimeout(flushTimeout); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("nats flush %s: %w", channel, err)
	}

	p.mu.Lock()
	p.subs[sub] = struct{}{}
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subs, sub)
			p.mu.Unlock()
			if err := sub.Unsubscribe(); err != nil {
				slog.Debug("nats unsubscribe failed", "subject", channel, "error", err)
			}
		})
	}, nil
}

// Close shuts down the NATS connection.
func (p *PubSub) Close() error {
	p.nc.Close()
	return nil
}

// IsConnected reports whether the NATS connection is currently active.
func (p *PubSub) IsConnected() bool {
	return p.nc.IsConnected()
}

// SubscriptionCount returns the number of live subscriptions.
func (p *PubSub) SubscriptionCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}
