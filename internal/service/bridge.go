package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/orderline/eventgate/internal/adapter/otel"
	"github.com/orderline/eventgate/internal/logger"
	"github.com/orderline/eventgate/internal/port/cache"
	"github.com/orderline/eventgate/internal/port/pubsub"
	"github.com/orderline/eventgate/internal/resilience"
)

const (
	defaultQueueSize  = 1024
	defaultDedupTTL   = time.Minute
	publishTimeout    = 5 * time.Second
	dropLogInterval   = 1000
	closeDrainTimeout = 2 * time.Second
)

// LocalDeliverer is the process-local registry surface. It is the only way
// the gateway and the bridge reach websocket connections.
type LocalDeliverer interface {
	BroadcastAllLocal(ctx context.Context, data []byte) int
	BroadcastTenantLocal(ctx context.Context, tenantID string, data []byte) int
}

// BridgeConfig configures a Bridge. An empty URL disables it.
type BridgeConfig struct {
	URL           string
	ChannelPrefix string
	QueueSize     int
	DedupTTL      time.Duration
	InstanceID    string

	Breaker *resilience.Breaker
	Window  cache.Window
	Metrics *otel.Metrics

	// Dial connects to the backend; defaults to pubsub.Dial.
	Dial func(ctx context.Context, rawURL string) (pubsub.PubSub, error)
}

type outbound struct {
	channel   string
	data      []byte
	requestID string
}

// Bridge propagates local broadcasts to other gateway processes through a
// shared pub/sub backend and delivers their broadcasts to the local registry.
// Inbound messages are only ever delivered locally, never published again.
type Bridge struct {
	cfg      BridgeConfig
	local    LocalDeliverer
	channels pubsub.Channels

	dialMu sync.Mutex // serializes connect attempts
	mu     sync.Mutex // guards ps and unsubs
	ps     pubsub.PubSub
	unsubs []func()

	queue     chan outbound
	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	closeOnce sync.Once
	closed    atomic.Bool
	degraded  atomic.Bool
	dropped   atomic.Int64
}

// NewBridge creates a bridge delivering inbound messages to local.
func NewBridge(cfg BridgeConfig, local LocalDeliverer) *Bridge {
	if cfg.QueueSize < 1 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = defaultDedupTTL
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}
	if cfg.Breaker == nil {
		cfg.Breaker = resilience.NewBreaker(5, 30*time.Second)
	}
	if cfg.Window == nil {
		cfg.Window = cache.Nop{}
	}
	if cfg.Dial == nil {
		cfg.Dial = pubsub.Dial
	}

	b := &Bridge{
		cfg:      cfg,
		local:    local,
		channels: pubsub.NewChannels(cfg.ChannelPrefix),
		queue:    make(chan outbound, cfg.QueueSize),
		done:     make(chan struct{}),
	}
	cfg.Breaker.OnStateChange(func(from, to resilience.State) {
		slog.Debug("bridge breaker state changed", "from", from.String(), "to", to.String())
	})
	return b
}

// Enabled reports whether a backend URL is configured.
func (b *Bridge) Enabled() bool {
	return b.cfg.URL != ""
}

// Start begins the publish worker and makes a first connection attempt.
// A failed attempt is not fatal: the bridge keeps retrying on publish, at
// most once per breaker timeout. Without a URL it only logs that delivery
// is local-only.
func (b *Bridge) Start(ctx context.Context) {
	b.startOnce.Do(func() {
		if !b.Enabled() {
			slog.Info("bridge disabled, local-only delivery")
			return
		}

		b.wg.Add(1)
		go b.run()

		if _, err := b.connect(ctx); err != nil {
			b.markDegraded(err)
		}
	})
}

// Available reports whether publishes are currently being accepted. It is
// false when the bridge is disabled, closed, or its breaker is open.
func (b *Bridge) Available() bool {
	if !b.Enabled() || b.closed.Load() {
		return false
	}
	return b.cfg.Breaker.State() != resilience.StateOpen
}

// Connected reports whether the backend link is up.
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	ps := b.ps
	b.mu.Unlock()
	return ps != nil && ps.IsConnected()
}

// Status summarizes the bridge for health reporting.
func (b *Bridge) Status() string {
	switch {
	case !b.Enabled():
		return "disabled"
	case b.closed.Load():
		return "closed"
	case b.Connected() && !b.degraded.Load():
		return "connected"
	default:
		return "degraded"
	}
}

// Dropped returns the number of publishes discarded because the queue was full.
func (b *Bridge) Dropped() int64 {
	return b.dropped.Load()
}

// PublishAll queues payload for the broadcast-all channel.
func (b *Bridge) PublishAll(ctx context.Context, payload []byte) {
	env := pubsub.AllEnvelope{
		ID:      uuid.NewString(),
		Origin:  b.cfg.InstanceID,
		Message: json.RawMessage(payload),
	}
	b.enqueue(ctx, b.channels.All, env)
}

// PublishTenant queues payload for the broadcast-tenant channel.
func (b *Bridge) PublishTenant(ctx context.Context, tenantID string, payload []byte) {
	env := pubsub.TenantEnvelope{
		ID:       uuid.NewString(),
		Origin:   b.cfg.InstanceID,
		TenantID: tenantID,
		Message:  json.RawMessage(payload),
	}
	b.enqueue(logger.WithTenantID(ctx, tenantID), b.channels.Tenant, env)
}

func (b *Bridge) enqueue(ctx context.Context, channel string, env any) {
	if !b.Enabled() || b.closed.Load() {
		return
	}

	data, err := json.Marshal(env)
	if err != nil {
		slog.Error("bridge envelope marshal failed", "channel", channel, "error", err)
		return
	}

	out := outbound{channel: channel, data: data, requestID: logger.RequestID(ctx)}
	select {
	case b.queue <- out:
	default:
		n := b.dropped.Add(1)
		if b.cfg.Metrics != nil {
			b.cfg.Metrics.BridgeDropped.Add(ctx, 1)
		}
		if n == 1 || n%dropLogInterval == 0 {
			slog.WarnContext(ctx, "bridge publish queue full, dropping", "channel", channel, "dropped_total", n)
		}
	}
}

// run is the single publish worker; it preserves per-process publish order.
func (b *Bridge) run() {
	defer b.wg.Done()
	for {
		select {
		case out := <-b.queue:
			b.publish(out)
		case <-b.done:
			b.drain()
			return
		}
	}
}

// drain publishes whatever is still queued at shutdown, bounded by
// closeDrainTimeout.
func (b *Bridge) drain() {
	deadline := time.Now().Add(closeDrainTimeout)
	for time.Now().Before(deadline) {
		select {
		case out := <-b.queue:
			b.publish(out)
		default:
			return
		}
	}
}

func (b *Bridge) publish(out outbound) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if out.requestID != "" {
		ctx = logger.WithRequestID(ctx, out.requestID)
	}

	ps, err := b.connect(ctx)
	if err == nil {
		err = b.cfg.Breaker.Execute(func() error {
			return ps.Publish(ctx, out.channel, out.data)
		})
	}
	if err != nil {
		if b.cfg.Metrics != nil {
			b.cfg.Metrics.BridgeFailed.Add(ctx, 1)
		}
		b.markDegraded(err)
		return
	}

	if b.cfg.Metrics != nil {
		b.cfg.Metrics.BridgePublished.Add(ctx, 1)
	}
	b.markHealthy()
}

// connect returns the live backend, dialing and subscribing on first use.
// Both subscriptions are in place before connect reports success.
func (b *Bridge) connect(ctx context.Context) (pubsub.PubSub, error) {
	b.dialMu.Lock()
	defer b.dialMu.Unlock()

	b.mu.Lock()
	current := b.ps
	b.mu.Unlock()
	if current != nil {
		return current, nil
	}
	if b.closed.Load() {
		return nil, pubsub.ErrClosed
	}

	var ps pubsub.PubSub
	var unsubs []func()
	err := b.cfg.Breaker.Execute(func() error {
		var err error
		ps, err = b.cfg.Dial(ctx, b.cfg.URL)
		if err != nil {
			return err
		}
		for _, ch := range []string{b.channels.All, b.channels.Tenant} {
			cancel, err := ps.Subscribe(ctx, ch, b.handleInbound)
			if err != nil {
				for _, u := range unsubs {
					u()
				}
				_ = ps.Close()
				return fmt.Errorf("subscribe %s: %w", ch, err)
			}
			unsubs = append(unsubs, cancel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("bridge connect: %w", err)
	}

	b.mu.Lock()
	b.ps = ps
	b.unsubs = unsubs
	b.mu.Unlock()
	slog.Info("bridge connected", "channels", []string{b.channels.All, b.channels.Tenant}, "instance", b.cfg.InstanceID)
	return ps, nil
}

func (b *Bridge) markDegraded(err error) {
	if b.degraded.CompareAndSwap(false, true) {
		slog.Warn("bridge degraded, delivering to local connections only", "error", err)
	}
}

func (b *Bridge) markHealthy() {
	if b.degraded.CompareAndSwap(true, false) {
		slog.Info("bridge recovered")
	}
}

// handleInbound delivers a message from another process to local
// connections. Messages from this process and repeats of an id seen within
// the dedup window are skipped.
func (b *Bridge) handleInbound(ctx context.Context, channel string, data []byte) error {
	switch channel {
	case b.channels.All:
		env, err := pubsub.DecodeAll(data)
		if err != nil {
			return err
		}
		if b.skip(ctx, env.ID, env.Origin) {
			return nil
		}
		ctx, span := otel.StartBridgeSpan(ctx, channel, env.ID)
		defer span.End()
		n := b.local.BroadcastAllLocal(ctx, env.Message)
		b.recordInbound(ctx, n)
		return nil

	case b.channels.Tenant:
		env, err := pubsub.DecodeTenant(data)
		if err != nil {
			return err
		}
		if b.skip(ctx, env.ID, env.Origin) {
			return nil
		}
		ctx = logger.WithTenantID(ctx, env.TenantID)
		ctx, span := otel.StartBridgeSpan(ctx, channel, env.ID)
		defer span.End()
		n := b.local.BroadcastTenantLocal(ctx, env.TenantID, env.Message)
		b.recordInbound(ctx, n)
		return nil
	}
	return fmt.Errorf("bridge: unexpected channel %q", channel)
}

func (b *Bridge) skip(ctx context.Context, id, origin string) bool {
	if origin == b.cfg.InstanceID {
		b.recordDuplicate(ctx)
		return true
	}
	if id == "" {
		return false
	}
	seen, err := b.cfg.Window.MarkSeen(ctx, id, b.cfg.DedupTTL)
	if err != nil {
		slog.DebugContext(ctx, "bridge dedup check failed", "id", id, "error", err)
		return false
	}
	if seen {
		b.recordDuplicate(ctx)
	}
	return seen
}

func (b *Bridge) recordInbound(ctx context.Context, delivered int) {
	if b.cfg.Metrics == nil {
		return
	}
	b.cfg.Metrics.BridgeReceived.Add(ctx, 1)
	b.cfg.Metrics.Deliveries.Add(ctx, int64(delivered))
}

func (b *Bridge) recordDuplicate(ctx context.Context) {
	if b.cfg.Metrics != nil {
		b.cfg.Metrics.BridgeDuplicate.Add(ctx, 1)
	}
}

// Close stops the worker after draining the queue, cancels both
// subscriptions and closes the backend. Safe to call more than once.
func (b *Bridge) Close() error {
	var err error
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		close(b.done)
		b.wg.Wait()

		b.dialMu.Lock()
		defer b.dialMu.Unlock()
		b.mu.Lock()
		ps, unsubs := b.ps, b.unsubs
		b.ps, b.unsubs = nil, nil
		b.mu.Unlock()

		for _, u := range unsubs {
			u()
		}
		if ps != nil {
			if cerr := ps.Close(); cerr != nil && !errors.Is(cerr, pubsub.ErrClosed) {
				err = fmt.Errorf("bridge close: %w", cerr)
			}
		}
		if dropped := b.dropped.Load(); dropped > 0 {
			slog.Info("bridge closed", "dropped_total", dropped)
		}
	})
	return err
}
