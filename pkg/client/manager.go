// Package client is the consumer side of the gateway: it keeps one websocket
// open, re-sends the tenant handshake after every reconnect and hands each
// received frame to a caller-supplied handler.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
)

const (
	defaultReconnectDelay    = 5 * time.Second
	defaultMaxReconnectDelay = time.Minute
	dialTimeout              = 10 * time.Second
	writeTimeout             = 5 * time.Second
)

// ErrClosed is returned by Start after Close.
var ErrClosed = errors.New("client: manager closed")

// Options configures a Manager.
type Options struct {
	URL      string
	TenantID string

	// ReconnectDelay is the first retry interval; later retries grow
	// exponentially with jitter up to MaxReconnectDelay.
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	// MaxRetries caps consecutive failed attempts; 0 retries forever.
	MaxRetries int
	ReadLimit  int64

	// Handler receives every frame that parses as JSON.
	Handler func(json.RawMessage)
	// OnStateChange is called after every transition, outside any lock.
	OnStateChange func(State)

	DialOptions *websocket.DialOptions
	Logger      *slog.Logger
}

// Manager maintains a single gateway connection.
type Manager struct {
	opts Options
	log  *slog.Logger

	state     atomic.Int32
	connected atomic.Bool
	// callbacks counts Handler and OnStateChange calls in flight. Close
	// skips waiting for the reader while it is non-zero, since the reader
	// may be the goroutine calling Close.
	callbacks atomic.Int32

	mu       sync.Mutex
	tenantID string
	conn     *websocket.Conn
	ctx      context.Context
	cancel   context.CancelFunc
	timer    *time.Timer
	bo       *backoff.ExponentialBackOff
	failures int
	started  bool
	closed   bool
	wg       sync.WaitGroup
}

// New creates a Manager. Call Start to connect.
func New(opts Options) *Manager {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}
	if opts.MaxReconnectDelay < opts.ReconnectDelay {
		opts.MaxReconnectDelay = max(defaultMaxReconnectDelay, opts.ReconnectDelay)
	}
	if opts.Handler == nil {
		opts.Handler = func(json.RawMessage) {}
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = opts.ReconnectDelay
	bo.MaxInterval = opts.MaxReconnectDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.2
	bo.Reset()

	return &Manager{
		opts:     opts,
		log:      log.With("url", opts.URL),
		tenantID: opts.TenantID,
		bo:       bo,
	}
}

// Start begins connecting in the background. The manager runs until ctx is
// cancelled or Close is called.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()

	go m.connect()
	return nil
}

// State returns the current connection state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// Connected reports whether the transport is open.
func (m *Manager) Connected() bool {
	return m.connected.Load()
}

// SetTenant remembers tenantID for every future handshake. If the
// connection is open the handshake is sent immediately.
func (m *Manager) SetTenant(tenantID string) {
	m.mu.Lock()
	m.tenantID = tenantID
	c := m.conn
	ctx := m.ctx
	m.mu.Unlock()

	if c != nil && tenantID != "" {
		m.handshake(ctx, c, tenantID)
	}
}

// SendMessage writes payload as one JSON text frame. It returns false, and
// drops the message, when the connection is not writable.
func (m *Manager) SendMessage(ctx context.Context, payload any) bool {
	m.mu.Lock()
	c := m.conn
	m.mu.Unlock()
	if c == nil {
		return false
	}

	data, err := json.Marshal(payload)
	if err != nil {
		m.log.Warn("client message marshal failed", "error", err)
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := c.Write(ctx, websocket.MessageText, data); err != nil {
		m.log.Debug("client write failed", "error", err)
		return false
	}
	return true
}

// Close tears the connection down and cancels any pending reconnect.
// Safe to call more than once, including from Handler or OnStateChange; in
// that case the read goroutine finishes on its own after the callback
// returns.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	c := m.conn
	m.conn = nil
	cancel := m.cancel
	m.mu.Unlock()

	if c != nil {
		_ = c.Close(websocket.StatusNormalClosure, "client closing")
	}
	if cancel != nil {
		cancel()
	}
	if m.callbacks.Load() == 0 {
		m.wg.Wait()
	}

	m.connected.Store(false)
	m.transition(StateDisconnected)
	return nil
}

func (m *Manager) connect() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	ctx := m.ctx
	m.mu.Unlock()

	m.transition(StateConnecting)

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	c, _, err := websocket.Dial(dialCtx, m.opts.URL, m.opts.DialOptions)
	cancel()
	if err != nil {
		m.log.Debug("client dial failed", "error", err)
		m.transition(StateDisconnected)
		m.scheduleReconnect()
		return
	}
	if m.opts.ReadLimit > 0 {
		c.SetReadLimit(m.opts.ReadLimit)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = c.CloseNow()
		return
	}
	m.conn = c
	m.failures = 0
	m.bo.Reset()
	tenantID := m.tenantID
	m.wg.Add(1)
	m.mu.Unlock()

	m.connected.Store(true)
	m.transition(StateOpen)
	m.log.Info("client connected")

	if tenantID != "" {
		m.handshake(ctx, c, tenantID)
	}

	go m.readLoop(ctx, c)
}

// handshake sends the auth frame and moves to Authenticated without waiting
// for the gateway's acknowledgement.
func (m *Manager) handshake(ctx context.Context, c *websocket.Conn, tenantID string) {
	data, _ := json.Marshal(authFrame{Type: "auth", TenantID: tenantID})

	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := c.Write(wctx, websocket.MessageText, data); err != nil {
		m.log.Debug("client handshake failed", "tenant_id", tenantID, "error", err)
		return
	}

	m.mu.Lock()
	current := m.conn == c
	m.mu.Unlock()
	if current {
		m.transition(StateAuthenticated)
	}
}

func (m *Manager) readLoop(ctx context.Context, c *websocket.Conn) {
	defer m.wg.Done()

	for {
		_, data, err := c.Read(ctx)
		if err != nil {
			m.disconnected(c, err)
			return
		}
		if !json.Valid(data) {
			sample := data
			if len(sample) > 256 {
				sample = sample[:256]
			}
			m.log.Warn("client frame parse failed", "sample", string(sample))
			continue
		}
		m.callbacks.Add(1)
		m.opts.Handler(json.RawMessage(data))
		m.callbacks.Add(-1)
	}
}

func (m *Manager) disconnected(c *websocket.Conn, err error) {
	m.mu.Lock()
	if m.conn != c {
		// Close already detached this connection.
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.mu.Unlock()

	_ = c.CloseNow()
	m.connected.Store(false)
	m.transition(StateDisconnected)
	m.log.Warn("client disconnected", "error", err)

	m.scheduleReconnect()
}

// scheduleReconnect arms exactly one reconnect timer unless the manager is
// closed or MaxRetries consecutive attempts have failed.
func (m *Manager) scheduleReconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || m.timer != nil || m.ctx.Err() != nil {
		return
	}
	if m.opts.MaxRetries > 0 && m.failures >= m.opts.MaxRetries {
		m.log.Error("client giving up after max retries", "retries", m.failures)
		return
	}

	delay := m.bo.NextBackOff()
	if delay == backoff.Stop {
		m.log.Error("client backoff exhausted")
		return
	}
	m.failures++
	m.timer = time.AfterFunc(delay, m.connect)
	m.log.Debug("client reconnect scheduled", "delay", delay, "attempt", m.failures)
}

func (m *Manager) transition(to State) {
	if State(m.state.Swap(int32(to))) == to {
		return
	}
	if m.opts.OnStateChange != nil {
		m.callbacks.Add(1)
		defer m.callbacks.Add(-1)
		m.opts.OnStateChange(to)
	}
}

type authFrame struct {
	Type     string `json:"type"`
	TenantID string `json:"tenantId"`
}
