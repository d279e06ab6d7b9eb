package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
)

// connState is the server-side lifecycle of a connection.
type connState int32

const (
	stateOpen connState = iota
	stateAuthenticated
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateAuthenticated:
		return "authenticated"
	case stateClosed:
		return "closed"
	}
	return "unknown"
}

// peer is the write side of a websocket. *websocket.Conn satisfies it.
type peer interface {
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// conn wraps a single WebSocket connection. Identity is pointer equality.
type conn struct {
	ws           peer
	cancel       context.CancelFunc
	writeTimeout time.Duration
	remote       string

	state     atomic.Int32
	closeOnce sync.Once

	// tenantID is guarded by the owning Registry's mutex.
	tenantID string
}

func newConn(ws peer, cancel context.CancelFunc, writeTimeout time.Duration, remote string) *conn {
	if cancel == nil {
		cancel = func() {}
	}
	return &conn{ws: ws, cancel: cancel, writeTimeout: writeTimeout, remote: remote}
}

func (c *conn) currentState() connState {
	return connState(c.state.Load())
}

// send writes one text frame. A closed connection drops the frame silently
// and reports nil; only an actual write failure is returned.
func (c *conn) send(ctx context.Context, data []byte) error {
	if c.currentState() == stateClosed {
		return nil
	}

	if c.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.writeTimeout)
		defer cancel()
	}
	return c.ws.Write(ctx, websocket.MessageText, data)
}

// sendJSON marshals v and sends it. Marshal failures are logged, not returned.
func (c *conn) sendJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("websocket marshal failed", "remote", c.remote, "error", err)
		return nil
	}
	return c.send(ctx, data)
}

// close marks the connection closed and releases the socket. Safe to call
// any number of times.
func (c *conn) close(code websocket.StatusCode, reason string) {
	c.state.Store(int32(stateClosed))
	c.closeOnce.Do(func() {
		if c.ws != nil {
			_ = c.ws.Close(code, reason)
		}
		c.cancel()
	})
}
