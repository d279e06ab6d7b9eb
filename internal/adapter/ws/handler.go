// Package ws implements the WebSocket adapter: one actor per connection, the
// process-local connection registry, and the upgrade handler.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

// Options configures a Handler.
type Options struct {
	WriteTimeout   time.Duration
	ReadLimit      int64
	OriginPatterns []string // empty = skip origin verification (CORS handled by middleware)
}

// Handler upgrades HTTP requests to websockets and runs the read loop for
// each connection.
type Handler struct {
	reg  *Registry
	opts Options
}

// NewHandler creates a Handler that registers connections in reg.
func NewHandler(reg *Registry, opts Options) *Handler {
	return &Handler{reg: reg, opts: opts}
}

// ServeHTTP accepts the websocket and blocks until it closes. A "tenant"
// query parameter authenticates the connection immediately; otherwise the
// client sends an auth frame.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	acceptOpts := &websocket.AcceptOptions{OriginPatterns: h.opts.OriginPatterns}
	if len(h.opts.OriginPatterns) == 0 {
		acceptOpts.InsecureSkipVerify = true
	}

	wsConn, err := websocket.Accept(w, r, acceptOpts)
	if err != nil {
		slog.Error("websocket accept failed", "error", err)
		return
	}
	if h.opts.ReadLimit > 0 {
		wsConn.SetReadLimit(h.opts.ReadLimit)
	}

	ctx, cancel := context.WithCancel(r.Context())
	c := newConn(wsConn, cancel, h.opts.WriteTimeout, r.RemoteAddr)

	h.reg.Register(c)
	defer h.reg.Remove(c)

	slog.Info("websocket connected", "remote", r.RemoteAddr)

	if tenantID := r.URL.Query().Get("tenant"); tenantID != "" {
		h.authenticate(ctx, c, tenantID)
	}

	for {
		typ, data, err := wsConn.Read(ctx)
		if err != nil {
			logReadError(c, err)
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		h.handleFrame(ctx, c, data)
	}
}

func (h *Handler) handleFrame(ctx context.Context, c *conn, data []byte) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		sample := data
		if len(sample) > 256 {
			sample = sample[:256]
		}
		slog.Warn("websocket frame parse failed", "remote", c.remote, "error", err, "sample", string(sample))
		return
	}

	switch f.Type {
	case FrameAuth:
		if f.TenantID == "" {
			slog.Warn("websocket auth frame without tenant", "remote", c.remote)
			return
		}
		h.authenticate(ctx, c, f.TenantID)
	case FramePing:
		if err := c.sendJSON(ctx, PongFrame{Type: FramePong}); err != nil {
			slog.Debug("websocket pong failed", "remote", c.remote, "error", err)
		}
	default:
		slog.Debug("websocket frame ignored", "remote", c.remote, "type", f.Type)
	}
}

func (h *Handler) authenticate(ctx context.Context, c *conn, tenantID string) {
	previous := h.reg.TenantOf(c)
	if !h.reg.Authenticate(c, tenantID) {
		return
	}
	if previous != "" && previous != tenantID {
		slog.Info("websocket re-authenticated", "remote", c.remote, "from", previous, "tenant_id", tenantID)
	} else {
		slog.Info("websocket authenticated", "remote", c.remote, "tenant_id", tenantID)
	}

	if err := c.sendJSON(ctx, AuthSuccessFrame{Type: FrameAuthSuccess, TenantID: tenantID}); err != nil {
		slog.Debug("websocket auth ack failed", "remote", c.remote, "error", err)
	}
}

func logReadError(c *conn, err error) {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		slog.Debug("websocket closed by peer", "remote", c.remote)
	default:
		if errors.Is(err, context.Canceled) {
			return
		}
		slog.Debug("websocket read failed", "remote", c.remote, "error", err)
	}
}
