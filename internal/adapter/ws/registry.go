package ws

import (
	"context"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// Registry tracks every live connection of this process, plus a per-tenant
// index of the authenticated ones. A connection is in the unscoped set while
// it is open or authenticated, and in exactly one tenant set while it is
// authenticated. Empty tenant sets are deleted.
type Registry struct {
	mu      sync.RWMutex
	all     map[*conn]struct{}
	tenants map[string]map[*conn]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		all:     make(map[*conn]struct{}),
		tenants: make(map[string]map[*conn]struct{}),
	}
}

// Register adds c to the unscoped set. Closed connections are ignored.
func (r *Registry) Register(c *conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c.currentState() == stateClosed {
		return
	}
	r.all[c] = struct{}{}
}

// Authenticate records tenantID on c and moves it into that tenant's set.
// Re-authenticating with a different tenant moves the connection; it never
// ends up in two tenant sets. Returns false if c is not registered or
// tenantID is empty.
func (r *Registry) Authenticate(c *conn, tenantID string) bool {
	if tenantID == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.all[c]; !ok {
		return false
	}
	if c.tenantID == tenantID && c.currentState() == stateAuthenticated {
		return true
	}

	r.leaveTenantLocked(c)

	set, ok := r.tenants[tenantID]
	if !ok {
		set = make(map[*conn]struct{})
		r.tenants[tenantID] = set
	}
	set[c] = struct{}{}
	c.tenantID = tenantID
	c.state.Store(int32(stateAuthenticated))
	return true
}

// Remove drops c from every set and closes it. Removing a connection that
// was never registered or already removed is a no-op apart from the close.
func (r *Registry) Remove(c *conn) {
	r.mu.Lock()
	_, present := r.all[c]
	delete(r.all, c)
	r.leaveTenantLocked(c)
	r.mu.Unlock()

	c.close(websocket.StatusNormalClosure, "")
	if present {
		slog.Info("websocket disconnected", "remote", c.remote)
	}
}

// leaveTenantLocked must be called with r.mu held.
func (r *Registry) leaveTenantLocked(c *conn) {
	if c.tenantID == "" {
		return
	}
	if set, ok := r.tenants[c.tenantID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(r.tenants, c.tenantID)
		}
	}
	c.tenantID = ""
}

// TenantOf returns the tenant c is authenticated for, or "".
func (r *Registry) TenantOf(c *conn) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return c.tenantID
}

// BroadcastAllLocal sends data to every connection in this process and
// returns the number of successful writes.
func (r *Registry) BroadcastAllLocal(ctx context.Context, data []byte) int {
	r.mu.RLock()
	targets := make([]*conn, 0, len(r.all))
	for c := range r.all {
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	return r.deliver(ctx, targets, data)
}

// BroadcastTenantLocal sends data to every connection authenticated for
// tenantID. A tenant with no connections is a no-op.
func (r *Registry) BroadcastTenantLocal(ctx context.Context, tenantID string, data []byte) int {
	r.mu.RLock()
	set := r.tenants[tenantID]
	targets := make([]*conn, 0, len(set))
	for c := range set {
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	return r.deliver(ctx, targets, data)
}

// deliver writes outside the lock so a slow peer never blocks registry
// mutation. A failed write evicts the connection.
func (r *Registry) deliver(ctx context.Context, targets []*conn, data []byte) int {
	sent := 0
	for _, c := range targets {
		if c.currentState() == stateClosed {
			continue
		}
		if err := c.send(ctx, data); err != nil {
			slog.DebugContext(ctx, "websocket write failed", "remote", c.remote, "error", err)
			r.Remove(c)
			continue
		}
		sent++
	}
	return sent
}

// CloseAll closes every connection with StatusGoingAway. Used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	targets := make([]*conn, 0, len(r.all))
	for c := range r.all {
		targets = append(targets, c)
	}
	r.all = make(map[*conn]struct{})
	r.tenants = make(map[string]map[*conn]struct{})
	r.mu.Unlock()

	// Each close waits for the peer's close frame, so run them in parallel.
	var wg sync.WaitGroup
	for _, c := range targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.close(websocket.StatusGoingAway, "server shutting down")
		}()
	}
	wg.Wait()
}

// ConnectionCount returns the number of open connections.
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.all)
}

// TenantCount returns the number of tenants with at least one connection.
func (r *Registry) TenantCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tenants)
}

// TenantConnectionCount returns the number of connections authenticated for
// tenantID.
func (r *Registry) TenantConnectionCount(tenantID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tenants[tenantID])
}
