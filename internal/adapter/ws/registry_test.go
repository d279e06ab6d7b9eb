package ws

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/coder/websocket"
)

// fakePeer records frames written to it.
type fakePeer struct {
	mu       sync.Mutex
	frames   []string
	writeErr error
	closed   int
	code     websocket.StatusCode
}

func (p *fakePeer) Write(_ context.Context, _ websocket.MessageType, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writeErr != nil {
		return p.writeErr
	}
	p.frames = append(p.frames, string(data))
	return nil
}

func (p *fakePeer) Close(code websocket.StatusCode, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	p.code = code
	return nil
}

func (p *fakePeer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.frames)
}

func newTestConn(remote string) (*conn, *fakePeer) {
	p := &fakePeer{}
	return newConn(p, nil, 0, remote), p
}

func TestRegistryBroadcastScenario(t *testing.T) {
	reg := NewRegistry()
	ctx := context.Background()

	r1a, p1a := newTestConn("r1a")
	r1b, p1b := newTestConn("r1b")
	r2, p2 := newTestConn("r2")
	anon, pAnon := newTestConn("anon")

	for _, c := range []*conn{r1a, r1b, r2, anon} {
		reg.Register(c)
	}
	reg.Authenticate(r1a, "R1")
	reg.Authenticate(r1b, "R1")
	reg.Authenticate(r2, "R2")

	ping := []byte(`{"type":"ping"}`)

	if n := reg.BroadcastTenantLocal(ctx, "R1", ping); n != 2 {
		t.Fatalf("expected 2 tenant deliveries, got %d", n)
	}
	if p1a.count() != 1 || p1b.count() != 1 {
		t.Errorf("expected R1 connections to receive once, got %d/%d", p1a.count(), p1b.count())
	}
	if p2.count() != 0 || pAnon.count() != 0 {
		t.Errorf("expected no delivery outside R1, got r2=%d anon=%d", p2.count(), pAnon.count())
	}

	// Three tenant-bound connections plus the unauthenticated one.
	if n := reg.BroadcastAllLocal(ctx, ping); n != 4 {
		t.Fatalf("expected 4 deliveries to all connections, got %d", n)
	}
	if pAnon.count() != 1 {
		t.Errorf("expected unauthenticated connection to get unscoped broadcast")
	}
}

func TestRegistryBroadcastAllAuthenticatedOnly(t *testing.T) {
	reg := NewRegistry()

	a, _ := newTestConn("a")
	b, _ := newTestConn("b")
	c, _ := newTestConn("c")
	for _, x := range []*conn{a, b, c} {
		reg.Register(x)
	}
	reg.Authenticate(a, "R1")
	reg.Authenticate(b, "R1")
	reg.Authenticate(c, "R2")

	if n := reg.BroadcastAllLocal(context.Background(), []byte(`{"type":"ping"}`)); n != 3 {
		t.Fatalf("expected exactly 3 deliveries, got %d", n)
	}
}

func TestRegistryUnknownTenantIsNoop(t *testing.T) {
	reg := NewRegistry()
	c, p := newTestConn("c")
	reg.Register(c)
	reg.Authenticate(c, "R1")

	if n := reg.BroadcastTenantLocal(context.Background(), "R9", []byte(`{}`)); n != 0 {
		t.Fatalf("expected 0 deliveries, got %d", n)
	}
	if p.count() != 0 {
		t.Fatalf("expected no frames, got %d", p.count())
	}
	if reg.TenantCount() != 1 {
		t.Errorf("broadcast to unknown tenant must not create an entry, got %d tenants", reg.TenantCount())
	}
}

func TestRegistryRemoveLastConnectionDropsTenant(t *testing.T) {
	reg := NewRegistry()
	a, _ := newTestConn("a")
	b, _ := newTestConn("b")
	reg.Register(a)
	reg.Register(b)
	reg.Authenticate(a, "R1")
	reg.Authenticate(b, "R1")

	reg.Remove(a)
	if got := reg.TenantConnectionCount("R1"); got != 1 {
		t.Fatalf("expected 1 connection left in R1, got %d", got)
	}
	if reg.TenantCount() != 1 {
		t.Fatalf("expected tenant R1 to remain, got %d tenants", reg.TenantCount())
	}

	reg.Remove(b)
	if reg.TenantCount() != 0 {
		t.Fatalf("expected empty tenant entry to be deleted, got %d tenants", reg.TenantCount())
	}
	if reg.ConnectionCount() != 0 {
		t.Fatalf("expected no connections, got %d", reg.ConnectionCount())
	}
}

func TestRegistryReauthenticateMoves(t *testing.T) {
	reg := NewRegistry()
	c, p := newTestConn("c")
	reg.Register(c)

	reg.Authenticate(c, "T1")
	reg.Authenticate(c, "T2")

	if got := reg.TenantConnectionCount("T1"); got != 0 {
		t.Errorf("expected connection to leave T1, still %d", got)
	}
	if got := reg.TenantConnectionCount("T2"); got != 1 {
		t.Errorf("expected exactly one membership in T2, got %d", got)
	}
	if reg.TenantCount() != 1 {
		t.Errorf("expected empty T1 to be removed, got %d tenants", reg.TenantCount())
	}
	if reg.TenantOf(c) != "T2" {
		t.Errorf("expected tenant T2, got %q", reg.TenantOf(c))
	}

	reg.BroadcastTenantLocal(context.Background(), "T1", []byte(`{}`))
	reg.BroadcastTenantLocal(context.Background(), "T2", []byte(`{}`))
	if p.count() != 1 {
		t.Errorf("expected one delivery via T2 only, got %d", p.count())
	}
}

func TestRegistryReauthenticateSameTenant(t *testing.T) {
	reg := NewRegistry()
	c, _ := newTestConn("c")
	reg.Register(c)

	reg.Authenticate(c, "T1")
	reg.Authenticate(c, "T1")

	if got := reg.TenantConnectionCount("T1"); got != 1 {
		t.Fatalf("expected single membership, got %d", got)
	}
}

func TestRegistryAuthenticateRejects(t *testing.T) {
	reg := NewRegistry()
	c, _ := newTestConn("c")

	if reg.Authenticate(c, "T1") {
		t.Error("expected unregistered connection to be rejected")
	}

	reg.Register(c)
	if reg.Authenticate(c, "") {
		t.Error("expected empty tenant id to be rejected")
	}
	if reg.TenantCount() != 0 {
		t.Errorf("expected no tenant entries, got %d", reg.TenantCount())
	}
}

func TestRegistryRemoveIdempotent(t *testing.T) {
	reg := NewRegistry()
	c, p := newTestConn("c")
	reg.Register(c)
	reg.Authenticate(c, "R1")

	reg.Remove(c)
	reg.Remove(c)

	if p.closed != 1 {
		t.Errorf("expected socket closed exactly once, got %d", p.closed)
	}
	if c.currentState() != stateClosed {
		t.Errorf("expected closed state, got %s", c.currentState())
	}
}

func TestRegistryRemoveNeverRegistered(t *testing.T) {
	reg := NewRegistry()
	c, _ := newTestConn("c")

	// Removing a connection that was never added should not panic.
	reg.Remove(c)
	if reg.ConnectionCount() != 0 {
		t.Fatalf("expected 0 connections, got %d", reg.ConnectionCount())
	}
}

func TestRegistryRegisterClosedIgnored(t *testing.T) {
	reg := NewRegistry()
	c, _ := newTestConn("c")
	c.close(websocket.StatusNormalClosure, "")

	reg.Register(c)
	if reg.ConnectionCount() != 0 {
		t.Fatalf("closed connection must not be registered")
	}
}

func TestRegistryWriteFailureEvicts(t *testing.T) {
	reg := NewRegistry()
	bad, badPeer := newTestConn("bad")
	good, goodPeer := newTestConn("good")
	badPeer.writeErr = errors.New("broken pipe")

	reg.Register(bad)
	reg.Register(good)
	reg.Authenticate(bad, "R1")
	reg.Authenticate(good, "R1")

	if n := reg.BroadcastTenantLocal(context.Background(), "R1", []byte(`{}`)); n != 1 {
		t.Fatalf("expected 1 successful delivery, got %d", n)
	}
	if goodPeer.count() != 1 {
		t.Errorf("healthy connection should still receive the frame")
	}
	if reg.ConnectionCount() != 1 || reg.TenantConnectionCount("R1") != 1 {
		t.Errorf("expected failing connection evicted, have %d/%d", reg.ConnectionCount(), reg.TenantConnectionCount("R1"))
	}
}

func TestRegistryCloseAll(t *testing.T) {
	reg := NewRegistry()
	a, pa := newTestConn("a")
	b, pb := newTestConn("b")
	reg.Register(a)
	reg.Register(b)
	reg.Authenticate(a, "R1")

	reg.CloseAll()

	if reg.ConnectionCount() != 0 || reg.TenantCount() != 0 {
		t.Fatalf("expected empty registry, got %d conns %d tenants", reg.ConnectionCount(), reg.TenantCount())
	}
	if pa.code != websocket.StatusGoingAway || pb.code != websocket.StatusGoingAway {
		t.Errorf("expected going-away close codes, got %v/%v", pa.code, pb.code)
	}

	// The read loop's deferred Remove still runs afterwards.
	reg.Remove(a)
	if pa.closed != 1 {
		t.Errorf("expected single close, got %d", pa.closed)
	}
}

func TestRegistryConcurrentMutationAndBroadcast(t *testing.T) {
	reg := NewRegistry()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, _ := newTestConn("c")
			reg.Register(c)
			if i%2 == 0 {
				reg.Authenticate(c, "R1")
			} else {
				reg.Authenticate(c, "R2")
			}
			reg.BroadcastTenantLocal(ctx, "R1", []byte(`{}`))
			reg.BroadcastAllLocal(ctx, []byte(`{}`))
			reg.Remove(c)
		}()
	}
	wg.Wait()

	if reg.ConnectionCount() != 0 || reg.TenantCount() != 0 {
		t.Fatalf("expected empty registry, got %d conns %d tenants", reg.ConnectionCount(), reg.TenantCount())
	}
}
