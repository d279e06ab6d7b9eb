package nats

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/orderline/eventgate/internal/logger"
	"github.com/orderline/eventgate/internal/port/pubsub"
)

// testConnect connects to NATS or skips the test if NATS_URL is not set.
func testConnect(t *testing.T) *PubSub {
	t.Helper()

	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("requires NATS_URL")
	}

	p, err := Connect(context.Background(), url)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() {
		if err := p.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return p
}

// uniqueSubject returns a per-test subject so parallel runs do not collide.
func uniqueSubject(t *testing.T) string {
	t.Helper()
	return "eventgate.test." + t.Name()
}

func TestPubSub_PublishSubscribe(t *testing.T) {
	p := testConnect(t)
	subject := uniqueSubject(t)

	var (
		mu       sync.Mutex
		received []byte
		done     = make(chan struct{})
		once     sync.Once
	)

	stop, err := p.Subscribe(context.Background(), subject, func(_ context.Context, _ string, d []byte) error {
		mu.Lock()
		received = d
		mu.Unlock()
		once.Do(func() { close(done) })
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer stop()

	if err := p.Publish(context.Background(), subject, []byte(`{"message":{"type":"ping"}}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}

	mu.Lock()
	defer mu.Unlock()
	if string(received) != `{"message":{"type":"ping"}}` {
		t.Errorf("got %q", received)
	}
}

func TestPubSub_RequestIDPropagation(t *testing.T) {
	p := testConnect(t)
	subject := uniqueSubject(t)

	const wantReqID = "req-abc-123"

	var (
		mu       sync.Mutex
		gotReqID string
		done     = make(chan struct{})
		once     sync.Once
	)

	stop, err := p.Subscribe(context.Background(), subject, func(ctx context.Context, _ string, _ []byte) error {
		mu.Lock()
		gotReqID = logger.RequestID(ctx)
		mu.Unlock()
		once.Do(func() { close(done) })
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer stop()

	ctx := logger.WithRequestID(context.Background(), wantReqID)
	if err := p.Publish(ctx, subject, []byte(`{}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}

	mu.Lock()
	defer mu.Unlock()
	if gotReqID != wantReqID {
		t.Errorf("request ID = %q, want %q", gotReqID, wantReqID)
	}
}

func TestPubSub_Unsubscribe(t *testing.T) {
	p := testConnect(t)

	stop, err := p.Subscribe(context.Background(), uniqueSubject(t), func(context.Context, string, []byte) error { return nil })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if p.SubscriptionCount() != 1 {
		t.Fatalf("expected 1 subscription, got %d", p.SubscriptionCount())
	}
	stop()
	stop()
	if p.SubscriptionCount() != 0 {
		t.Fatalf("expected 0 subscriptions, got %d", p.SubscriptionCount())
	}
}

func TestPubSub_IsConnected(t *testing.T) {
	p := testConnect(t)

	if !p.IsConnected() {
		t.Error("IsConnected() = false after Connect, want true")
	}
}

func TestRegisteredSchemes(t *testing.T) {
	schemes := pubsub.Available()
	for _, want := range []string{"nats", "tls"} {
		found := false
		for _, s := range schemes {
			if s == want {
				found = true
			}
		}
		if !found {
			t.Errorf("scheme %q not registered, have %v", want, schemes)
		}
	}
}
