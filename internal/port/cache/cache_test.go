package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/orderline/eventgate/internal/port/cache"
)

func TestNopNeverSeen(t *testing.T) {
	var w cache.Window = cache.Nop{}
	ctx := context.Background()

	for range 3 {
		seen, err := w.MarkSeen(ctx, "same-id", time.Minute)
		if err != nil {
			t.Fatal(err)
		}
		if seen {
			t.Fatal("Nop must never report a key as seen")
		}
	}
}
