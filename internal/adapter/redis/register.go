package redis

import (
	"context"

	"github.com/orderline/eventgate/internal/port/pubsub"
)

func init() {
	factory := func(ctx context.Context, rawURL string) (pubsub.PubSub, error) {
		return Connect(ctx, rawURL)
	}
	for _, scheme := range []string{"redis", "rediss"} {
		pubsub.Register(scheme, factory)
	}
}
