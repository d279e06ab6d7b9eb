package nats

import (
	"context"

	"github.com/orderline/eventgate/internal/port/pubsub"
)

func init() {
	factory := func(ctx context.Context, rawURL string) (pubsub.PubSub, error) {
		return Connect(ctx, rawURL)
	}
	for _, scheme := range []string{"nats", "tls"} {
		pubsub.Register(scheme, factory)
	}
}
