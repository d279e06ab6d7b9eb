// Package pubsub defines the shared publish/subscribe backend port used by
// the cross-process fan-out bridge.
package pubsub

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a backend that has been closed.
var ErrClosed = errors.New("pubsub: backend closed")

// Handler processes a message received on a channel.
type Handler func(ctx context.Context, channel string, data []byte) error

// PubSub is the port interface for a fire-and-forget broadcast backend.
// Implementations deliver every published message to every subscriber of the
// channel, including subscribers on the publishing connection.
type PubSub interface {
	// Publish sends data on the given channel.
	Publish(ctx context.Context, channel string, data []byte) error

	// Subscribe registers a handler for messages on the given channel.
	// The subscription is active when Subscribe returns. The returned
	// function cancels the subscription.
	Subscribe(ctx context.Context, channel string, handler Handler) (cancel func(), err error)

	// Close shuts down the backend connection.
	Close() error

	// IsConnected reports whether the backend link is currently up.
	IsConnected() bool
}

// Logical channel names.
const (
	ChannelAll    = "broadcast-all"    // untargeted broadcast
	ChannelTenant = "broadcast-tenant" // single-tenant broadcast
)

// Channels holds the concrete channel names for one deployment.
type Channels struct {
	All    string
	Tenant string
}

// NewChannels resolves the logical channels under an optional prefix so
// several deployments can share one backend.
func NewChannels(prefix string) Channels {
	if prefix == "" {
		return Channels{All: ChannelAll, Tenant: ChannelTenant}
	}
	return Channels{
		All:    prefix + "." + ChannelAll,
		Tenant: prefix + "." + ChannelTenant,
	}
}
