// Package broadcast defines the port business code uses to push real-time
// events to connected clients.
package broadcast

import "context"

// Broadcaster sends events to connected clients. Delivery is best-effort:
// neither method reports an error, and both return once local connections
// have been written to.
type Broadcaster interface {
	// BroadcastAll sends msg to every connected client of every tenant.
	BroadcastAll(ctx context.Context, msg any)
	// BroadcastToTenant sends msg to the clients authenticated for tenantID.
	BroadcastToTenant(ctx context.Context, tenantID string, msg any)
}
