// Package service contains the gateway facade and the cross-process bridge.
package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/orderline/eventgate/internal/adapter/otel"
	"github.com/orderline/eventgate/internal/logger"
	"github.com/orderline/eventgate/internal/port/broadcast"
)

// Publisher propagates an already-serialized broadcast to other processes.
// *Bridge implements it.
type Publisher interface {
	Available() bool
	PublishAll(ctx context.Context, payload []byte)
	PublishTenant(ctx context.Context, tenantID string, payload []byte)
}

// Gateway is the broadcast facade. It delivers to local connections first,
// then hands the same bytes to the publisher when one is available.
type Gateway struct {
	local   LocalDeliverer
	pub     Publisher
	metrics *otel.Metrics
}

var _ broadcast.Broadcaster = (*Gateway)(nil)

// NewGateway creates a Gateway. pub and metrics may be nil.
func NewGateway(local LocalDeliverer, pub Publisher, metrics *otel.Metrics) *Gateway {
	return &Gateway{local: local, pub: pub, metrics: metrics}
}

// BroadcastAll delivers msg to every local connection and publishes it for
// other processes.
func (g *Gateway) BroadcastAll(ctx context.Context, msg any) {
	ctx, span := otel.StartBroadcastSpan(ctx, "all", "")
	defer span.End()

	payload, ok := marshalPayload(ctx, msg, "")
	if !ok {
		return
	}

	n := g.local.BroadcastAllLocal(ctx, payload)
	g.record(ctx, "all", n, len(payload))
	span.SetAttributes(attribute.Int("broadcast.local_deliveries", n))

	if g.pub != nil && g.pub.Available() {
		g.pub.PublishAll(ctx, payload)
	}
}

// BroadcastToTenant delivers msg to local connections of tenantID and
// publishes it for other processes.
func (g *Gateway) BroadcastToTenant(ctx context.Context, tenantID string, msg any) {
	ctx = logger.WithTenantID(ctx, tenantID)
	ctx, span := otel.StartBroadcastSpan(ctx, "tenant", tenantID)
	defer span.End()

	payload, ok := marshalPayload(ctx, msg, tenantID)
	if !ok {
		return
	}

	n := g.local.BroadcastTenantLocal(ctx, tenantID, payload)
	g.record(ctx, "tenant", n, len(payload))
	span.SetAttributes(attribute.Int("broadcast.local_deliveries", n))

	if g.pub != nil && g.pub.Available() {
		g.pub.PublishTenant(ctx, tenantID, payload)
	}
}

// marshalPayload serializes msg once. Pre-encoded json.RawMessage and []byte
// payloads are passed through untouched.
func marshalPayload(ctx context.Context, msg any, tenantID string) ([]byte, bool) {
	var payload []byte
	switch v := msg.(type) {
	case json.RawMessage:
		payload = v
	case []byte:
		payload = v
	default:
		var err error
		payload, err = json.Marshal(msg)
		if err != nil {
			slog.ErrorContext(ctx, "broadcast marshal failed", "scope", scopeOf(tenantID), "error", err)
			return nil, false
		}
	}
	if !json.Valid(payload) {
		slog.ErrorContext(ctx, "broadcast payload is not valid json", "scope", scopeOf(tenantID), "bytes", len(payload))
		return nil, false
	}
	return payload, true
}

func scopeOf(tenantID string) string {
	if tenantID == "" {
		return "all"
	}
	return "tenant"
}

func (g *Gateway) record(ctx context.Context, scope string, delivered, size int) {
	if g.metrics == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("scope", scope))
	g.metrics.Broadcasts.Add(ctx, 1, attrs)
	g.metrics.Deliveries.Add(ctx, int64(delivered), attrs)
	g.metrics.PayloadBytes.Record(ctx, int64(size), attrs)
}
