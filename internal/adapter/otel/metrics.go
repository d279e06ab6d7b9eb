package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "eventgate"

// Metrics holds all gateway metric instruments.
type Metrics struct {
	Broadcasts      metric.Int64Counter
	Deliveries      metric.Int64Counter
	BridgePublished metric.Int64Counter
	BridgeFailed    metric.Int64Counter
	BridgeDropped   metric.Int64Counter
	BridgeReceived  metric.Int64Counter
	BridgeDuplicate metric.Int64Counter
	PayloadBytes    metric.Int64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.Broadcasts, err = meter.Int64Counter("eventgate.broadcasts",
		metric.WithDescription("Broadcast calls accepted by the gateway, by scope"))
	if err != nil {
		return nil, err
	}

	m.Deliveries, err = meter.Int64Counter("eventgate.deliveries",
		metric.WithDescription("Frames written to local websocket connections"))
	if err != nil {
		return nil, err
	}

	m.BridgePublished, err = meter.Int64Counter("eventgate.bridge.published",
		metric.WithDescription("Envelopes published to the shared backend"))
	if err != nil {
		return nil, err
	}

	m.BridgeFailed, err = meter.Int64Counter("eventgate.bridge.failed",
		metric.WithDescription("Envelopes that could not be published"))
	if err != nil {
		return nil, err
	}

	m.BridgeDropped, err = meter.Int64Counter("eventgate.bridge.dropped",
		metric.WithDescription("Envelopes dropped because the publish queue was full"))
	if err != nil {
		return nil, err
	}

	m.BridgeReceived, err = meter.Int64Counter("eventgate.bridge.received",
		metric.WithDescription("Envelopes received from other instances"))
	if err != nil {
		return nil, err
	}

	m.BridgeDuplicate, err = meter.Int64Counter("eventgate.bridge.duplicates",
		metric.WithDescription("Inbound envelopes skipped as own or already seen"))
	if err != nil {
		return nil, err
	}

	m.PayloadBytes, err = meter.Int64Histogram("eventgate.payload.bytes",
		metric.WithDescription("Serialized broadcast payload size"),
		metric.WithUnit("By"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RegisterGauges reports live connection and tenant counts through
// observable gauges. The returned function unregisters the callback.
func RegisterGauges(connections, tenants func() int) (func() error, error) {
	meter := otel.Meter(meterName)

	conns, err := meter.Int64ObservableGauge("eventgate.connections",
		metric.WithDescription("Open websocket connections on this instance"))
	if err != nil {
		return nil, err
	}
	tens, err := meter.Int64ObservableGauge("eventgate.tenants",
		metric.WithDescription("Tenants with at least one connection on this instance"))
	if err != nil {
		return nil, err
	}

	reg, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(conns, int64(connections()))
		o.ObserveInt64(tens, int64(tenants()))
		return nil
	}, conns, tens)
	if err != nil {
		return nil, err
	}
	return reg.Unregister, nil
}
