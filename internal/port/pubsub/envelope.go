package pubsub

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidEnvelope is returned when a bridge payload does not match the
// envelope schema of its channel.
var ErrInvalidEnvelope = errors.New("pubsub: invalid envelope")

// AllEnvelope is the schema for broadcast-all messages.
type AllEnvelope struct {
	ID      string          `json:"id,omitempty"`
	Origin  string          `json:"origin,omitempty"`
	Message json.RawMessage `json:"message"`
}

// TenantEnvelope is the schema for broadcast-tenant messages.
type TenantEnvelope struct {
	ID       string          `json:"id,omitempty"`
	Origin   string          `json:"origin,omitempty"`
	TenantID string          `json:"tenantId"`
	Message  json.RawMessage `json:"message"`
}

// DecodeAll parses and validates a broadcast-all payload.
func DecodeAll(data []byte) (AllEnvelope, error) {
	var env AllEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return env, fmt.Errorf("%w: %s: %w", ErrInvalidEnvelope, ChannelAll, err)
	}
	if len(env.Message) == 0 || string(env.Message) == "null" {
		return env, fmt.Errorf("%w: %s: missing message", ErrInvalidEnvelope, ChannelAll)
	}
	return env, nil
}

// DecodeTenant parses and validates a broadcast-tenant payload.
func DecodeTenant(data []byte) (TenantEnvelope, error) {
	var env TenantEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return env, fmt.Errorf("%w: %s: %w", ErrInvalidEnvelope, ChannelTenant, err)
	}
	if env.TenantID == "" {
		return env, fmt.Errorf("%w: %s: missing tenantId", ErrInvalidEnvelope, ChannelTenant)
	}
	if len(env.Message) == 0 || string(env.Message) == "null" {
		return env, fmt.Errorf("%w: %s: missing message", ErrInvalidEnvelope, ChannelTenant)
	}
	return env, nil
}
