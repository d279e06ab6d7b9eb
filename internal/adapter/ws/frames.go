package ws

// Frame types the gateway itself understands. Every other type is an opaque
// event frame.
const (
	FrameAuth        = "auth"
	FrameAuthSuccess = "auth_success"
	FramePing        = "ping"
	FramePong        = "pong"
)

// frame is the minimal view of an inbound client frame.
type frame struct {
	Type     string `json:"type"`
	TenantID string `json:"tenantId,omitempty"`
}

// AuthSuccessFrame acknowledges a handshake.
type AuthSuccessFrame struct {
	Type     string `json:"type"`
	TenantID string `json:"tenantId"`
}

// PongFrame answers a client ping.
type PongFrame struct {
	Type string `json:"type"`
}
