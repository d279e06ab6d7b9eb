package http

import (
	"net/http"

	"github.com/orderline/eventgate/internal/port/broadcast"
)

// ConnectionStats reports the local registry size.
type ConnectionStats interface {
	ConnectionCount() int
	TenantCount() int
}

// BridgeStatus reports the cross-process bridge state.
type BridgeStatus interface {
	Status() string
}

// Handlers holds the dependencies of the ingress API.
type Handlers struct {
	Broadcaster broadcast.Broadcaster
	Stats       ConnectionStats
	Bridge      BridgeStatus
	InstanceID  string
	BodyLimit   int64
}

type acceptedResponse struct {
	Status   string `json:"status"`
	TenantID string `json:"tenantId,omitempty"`
}

// BroadcastAll handles POST /api/v1/broadcast.
func (h *Handlers) BroadcastAll(w http.ResponseWriter, r *http.Request) {
	msg, ok := readObject(w, r, h.BodyLimit)
	if !ok {
		return
	}
	h.Broadcaster.BroadcastAll(r.Context(), msg)
	writeJSON(w, http.StatusAccepted, acceptedResponse{Status: "accepted"})
}

// BroadcastTenant handles POST /api/v1/tenants/{tenantID}/broadcast.
func (h *Handlers) BroadcastTenant(w http.ResponseWriter, r *http.Request) {
	tenantID := urlParam(r, "tenantID")
	if !requireField(w, tenantID, "tenantID") {
		return
	}
	msg, ok := readObject(w, r, h.BodyLimit)
	if !ok {
		return
	}
	h.Broadcaster.BroadcastToTenant(r.Context(), tenantID, msg)
	writeJSON(w, http.StatusAccepted, acceptedResponse{Status: "accepted", TenantID: tenantID})
}

type healthStatus struct {
	Status      string `json:"status"`
	Instance    string `json:"instance"`
	Connections int    `json:"connections"`
	Tenants     int    `json:"tenants"`
	Bridge      string `json:"bridge"`
}

// Health handles GET /health. It always answers 200; a degraded bridge is
// reported in the body since local delivery keeps working.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	status := healthStatus{
		Status:   "ok",
		Instance: h.InstanceID,
		Bridge:   "disabled",
	}
	if h.Stats != nil {
		status.Connections = h.Stats.ConnectionCount()
		status.Tenants = h.Stats.TenantCount()
	}
	if h.Bridge != nil {
		status.Bridge = h.Bridge.Status()
	}
	if status.Bridge == "degraded" {
		status.Status = "degraded"
	}
	writeJSON(w, http.StatusOK, status)
}
