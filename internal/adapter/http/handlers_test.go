package http_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	gwhttp "github.com/orderline/eventgate/internal/adapter/http"
)

// recordingBroadcaster implements broadcast.Broadcaster for testing.
type recordingBroadcaster struct {
	mu     sync.Mutex
	all    []string
	tenant map[string][]string
}

func newRecordingBroadcaster() *recordingBroadcaster {
	return &recordingBroadcaster{tenant: make(map[string][]string)}
}

func (b *recordingBroadcaster) BroadcastAll(_ context.Context, msg any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, string(msg.(json.RawMessage)))
}

func (b *recordingBroadcaster) BroadcastToTenant(_ context.Context, tenantID string, msg any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tenant[tenantID] = append(b.tenant[tenantID], string(msg.(json.RawMessage)))
}

type staticStats struct{ conns, tenants int }

func (s staticStats) ConnectionCount() int { return s.conns }
func (s staticStats) TenantCount() int     { return s.tenants }

type staticBridge string

func (b staticBridge) Status() string { return string(b) }

func newRouter(h *gwhttp.Handlers) chi.Router {
	r := chi.NewRouter()
	gwhttp.MountRoutes(r, h, http.NotFoundHandler())
	return r
}

func TestBroadcastAll(t *testing.T) {
	b := newRecordingBroadcaster()
	r := newRouter(&gwhttp.Handlers{Broadcaster: b})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/broadcast", strings.NewReader(`{"type":"menu_updated","data":{"id":7}}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(b.all) != 1 || b.all[0] != `{"type":"menu_updated","data":{"id":7}}` {
		t.Fatalf("expected payload forwarded verbatim, got %v", b.all)
	}
}

func TestBroadcastTenant(t *testing.T) {
	b := newRecordingBroadcaster()
	r := newRouter(&gwhttp.Handlers{Broadcaster: b})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tenants/R1/broadcast", strings.NewReader(` {"type":"order_paid"} `))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp["tenantId"] != "R1" {
		t.Errorf("expected tenantId R1 in response, got %v", resp)
	}
	if len(b.tenant["R1"]) != 1 || b.tenant["R1"][0] != `{"type":"order_paid"}` {
		t.Fatalf("expected one tenant broadcast, got %v", b.tenant)
	}
	if len(b.all) != 0 {
		t.Fatal("tenant broadcast must not call BroadcastAll")
	}
}

func TestBroadcastRejectsInvalidBodies(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"malformed json", "/api/v1/broadcast", `{"type":`, http.StatusBadRequest},
		{"array", "/api/v1/broadcast", `[1,2,3]`, http.StatusBadRequest},
		{"string", "/api/v1/tenants/R1/broadcast", `"hello"`, http.StatusBadRequest},
		{"empty", "/api/v1/broadcast", ``, http.StatusBadRequest},
		{"too large", "/api/v1/broadcast", `{"pad":"` + strings.Repeat("x", 2048) + `"}`, http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newRecordingBroadcaster()
			r := newRouter(&gwhttp.Handlers{Broadcaster: b, BodyLimit: 1024})

			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, tt.path, strings.NewReader(tt.body)))

			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
			if len(b.all) != 0 || len(b.tenant) != 0 {
				t.Fatal("rejected body must not be broadcast")
			}
		})
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		h          *gwhttp.Handlers
		wantStatus string
		wantBridge string
	}{
		{
			name:       "local only",
			h:          &gwhttp.Handlers{InstanceID: "i-1", Stats: staticStats{3, 2}},
			wantStatus: "ok",
			wantBridge: "disabled",
		},
		{
			name:       "bridge connected",
			h:          &gwhttp.Handlers{InstanceID: "i-1", Stats: staticStats{3, 2}, Bridge: staticBridge("connected")},
			wantStatus: "ok",
			wantBridge: "connected",
		},
		{
			name:       "bridge degraded",
			h:          &gwhttp.Handlers{InstanceID: "i-1", Stats: staticStats{3, 2}, Bridge: staticBridge("degraded")},
			wantStatus: "degraded",
			wantBridge: "degraded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			newRouter(tt.h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", http.NoBody))

			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", rec.Code)
			}
			var body struct {
				Status      string `json:"status"`
				Instance    string `json:"instance"`
				Connections int    `json:"connections"`
				Tenants     int    `json:"tenants"`
				Bridge      string `json:"bridge"`
			}
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatal(err)
			}
			if body.Status != tt.wantStatus || body.Bridge != tt.wantBridge {
				t.Errorf("expected status=%s bridge=%s, got %+v", tt.wantStatus, tt.wantBridge, body)
			}
			if body.Instance != "i-1" || body.Connections != 3 || body.Tenants != 2 {
				t.Errorf("unexpected counts: %+v", body)
			}
		})
	}
}

func TestVersionEndpoint(t *testing.T) {
	rec := httptest.NewRecorder()
	newRouter(&gwhttp.Handlers{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/", http.NoBody))

	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "version") {
		t.Fatalf("unexpected version response: %d %s", rec.Code, rec.Body.String())
	}
}
