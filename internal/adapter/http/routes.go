package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

const apiTimeout = 30 * time.Second

// MountRoutes registers the websocket endpoint, the ingress API and the
// health check. The websocket route is kept outside the request timeout.
func MountRoutes(r chi.Router, h *Handlers, wsHandler http.Handler) {
	r.Get("/health", h.Health)
	r.Method(http.MethodGet, "/ws", wsHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(chimw.Timeout(apiTimeout))

		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		r.Post("/broadcast", h.BroadcastAll)
		r.Post("/tenants/{tenantID}/broadcast", h.BroadcastTenant)
	})
}
