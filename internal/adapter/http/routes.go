package http

import (
	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/CodeHive/internal/adapter/ws"
)

// MountRoutes registers the worker endpoints on r. hub may be nil to leave
// out the WebSocket transport.
func MountRoutes(r chi.Router, h *Handlers, hub *ws.Hub) {
	r.Get("/", h.Health)
	r.Get("/health", h.Health)

	r.Post("/task", h.SubmitTask)

	r.Get("/session", h.GetSession)
	r.Post("/session/new", h.NewSession)

	r.Get("/history", h.ListHistory)
	r.Get("/status", h.Status)

	// Live events
	r.Get("/stream", h.Stream)
	if hub != nil {
		r.Get("/ws", hub.HandleWS)
	}
}
