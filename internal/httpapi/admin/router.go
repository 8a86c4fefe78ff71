package admin

import "github.com/go-chi/chi/v5"

// Mount attaches the admin surface under r at /admin.
func Mount(r chi.Router, h *Handler) {
	r.Route("/admin", func(r chi.Router) {
		r.Get("/stats", h.HandleHostStats)
		r.Post("/maintenance-sweep", h.HandleMaintenanceSweep)
	})
}
