package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers sweep routes under /sweeps
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/sweeps", func(r chi.Router) {
		r.Post("/", h.HandleStart)
		r.Get("/", h.HandleList)
		r.Get("/{id}", h.HandleGet)
		r.Delete("/{id}", h.HandleCancel)
	})
}
