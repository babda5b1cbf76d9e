package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers history routes under /history
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/history", func(r chi.Router) {
		r.Get("/assets", h.HandleListAssets)
		r.Put("/assets", h.HandleUpsertAssets)
		r.Post("/features", h.HandleImportFeatures)
		r.Post("/returns", h.HandleImportReturns)
	})
}
