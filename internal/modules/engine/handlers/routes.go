package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers engine routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/portfolio/build", h.HandleBuildPortfolio)
	r.Post("/overlay/run", h.HandleRunOverlay)
	r.Post("/reports", h.HandleComputeReport)

	r.Route("/backtests", func(r chi.Router) {
		r.Post("/", h.HandleRunBacktest)
		r.Get("/", h.HandleListBacktests)
		r.Get("/{id}", h.HandleGetBacktest)
		r.Delete("/{id}", h.HandleDeleteBacktest)
		r.Post("/{id}/export", h.HandleExportBacktest)
	})
}
