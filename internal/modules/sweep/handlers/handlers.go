// Package handlers provides HTTP handlers for parameter sweeps.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/allocator/internal/domain"
	"github.com/aristath/allocator/internal/modules/results"
	"github.com/aristath/allocator/internal/modules/sweep"
)

// SweepLister lists stored sweeps
type SweepLister interface {
	ListSweeps(ctx context.Context, limit int) ([]results.SweepSummary, error)
}

// Handler handles sweep HTTP requests
type Handler struct {
	runner *sweep.Runner
	lister SweepLister
	log    zerolog.Logger
}

// NewHandler creates a new sweep handler
func NewHandler(runner *sweep.Runner, lister SweepLister, log zerolog.Logger) *Handler {
	return &Handler{
		runner: runner,
		lister: lister,
		log:    log.With().Str("handler", "sweep").Logger(),
	}
}

// HandleStart handles POST /api/sweeps
func (h *Handler) HandleStart(w http.ResponseWriter, r *http.Request) {
	var req sweep.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return
	}

	s, err := h.runner.Start(r.Context(), req)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to start sweep")
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusAccepted, envelope(s))
}

// HandleList handles GET /api/sweeps
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	list, err := h.lister.ListSweeps(r.Context(), limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list sweeps")
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, envelope(map[string]interface{}{
		"sweeps": list,
		"active": h.runner.Active(),
		"count":  len(list),
	}))
}

// HandleGet handles GET /api/sweeps/{id}
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s, err := h.runner.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, envelope(s))
}

// HandleCancel handles DELETE /api/sweeps/{id}
func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.runner.Cancel(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, envelope(map[string]string{"id": id, "status": "cancelling"}))
}

func envelope(data interface{}) map[string]interface{} {
	return map[string]interface{}{
		"data": data,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidConfiguration):
		status = http.StatusBadRequest
	case errors.Is(err, sweep.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, sweep.ErrFinished):
		status = http.StatusConflict
	}
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
