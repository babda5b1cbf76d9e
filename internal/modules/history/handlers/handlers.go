// Package handlers provides HTTP handlers for history ingest.
package handlers

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/allocator/internal/domain"
	"github.com/aristath/allocator/internal/events"
	"github.com/aristath/allocator/internal/modules/history"
)

// Handler handles history HTTP requests
type Handler struct {
	store        *history.Store
	eventManager *events.Manager
	log          zerolog.Logger
}

// NewHandler creates a new history handler. eventManager may be nil.
func NewHandler(store *history.Store, eventManager *events.Manager, log zerolog.Logger) *Handler {
	return &Handler{
		store:        store,
		eventManager: eventManager,
		log:          log.With().Str("handler", "history").Logger(),
	}
}

type assetsRequest struct {
	Assets []domain.Asset `json:"assets"`
}

// JSON has no NaN, so gaps travel as null
type featuresRequest struct {
	Symbols    []string       `json:"symbols"`
	Features   []string       `json:"features"`
	Timestamps []time.Time    `json:"timestamps"`
	Values     [][][]*float64 `json:"values"`
}

type returnsRequest struct {
	Symbols    []string     `json:"symbols"`
	Timestamps []time.Time  `json:"timestamps"`
	Returns    [][]*float64 `json:"returns"`
}

// HandleListAssets handles GET /api/history/assets
func (h *Handler) HandleListAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := h.store.ListAssets(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list assets")
		h.writeError(w, err)
		return
	}

	start, end, err := h.store.DateRange(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to get date range")
		h.writeError(w, err)
		return
	}

	data := map[string]interface{}{
		"assets": assets,
		"count":  len(assets),
	}
	if !start.IsZero() {
		data["first_date"] = start
		data["last_date"] = end
	}
	h.writeJSON(w, http.StatusOK, envelope(data))
}

// HandleUpsertAssets handles PUT /api/history/assets
func (h *Handler) HandleUpsertAssets(w http.ResponseWriter, r *http.Request) {
	var req assetsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return
	}

	if err := h.store.UpsertAssets(r.Context(), req.Assets); err != nil {
		h.log.Error().Err(err).Msg("Failed to upsert assets")
		h.writeError(w, err)
		return
	}

	h.eventManager.Emit("history", &events.HistoryImportedData{Kind: "assets", Assets: len(req.Assets)})
	h.writeJSON(w, http.StatusOK, envelope(map[string]interface{}{"upserted": len(req.Assets)}))
}

// HandleImportFeatures handles POST /api/history/features
func (h *Handler) HandleImportFeatures(w http.ResponseWriter, r *http.Request) {
	var req featuresRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return
	}

	m := domain.FeatureMatrix{
		Symbols:    req.Symbols,
		Features:   req.Features,
		Timestamps: req.Timestamps,
		Values:     make([][][]float64, len(req.Values)),
	}
	for t, row := range req.Values {
		m.Values[t] = make([][]float64, len(row))
		for a, vec := range row {
			m.Values[t][a] = fromNullable(vec)
		}
	}

	cells, err := h.store.ImportFeatures(r.Context(), m)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to import features")
		h.writeError(w, err)
		return
	}

	h.eventManager.Emit("history", &events.HistoryImportedData{Kind: "features", Assets: len(m.Symbols), Cells: cells})
	h.writeJSON(w, http.StatusOK, envelope(map[string]interface{}{"cells": cells}))
}

// HandleImportReturns handles POST /api/history/returns
func (h *Handler) HandleImportReturns(w http.ResponseWriter, r *http.Request) {
	var req returnsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return
	}

	p := domain.ReturnPath{
		Symbols:    req.Symbols,
		Timestamps: req.Timestamps,
		Returns:    make([][]float64, len(req.Returns)),
	}
	for t, row := range req.Returns {
		p.Returns[t] = fromNullable(row)
	}

	cells, err := h.store.ImportReturns(r.Context(), p)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to import returns")
		h.writeError(w, err)
		return
	}

	h.eventManager.Emit("history", &events.HistoryImportedData{Kind: "returns", Assets: len(p.Symbols), Cells: cells})
	h.writeJSON(w, http.StatusOK, envelope(map[string]interface{}{"cells": cells}))
}

func fromNullable(in []*float64) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		if v == nil {
			out[i] = math.NaN()
			continue
		}
		out[i] = *v
	}
	return out
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
	if errors.Is(err, domain.ErrInvalidConfiguration) {
		status = http.StatusBadRequest
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
