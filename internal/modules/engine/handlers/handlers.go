// Package handlers provides HTTP handlers for portfolio construction,
// overlay replay, reports and backtests.
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
	"github.com/aristath/allocator/internal/events"
	"github.com/aristath/allocator/internal/modules/analytics"
	"github.com/aristath/allocator/internal/modules/engine"
	"github.com/aristath/allocator/internal/modules/overlay"
	"github.com/aristath/allocator/internal/modules/results"
)

// ErrExportDisabled means no object storage is configured
var ErrExportDisabled = errors.New("report export is not configured")

// BacktestStore persists backtest results
type BacktestStore interface {
	SaveBacktest(ctx context.Context, res *engine.BacktestResult) error
	GetBacktest(ctx context.Context, id string) (*engine.BacktestResult, error)
	ListBacktests(ctx context.Context, limit int) ([]results.BacktestSummary, error)
	DeleteBacktest(ctx context.Context, id string) error
}

// Exporter uploads a backtest report and returns its object key and size
type Exporter interface {
	ExportBacktest(ctx context.Context, res *engine.BacktestResult) (string, int, error)
}

// Handler handles engine HTTP requests
type Handler struct {
	engine       *engine.Engine
	store        BacktestStore
	exporter     Exporter
	eventManager *events.Manager
	log          zerolog.Logger
}

// NewHandler creates a new engine handler. exporter and eventManager may be nil.
func NewHandler(
	eng *engine.Engine,
	store BacktestStore,
	exporter Exporter,
	eventManager *events.Manager,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		engine:       eng,
		store:        store,
		exporter:     exporter,
		eventManager: eventManager,
		log:          log.With().Str("handler", "engine").Logger(),
	}
}

type overlayRequest struct {
	Universe []string          `json:"universe"`
	Targets  domain.WeightPath `json:"targets"`
	Prices   *domain.PricePath `json:"prices,omitempty"`
	// Returns are compounded from 100 when Prices is absent
	Returns *domain.ReturnPath `json:"returns,omitempty"`
	Config  *overlay.Config    `json:"config,omitempty"`
}

type reportRequest struct {
	Weights   domain.WeightPath  `json:"weights"`
	Returns   domain.ReturnPath  `json:"returns"`
	Benchmark []float64          `json:"benchmark,omitempty"`
	Options   *analytics.Options `json:"options,omitempty"`
}

// HandleBuildPortfolio handles POST /api/portfolio/build
func (h *Handler) HandleBuildPortfolio(w http.ResponseWriter, r *http.Request) {
	cs := h.engine.Settings().Constraints.Clone()
	req := engine.BuildRequest{Constraints: &cs}
	if !h.decode(w, r, &req) {
		return
	}

	p, err := h.engine.BuildPortfolio(r.Context(), req)
	if err != nil {
		h.log.Warn().Err(err).Int("universe", len(req.Universe)).Msg("Failed to build portfolio")
		h.writeError(w, err)
		return
	}

	h.eventManager.Emit("engine", &events.PortfolioBuiltData{
		AsOf:      p.AsOf,
		Assets:    len(p.Weights),
		Invested:  p.Weights.Sum(),
		RiskModel: p.Forecast.RiskModel,
	})
	h.writeJSON(w, http.StatusOK, envelope(p))
}

// HandleRunOverlay handles POST /api/overlay/run
func (h *Handler) HandleRunOverlay(w http.ResponseWriter, r *http.Request) {
	settings := h.engine.Settings()
	req := overlayRequest{Config: &settings.Overlay}
	if !h.decode(w, r, &req) {
		return
	}

	var prices domain.PricePath
	switch {
	case req.Prices != nil:
		prices = *req.Prices
	case req.Returns != nil:
		prices = req.Returns.Prices(100)
	default:
		h.writeError(w, domain.InvalidConfig("prices", "either prices or returns is required"))
		return
	}

	res, err := h.engine.RunOverlay(req.Universe, req.Targets, prices, req.Config)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to run overlay")
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, envelope(res))
}

// HandleComputeReport handles POST /api/reports
func (h *Handler) HandleComputeReport(w http.ResponseWriter, r *http.Request) {
	settings := h.engine.Settings()
	req := reportRequest{Options: &settings.Analytics}
	if !h.decode(w, r, &req) {
		return
	}

	report, err := h.engine.ComputeReport(req.Weights, req.Returns, req.Benchmark, req.Options)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to compute report")
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, envelope(report))
}

// HandleRunBacktest handles POST /api/backtests
func (h *Handler) HandleRunBacktest(w http.ResponseWriter, r *http.Request) {
	settings := h.engine.Settings()
	cs := settings.Constraints.Clone()
	req := engine.BacktestRequest{
		Constraints: &cs,
		Overlay:     &settings.Overlay,
		Analytics:   &settings.Analytics,
	}
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.engine.Backtest(r.Context(), req)
	if err != nil {
		h.log.Warn().Err(err).Str("name", req.Name).Msg("Backtest failed")
		h.writeError(w, err)
		return
	}
	if err := h.store.SaveBacktest(r.Context(), res); err != nil {
		h.log.Error().Err(err).Str("backtest_id", res.ID).Msg("Failed to save backtest")
		h.writeError(w, err)
		return
	}

	data := &events.BacktestCompletedData{BacktestID: res.ID, Name: req.Name, Rebalances: res.Rebalances}
	if res.Report != nil {
		data.CumulativeReturn = res.Report.CumulativeReturn
		data.MaxDrawdown = res.Report.Drawdown.MaxDrawdown
	}
	h.eventManager.Emit("engine", data)

	h.writeJSON(w, http.StatusCreated, envelope(res))
}

// HandleListBacktests handles GET /api/backtests
func (h *Handler) HandleListBacktests(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	list, err := h.store.ListBacktests(r.Context(), limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list backtests")
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, envelope(map[string]interface{}{
		"backtests": list,
		"count":     len(list),
	}))
}

// HandleGetBacktest handles GET /api/backtests/{id}
func (h *Handler) HandleGetBacktest(w http.ResponseWriter, r *http.Request) {
	res, err := h.store.GetBacktest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, envelope(res))
}

// HandleDeleteBacktest handles DELETE /api/backtests/{id}
func (h *Handler) HandleDeleteBacktest(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteBacktest(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleExportBacktest handles POST /api/backtests/{id}/export
func (h *Handler) HandleExportBacktest(w http.ResponseWriter, r *http.Request) {
	if h.exporter == nil {
		h.writeError(w, ErrExportDisabled)
		return
	}

	res, err := h.store.GetBacktest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	key, size, err := h.exporter.ExportBacktest(r.Context(), res)
	if err != nil {
		h.log.Error().Err(err).Str("backtest_id", res.ID).Msg("Failed to export report")
		h.writeError(w, err)
		return
	}

	h.eventManager.Emit("engine", &events.ReportExportedData{BacktestID: res.ID, Key: key, SizeBytes: size})
	h.writeJSON(w, http.StatusOK, envelope(map[string]interface{}{
		"backtest_id": res.ID,
		"key":         key,
		"size_bytes":  size,
	}))
}

// decode fills v from the body. Option structs pre-set on v keep the engine
// defaults for any field the body leaves out.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func envelope(data interface{}) map[string]interface{} {
	return map[string]interface{}{
		"data": data,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	}
}

// statusFor maps error kinds to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInfeasible):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInsufficientHistory), errors.Is(err, domain.ErrDegenerateRisk):
		return http.StatusUnprocessableEntity
	case errors.Is(err, results.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrExportDisabled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	body := map[string]interface{}{"error": err.Error()}
	var infeasible *domain.InfeasibleError
	if errors.As(err, &infeasible) {
		body["constraint"] = infeasible.Constraint
	}
	var cfgErr *domain.ConfigError
	if errors.As(err, &cfgErr) {
		body["field"] = cfgErr.Field
	}
	h.writeJSON(w, statusFor(err), body)
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
