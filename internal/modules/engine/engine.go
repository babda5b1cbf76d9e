// Package engine wires forecasting, optimization, the risk overlay and
// analytics into the operations the service exposes.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/allocator/internal/domain"
	"github.com/aristath/allocator/internal/modules/analytics"
	"github.com/aristath/allocator/internal/modules/forecasting"
	"github.com/aristath/allocator/internal/modules/optimization"
	"github.com/aristath/allocator/internal/modules/overlay"
)

// DataProvider is the store the engine reads history from
type DataProvider = domain.DataProvider

// Settings are the engine defaults applied when a request leaves a field out
type Settings struct {
	Lookback    int                        `json:"lookback"`
	Scorer      ScorerSpec                 `json:"scorer"`
	Forecast    forecasting.Options        `json:"forecast"`
	Constraints optimization.ConstraintSet `json:"constraints"`
	Overlay     overlay.Config             `json:"overlay"`
	Analytics   analytics.Options          `json:"analytics"`
	Rebalance   domain.RebalanceFrequency  `json:"rebalance_frequency"`
}

// DefaultSettings returns the documented defaults
func DefaultSettings() Settings {
	return Settings{
		Lookback:    120,
		Scorer:      DefaultScorerSpec(),
		Forecast:    forecasting.DefaultOptions(),
		Constraints: optimization.DefaultConstraintSet(),
		Overlay:     overlay.DefaultConfig(),
		Analytics:   analytics.DefaultOptions(),
		Rebalance:   domain.RebalanceWeekly,
	}
}

// Validate checks every nested configuration
func (s Settings) Validate() error {
	if s.Lookback < s.Forecast.MinimumWindow {
		return domain.InvalidConfig("lookback", "must be at least %d, got %d", s.Forecast.MinimumWindow, s.Lookback)
	}
	if err := s.Scorer.Validate(); err != nil {
		return err
	}
	if err := s.Forecast.Validate(); err != nil {
		return err
	}
	if err := s.Constraints.Validate(); err != nil {
		return err
	}
	if err := s.Overlay.Validate(); err != nil {
		return err
	}
	if err := s.Analytics.Validate(); err != nil {
		return err
	}
	if _, err := domain.ParseRebalanceFrequency(string(s.Rebalance)); err != nil {
		return err
	}
	return nil
}

// Engine runs the portfolio pipeline. It holds no per-call state, so a
// single Engine serves concurrent requests and sweep scenarios.
type Engine struct {
	data      DataProvider
	optimizer *optimization.Optimizer
	settings  Settings
	log       zerolog.Logger
}

// New validates settings and returns an Engine
func New(data DataProvider, settings Settings, log zerolog.Logger) (*Engine, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		data:      data,
		optimizer: optimization.NewOptimizer(log),
		settings:  settings,
		log:       log.With().Str("component", "engine").Logger(),
	}, nil
}

// Settings returns the engine defaults
func (e *Engine) Settings() Settings {
	return e.settings
}

// BuildRequest parameterises BuildPortfolio. Zero-valued options fall back
// to the engine settings.
type BuildRequest struct {
	Universe    []string                    `json:"universe"`
	AsOf        time.Time                   `json:"as_of"`
	Constraints *optimization.ConstraintSet `json:"constraints,omitempty"`
	Current     domain.Weights              `json:"current,omitempty"`
	Lookback    int                         `json:"lookback,omitempty"`
	Scorer      *ScorerSpec                 `json:"scorer,omitempty"`
}

// Portfolio is the outcome of BuildPortfolio
type Portfolio struct {
	AsOf     time.Time            `json:"as_of"`
	Weights  domain.Weights       `json:"weights"`
	Result   *optimization.Result `json:"result"`
	Forecast ForecastSummary      `json:"forecast"`
}

// ForecastSummary is the serialisable part of a ReturnForecast
type ForecastSummary struct {
	Expected  map[string]float64 `json:"expected"`
	RiskModel string             `json:"risk_model"`
	Factors   int                `json:"factors"`
	Shrinkage float64            `json:"shrinkage"`
}

func summarize(fc *forecasting.ReturnForecast) ForecastSummary {
	s := ForecastSummary{
		Expected:  make(map[string]float64, len(fc.Symbols)),
		RiskModel: string(fc.Risk.Kind),
		Factors:   fc.Risk.Factors(),
		Shrinkage: fc.Shrinkage,
	}
	for i, symbol := range fc.Symbols {
		s.Expected[symbol] = fc.Expected[i]
	}
	return s
}

// history is everything one build or backtest reads from the store
type history struct {
	assets   []domain.Asset
	features domain.FeatureMatrix
	returns  domain.ReturnPath
}

func (e *Engine) load(ctx context.Context, universe []string, end time.Time) (*history, error) {
	if len(universe) == 0 {
		return nil, domain.InvalidConfig("universe", "at least one asset is required")
	}
	assets, err := e.data.GetAssets(ctx, universe)
	if err != nil {
		return nil, fmt.Errorf("failed to load assets: %w", err)
	}
	features, err := e.data.GetFeatureMatrix(ctx, universe, time.Time{}, end)
	if err != nil {
		return nil, fmt.Errorf("failed to load features: %w", err)
	}
	returns, err := e.data.GetReturns(ctx, universe, time.Time{}, end)
	if err != nil {
		return nil, fmt.Errorf("failed to load returns: %w", err)
	}
	return &history{assets: assets, features: features, returns: returns}, nil
}

// BuildPortfolio forecasts the universe at AsOf and optimizes target weights
func (e *Engine) BuildPortfolio(ctx context.Context, req BuildRequest) (*Portfolio, error) {
	cs, lookback, scorer, err := e.resolve(req.Constraints, req.Lookback, req.Scorer)
	if err != nil {
		return nil, err
	}
	h, err := e.load(ctx, req.Universe, req.AsOf)
	if err != nil {
		return nil, err
	}
	return e.build(h, req.AsOf, cs.WithAssets(h.assets), lookback, scorer, req.Current)
}

func (e *Engine) resolve(cs *optimization.ConstraintSet, lookback int, scorer *ScorerSpec) (optimization.ConstraintSet, int, ScorerSpec, error) {
	constraints := e.settings.Constraints
	if cs != nil {
		constraints = *cs
	}
	if err := constraints.Validate(); err != nil {
		return constraints, 0, ScorerSpec{}, err
	}
	if lookback == 0 {
		lookback = e.settings.Lookback
	}
	spec := e.settings.Scorer
	if scorer != nil {
		spec = *scorer
	}
	if err := spec.Validate(); err != nil {
		return constraints, 0, spec, err
	}
	return constraints, lookback, spec, nil
}

func (e *Engine) build(h *history, asOf time.Time, cs optimization.ConstraintSet, lookback int, spec ScorerSpec, current domain.Weights) (*Portfolio, error) {
	scorer, err := spec.build(h.features, h.returns, asOf, lookback)
	if err != nil {
		return nil, err
	}
	forecaster, err := forecasting.NewForecaster(scorer, e.settings.Forecast, e.log)
	if err != nil {
		return nil, err
	}
	fc, err := forecaster.Forecast(forecasting.Input{Features: h.features, Returns: h.returns, AsOf: asOf, Lookback: lookback})
	if err != nil {
		return nil, err
	}
	res, err := e.optimizer.Solve(fc, cs, current)
	if err != nil {
		return nil, err
	}
	return &Portfolio{AsOf: asOf, Weights: res.Weights, Result: res, Forecast: summarize(fc)}, nil
}

// RunOverlay replays a target weight path against prices
func (e *Engine) RunOverlay(universe []string, targets domain.WeightPath, prices domain.PricePath, cfg *overlay.Config) (*overlay.RunResult, error) {
	c := e.settings.Overlay
	if cfg != nil {
		c = *cfg
	}
	o, err := overlay.New(c, e.log)
	if err != nil {
		return nil, err
	}
	return o.Run(universe, targets, prices)
}

// ComputeReport scores a realized weight path. benchmark may be nil.
func (e *Engine) ComputeReport(weights domain.WeightPath, returns domain.ReturnPath, benchmark []float64, opts *analytics.Options) (*analytics.Report, error) {
	o := e.settings.Analytics
	if opts != nil {
		o = *opts
	}
	return analytics.ComputeReport(weights, returns, benchmark, o)
}
