// Package forecasting turns a feature matrix into expected returns and a risk
// model for the optimizer.
package forecasting

import (
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"github.com/aristath/allocator/internal/domain"
)

// Scorer maps one asset's feature vector to an expected return. Any model
// fits: a closure over a feature column, a fitted LinearModel's Score, a
// StumpEnsemble's Score.
type Scorer func(features []float64) float64

// RiskModelMode selects the risk model representation
type RiskModelMode string

const (
	// ModeAuto uses a factor model unless every component is needed
	ModeAuto RiskModelMode = "auto"
	// ModeFactor always returns a factor model
	ModeFactor RiskModelMode = "factor"
	// ModeFull always returns the shrunk full covariance
	ModeFull RiskModelMode = "full"
)

// Options configures the Forecaster
type Options struct {
	MinimumWindow     int           `json:"minimum_window"`
	ExplainedVariance float64       `json:"explained_variance"`
	ShrinkageScale    float64       `json:"shrinkage_scale"`
	Mode              RiskModelMode `json:"mode"`
}

// DefaultOptions returns the standard forecaster configuration
func DefaultOptions() Options {
	return Options{
		MinimumWindow:     30,
		ExplainedVariance: 0.90,
		ShrinkageScale:    1.0,
		Mode:              ModeAuto,
	}
}

// Validate checks option ranges
func (o Options) Validate() error {
	if o.MinimumWindow < 2 {
		return domain.InvalidConfig("minimum_window", "must be at least 2, got %d", o.MinimumWindow)
	}
	if !(o.ExplainedVariance > 0 && o.ExplainedVariance <= 1) {
		return domain.InvalidConfig("explained_variance", "must be in (0, 1], got %g", o.ExplainedVariance)
	}
	if !(o.ShrinkageScale > 0) {
		return domain.InvalidConfig("shrinkage_scale", "must be positive, got %g", o.ShrinkageScale)
	}
	switch o.Mode {
	case ModeAuto, ModeFactor, ModeFull:
	default:
		return domain.InvalidConfig("mode", "unknown risk model mode %q", o.Mode)
	}
	return nil
}

// Input is the point-in-time data a forecast may see
type Input struct {
	Features domain.FeatureMatrix
	Returns  domain.ReturnPath
	AsOf     time.Time
	Lookback int
}

// ReturnForecast is the expected-return vector plus risk model at AsOf.
// Expected and Risk share the Symbols ordering.
type ReturnForecast struct {
	AsOf      time.Time
	Symbols   []string
	Expected  []float64
	Risk      *RiskModel
	Shrinkage float64
}

// ExpectedReturn looks up one asset's expected return
func (f *ReturnForecast) ExpectedReturn(symbol string) (float64, bool) {
	for i, s := range f.Symbols {
		if s == symbol {
			return f.Expected[i], true
		}
	}
	return 0, false
}

// Validate checks that the expected returns and risk model cover the same assets
func (f *ReturnForecast) Validate() error {
	if f.Risk == nil {
		return fmt.Errorf("forecast has no risk model")
	}
	if len(f.Expected) != len(f.Symbols) || f.Risk.Size() != len(f.Symbols) {
		return fmt.Errorf("forecast covers %d assets, expected returns %d, risk model %d", len(f.Symbols), len(f.Expected), f.Risk.Size())
	}
	for i, s := range f.Symbols {
		if f.Risk.Symbols[i] != s {
			return fmt.Errorf("risk model asset %d is %s, forecast has %s", i, f.Risk.Symbols[i], s)
		}
	}
	return nil
}

// Forecaster builds ReturnForecasts. It holds no per-call state.
type Forecaster struct {
	scorer Scorer
	opts   Options
	log    zerolog.Logger
}

// NewForecaster validates options and returns a Forecaster
func NewForecaster(scorer Scorer, opts Options, log zerolog.Logger) (*Forecaster, error) {
	if scorer == nil {
		return nil, domain.InvalidConfig("scorer", "a scorer is required")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Forecaster{
		scorer: scorer,
		opts:   opts,
		log:    log.With().Str("component", "forecaster").Logger(),
	}, nil
}

// Options returns the forecaster configuration
func (f *Forecaster) Options() Options {
	return f.opts
}

// Forecast scores every asset at AsOf and estimates covariance from the
// lookback returns ending at AsOf.
func (f *Forecaster) Forecast(in Input) (*ReturnForecast, error) {
	if in.Lookback < f.opts.MinimumWindow {
		return nil, &domain.InsufficientHistoryError{What: "lookback", Need: f.opts.MinimumWindow, Have: in.Lookback}
	}

	symbols := in.Features.Symbols
	if len(symbols) == 0 {
		return nil, fmt.Errorf("feature matrix has no assets")
	}
	columns := make([]int, len(symbols))
	for i, s := range symbols {
		columns[i] = in.Returns.SymbolIndex(s)
		if columns[i] < 0 {
			return nil, fmt.Errorf("asset %s has features but no returns", s)
		}
	}

	fi := in.Features.IndexAtOrBefore(in.AsOf)
	if fi < 0 {
		return nil, &domain.InsufficientHistoryError{What: "features", Need: 1, Have: 0}
	}
	ri := in.Returns.IndexAtOrBefore(in.AsOf)
	if ri+1 < in.Lookback {
		return nil, &domain.InsufficientHistoryError{What: "returns", Need: in.Lookback, Have: ri + 1}
	}

	window, err := returnWindow(in.Returns, columns, ri, in.Lookback)
	if err != nil {
		return nil, err
	}

	expected := make([]float64, len(symbols))
	for a := range symbols {
		vec := in.Features.Vector(fi, a)
		for _, v := range vec {
			if math.IsNaN(v) {
				return nil, &domain.InsufficientHistoryError{What: "features of " + symbols[a], Need: 1, Have: 0}
			}
		}
		score := f.scorer(vec)
		if math.IsNaN(score) || math.IsInf(score, 0) {
			return nil, fmt.Errorf("scorer returned %g for %s", score, symbols[a])
		}
		expected[a] = score
	}

	sample := sampleCovariance(window)
	if err := checkVariances(symbols, sample, in.Lookback); err != nil {
		return nil, err
	}

	delta := shrinkageIntensity(len(symbols), in.Lookback, f.opts.ShrinkageScale)
	shrunk := shrinkToDiagonal(sample, delta)
	if err := checkPositiveDefinite(shrunk); err != nil {
		return nil, err
	}

	risk, err := f.riskModel(symbols, shrunk)
	if err != nil {
		return nil, err
	}

	f.log.Debug().
		Int("assets", len(symbols)).
		Int("lookback", in.Lookback).
		Float64("shrinkage", delta).
		Str("risk_model", string(risk.Kind)).
		Int("factors", risk.Factors()).
		Msg("Forecast built")

	return &ReturnForecast{
		AsOf:      in.AsOf,
		Symbols:   append([]string(nil), symbols...),
		Expected:  expected,
		Risk:      risk,
		Shrinkage: delta,
	}, nil
}

func (f *Forecaster) riskModel(symbols []string, cov *mat.SymDense) (*RiskModel, error) {
	if f.opts.Mode == ModeFull {
		return NewFullCovarianceModel(symbols, cov)
	}

	pc, err := decompose(cov)
	if err != nil {
		return nil, err
	}
	k := pc.factorsFor(f.opts.ExplainedVariance)
	if k >= len(symbols) && f.opts.Mode == ModeAuto {
		return NewFullCovarianceModel(symbols, cov)
	}

	f.log.Debug().
		Int("factors", k).
		Float64("explained", pc.explained(k)).
		Msg("Factor model selected")
	return pc.factorModel(symbols, k)
}

// returnWindow extracts lookback rows ending at ri for the given columns.
// A NaN anywhere in the window is a gap; the error reports how many
// gap-free rows precede AsOf.
func returnWindow(returns domain.ReturnPath, columns []int, ri, lookback int) ([][]float64, error) {
	start := ri - lookback + 1
	window := make([][]float64, lookback)
	for t := lookback - 1; t >= 0; t-- {
		row := returns.Returns[start+t]
		out := make([]float64, len(columns))
		for a, c := range columns {
			v := row[c]
			if math.IsNaN(v) {
				return nil, &domain.InsufficientHistoryError{
					What: "gap-free returns of " + returns.Symbols[c],
					Need: lookback,
					Have: lookback - t - 1,
				}
			}
			out[a] = v
		}
		window[t] = out
	}
	return window, nil
}
