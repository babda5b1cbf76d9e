package testing

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/aristath/allocator/internal/domain"
)

// Feature columns produced by NewMarket
const (
	FeatureSignal     = "signal"
	FeatureMomentum   = "momentum"
	FeatureVolatility = "volatility"
)

// MarketConfig describes a synthetic one-factor market
type MarketConfig struct {
	Assets    []domain.Asset
	Periods   int
	Start     time.Time
	Seed      uint64
	Drift     []float64 // per-asset mean return per period
	Vol       []float64 // per-asset idiosyncratic volatility
	Beta      []float64 // per-asset loading on the market factor
	FactorVol float64
}

// Market is a deterministic data set for tests
type Market struct {
	Assets   []domain.Asset
	Features domain.FeatureMatrix
	Returns  domain.ReturnPath
}

// DefaultAssets returns five assets across three sectors
func DefaultAssets() []domain.Asset {
	return []domain.Asset{
		{Symbol: "AAA", Sector: "tech", LiquidityTier: 1},
		{Symbol: "BBB", Sector: "tech", LiquidityTier: 1},
		{Symbol: "CCC", Sector: "energy", LiquidityTier: 2},
		{Symbol: "DDD", Sector: "energy", LiquidityTier: 1},
		{Symbol: "EEE", Sector: "health", LiquidityTier: 3},
	}
}

// DefaultMarketConfig returns a 300-period market over DefaultAssets
func DefaultMarketConfig() MarketConfig {
	return MarketConfig{
		Assets:    DefaultAssets(),
		Periods:   300,
		Start:     time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC),
		Seed:      42,
		Drift:     []float64{0.0012, 0.0008, 0.0005, 0.0003, 0.0010},
		Vol:       []float64{0.012, 0.010, 0.015, 0.009, 0.020},
		Beta:      []float64{1.1, 0.9, 0.7, 0.8, 1.3},
		FactorVol: 0.008,
	}
}

// BusinessDays returns n consecutive weekdays starting at start
func BusinessDays(start time.Time, n int) []time.Time {
	out := make([]time.Time, 0, n)
	for d := start; len(out) < n; d = d.AddDate(0, 0, 1) {
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		out = append(out, d)
	}
	return out
}

// NewMarket simulates returns r = drift + beta·f + vol·ε and derives three
// features per asset: the true drift (signal), trailing 5-period mean return
// (momentum) and trailing 20-period stdev (volatility). Features at t use
// returns up to and including t.
func NewMarket(cfg MarketConfig) Market {
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	n := len(cfg.Assets)
	symbols := make([]string, n)
	for i, a := range cfg.Assets {
		symbols[i] = a.Symbol
	}
	timestamps := BusinessDays(cfg.Start, cfg.Periods)

	returns := make([][]float64, cfg.Periods)
	for t := range returns {
		f := cfg.FactorVol * rng.NormFloat64()
		row := make([]float64, n)
		for a := 0; a < n; a++ {
			row[a] = at(cfg.Drift, a) + at(cfg.Beta, a)*f + at(cfg.Vol, a)*rng.NormFloat64()
		}
		returns[t] = row
	}

	values := make([][][]float64, cfg.Periods)
	for t := range values {
		values[t] = make([][]float64, n)
		for a := 0; a < n; a++ {
			values[t][a] = []float64{
				at(cfg.Drift, a),
				trailingMean(returns, a, t, 5),
				trailingStd(returns, a, t, 20),
			}
		}
	}

	return Market{
		Assets: append([]domain.Asset(nil), cfg.Assets...),
		Features: domain.FeatureMatrix{
			Symbols:    symbols,
			Features:   []string{FeatureSignal, FeatureMomentum, FeatureVolatility},
			Timestamps: timestamps,
			Values:     values,
		},
		Returns: domain.ReturnPath{
			Symbols:    append([]string(nil), symbols...),
			Timestamps: append([]time.Time(nil), timestamps...),
			Returns:    returns,
		},
	}
}

func at(v []float64, i int) float64 {
	if i < len(v) {
		return v[i]
	}
	return 0
}

func trailingMean(returns [][]float64, a, t, window int) float64 {
	start := t - window + 1
	if start < 0 {
		start = 0
	}
	sum := 0.0
	for s := start; s <= t; s++ {
		sum += returns[s][a]
	}
	return sum / float64(t-start+1)
}

func trailingStd(returns [][]float64, a, t, window int) float64 {
	start := t - window + 1
	if start < 0 {
		start = 0
	}
	count := t - start + 1
	if count < 2 {
		return 0
	}
	mean := trailingMean(returns, a, t, window)
	ss := 0.0
	for s := start; s <= t; s++ {
		d := returns[s][a] - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(count-1))
}
