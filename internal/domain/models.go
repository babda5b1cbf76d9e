// Package domain provides core domain models and types.
package domain

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// Asset is immutable reference data for one instrument
type Asset struct {
	Symbol string `json:"symbol"`
	Sector string `json:"sector"`
	// LiquidityTier ranks tradability, 1 being the most liquid. 0 means unknown.
	LiquidityTier int `json:"liquidity_tier"`
}

// PositionScale returns the fraction of the global max position an asset of
// this tier may hold.
func (a Asset) PositionScale() float64 {
	switch {
	case a.LiquidityTier <= 1:
		return 1.0
	case a.LiquidityTier == 2:
		return 0.75
	default:
		return 0.5
	}
}

// TransactionCost estimates the cost of trading one unit of weight
func (a Asset) TransactionCost() float64 {
	switch {
	case a.LiquidityTier <= 1:
		return 0.0005
	case a.LiquidityTier == 2:
		return 0.0015
	default:
		return 0.0040
	}
}

// RebalanceFrequency controls how often target weights are recomputed
type RebalanceFrequency string

const (
	RebalanceDaily   RebalanceFrequency = "daily"
	RebalanceWeekly  RebalanceFrequency = "weekly"
	RebalanceMonthly RebalanceFrequency = "monthly"
)

// ParseRebalanceFrequency validates a frequency name
func ParseRebalanceFrequency(s string) (RebalanceFrequency, error) {
	switch f := RebalanceFrequency(strings.ToLower(strings.TrimSpace(s))); f {
	case RebalanceDaily, RebalanceWeekly, RebalanceMonthly:
		return f, nil
	default:
		return "", InvalidConfig("rebalance_frequency", "unknown frequency %q", s)
	}
}

// Weights maps asset symbol to portfolio weight. Excluded assets are absent;
// a present zero is a held-at-zero position.
type Weights map[string]float64

// Symbols returns the asset symbols in sorted order
func (w Weights) Symbols() []string {
	out := make([]string, 0, len(w))
	for s := range w {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Sum adds the weights in symbol order so repeated calls are bit-identical
func (w Weights) Sum() float64 {
	total := 0.0
	for _, s := range w.Symbols() {
		total += w[s]
	}
	return total
}

// Clone returns an independent copy
func (w Weights) Clone() Weights {
	out := make(Weights, len(w))
	for k, v := range w {
		out[k] = v
	}
	return out
}

// Vector lays the weights out along symbols; missing symbols are 0.
func (w Weights) Vector(symbols []string) []float64 {
	out := make([]float64, len(symbols))
	for i, s := range symbols {
		out[i] = w[s]
	}
	return out
}

// Turnover is the one-way turnover between two weight vectors: half the sum
// of absolute changes.
func Turnover(from, to Weights) float64 {
	seen := make(map[string]struct{}, len(from)+len(to))
	symbols := make([]string, 0, len(from)+len(to))
	for _, w := range []Weights{from, to} {
		for s := range w {
			if _, ok := seen[s]; !ok {
				seen[s] = struct{}{}
				symbols = append(symbols, s)
			}
		}
	}
	sort.Strings(symbols)

	total := 0.0
	for _, s := range symbols {
		total += math.Abs(to[s] - from[s])
	}
	return total / 2
}

// WeightSnapshot is the weight vector in force from Timestamp onward
type WeightSnapshot struct {
	Timestamp time.Time `json:"timestamp" msgpack:"timestamp"`
	Weights   Weights   `json:"weights" msgpack:"weights"`
}

// WeightPath is an ordered sequence of weight snapshots
type WeightPath []WeightSnapshot

// Validate checks that timestamps are strictly increasing and weights finite
func (p WeightPath) Validate() error {
	for i, snap := range p {
		if i > 0 && !snap.Timestamp.After(p[i-1].Timestamp) {
			return fmt.Errorf("weight path timestamps not strictly increasing at index %d", i)
		}
		for _, s := range snap.Weights.Symbols() {
			if v := snap.Weights[s]; math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("weight for %s at %s is not finite", s, snap.Timestamp.Format(time.RFC3339))
			}
		}
	}
	return nil
}

// AtOrBefore returns the most recent snapshot stamped at or before t
func (p WeightPath) AtOrBefore(t time.Time) (Weights, bool) {
	i := sort.Search(len(p), func(i int) bool { return p[i].Timestamp.After(t) })
	if i == 0 {
		return nil, false
	}
	return p[i-1].Weights, true
}

// Before returns the most recent snapshot stamped strictly before t
func (p WeightPath) Before(t time.Time) (Weights, bool) {
	i := sort.Search(len(p), func(i int) bool { return !p[i].Timestamp.Before(t) })
	if i == 0 {
		return nil, false
	}
	return p[i-1].Weights, true
}
