package formulas

import (
	"errors"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// ErrInsufficientData is returned when a window holds fewer observations than required
var ErrInsufficientData = errors.New("insufficient observations")

// CalculateVaR returns the historical-simulation Value at Risk of a return
// sample as a return quantile: the empirical (1-confidence) quantile of the
// sorted returns. Losses are negative numbers.
//
// minObservations guards against statistically meaningless quantiles; fewer
// observations yield ErrInsufficientData.
func CalculateVaR(returns []float64, confidence float64, minObservations int) (float64, error) {
	if len(returns) == 0 || len(returns) < minObservations {
		return 0, ErrInsufficientData
	}

	sorted := make([]float64, len(returns))
	copy(sorted, returns)
	sort.Float64s(sorted)

	return stat.Quantile(tailProbability(confidence), stat.Empirical, sorted, nil), nil
}

// tailProbability rounds 1-confidence so that 0.95 maps to exactly 0.05 and
// the empirical quantile index is not pushed up by representation error.
func tailProbability(confidence float64) float64 {
	return math.Round((1-confidence)*1e12) / 1e12
}

// CalculateExpectedShortfall returns the mean of all returns at or below the
// VaR quantile at the given confidence.
func CalculateExpectedShortfall(returns []float64, confidence float64, minObservations int) (float64, error) {
	varQuantile, err := CalculateVaR(returns, confidence, minObservations)
	if err != nil {
		return 0, err
	}

	sum := 0.0
	count := 0
	for _, r := range returns {
		if r <= varQuantile {
			sum += r
			count++
		}
	}
	// The quantile is a member of the sample, so count is at least one.
	return sum / float64(count), nil
}

// TrailingWindow returns the last window elements of returns (all of them
// when the series is shorter or window is not positive).
func TrailingWindow(returns []float64, window int) []float64 {
	if window <= 0 || len(returns) <= window {
		return returns
	}
	return returns[len(returns)-window:]
}

// RollingVaR computes VaR at every period over the trailing window ending at
// that period. Entries are nil until minObservations returns are available.
func RollingVaR(returns []float64, confidence float64, window, minObservations int) []*float64 {
	out := make([]*float64, len(returns))
	for i := range returns {
		start := 0
		if window > 0 && i+1 > window {
			start = i + 1 - window
		}
		v, err := CalculateVaR(returns[start:i+1], confidence, minObservations)
		if err != nil {
			continue
		}
		out[i] = &v
	}
	return out
}
