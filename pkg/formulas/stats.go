// Package formulas holds the pure statistics used by the analytics layer.
package formulas

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Mean calculates the arithmetic mean of a slice of float64 values
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.Mean(data, nil)
}

// StdDev calculates the sample (n-1) standard deviation
func StdDev(data []float64) float64 {
	if len(data) < 2 {
		return 0
	}
	return stat.StdDev(data, nil)
}

// Variance calculates the sample (n-1) variance
func Variance(data []float64) float64 {
	if len(data) < 2 {
		return 0
	}
	return stat.Variance(data, nil)
}

// AnnualizedVolatility scales the sample standard deviation of periodic returns
// by sqrt(periodsPerYear).
func AnnualizedVolatility(returns []float64, periodsPerYear int) float64 {
	if len(returns) < 2 || periodsPerYear <= 0 {
		return 0
	}
	return StdDev(returns) * math.Sqrt(float64(periodsPerYear))
}

// AnnualizedReturn compounds periodic returns and annualizes the growth.
// Returns nil when the series is empty or wealth is wiped out.
func AnnualizedReturn(returns []float64, periodsPerYear int) *float64 {
	if len(returns) == 0 || periodsPerYear <= 0 {
		return nil
	}
	wealth := 1.0
	for _, r := range returns {
		wealth *= 1 + r
	}
	if wealth <= 0 {
		return nil
	}
	annual := math.Pow(wealth, float64(periodsPerYear)/float64(len(returns))) - 1
	return &annual
}

// CumulativeReturns returns the compounded return after each period
func CumulativeReturns(returns []float64) []float64 {
	out := make([]float64, len(returns))
	wealth := 1.0
	for i, r := range returns {
		wealth *= 1 + r
		out[i] = wealth - 1
	}
	return out
}

// WealthIndex returns the wealth path starting at 1.0 before the first period.
// The result has len(returns)+1 entries.
func WealthIndex(returns []float64) []float64 {
	out := make([]float64, len(returns)+1)
	out[0] = 1
	for i, r := range returns {
		out[i+1] = out[i] * (1 + r)
	}
	return out
}

// HitRate is the fraction of periods with a strictly positive return
func HitRate(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	hits := 0
	for _, r := range returns {
		if r > 0 {
			hits++
		}
	}
	return float64(hits) / float64(len(returns))
}
