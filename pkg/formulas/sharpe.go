package formulas

import (
	"math"
)

// CalculateSharpeRatio calculates the annualized Sharpe ratio.
//
// Sharpe Ratio Formula:
//
//	Sharpe = mean(r - rf) / stdev(r) × sqrt(periodsPerYear)
//
// stdev uses the sample (n-1) correction. riskFreeRate is annual and is
// converted to a per-period rate.
//
// Returns nil (undefined) when fewer than two returns are given or the
// standard deviation is zero. A computed zero is returned as a pointer to 0.
func CalculateSharpeRatio(returns []float64, riskFreeRate float64, periodsPerYear int) *float64 {
	if len(returns) < 2 || periodsPerYear <= 0 {
		return nil
	}

	stdDev := StdDev(returns)
	if stdDev == 0 || math.IsNaN(stdDev) {
		return nil
	}

	periodicRiskFree := riskFreeRate / float64(periodsPerYear)
	excess := Mean(returns) - periodicRiskFree

	sharpe := excess / stdDev * math.Sqrt(float64(periodsPerYear))
	return &sharpe
}

// CalculateSortinoRatio calculates the annualized Sortino ratio.
//
// Sortino Formula:
//
//	Sortino = mean(r - rf) / stdev(min(r - rf, 0)) × sqrt(periodsPerYear)
//
// The downside series keeps every period: non-negative excess returns are
// zero-filled rather than dropped, and the sample (n-1) correction is applied.
//
// Returns nil (undefined) when the downside deviation is zero, which includes
// series without a single negative excess return.
func CalculateSortinoRatio(returns []float64, riskFreeRate float64, periodsPerYear int) *float64 {
	if len(returns) < 2 || periodsPerYear <= 0 {
		return nil
	}

	periodicRiskFree := riskFreeRate / float64(periodsPerYear)
	downside := make([]float64, len(returns))
	for i, r := range returns {
		if e := r - periodicRiskFree; e < 0 {
			downside[i] = e
		}
	}

	downsideDev := StdDev(downside)
	if downsideDev == 0 || math.IsNaN(downsideDev) {
		return nil
	}

	sortino := (Mean(returns) - periodicRiskFree) / downsideDev * math.Sqrt(float64(periodsPerYear))
	return &sortino
}
