package formulas

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// CalculateBeta returns cov(portfolio, benchmark) / var(benchmark) using the
// sample (n-1) estimators. nil when lengths differ, fewer than two paired
// observations exist or the benchmark has zero variance.
func CalculateBeta(portfolio, benchmark []float64) *float64 {
	if len(portfolio) != len(benchmark) || len(portfolio) < 2 {
		return nil
	}

	benchVar := stat.Variance(benchmark, nil)
	if benchVar == 0 || math.IsNaN(benchVar) {
		return nil
	}

	beta := stat.Covariance(portfolio, benchmark, nil) / benchVar
	return &beta
}

// CalculateJensensAlpha returns the per-period Jensen's alpha:
//
//	alpha = mean(p - rf) - beta × mean(b - rf)
//
// riskFreeRate is annual and converted with periodsPerYear. nil when beta is
// undefined.
func CalculateJensensAlpha(portfolio, benchmark []float64, riskFreeRate float64, periodsPerYear int) *float64 {
	beta := CalculateBeta(portfolio, benchmark)
	if beta == nil || periodsPerYear <= 0 {
		return nil
	}

	rf := riskFreeRate / float64(periodsPerYear)
	alpha := (Mean(portfolio) - rf) - *beta*(Mean(benchmark)-rf)
	return &alpha
}
