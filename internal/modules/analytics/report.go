// Package analytics scores a realized weight path against realized returns.
package analytics

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/aristath/allocator/internal/domain"
	"github.com/aristath/allocator/pkg/formulas"
)

// Options controls report computation
type Options struct {
	PeriodsPerYear int `json:"periods_per_year"`
	// RiskFreeRate is annual
	RiskFreeRate    float64 `json:"risk_free_rate"`
	VaRWindow       int     `json:"var_window"`
	MinObservations int     `json:"min_observations"`
	// AllowPartial omits tail-risk metrics when history is short instead of failing
	AllowPartial bool `json:"allow_partial"`
}

// DefaultOptions returns daily-data defaults
func DefaultOptions() Options {
	return Options{
		PeriodsPerYear:  252,
		VaRWindow:       250,
		MinObservations: 30,
	}
}

// Validate checks option ranges
func (o Options) Validate() error {
	if o.PeriodsPerYear <= 0 {
		return domain.InvalidConfig("periods_per_year", "must be positive, got %d", o.PeriodsPerYear)
	}
	if o.MinObservations < 1 {
		return domain.InvalidConfig("min_observations", "must be at least 1, got %d", o.MinObservations)
	}
	if o.VaRWindow < o.MinObservations {
		return domain.InvalidConfig("var_window", "must be at least min_observations (%d), got %d", o.MinObservations, o.VaRWindow)
	}
	return nil
}

// TailRisk holds historical VaR and expected shortfall as return quantiles
type TailRisk struct {
	VaR95 float64 `json:"var_95"`
	VaR99 float64 `json:"var_99"`
	ES95  float64 `json:"es_95"`
	ES99  float64 `json:"es_99"`
}

// Report is the full performance and risk summary of a weight path.
// nil pointers mark undefined metrics.
type Report struct {
	Start      time.Time   `json:"start" msgpack:"start"`
	End        time.Time   `json:"end" msgpack:"end"`
	Timestamps []time.Time `json:"timestamps" msgpack:"timestamps"`
	Returns    []float64   `json:"returns" msgpack:"returns"`

	CumulativeReturn     float64  `json:"cumulative_return" msgpack:"cumulative_return"`
	AnnualizedReturn     *float64 `json:"annualized_return" msgpack:"annualized_return"`
	AnnualizedVolatility float64  `json:"annualized_volatility" msgpack:"annualized_volatility"`
	Sharpe               *float64 `json:"sharpe" msgpack:"sharpe"`
	Sortino              *float64 `json:"sortino" msgpack:"sortino"`

	Tail         *TailRisk  `json:"tail_risk" msgpack:"tail_risk"`
	RollingVaR95 []*float64 `json:"rolling_var_95" msgpack:"rolling_var_95"`

	Drawdown formulas.DrawdownMetrics `json:"drawdown" msgpack:"drawdown"`

	Beta  *float64 `json:"beta" msgpack:"beta"`
	Alpha *float64 `json:"alpha" msgpack:"alpha"`

	AverageTurnover float64 `json:"average_turnover" msgpack:"average_turnover"`
	HitRate         float64 `json:"hit_rate" msgpack:"hit_rate"`

	Warnings []string `json:"warnings,omitempty" msgpack:"warnings,omitempty"`
}

// ComputeReport builds a Report. benchmark is aligned with the return path
// timestamps and may be nil.
func ComputeReport(weights domain.WeightPath, returns domain.ReturnPath, benchmark []float64, opts Options) (*Report, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if err := weights.Validate(); err != nil {
		return nil, domain.InvalidConfig("weight_path", "%v", err)
	}
	if err := returns.Validate(); err != nil {
		return nil, domain.InvalidConfig("return_path", "%v", err)
	}
	if benchmark != nil && len(benchmark) != returns.Len() {
		return nil, domain.InvalidConfig("benchmark", "has %d observations, return path has %d", len(benchmark), returns.Len())
	}

	series, stamps, bench, err := portfolioReturns(weights, returns, benchmark)
	if err != nil {
		return nil, err
	}
	if len(series) == 0 {
		return nil, &domain.InsufficientHistoryError{What: "portfolio returns", Need: 1, Have: 0}
	}

	r := &Report{
		Start:                stamps[0],
		End:                  stamps[len(stamps)-1],
		Timestamps:           stamps,
		Returns:              series,
		AnnualizedReturn:     formulas.AnnualizedReturn(series, opts.PeriodsPerYear),
		AnnualizedVolatility: formulas.AnnualizedVolatility(series, opts.PeriodsPerYear),
		Sharpe:               formulas.CalculateSharpeRatio(series, opts.RiskFreeRate, opts.PeriodsPerYear),
		Sortino:              formulas.CalculateSortinoRatio(series, opts.RiskFreeRate, opts.PeriodsPerYear),
		RollingVaR95:         formulas.RollingVaR(series, 0.95, opts.VaRWindow, opts.MinObservations),
		Drawdown:             formulas.CalculateDrawdownMetrics(series),
		AverageTurnover:      averageTurnover(weights),
		HitRate:              formulas.HitRate(series),
	}
	if cum := formulas.CumulativeReturns(series); len(cum) > 0 {
		r.CumulativeReturn = cum[len(cum)-1]
	}

	tail, err := tailRisk(series, opts)
	switch {
	case err == nil:
		r.Tail = tail
	case opts.AllowPartial && errors.Is(err, domain.ErrInsufficientHistory):
		r.Warnings = append(r.Warnings, fmt.Sprintf("tail risk omitted: %v", err))
	default:
		return nil, err
	}

	if bench != nil {
		r.Beta = formulas.CalculateBeta(series, bench)
		r.Alpha = formulas.CalculateJensensAlpha(series, bench, opts.RiskFreeRate, opts.PeriodsPerYear)
		if r.Beta == nil {
			r.Warnings = append(r.Warnings, "beta undefined: benchmark has no variance")
		}
	}

	return r, nil
}

// portfolioReturns applies the weights stamped strictly before each period
// to that period's asset returns. Periods before the first snapshot are
// skipped; uninvested weight earns nothing.
func portfolioReturns(weights domain.WeightPath, returns domain.ReturnPath, benchmark []float64) ([]float64, []time.Time, []float64, error) {
	var series, bench []float64
	var stamps []time.Time

	for t, ts := range returns.Timestamps {
		w, ok := weights.Before(ts)
		if !ok {
			continue
		}

		total := 0.0
		for _, symbol := range w.Symbols() {
			wi := w[symbol]
			if wi == 0 {
				continue
			}
			a := returns.SymbolIndex(symbol)
			if a < 0 {
				return nil, nil, nil, domain.InvalidConfig("weight_path", "no returns for held asset %s", symbol)
			}
			r := returns.Returns[t][a]
			if math.IsNaN(r) {
				return nil, nil, nil, fmt.Errorf("%w at %s",
					&domain.InsufficientHistoryError{What: "returns of held asset " + symbol, Need: 1, Have: 0},
					ts.Format("2006-01-02"))
			}
			total += wi * r
		}

		series = append(series, total)
		stamps = append(stamps, ts)
		if benchmark != nil {
			bench = append(bench, benchmark[t])
		}
	}
	return series, stamps, bench, nil
}

// tailRisk evaluates VaR and ES over the trailing window
func tailRisk(series []float64, opts Options) (*TailRisk, error) {
	window := formulas.TrailingWindow(series, opts.VaRWindow)

	var tail TailRisk
	var err error
	for _, m := range []struct {
		dst        *float64
		confidence float64
		shortfall  bool
	}{
		{&tail.VaR95, 0.95, false},
		{&tail.VaR99, 0.99, false},
		{&tail.ES95, 0.95, true},
		{&tail.ES99, 0.99, true},
	} {
		if m.shortfall {
			*m.dst, err = formulas.CalculateExpectedShortfall(window, m.confidence, opts.MinObservations)
		} else {
			*m.dst, err = formulas.CalculateVaR(window, m.confidence, opts.MinObservations)
		}
		if errors.Is(err, formulas.ErrInsufficientData) {
			return nil, &domain.InsufficientHistoryError{What: "VaR window", Need: opts.MinObservations, Have: len(window)}
		}
		if err != nil {
			return nil, err
		}
	}
	return &tail, nil
}

// averageTurnover is the mean one-way turnover between consecutive snapshots
func averageTurnover(weights domain.WeightPath) float64 {
	if len(weights) < 2 {
		return 0
	}
	total := 0.0
	for i := 1; i < len(weights); i++ {
		total += domain.Turnover(weights[i-1].Weights, weights[i].Weights)
	}
	return total / float64(len(weights)-1)
}
