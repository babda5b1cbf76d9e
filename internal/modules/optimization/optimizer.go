package optimization

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/aristath/allocator/internal/domain"
	"github.com/aristath/allocator/internal/modules/forecasting"
)

// riskAversionSteps bounds the bisection on risk tolerance under a risk budget
const riskAversionSteps = 40

// Result is a solved portfolio plus its diagnostics
type Result struct {
	Weights        domain.Weights `json:"weights"`
	Selected       []string       `json:"selected"`
	ExpectedReturn float64        `json:"expected_return"`
	Variance       float64        `json:"variance"`
	// RiskTolerance is the value actually used, lower than requested when
	// the risk budget forced a more defensive portfolio
	RiskTolerance     float64            `json:"risk_tolerance"`
	RiskContributions map[string]float64 `json:"risk_contributions"`
	Iterations        int                `json:"iterations"`
}

// Optimizer turns a forecast and a constraint set into target weights.
// It carries no per-call state and may be shared between goroutines.
type Optimizer struct {
	log zerolog.Logger
}

// NewOptimizer creates an optimizer
func NewOptimizer(log zerolog.Logger) *Optimizer {
	return &Optimizer{log: log.With().Str("component", "optimizer").Logger()}
}

// Optimize returns target weights keyed by symbol. current may be nil.
func (o *Optimizer) Optimize(fc *forecasting.ReturnForecast, cs ConstraintSet, current domain.Weights) (domain.Weights, error) {
	res, err := o.Solve(fc, cs, current)
	if err != nil {
		return nil, err
	}
	return res.Weights, nil
}

// Solve is Optimize with diagnostics
func (o *Optimizer) Solve(fc *forecasting.ReturnForecast, cs ConstraintSet, current domain.Weights) (*Result, error) {
	if err := cs.Validate(); err != nil {
		return nil, err
	}
	if fc == nil {
		return nil, fmt.Errorf("optimize: nil forecast")
	}
	if err := fc.Validate(); err != nil {
		return nil, fmt.Errorf("optimize: %w", err)
	}
	if len(fc.Symbols) == 0 {
		return nil, domain.InvalidConfig("universe", "forecast covers no assets")
	}

	ranked := rankAssets(fc, cs)
	if err := cs.checkFeasibility(ranked); err != nil {
		return nil, err
	}

	minCount := 0
	for {
		selected, err := selectCandidates(ranked, cs, minCount)
		if err != nil {
			return nil, err
		}

		res, err := o.solveSelection(fc, cs, current, selected, cs.RiskTolerance)
		if err != nil {
			return nil, err
		}
		if cs.RiskBudget == 0 || withinBudget(res.Variance, cs.RiskBudget) {
			o.logResult(res)
			return res, nil
		}

		floor, err := o.solveSelection(fc, cs, current, selected, 0)
		if err != nil {
			return nil, err
		}
		if withinBudget(floor.Variance, cs.RiskBudget) {
			res, err = o.fitRiskBudget(fc, cs, current, selected, floor)
			if err != nil {
				return nil, err
			}
			o.logResult(res)
			return res, nil
		}

		o.log.Debug().
			Int("assets", len(selected)).
			Float64("min_variance", floor.Variance).
			Float64("risk_budget", cs.RiskBudget).
			Msg("Minimum variance above budget, widening selection")

		expanded, err := selectCandidates(ranked, cs, len(selected)+1)
		if err != nil || len(expanded) <= len(selected) {
			return nil, domain.Infeasible(ConstraintRiskBudget, "minimum achievable variance %.6g exceeds budget %.6g", floor.Variance, cs.RiskBudget)
		}
		minCount = len(selected) + 1
	}
}

// fitRiskBudget bisects risk tolerance between 0 (known to fit) and the
// requested value, keeping the most return-seeking portfolio that fits.
func (o *Optimizer) fitRiskBudget(fc *forecasting.ReturnForecast, cs ConstraintSet, current domain.Weights, selected []candidate, floor *Result) (*Result, error) {
	best := floor
	lo, hi := 0.0, cs.RiskTolerance
	for i := 0; i < riskAversionSteps; i++ {
		mid := 0.5 * (lo + hi)
		res, err := o.solveSelection(fc, cs, current, selected, mid)
		if err != nil {
			return nil, err
		}
		if withinBudget(res.Variance, cs.RiskBudget) {
			best, lo = res, mid
		} else {
			hi = mid
		}
	}
	return best, nil
}

func (o *Optimizer) solveSelection(fc *forecasting.ReturnForecast, cs ConstraintSet, current domain.Weights, selected []candidate, tolerance float64) (*Result, error) {
	region := newPolytope(cs, selected)
	if err := region.check(); err != nil {
		return nil, err
	}

	idx := make([]int, len(selected))
	mu := make([]float64, len(selected))
	costs := make([]float64, len(selected))
	prior := make([]float64, len(selected))
	for i, c := range selected {
		idx[i] = c.index
		mu[i] = fc.Expected[c.index]
		costs[i] = c.cost
		prior[i] = current[c.symbol]
	}
	risk := fc.Risk.Subset(idx)

	seed := hierarchicalRiskParity(risk.Covariance())
	for i := range seed {
		seed[i] *= region.target
	}
	start := region.project(seed)

	objective := newMeanVariance(mu, risk, tolerance, cs.TurnoverPenalty, costs, prior)
	w, iterations := objective.minimize(region, start)
	region.snap(w)

	res := &Result{
		Weights:           make(domain.Weights, len(selected)),
		Selected:          make([]string, len(selected)),
		Variance:          risk.Variance(w),
		RiskTolerance:     tolerance,
		RiskContributions: make(map[string]float64, len(selected)),
		Iterations:        iterations,
	}
	sw := risk.MulVec(w)
	for i, c := range selected {
		res.Weights[c.symbol] = w[i]
		res.Selected[i] = c.symbol
		res.ExpectedReturn += mu[i] * w[i]
		if res.Variance > 0 {
			res.RiskContributions[c.symbol] = w[i] * sw[i] / res.Variance
		}
	}
	return res, nil
}

func (o *Optimizer) logResult(res *Result) {
	o.log.Debug().
		Int("assets", len(res.Selected)).
		Int("iterations", res.Iterations).
		Float64("expected_return", res.ExpectedReturn).
		Float64("volatility", math.Sqrt(res.Variance)).
		Float64("risk_tolerance", res.RiskTolerance).
		Msg("Portfolio optimized")
}

func withinBudget(variance, budget float64) bool {
	return variance <= budget*(1+1e-9)
}
