package optimization

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"

	"github.com/aristath/allocator/internal/modules/forecasting"
)

// Solver limits
const (
	maxIterations        = 5000
	convergenceTolerance = 1e-12
	smoothingEpsilon     = 1e-6
	maxStep              = 1e3
	minStep              = 1e-12
	stallLimit           = 5

	warmStartIterations  = 500
	warmStartEvaluations = 5000
	penaltyWeight        = 1e4
)

// meanVariance is the normalised objective over one candidate set:
//
//	f(w) = -rt·μ̂ᵀw + (1-rt)·wᵀΣ̂w + τ·Σ cᵢ·√((wᵢ-w0ᵢ)² + ε)
//
// μ̂ is μ over its largest magnitude and Σ̂ is Σ over its largest diagonal
// entry, so risk tolerance trades quantities of comparable size.
type meanVariance struct {
	mu        []float64
	risk      *forecasting.RiskModel
	riskScale float64
	tolerance float64
	turnover  float64
	costs     []float64
	current   []float64
}

func newMeanVariance(mu []float64, risk *forecasting.RiskModel, tolerance, turnover float64, costs, current []float64) *meanVariance {
	scaled := make([]float64, len(mu))
	muMax := 0.0
	for _, v := range mu {
		muMax = math.Max(muMax, math.Abs(v))
	}
	if muMax > 0 {
		for i, v := range mu {
			scaled[i] = v / muMax
		}
	}

	varMax := 0.0
	for i := 0; i < risk.Size(); i++ {
		varMax = math.Max(varMax, risk.AssetVariance(i))
	}
	riskScale := 1.0
	if varMax > 0 {
		riskScale = 1 / varMax
	}

	return &meanVariance{
		mu:        scaled,
		risk:      risk,
		riskScale: riskScale,
		tolerance: tolerance,
		turnover:  turnover,
		costs:     costs,
		current:   current,
	}
}

func (o *meanVariance) value(w []float64) float64 {
	ret := 0.0
	for i, v := range w {
		ret += o.mu[i] * v
	}
	f := -o.tolerance*ret + (1-o.tolerance)*o.riskScale*o.risk.Variance(w)
	if o.turnover > 0 {
		for i, v := range w {
			d := v - o.current[i]
			f += o.turnover * o.costs[i] * math.Sqrt(d*d+smoothingEpsilon)
		}
	}
	return f
}

func (o *meanVariance) gradient(w []float64) []float64 {
	sw := o.risk.MulVec(w)
	g := make([]float64, len(w))
	for i := range w {
		g[i] = -o.tolerance*o.mu[i] + 2*(1-o.tolerance)*o.riskScale*sw[i]
		if o.turnover > 0 {
			d := w[i] - o.current[i]
			g[i] += o.turnover * o.costs[i] * d / math.Sqrt(d*d+smoothingEpsilon)
		}
	}
	return g
}

// minimize solves the objective over region from start, which must lie in
// it. BFGS on the penalised objective gives a warm start; a feasible
// direction descent with Armijo backtracking then converges inside the
// region. Evaluations are sequential, so identical inputs give identical
// weights.
func (o *meanVariance) minimize(region *polytope, start []float64) ([]float64, int) {
	w := append([]float64(nil), start...)
	iterations := 0
	if warm, n, ok := o.warmStart(region, w); ok {
		iterations += n
		if o.value(warm) < o.value(w) {
			w = warm
		}
	}
	w, n := o.descend(region, w)
	return w, iterations + n
}

// warmStart minimises the objective plus quadratic penalties on every
// violated side of the region, then projects the result back into it.
func (o *meanVariance) warmStart(region *polytope, start []float64) ([]float64, int, bool) {
	problem := optimize.Problem{
		Func: func(w []float64) float64 {
			return o.value(w) + region.penalty(w, nil, penaltyWeight)
		},
		Grad: func(grad, w []float64) {
			copy(grad, o.gradient(w))
			region.penalty(w, grad, penaltyWeight)
		},
	}

	result, err := optimize.Minimize(problem, start, &optimize.Settings{MajorIterations: warmStartIterations}, &optimize.BFGS{})
	if !usable(result, err) {
		result, err = optimize.Minimize(problem, start, &optimize.Settings{FuncEvaluations: warmStartEvaluations}, &optimize.NelderMead{})
		if !usable(result, err) {
			return nil, 0, false
		}
	}
	return region.project(result.X), result.MajorIterations, true
}

func usable(result *optimize.Result, err error) bool {
	return err == nil && result != nil && !math.IsInf(result.F, 0) && !floats.HasNaN(result.X)
}

// descend runs the feasible direction method: project a gradient step onto
// the region, then backtrack along the segment towards the projection. The
// segment stays inside the region because the region is convex.
func (o *meanVariance) descend(region *polytope, start []float64) ([]float64, int) {
	n := len(start)
	w := append([]float64(nil), start...)
	fw := o.value(w)
	g := o.gradient(w)
	d := make([]float64, n)
	trial := make([]float64, n)
	scale := 1.0

	iter, stalled := 0, 0
	for ; iter < maxIterations; iter++ {
		floats.SubTo(d, region.project(floats.AddScaledTo(trial, w, -scale, g)), w)
		slope := floats.Dot(g, d)
		if !(slope < 0) || floats.Norm(d, math.Inf(1)) < convergenceTolerance {
			break
		}

		var ls optimize.Backtracking
		op, step := ls.Init(fw, slope, 1), 1.0
		var fTrial float64
		var err error
		for op == optimize.FuncEvaluation {
			floats.AddScaledTo(trial, w, step, d)
			fTrial = o.value(trial)
			op, step, err = ls.Iterate(fTrial, math.NaN())
			if err != nil {
				break
			}
		}
		if op != optimize.MajorIteration {
			break
		}

		if fw-fTrial <= 1e-15*(1+math.Abs(fw)) {
			stalled++
		} else {
			stalled = 0
		}
		change := step * floats.Norm(d, math.Inf(1))
		copy(w, trial)
		fw = fTrial
		g = o.gradient(w)
		if change < convergenceTolerance || stalled >= stallLimit {
			iter++
			break
		}

		if step == 1 {
			scale = math.Min(scale*2, maxStep)
		} else {
			scale = math.Max(scale*step, minStep)
		}
	}
	return w, iter
}
