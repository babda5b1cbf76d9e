package forecasting

import (
	"fmt"
	"sort"
)

// Stump is a depth-1 regression tree
type Stump struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      float64 `json:"left"`  // value when x[Feature] <= Threshold
	Right     float64 `json:"right"` // value otherwise
}

func (s Stump) eval(x []float64) float64 {
	if x[s.Feature] <= s.Threshold {
		return s.Left
	}
	return s.Right
}

// BoostingOptions configures FitStumpEnsemble
type BoostingOptions struct {
	Rounds       int
	LearningRate float64
	MinLeaf      int
}

// DefaultBoostingOptions returns a conservative configuration
func DefaultBoostingOptions() BoostingOptions {
	return BoostingOptions{Rounds: 100, LearningRate: 0.1, MinLeaf: 5}
}

// StumpEnsemble is a gradient-boosted ensemble of stumps under squared loss
type StumpEnsemble struct {
	Base         float64 `json:"base"`
	LearningRate float64 `json:"learning_rate"`
	Stumps       []Stump `json:"stumps"`
}

// FitStumpEnsemble boosts stumps on the residuals of the running prediction.
// Split search is exhaustive and ties keep the first candidate, so fits are
// reproducible.
func FitStumpEnsemble(set TrainingSet, opts BoostingOptions) (*StumpEnsemble, error) {
	if set.Len() < 2*opts.MinLeaf || set.Len() < 2 {
		return nil, fmt.Errorf("need at least %d samples, have %d", 2*opts.MinLeaf, set.Len())
	}
	if opts.Rounds <= 0 || !(opts.LearningRate > 0 && opts.LearningRate <= 1) {
		return nil, fmt.Errorf("invalid boosting options: rounds=%d learning_rate=%g", opts.Rounds, opts.LearningRate)
	}
	minLeaf := opts.MinLeaf
	if minLeaf < 1 {
		minLeaf = 1
	}

	n := set.Len()
	base := 0.0
	for _, y := range set.Y {
		base += y
	}
	base /= float64(n)

	residual := make([]float64, n)
	for i, y := range set.Y {
		residual[i] = y - base
	}

	ens := &StumpEnsemble{Base: base, LearningRate: opts.LearningRate}
	p := len(set.X[0])
	order := make([]int, n)

	for round := 0; round < opts.Rounds; round++ {
		best, found := Stump{}, false
		bestGain := 0.0

		for f := 0; f < p; f++ {
			for i := range order {
				order[i] = i
			}
			sort.SliceStable(order, func(a, b int) bool { return set.X[order[a]][f] < set.X[order[b]][f] })

			total := 0.0
			for _, i := range order {
				total += residual[i]
			}

			left := 0.0
			for pos := 0; pos < n-1; pos++ {
				left += residual[order[pos]]
				nl, nr := pos+1, n-pos-1
				if nl < minLeaf || nr < minLeaf {
					continue
				}
				lo, hi := set.X[order[pos]][f], set.X[order[pos+1]][f]
				if lo == hi {
					continue
				}
				right := total - left
				gain := left*left/float64(nl) + right*right/float64(nr)
				if gain > bestGain+1e-15 {
					bestGain = gain
					best = Stump{Feature: f, Threshold: (lo + hi) / 2, Left: left / float64(nl), Right: right / float64(nr)}
					found = true
				}
			}
		}

		if !found {
			break
		}
		ens.Stumps = append(ens.Stumps, best)
		for i, x := range set.X {
			residual[i] -= opts.LearningRate * best.eval(x)
		}
	}

	return ens, nil
}

// Score returns the ensemble's expected return for a feature vector
func (e *StumpEnsemble) Score(x []float64) float64 {
	out := e.Base
	for _, s := range e.Stumps {
		if s.Feature < len(x) {
			out += e.LearningRate * s.eval(x)
		}
	}
	return out
}
