package forecasting

import (
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/aristath/allocator/internal/domain"
)

// principalComponents is an eigen-decomposition ordered by descending variance
type principalComponents struct {
	values  []float64  // eigenvalues, descending, negatives clamped to 0
	vectors *mat.Dense // column j is the eigenvector of values[j]
	total   float64
}

func decompose(cov *mat.SymDense) (*principalComponents, error) {
	var eig mat.EigenSym
	if ok := eig.Factorize(cov, true); !ok {
		return nil, domain.DegenerateRisk("eigen-decomposition of covariance failed")
	}

	raw := eig.Values(nil)
	var rawVectors mat.Dense
	eig.VectorsTo(&rawVectors)

	n := len(raw)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return raw[order[a]] > raw[order[b]] })

	pc := &principalComponents{
		values:  make([]float64, n),
		vectors: mat.NewDense(n, n, nil),
	}
	for j, src := range order {
		v := raw[src]
		if v < 0 {
			v = 0
		}
		pc.values[j] = v
		pc.total += v

		// Fix the sign so the largest-magnitude loading is positive; this
		// keeps factor exposures stable across identical inputs.
		sign := 1.0
		best := 0.0
		for i := 0; i < n; i++ {
			if x := rawVectors.At(i, src); x*x > best {
				best = x * x
				if x < 0 {
					sign = -1
				} else {
					sign = 1
				}
			}
		}
		for i := 0; i < n; i++ {
			pc.vectors.Set(i, j, sign*rawVectors.At(i, src))
		}
	}

	if pc.total <= 0 {
		return nil, domain.DegenerateRisk("covariance has no positive variance")
	}
	return pc, nil
}

// factorsFor returns the smallest k whose cumulative explained variance
// reaches threshold.
func (pc *principalComponents) factorsFor(threshold float64) int {
	cumulative := 0.0
	for k, v := range pc.values {
		cumulative += v
		if cumulative/pc.total >= threshold-1e-12 {
			return k + 1
		}
	}
	return len(pc.values)
}

// explained returns the fraction of total variance captured by the top k
func (pc *principalComponents) explained(k int) float64 {
	sum := 0.0
	for _, v := range pc.values[:k] {
		sum += v
	}
	return sum / pc.total
}

// factorModel keeps the top-k components as systematic factors. Idiosyncratic
// variance is the diagonal of the discarded components, which is never
// negative.
func (pc *principalComponents) factorModel(symbols []string, k int) (*RiskModel, error) {
	n := len(pc.values)

	loadings := mat.NewDense(n, k, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < k; j++ {
			loadings.Set(i, j, pc.vectors.At(i, j))
		}
	}

	factorCov := mat.NewSymDense(k, nil)
	for j := 0; j < k; j++ {
		factorCov.SetSym(j, j, pc.values[j])
	}

	idio := make([]float64, n)
	for i := 0; i < n; i++ {
		for j := k; j < n; j++ {
			x := pc.vectors.At(i, j)
			idio[i] += pc.values[j] * x * x
		}
	}

	return NewFactorRiskModel(symbols, loadings, factorCov, idio)
}
