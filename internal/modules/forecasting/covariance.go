package forecasting

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/aristath/allocator/internal/domain"
)

// sampleCovariance estimates the covariance of the columns of window.
// window is indexed [observation][asset].
func sampleCovariance(window [][]float64) *mat.SymDense {
	rows := len(window)
	cols := len(window[0])
	data := make([]float64, 0, rows*cols)
	for _, row := range window {
		data = append(data, row...)
	}

	x := mat.NewDense(rows, cols, data)
	cov := mat.NewSymDense(cols, nil)
	stat.CovarianceMatrix(cov, x, nil)
	return cov
}

// shrinkageIntensity is scale × assets / observations, clamped to [0, 1]
func shrinkageIntensity(assets, observations int, scale float64) float64 {
	if observations <= 0 {
		return 1
	}
	delta := scale * float64(assets) / float64(observations)
	return math.Max(0, math.Min(1, delta))
}

// shrinkToDiagonal blends the sample covariance with its own diagonal:
//
//	Σ* = (1-δ)·S + δ·diag(S)
//
// The diagonal is untouched, off-diagonal terms are scaled by (1-δ). With all
// variances positive and δ > 0 the result is positive-definite.
func shrinkToDiagonal(cov *mat.SymDense, delta float64) *mat.SymDense {
	n := cov.SymmetricDim()
	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		out.SetSym(i, i, cov.At(i, i))
		for j := i + 1; j < n; j++ {
			out.SetSym(i, j, (1-delta)*cov.At(i, j))
		}
	}
	return out
}

// relativeVarianceFloor separates a genuinely flat series from rounding noise
// left by centering a constant column.
const relativeVarianceFloor = 1e-12

// checkVariances rejects assets whose sample variance is zero or not finite
func checkVariances(symbols []string, cov *mat.SymDense, observations int) error {
	largest := 0.0
	for i := range symbols {
		largest = math.Max(largest, cov.At(i, i))
	}
	for i, s := range symbols {
		v := cov.At(i, i)
		if !(v > largest*relativeVarianceFloor) || math.IsInf(v, 0) {
			return domain.DegenerateRisk("asset %s has variance %g over %d observations", s, v, observations)
		}
	}
	return nil
}

// checkPositiveDefinite confirms the matrix admits a Cholesky factorization
func checkPositiveDefinite(cov *mat.SymDense) error {
	var chol mat.Cholesky
	if ok := chol.Factorize(cov); !ok {
		return domain.DegenerateRisk("covariance is not positive-definite after shrinkage")
	}
	return nil
}
