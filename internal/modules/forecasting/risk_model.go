package forecasting

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// RiskModelKind tags which representation a RiskModel carries
type RiskModelKind string

const (
	// FullCovariance carries an explicit n×n covariance matrix
	FullCovariance RiskModelKind = "full_covariance"
	// FactorModel carries loadings B, factor covariance F and idiosyncratic
	// variances D so that Σ = B F Bᵀ + diag(D)
	FactorModel RiskModelKind = "factor_model"
)

// RiskModel is a covariance model over an ordered asset set. Callers never
// branch on Kind: quadratic forms, products and subsets dispatch internally.
type RiskModel struct {
	Kind    RiskModelKind
	Symbols []string

	covariance *mat.SymDense

	loadings  *mat.Dense
	factorCov *mat.SymDense
	idio      []float64
}

// NewFullCovarianceModel wraps a covariance matrix
func NewFullCovarianceModel(symbols []string, cov *mat.SymDense) (*RiskModel, error) {
	if cov.SymmetricDim() != len(symbols) {
		return nil, fmt.Errorf("covariance is %d×%d for %d assets", cov.SymmetricDim(), cov.SymmetricDim(), len(symbols))
	}
	return &RiskModel{
		Kind:       FullCovariance,
		Symbols:    append([]string(nil), symbols...),
		covariance: cov,
	}, nil
}

// NewFactorRiskModel wraps a factor decomposition
func NewFactorRiskModel(symbols []string, loadings *mat.Dense, factorCov *mat.SymDense, idio []float64) (*RiskModel, error) {
	n, k := loadings.Dims()
	if n != len(symbols) || len(idio) != n {
		return nil, fmt.Errorf("factor model has %d loading rows and %d idiosyncratic terms for %d assets", n, len(idio), len(symbols))
	}
	if factorCov.SymmetricDim() != k {
		return nil, fmt.Errorf("factor covariance is %d×%d for %d factors", factorCov.SymmetricDim(), factorCov.SymmetricDim(), k)
	}
	return &RiskModel{
		Kind:      FactorModel,
		Symbols:   append([]string(nil), symbols...),
		loadings:  loadings,
		factorCov: factorCov,
		idio:      append([]float64(nil), idio...),
	}, nil
}

// Size returns the number of assets
func (m *RiskModel) Size() int {
	return len(m.Symbols)
}

// Factors returns the number of systematic factors (0 for a full covariance)
func (m *RiskModel) Factors() int {
	if m.Kind != FactorModel {
		return 0
	}
	_, k := m.loadings.Dims()
	return k
}

// Idiosyncratic returns a copy of the per-asset residual variances
func (m *RiskModel) Idiosyncratic() []float64 {
	return append([]float64(nil), m.idio...)
}

// Variance evaluates the quadratic form wᵀΣw
func (m *RiskModel) Variance(w []float64) float64 {
	v := mat.NewVecDense(len(w), append([]float64(nil), w...))
	if m.Kind == FullCovariance {
		return mat.Inner(v, m.covariance, v)
	}

	var f mat.VecDense
	f.MulVec(m.loadings.T(), v)
	total := mat.Inner(&f, m.factorCov, &f)
	for i, wi := range w {
		total += m.idio[i] * wi * wi
	}
	return total
}

// MulVec returns Σw
func (m *RiskModel) MulVec(w []float64) []float64 {
	v := mat.NewVecDense(len(w), append([]float64(nil), w...))
	var out mat.VecDense
	if m.Kind == FullCovariance {
		out.MulVec(m.covariance, v)
		return append([]float64(nil), out.RawVector().Data...)
	}

	var f, ff mat.VecDense
	f.MulVec(m.loadings.T(), v)
	ff.MulVec(m.factorCov, &f)
	out.MulVec(m.loadings, &ff)
	res := append([]float64(nil), out.RawVector().Data...)
	for i, wi := range w {
		res[i] += m.idio[i] * wi
	}
	return res
}

// AssetVariance returns Σ[i][i]
func (m *RiskModel) AssetVariance(i int) float64 {
	if m.Kind == FullCovariance {
		return m.covariance.At(i, i)
	}
	_, k := m.loadings.Dims()
	total := m.idio[i]
	for a := 0; a < k; a++ {
		for b := 0; b < k; b++ {
			total += m.loadings.At(i, a) * m.factorCov.At(a, b) * m.loadings.At(i, b)
		}
	}
	return total
}

// Covariance materializes the full n×n covariance matrix
func (m *RiskModel) Covariance() *mat.SymDense {
	n := m.Size()
	if m.Kind == FullCovariance {
		out := mat.NewSymDense(n, nil)
		out.CopySym(m.covariance)
		return out
	}

	var bf mat.Dense
	bf.Mul(m.loadings, m.factorCov)
	var full mat.Dense
	full.Mul(&bf, m.loadings.T())

	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := full.At(i, j)
			if i != j {
				v = (v + full.At(j, i)) / 2
			} else {
				v += m.idio[i]
			}
			out.SetSym(i, j, v)
		}
	}
	return out
}

// Subset restricts the model to the assets at idx, in that order
func (m *RiskModel) Subset(idx []int) *RiskModel {
	symbols := make([]string, len(idx))
	for i, j := range idx {
		symbols[i] = m.Symbols[j]
	}

	if m.Kind == FullCovariance {
		cov := mat.NewSymDense(len(idx), nil)
		for i, a := range idx {
			for j := i; j < len(idx); j++ {
				cov.SetSym(i, j, m.covariance.At(a, idx[j]))
			}
		}
		return &RiskModel{Kind: FullCovariance, Symbols: symbols, covariance: cov}
	}

	_, k := m.loadings.Dims()
	loadings := mat.NewDense(len(idx), k, nil)
	idio := make([]float64, len(idx))
	for i, a := range idx {
		for f := 0; f < k; f++ {
			loadings.Set(i, f, m.loadings.At(a, f))
		}
		idio[i] = m.idio[a]
	}
	return &RiskModel{Kind: FactorModel, Symbols: symbols, loadings: loadings, factorCov: m.factorCov, idio: idio}
}
