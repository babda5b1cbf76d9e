package forecasting

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"
)

// LinearModel is a ridge regression on standardized features
type LinearModel struct {
	Intercept float64   `json:"intercept"`
	Betas     []float64 `json:"betas"`
	Means     []float64 `json:"means"`
	Scales    []float64 `json:"scales"`
	Lambda    float64   `json:"lambda"`
}

// FitLinearModel minimizes
//
//	1/(2N) Σ (b + βᵀz - y)² + λ/2 ‖β‖²
//
// over standardized features z with BFGS, falling back to Nelder-Mead.
func FitLinearModel(set TrainingSet, lambda float64) (*LinearModel, error) {
	if set.Len() < 2 {
		return nil, fmt.Errorf("need at least 2 samples to fit, have %d", set.Len())
	}
	if lambda < 0 {
		return nil, fmt.Errorf("ridge penalty must be non-negative, got %g", lambda)
	}

	p := len(set.X[0])
	model := &LinearModel{
		Means:  make([]float64, p),
		Scales: make([]float64, p),
		Lambda: lambda,
	}
	column := make([]float64, set.Len())
	for j := 0; j < p; j++ {
		for i, x := range set.X {
			column[i] = x[j]
		}
		model.Means[j], model.Scales[j] = stat.MeanStdDev(column, nil)
		if !(model.Scales[j] > 0) {
			model.Scales[j] = 0
		}
	}

	z := make([][]float64, set.Len())
	for i, x := range set.X {
		z[i] = model.standardize(x)
	}
	n := float64(set.Len())

	problem := optimize.Problem{
		Func: func(theta []float64) float64 {
			loss := 0.0
			for i, zi := range z {
				e := predict(theta, zi) - set.Y[i]
				loss += e * e
			}
			loss /= 2 * n
			for _, b := range theta[1:] {
				loss += lambda / 2 * b * b
			}
			return loss
		},
		Grad: func(grad, theta []float64) {
			for k := range grad {
				grad[k] = 0
			}
			for i, zi := range z {
				e := predict(theta, zi) - set.Y[i]
				grad[0] += e
				for j, v := range zi {
					grad[j+1] += e * v
				}
			}
			for k := range grad {
				grad[k] /= n
			}
			for j := 1; j < len(theta); j++ {
				grad[j] += lambda * theta[j]
			}
		},
	}

	initial := make([]float64, p+1)
	settings := &optimize.Settings{MajorIterations: 1000}

	result, err := optimize.Minimize(problem, initial, settings, &optimize.BFGS{})
	if err != nil || !converged(result.Status) {
		result, err = optimize.Minimize(problem, initial, settings, &optimize.NelderMead{})
		if err != nil {
			return nil, fmt.Errorf("ridge fit failed: %w", err)
		}
		if !converged(result.Status) {
			return nil, fmt.Errorf("ridge fit did not converge: status=%v", result.Status)
		}
	}

	model.Intercept = result.X[0]
	model.Betas = append([]float64(nil), result.X[1:]...)
	return model, nil
}

func converged(status optimize.Status) bool {
	return status == optimize.Success ||
		status == optimize.GradientThreshold ||
		status == optimize.FunctionConvergence
}

func predict(theta, z []float64) float64 {
	out := theta[0]
	for j, v := range z {
		out += theta[j+1] * v
	}
	return out
}

func (m *LinearModel) standardize(x []float64) []float64 {
	z := make([]float64, len(m.Means))
	for j := range z {
		if m.Scales[j] == 0 || j >= len(x) {
			continue
		}
		z[j] = (x[j] - m.Means[j]) / m.Scales[j]
	}
	return z
}

// Score returns the model's expected return for a feature vector
func (m *LinearModel) Score(x []float64) float64 {
	out := m.Intercept
	for j, v := range m.standardize(x) {
		out += m.Betas[j] * v
	}
	return out
}

// rawCoefficients returns the intercept and slopes on unstandardized features
func (m *LinearModel) rawCoefficients() (float64, []float64) {
	intercept := m.Intercept
	slopes := make([]float64, len(m.Betas))
	for j, b := range m.Betas {
		if m.Scales[j] == 0 {
			continue
		}
		slopes[j] = b / m.Scales[j]
		intercept -= b * m.Means[j] / m.Scales[j]
	}
	if math.IsNaN(intercept) {
		intercept = 0
	}
	return intercept, slopes
}
