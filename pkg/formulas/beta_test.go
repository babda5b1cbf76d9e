package formulas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateBeta(t *testing.T) {
	bench := []float64{0.01, -0.02, 0.03, 0.00}
	port := []float64{0.02, -0.04, 0.06, 0.00}

	beta := CalculateBeta(port, bench)
	require.NotNil(t, beta)
	assert.InDelta(t, 2.0, *beta, 1e-12)

	alpha := CalculateJensensAlpha(port, bench, 0, 252)
	require.NotNil(t, alpha)
	assert.InDelta(t, 0.0, *alpha, 1e-12)
}

func TestCalculateJensensAlpha_WithOffset(t *testing.T) {
	bench := []float64{0.01, -0.02, 0.03, 0.00}
	port := []float64{0.011, -0.019, 0.031, 0.001}

	alpha := CalculateJensensAlpha(port, bench, 0, 252)
	require.NotNil(t, alpha)
	assert.InDelta(t, 0.001, *alpha, 1e-12)
}

func TestCalculateBeta_Undefined(t *testing.T) {
	assert.Nil(t, CalculateBeta([]float64{0.01, 0.02}, []float64{0.01, 0.01}), "zero benchmark variance")
	assert.Nil(t, CalculateBeta([]float64{0.01}, []float64{0.01}), "single observation")
	assert.Nil(t, CalculateBeta([]float64{0.01, 0.02}, []float64{0.01}), "length mismatch")
	assert.Nil(t, CalculateJensensAlpha([]float64{0.01, 0.02}, []float64{0.01, 0.01}, 0, 252))
}
