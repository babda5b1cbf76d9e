package formulas

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateSharpeRatio(t *testing.T) {
	t.Run("annualizes mean over sample stdev", func(t *testing.T) {
		got := CalculateSharpeRatio([]float64{0.01, 0.02, 0.03}, 0, 252)
		require.NotNil(t, got)
		assert.InDelta(t, 2*math.Sqrt(252), *got, 1e-9)
	})

	t.Run("subtracts periodic risk-free rate", func(t *testing.T) {
		got := CalculateSharpeRatio([]float64{0.01, 0.02, 0.03}, 0.12, 12)
		require.NotNil(t, got)
		assert.InDelta(t, (0.02-0.01)/0.01*math.Sqrt(12), *got, 1e-9)
	})

	t.Run("zero stdev is undefined, not zero", func(t *testing.T) {
		assert.Nil(t, CalculateSharpeRatio([]float64{0.01, 0.01, 0.01}, 0, 252))
	})

	t.Run("too few observations", func(t *testing.T) {
		assert.Nil(t, CalculateSharpeRatio([]float64{0.01}, 0, 252))
	})

	t.Run("computed zero is distinct from undefined", func(t *testing.T) {
		got := CalculateSharpeRatio([]float64{0.01, -0.01}, 0, 252)
		require.NotNil(t, got)
		assert.InDelta(t, 0.0, *got, 1e-12)
	})
}

func TestCalculateSortinoRatio(t *testing.T) {
	t.Run("zero-filled downside deviation", func(t *testing.T) {
		returns := []float64{0.02, -0.01, 0.03, -0.02}
		got := CalculateSortinoRatio(returns, 0, 12)
		require.NotNil(t, got)

		// downside series [0, -0.01, 0, -0.02] has sample variance 2.75e-4 / 3
		want := 0.005 / math.Sqrt(2.75e-4/3) * math.Sqrt(12)
		assert.InDelta(t, want, *got, 1e-9)
	})

	t.Run("no negative periods is undefined", func(t *testing.T) {
		assert.Nil(t, CalculateSortinoRatio([]float64{0.01, 0.02, 0.0}, 0, 252))
	})

	t.Run("flat series is undefined", func(t *testing.T) {
		assert.Nil(t, CalculateSortinoRatio([]float64{0, 0, 0}, 0, 252))
	})
}
