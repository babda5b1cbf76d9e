package formulas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ladder returns -0.50, -0.49, ... 0.49 in reverse order so sorting matters.
func ladder() []float64 {
	out := make([]float64, 100)
	for i := range out {
		out[99-i] = float64(i-50) / 100
	}
	return out
}

func TestCalculateVaR(t *testing.T) {
	returns := ladder()

	v95, err := CalculateVaR(returns, 0.95, 30)
	require.NoError(t, err)
	assert.InDelta(t, -0.46, v95, 1e-12)

	v99, err := CalculateVaR(returns, 0.99, 30)
	require.NoError(t, err)
	assert.InDelta(t, -0.50, v99, 1e-12)

	// input must not be reordered
	assert.InDelta(t, 0.49, returns[0], 1e-12)
}

func TestCalculateVaR_InsufficientData(t *testing.T) {
	_, err := CalculateVaR(make([]float64, 29), 0.95, 30)
	assert.ErrorIs(t, err, ErrInsufficientData)

	_, err = CalculateVaR(nil, 0.95, 0)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestCalculateExpectedShortfall(t *testing.T) {
	returns := ladder()

	es95, err := CalculateExpectedShortfall(returns, 0.95, 30)
	require.NoError(t, err)
	assert.InDelta(t, -0.48, es95, 1e-12)

	es99, err := CalculateExpectedShortfall(returns, 0.99, 30)
	require.NoError(t, err)
	assert.InDelta(t, -0.50, es99, 1e-12)

	_, err = CalculateExpectedShortfall(returns[:10], 0.95, 30)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestRollingVaR(t *testing.T) {
	returns := ladder()
	rolling := RollingVaR(returns, 0.95, 50, 30)
	require.Len(t, rolling, 100)

	for i := 0; i < 29; i++ {
		assert.Nil(t, rolling[i], "period %d", i)
	}
	require.NotNil(t, rolling[29])
	require.NotNil(t, rolling[99])

	want, err := CalculateVaR(returns[50:], 0.95, 30)
	require.NoError(t, err)
	assert.Equal(t, want, *rolling[99])
}

func TestTrailingWindow(t *testing.T) {
	data := []float64{1, 2, 3, 4}
	assert.Equal(t, []float64{3, 4}, TrailingWindow(data, 2))
	assert.Equal(t, data, TrailingWindow(data, 10))
	assert.Equal(t, data, TrailingWindow(data, 0))
}
