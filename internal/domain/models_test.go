package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(n int) time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func TestAsset_TierScaling(t *testing.T) {
	tests := []struct {
		tier      int
		wantScale float64
		wantCost  float64
	}{
		{0, 1.0, 0.0005},
		{1, 1.0, 0.0005},
		{2, 0.75, 0.0015},
		{3, 0.5, 0.0040},
		{7, 0.5, 0.0040},
	}

	for _, tt := range tests {
		a := Asset{Symbol: "X", LiquidityTier: tt.tier}
		assert.Equal(t, tt.wantScale, a.PositionScale(), "tier %d", tt.tier)
		assert.Equal(t, tt.wantCost, a.TransactionCost(), "tier %d", tt.tier)
	}
}

func TestParseRebalanceFrequency(t *testing.T) {
	f, err := ParseRebalanceFrequency(" Weekly ")
	require.NoError(t, err)
	assert.Equal(t, RebalanceWeekly, f)

	_, err = ParseRebalanceFrequency("hourly")
	assert.True(t, errors.Is(err, ErrInvalidConfiguration))
}

func TestWeights(t *testing.T) {
	w := Weights{"B": 0.25, "A": 0.5, "C": 0.25}

	assert.Equal(t, []string{"A", "B", "C"}, w.Symbols())
	assert.InDelta(t, 1.0, w.Sum(), 1e-12)
	assert.Equal(t, []float64{0.5, 0, 0.25}, w.Vector([]string{"A", "Z", "C"}))

	clone := w.Clone()
	clone["A"] = 0
	assert.Equal(t, 0.5, w["A"])
}

func TestTurnover(t *testing.T) {
	from := Weights{"A": 0.5, "B": 0.5}
	to := Weights{"A": 0.25, "C": 0.75}

	// |0.25-0.5| + |0-0.5| + |0.75-0| = 1.5, halved
	assert.InDelta(t, 0.75, Turnover(from, to), 1e-12)
	assert.InDelta(t, 0.5, Turnover(nil, Weights{"A": 1}), 1e-12)
}

func TestWeightPath_Lookup(t *testing.T) {
	path := WeightPath{
		{Timestamp: day(0), Weights: Weights{"A": 1}},
		{Timestamp: day(5), Weights: Weights{"B": 1}},
	}
	require.NoError(t, path.Validate())

	_, ok := path.AtOrBefore(day(-1))
	assert.False(t, ok)

	w, ok := path.AtOrBefore(day(5))
	require.True(t, ok)
	assert.Equal(t, 1.0, w["B"])

	w, ok = path.Before(day(5))
	require.True(t, ok)
	assert.Equal(t, 1.0, w["A"])

	_, ok = path.Before(day(0))
	assert.False(t, ok)
}

func TestWeightPath_ValidateOrdering(t *testing.T) {
	path := WeightPath{
		{Timestamp: day(1), Weights: Weights{"A": 1}},
		{Timestamp: day(1), Weights: Weights{"A": 1}},
	}
	assert.Error(t, path.Validate())
}

func TestErrorKinds(t *testing.T) {
	err := Infeasible("sector_limits", "capacity %.2f below target", 0.8)
	assert.True(t, errors.Is(err, ErrInfeasible))

	var infeasible *InfeasibleError
	require.True(t, errors.As(err, &infeasible))
	assert.Equal(t, "sector_limits", infeasible.Constraint)

	hist := &InsufficientHistoryError{What: "lookback", Need: 60, Have: 20}
	assert.True(t, errors.Is(hist, ErrInsufficientHistory))
	assert.Contains(t, hist.Error(), "need 60")

	assert.True(t, errors.Is(InvalidConfig("max_position", "must be positive"), ErrInvalidConfiguration))
	assert.True(t, errors.Is(DegenerateRisk("asset %s has zero variance", "A"), ErrDegenerateRisk))
}
