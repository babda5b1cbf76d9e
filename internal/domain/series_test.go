package domain

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReturnPath_PricesCompound(t *testing.T) {
	path := ReturnPath{
		Symbols:    []string{"A", "B"},
		Timestamps: []time.Time{day(0), day(1)},
		Returns:    [][]float64{{0.1, -0.5}, {0.1, 1.0}},
	}
	require.NoError(t, path.Validate())

	prices := path.Prices(100)
	require.NoError(t, prices.Validate())
	assert.InDelta(t, 110, prices.Prices[0][0], 1e-9)
	assert.InDelta(t, 121, prices.Prices[1][0], 1e-9)
	assert.InDelta(t, 50, prices.Prices[0][1], 1e-9)
	assert.InDelta(t, 100, prices.Prices[1][1], 1e-9)

	assert.Equal(t, []float64{-0.5, 1.0}, path.Column(1))
	assert.Equal(t, 1, path.SymbolIndex("B"))
	assert.Equal(t, -1, path.SymbolIndex("Z"))
}

func TestReturnPath_PricesCarryAcrossGaps(t *testing.T) {
	path := ReturnPath{
		Symbols:    []string{"A"},
		Timestamps: []time.Time{day(0), day(1), day(2), day(3)},
		Returns:    [][]float64{{0.1}, {math.NaN()}, {math.NaN()}, {0.1}},
	}

	prices := path.Prices(100)
	require.NoError(t, prices.Validate())
	assert.InDelta(t, 110, prices.Prices[1][0], 1e-9)
	assert.InDelta(t, 110, prices.Prices[2][0], 1e-9)
	assert.InDelta(t, 121, prices.Prices[3][0], 1e-9)
}

func TestReturnPath_FillGaps(t *testing.T) {
	path := ReturnPath{
		Symbols:    []string{"A", "B"},
		Timestamps: []time.Time{day(0), day(1)},
		Returns:    [][]float64{{math.NaN(), 0.2}, {0.1, math.NaN()}},
	}

	filled, n := path.FillGaps(0)
	assert.Equal(t, 2, n)
	assert.Equal(t, [][]float64{{0, 0.2}, {0.1, 0}}, filled.Returns)
	assert.True(t, math.IsNaN(path.Returns[0][0]), "source is not modified")
}

func TestReturnPath_IndexAtOrBefore(t *testing.T) {
	path := ReturnPath{Timestamps: []time.Time{day(0), day(2), day(4)}}
	assert.Equal(t, -1, path.IndexAtOrBefore(day(-1)))
	assert.Equal(t, 0, path.IndexAtOrBefore(day(1)))
	assert.Equal(t, 1, path.IndexAtOrBefore(day(2)))
	assert.Equal(t, 2, path.IndexAtOrBefore(day(10)))
}

func TestFeatureMatrix_Validate(t *testing.T) {
	m := FeatureMatrix{
		Symbols:    []string{"A", "B"},
		Features:   []string{"momentum"},
		Timestamps: []time.Time{day(0)},
		Values:     [][][]float64{{{0.1}, {0.2}}},
	}
	require.NoError(t, m.Validate())
	assert.Equal(t, 0, m.FeatureIndex("momentum"))
	assert.Equal(t, -1, m.FeatureIndex("volume"))
	assert.Equal(t, []float64{0.2}, m.Vector(0, 1))

	m.Symbols = []string{"A", "A"}
	assert.Error(t, m.Validate())

	m.Symbols = []string{"A", "B"}
	m.Values = [][][]float64{{{0.1}}}
	assert.Error(t, m.Validate())
}

func TestPricePath_RejectsNonPositive(t *testing.T) {
	p := PricePath{
		Symbols:    []string{"A"},
		Timestamps: []time.Time{day(0)},
		Prices:     [][]float64{{0}},
	}
	assert.Error(t, p.Validate())
}
