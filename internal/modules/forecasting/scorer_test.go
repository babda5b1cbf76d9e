package forecasting

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/allocator/internal/domain"
	testingpkg "github.com/aristath/allocator/internal/testing"
)

func TestFeatureScorer(t *testing.T) {
	s := FeatureScorer(1, 2)
	assert.Equal(t, 0.4, s([]float64{0.1, 0.2}))
	assert.Equal(t, 0.0, s([]float64{0.1}))
}

func TestBlendScorers(t *testing.T) {
	s := BlendScorers([]Scorer{FeatureScorer(0, 1), FeatureScorer(1, 1)}, []float64{3, 1})
	assert.InDelta(t, (3*0.1+0.5)/4, s([]float64{0.1, 0.5}), 1e-15)
}

// linearSet builds y = 0.01 + 0.5·x0 - 0.2·x1 on a deterministic grid
func linearSet() TrainingSet {
	var set TrainingSet
	for i := 0; i < 10; i++ {
		for j := 0; j < 10; j++ {
			x0 := float64(i)/10 - 0.5
			x1 := float64((j*7)%10)/5 - 1
			set.X = append(set.X, []float64{x0, x1})
			set.Y = append(set.Y, 0.01+0.5*x0-0.2*x1)
		}
	}
	return set
}

func TestFitLinearModel_RecoversCoefficients(t *testing.T) {
	model, err := FitLinearModel(linearSet(), 0)
	require.NoError(t, err)

	intercept, slopes := model.rawCoefficients()
	assert.InDelta(t, 0.01, intercept, 1e-4)
	require.Len(t, slopes, 2)
	assert.InDelta(t, 0.5, slopes[0], 1e-4)
	assert.InDelta(t, -0.2, slopes[1], 1e-4)

	assert.InDelta(t, 0.01+0.5*0.3-0.2*0.1, model.Score([]float64{0.3, 0.1}), 1e-4)
}

func TestFitLinearModel_RidgeShrinks(t *testing.T) {
	plain, err := FitLinearModel(linearSet(), 0)
	require.NoError(t, err)
	ridge, err := FitLinearModel(linearSet(), 1)
	require.NoError(t, err)

	assert.Less(t, abs(ridge.Betas[0]), abs(plain.Betas[0]))
	assert.Less(t, abs(ridge.Betas[1]), abs(plain.Betas[1]))
}

func TestFitLinearModel_Errors(t *testing.T) {
	_, err := FitLinearModel(TrainingSet{X: [][]float64{{1}}, Y: []float64{1}}, 0)
	assert.Error(t, err)
	_, err = FitLinearModel(linearSet(), -1)
	assert.Error(t, err)
}

func TestFitStumpEnsemble_LearnsStep(t *testing.T) {
	var set TrainingSet
	for i := 0; i < 40; i++ {
		x := float64(i)/20 - 1
		y := -0.05
		if x > 0 {
			y = 0.05
		}
		set.X = append(set.X, []float64{x, float64(i % 3)})
		set.Y = append(set.Y, y)
	}

	ens, err := FitStumpEnsemble(set, DefaultBoostingOptions())
	require.NoError(t, err)
	require.NotEmpty(t, ens.Stumps)
	assert.Equal(t, 0, ens.Stumps[0].Feature)

	assert.InDelta(t, 0.05, ens.Score([]float64{0.5, 1}), 1e-3)
	assert.InDelta(t, -0.05, ens.Score([]float64{-0.5, 1}), 1e-3)

	again, err := FitStumpEnsemble(set, DefaultBoostingOptions())
	require.NoError(t, err)
	assert.Equal(t, ens, again, "fits are reproducible")
}

func TestFitStumpEnsemble_TooFewSamples(t *testing.T) {
	_, err := FitStumpEnsemble(TrainingSet{X: [][]float64{{1}, {2}}, Y: []float64{1, 2}}, DefaultBoostingOptions())
	assert.Error(t, err)
}

func TestBuildTrainingSet_NoLookAhead(t *testing.T) {
	m := testingpkg.NewMarket(testingpkg.DefaultMarketConfig())
	asOf := m.Returns.Timestamps[100]

	set, err := BuildTrainingSet(m.Features, m.Returns, asOf, 50)
	require.NoError(t, err)
	assert.Equal(t, 50*5, set.Len())

	// The last label is the return realized at asOf, paired with the
	// features of the period before.
	last := set.Len() - 1
	assert.Equal(t, m.Returns.Returns[100][4], set.Y[last])
	assert.Equal(t, m.Features.Values[99][4], set.X[last])
}

func TestBuildTrainingSet_Empty(t *testing.T) {
	m := testingpkg.NewMarket(testingpkg.DefaultMarketConfig())
	_, err := BuildTrainingSet(m.Features, m.Returns, time.Time{}, 50)
	assert.ErrorIs(t, err, domain.ErrInsufficientHistory)
}

func TestFittedScorersPlugIntoForecaster(t *testing.T) {
	m := testingpkg.NewMarket(testingpkg.DefaultMarketConfig())
	asOf := m.Returns.Timestamps[250]

	set, err := BuildTrainingSet(m.Features, m.Returns, asOf, 200)
	require.NoError(t, err)

	linear, err := FitLinearModel(set, 0.1)
	require.NoError(t, err)
	ens, err := FitStumpEnsemble(set, BoostingOptions{Rounds: 20, LearningRate: 0.1, MinLeaf: 10})
	require.NoError(t, err)

	for _, scorer := range []Scorer{linear.Score, ens.Score} {
		f := signalForecasterWith(t, scorer)
		fc, err := f.Forecast(Input{Features: m.Features, Returns: m.Returns, AsOf: asOf, Lookback: 60})
		require.NoError(t, err)
		require.NoError(t, fc.Validate())
	}
}

func signalForecasterWith(t *testing.T, s Scorer) *Forecaster {
	t.Helper()
	f, err := NewForecaster(s, DefaultOptions(), nopLogger())
	require.NoError(t, err)
	return f
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
