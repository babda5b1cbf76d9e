package overlay

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/allocator/internal/domain"
	testingpkg "github.com/aristath/allocator/internal/testing"
)

func newOverlay(t *testing.T, cfg Config) *Overlay {
	t.Helper()
	o, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)
	return o
}

func singleAssetPrices(prices ...float64) domain.PricePath {
	ts := testingpkg.BusinessDays(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), len(prices))
	rows := make([][]float64, len(prices))
	for i, p := range prices {
		rows[i] = []float64{p}
	}
	return domain.PricePath{Symbols: []string{"A"}, Timestamps: ts, Prices: rows}
}

func actions(decisions []Decision) []Action {
	out := make([]Action, len(decisions))
	for i, d := range decisions {
		out[i] = d.Action
	}
	return out
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"zero stop loss", func(c *Config) { c.StopLossThreshold = 0 }},
		{"stop loss above one", func(c *Config) { c.StopLossThreshold = 1.2 }},
		{"zero trailing stop", func(c *Config) { c.TrailingStop = 0 }},
		{"zero vol target", func(c *Config) { c.VolTarget = 0 }},
		{"max position above one", func(c *Config) { c.MaxPosition = 1.5 }},
		{"short window", func(c *Config) { c.VolWindow = 1 }},
		{"no periods", func(c *Config) { c.PeriodsPerYear = 0 }},
		{"lambda one", func(c *Config) { c.EWMALambda = 1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			_, err := New(cfg, zerolog.Nop())
			assert.True(t, errors.Is(err, domain.ErrInvalidConfiguration))
		})
	}
	assert.NoError(t, DefaultConfig().Validate())
}

func TestRun_StopLossForcesZero(t *testing.T) {
	prices := singleAssetPrices(100, 95, 89)
	targets := domain.WeightPath{{Timestamp: prices.Timestamps[0], Weights: domain.Weights{"A": 0.3}}}

	res, err := newOverlay(t, DefaultConfig()).Run([]string{"A"}, targets, prices)
	require.NoError(t, err)

	require.Len(t, res.Weights, 3)
	assert.InDelta(t, 0.3, res.Weights[0].Weights["A"], 1e-12)
	assert.InDelta(t, 0.3, res.Weights[1].Weights["A"], 1e-12)
	assert.Equal(t, 0.0, res.Weights[2].Weights["A"])
	assert.Equal(t, []Action{ActionEnter, ActionHold, ActionStopLoss}, actions(res.Decisions))
}

func TestRun_StopLossOverridesAnyTarget(t *testing.T) {
	prices := singleAssetPrices(100, 95, 89)
	targets := domain.WeightPath{
		{Timestamp: prices.Timestamps[0], Weights: domain.Weights{"A": 0.3}},
		{Timestamp: prices.Timestamps[2], Weights: domain.Weights{"A": 1.0}},
	}

	res, err := newOverlay(t, DefaultConfig()).Run([]string{"A"}, targets, prices)
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.Weights[2].Weights["A"])
	assert.Equal(t, ActionStopLoss, res.Decisions[2].Action)
	assert.Equal(t, 1.0, res.Decisions[2].Target)
}

func TestRun_TrailingStop(t *testing.T) {
	prices := singleAssetPrices(100, 120, 101)
	targets := domain.WeightPath{{Timestamp: prices.Timestamps[0], Weights: domain.Weights{"A": 0.3}}}

	res, err := newOverlay(t, DefaultConfig()).Run([]string{"A"}, targets, prices)
	require.NoError(t, err)

	last := res.Decisions[2]
	assert.Equal(t, ActionTrailingStop, last.Action)
	assert.InDelta(t, 19.0/120.0, last.Drawdown, 1e-12)
	assert.Equal(t, 0.0, last.Weight)
}

func TestRun_ExitThenClosed(t *testing.T) {
	prices := singleAssetPrices(100, 100, 100, 100)
	targets := domain.WeightPath{
		{Timestamp: prices.Timestamps[0], Weights: domain.Weights{"A": 0.3}},
		{Timestamp: prices.Timestamps[1], Weights: domain.Weights{}},
	}

	res, err := newOverlay(t, DefaultConfig()).Run([]string{"A"}, targets, prices)
	require.NoError(t, err)

	assert.Equal(t, []Action{ActionEnter, ActionExit, ActionClosed}, actions(res.Decisions))
	_, held := res.Weights[1].Weights["A"]
	assert.True(t, held, "flat state is reported at zero")
	assert.Empty(t, res.Weights[2].Weights)
	assert.Empty(t, res.Final.States)
}

func TestRun_ReentryAfterStop(t *testing.T) {
	prices := singleAssetPrices(100, 95, 89, 89)
	targets := domain.WeightPath{{Timestamp: prices.Timestamps[0], Weights: domain.Weights{"A": 0.3}}}

	res, err := newOverlay(t, DefaultConfig()).Run([]string{"A"}, targets, prices)
	require.NoError(t, err)

	assert.Equal(t, []Action{ActionEnter, ActionHold, ActionStopLoss, ActionEnter}, actions(res.Decisions))
	st := res.Final.States["A"]
	assert.Equal(t, 89.0, st.EntryPrice)
	assert.Equal(t, 89.0, st.HighWaterMark)
	assert.Equal(t, 0, st.ZeroTicks)
	assert.Greater(t, st.Weight, 0.0)
	assert.LessOrEqual(t, st.Weight, 0.3)
}

func TestStep_VolTargetScalesDown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.VolWindow = 3
	cfg.VolTarget = 0.05
	o := newOverlay(t, cfg)

	prior := NewBook()
	prior.States["A"] = State{EntryPrice: 100, HighWaterMark: 100, Weight: 0.3}
	prior.LastPrices["A"] = 100
	prior.Returns = []map[string]float64{{"A": 0.02}, {"A": -0.02}}

	next, decisions, err := o.Step(prior, Tick{Prices: map[string]float64{"A": 100}, Targets: domain.Weights{"A": 0.3}})
	require.NoError(t, err)

	want := 0.3 * 0.05 / (0.006 * math.Sqrt(252))
	assert.InDelta(t, want, next.States["A"].Weight, 1e-9)
	require.Len(t, decisions, 1)
	assert.Equal(t, ActionHold, decisions[0].Action)
	assert.InDelta(t, want, decisions[0].Weight, 1e-9)

	// prior is untouched
	assert.Equal(t, 0.3, prior.States["A"].Weight)
	assert.Len(t, prior.Returns, 2)
	assert.Len(t, next.Returns, 3)
}

func TestStep_VolTargetNeverLevers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.VolTarget = 5
	cfg.MaxPosition = 0.6
	o := newOverlay(t, cfg)

	prior := NewBook()
	prior.States["A"] = State{EntryPrice: 100, HighWaterMark: 100, Weight: 0.4}
	prior.States["B"] = State{EntryPrice: 100, HighWaterMark: 100, Weight: 0.4}
	prior.LastPrices = map[string]float64{"A": 100, "B": 100}
	prior.Returns = []map[string]float64{{"A": 0.01, "B": 0.0}, {"A": -0.01, "B": 0.01}}

	next, _, err := o.Step(prior, Tick{
		Prices:  map[string]float64{"A": 100, "B": 100},
		Targets: domain.Weights{"A": 0.4, "B": 0.4},
	})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, next.Weights().Sum(), 1e-12)
	assert.InDelta(t, 0.5, next.States["A"].Weight, 1e-12)
}

func TestStep_MissingPriceForHeldAsset(t *testing.T) {
	prior := NewBook()
	prior.States["A"] = State{EntryPrice: 100, HighWaterMark: 100, Weight: 0.3}
	_, _, err := newOverlay(t, DefaultConfig()).Step(prior, Tick{Prices: map[string]float64{"B": 10}})
	assert.ErrorIs(t, err, domain.ErrInsufficientHistory)
}

func TestStep_MissingPriceForTargetedAsset(t *testing.T) {
	tick := Tick{
		Prices:  map[string]float64{"A": 100},
		Targets: domain.Weights{"A": 0.2, "B": 0.2},
	}
	_, _, err := newOverlay(t, DefaultConfig()).Step(NewBook(), tick)
	var hist *domain.InsufficientHistoryError
	require.ErrorAs(t, err, &hist)
	assert.Contains(t, hist.What, "B")
}

func TestStep_GapInUntrackedAssetIgnored(t *testing.T) {
	o := newOverlay(t, DefaultConfig())
	book := NewBook()
	ticks := []Tick{
		{Prices: map[string]float64{"A": 100, "B": 50}, Targets: domain.Weights{"A": 0.2}},
		{Prices: map[string]float64{"A": 101, "B": math.NaN()}, Targets: domain.Weights{"A": 0.2}},
		{Prices: map[string]float64{"A": 102, "B": 0}, Targets: domain.Weights{"A": 0.2}},
	}
	for i, tick := range ticks {
		next, _, err := o.Step(book, tick)
		require.NoError(t, err, "tick %d", i)
		book = next
	}

	assert.Contains(t, book.States, "A")
	assert.NotContains(t, book.States, "B")
	assert.Equal(t, 50.0, book.LastPrices["B"], "gaps leave the last good price")
}

func TestCapPositions(t *testing.T) {
	w := []float64{0.7, 0.2, 0.1}
	capPositions(w, 0.5)
	assert.InDelta(t, 0.5, w[0], 1e-12)
	assert.InDelta(t, 0.2+0.2*2.0/3.0, w[1], 1e-12)
	assert.InDelta(t, 0.1+0.2/3.0, w[2], 1e-12)

	all := []float64{0.6, 0.6}
	capPositions(all, 0.5)
	assert.Equal(t, []float64{0.5, 0.5}, all)

	cascade := []float64{0.8, 0.15, 0.05}
	capPositions(cascade, 0.4)
	assert.InDelta(t, 0.4, cascade[0], 1e-12)
	assert.InDelta(t, 0.4, cascade[1], 1e-12)
	assert.InDelta(t, 0.2, cascade[2], 1e-12)
}

func TestRun_MarketPathRespectsLimits(t *testing.T) {
	m := testingpkg.NewMarket(testingpkg.DefaultMarketConfig())
	prices := m.Returns.Prices(100)
	universe := m.Returns.Symbols

	targets := domain.WeightPath{
		{Timestamp: prices.Timestamps[0], Weights: domain.Weights{"AAA": 0.3, "BBB": 0.3, "CCC": 0.2, "DDD": 0.1, "EEE": 0.1}},
		{Timestamp: prices.Timestamps[150], Weights: domain.Weights{"AAA": 0.5, "DDD": 0.5}},
	}

	cfg := DefaultConfig()
	o := newOverlay(t, cfg)
	first, err := o.Run(universe, targets, prices)
	require.NoError(t, err)
	second, err := o.Run(universe, targets, prices)
	require.NoError(t, err)
	assert.Equal(t, first.Weights, second.Weights)

	for _, snap := range first.Weights {
		assert.LessOrEqual(t, snap.Weights.Sum(), 1+1e-12)
		for symbol, w := range snap.Weights {
			assert.LessOrEqual(t, w, cfg.MaxPosition+1e-12, symbol)
			assert.GreaterOrEqual(t, w, 0.0, symbol)
		}
	}
}

func TestRun_UnknownUniverseAsset(t *testing.T) {
	_, err := newOverlay(t, DefaultConfig()).Run([]string{"ZZZ"}, nil, singleAssetPrices(100))
	assert.True(t, errors.Is(err, domain.ErrInvalidConfiguration))
}
