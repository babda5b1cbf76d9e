package results

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/allocator/internal/domain"
	"github.com/aristath/allocator/internal/modules/analytics"
	"github.com/aristath/allocator/internal/modules/engine"
	"github.com/aristath/allocator/internal/modules/overlay"
	"github.com/aristath/allocator/pkg/formulas"
	testingpkg "github.com/aristath/allocator/internal/testing"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	db, cleanup := testingpkg.NewTestDB(t, "results")
	t.Cleanup(cleanup)
	return NewRepository(db.Conn(), zerolog.Nop())
}

func sampleBacktest(id string, created time.Time) *engine.BacktestResult {
	day := func(d int) time.Time { return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC) }
	sharpe := 1.25
	recovery := 3
	v := -0.02
	return &engine.BacktestResult{
		ID:        id,
		CreatedAt: created,
		Request: engine.BacktestRequest{
			Name:      "sample " + id,
			Universe:  []string{"AAA", "BBB"},
			Start:     day(2),
			End:       day(31),
			Rebalance: domain.RebalanceWeekly,
		},
		Targets:  domain.WeightPath{{Timestamp: day(2), Weights: domain.Weights{"AAA": 0.6, "BBB": 0.4}}},
		Realized: domain.WeightPath{{Timestamp: day(2), Weights: domain.Weights{"AAA": 0.3, "BBB": 0.3}}},
		Decisions: []overlay.Decision{
			{Timestamp: day(2), Symbol: "AAA", Action: overlay.ActionEnter, Target: 0.6, Weight: 0.3, Price: 100},
		},
		Report: &analytics.Report{
			Start:            day(3),
			End:              day(31),
			Returns:          []float64{0.01, -0.02},
			CumulativeReturn: 0.05,
			Sharpe:           &sharpe,
			RollingVaR95:     []*float64{nil, &v},
			Drawdown:         formulas.DrawdownMetrics{MaxDrawdown: 0.08, RecoveryPeriods: &recovery},
		},
		Rebalances: 4,
	}
}

func TestRepository_BacktestRoundTrip(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	created := time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)
	original := sampleBacktest("bt-1", created)

	require.NoError(t, repo.SaveBacktest(ctx, original))

	loaded, err := repo.GetBacktest(ctx, "bt-1")
	require.NoError(t, err)

	assert.Equal(t, original.ID, loaded.ID)
	assert.True(t, original.CreatedAt.Equal(loaded.CreatedAt))
	assert.Equal(t, original.Request.Name, loaded.Request.Name)
	assert.Equal(t, original.Request.Universe, loaded.Request.Universe)
	assert.Equal(t, original.Request.Rebalance, loaded.Request.Rebalance)
	assert.Equal(t, original.Targets[0].Weights, loaded.Targets[0].Weights)
	assert.Equal(t, original.Decisions[0].Action, loaded.Decisions[0].Action)
	assert.Equal(t, 4, loaded.Rebalances)

	require.NotNil(t, loaded.Report)
	assert.Equal(t, []float64{0.01, -0.02}, loaded.Report.Returns)
	require.NotNil(t, loaded.Report.Sharpe)
	assert.Equal(t, 1.25, *loaded.Report.Sharpe)
	assert.Nil(t, loaded.Report.Sortino)
	require.Len(t, loaded.Report.RollingVaR95, 2)
	assert.Nil(t, loaded.Report.RollingVaR95[0])
	assert.Equal(t, -0.02, *loaded.Report.RollingVaR95[1])
	require.NotNil(t, loaded.Report.Drawdown.RecoveryPeriods)
	assert.Equal(t, 3, *loaded.Report.Drawdown.RecoveryPeriods)
}

func TestRepository_ListAndDeleteBacktests(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	base := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"old", "mid", "new"} {
		require.NoError(t, repo.SaveBacktest(ctx, sampleBacktest(id, base.Add(time.Duration(i)*time.Hour))))
	}
	noReport := sampleBacktest("bare", base.Add(-time.Hour))
	noReport.Report = nil
	require.NoError(t, repo.SaveBacktest(ctx, noReport))

	all, err := repo.ListBacktests(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, []string{"new", "mid", "old", "bare"}, []string{all[0].ID, all[1].ID, all[2].ID, all[3].ID})
	require.NotNil(t, all[0].CumulativeReturn)
	assert.Equal(t, 0.05, *all[0].CumulativeReturn)
	assert.Equal(t, 0.08, *all[0].MaxDrawdown)
	assert.Nil(t, all[3].CumulativeReturn)

	limited, err := repo.ListBacktests(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	require.NoError(t, repo.DeleteBacktest(ctx, "mid"))
	assert.ErrorIs(t, repo.DeleteBacktest(ctx, "mid"), ErrNotFound)

	_, err = repo.GetBacktest(ctx, "mid")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Error(t, repo.SaveBacktest(ctx, &engine.BacktestResult{}))
}

type storedSweep struct {
	ID        string             `msgpack:"id"`
	Scenarios []string           `msgpack:"scenarios"`
	Scores    map[string]float64 `msgpack:"scores"`
}

func TestRepository_Sweeps(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	created := time.Now().Add(-time.Minute)

	sweep := storedSweep{ID: "sw-1", Scenarios: []string{"a", "b"}}
	require.NoError(t, repo.SaveSweep(ctx, "sw-1", "running", created, sweep))

	sweep.Scores = map[string]float64{"a": 0.1}
	require.NoError(t, repo.SaveSweep(ctx, "sw-1", "completed", created, sweep))

	var loaded storedSweep
	require.NoError(t, repo.LoadSweep(ctx, "sw-1", &loaded))
	assert.Equal(t, sweep, loaded)

	list, err := repo.ListSweeps(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "completed", list[0].Status)

	assert.ErrorIs(t, repo.LoadSweep(ctx, "missing", &loaded), ErrNotFound)
}

func TestCleanupJob(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.SaveBacktest(ctx, sampleBacktest("ancient", now.AddDate(0, 0, -100))))
	require.NoError(t, repo.SaveBacktest(ctx, sampleBacktest("recent", now.AddDate(0, 0, -1))))
	require.NoError(t, repo.SaveSweep(ctx, "done", "completed", now.AddDate(0, 0, -100), storedSweep{}))
	require.NoError(t, repo.SaveSweep(ctx, "busy", "running", now.AddDate(0, 0, -100), storedSweep{}))

	job := NewCleanupJob(repo, 30*24*time.Hour, zerolog.Nop())
	job.now = func() time.Time { return now }
	assert.Equal(t, "results_cleanup", job.Name())
	require.NoError(t, job.Run())

	backtests, err := repo.ListBacktests(ctx, 0)
	require.NoError(t, err)
	require.Len(t, backtests, 1)
	assert.Equal(t, "recent", backtests[0].ID)

	sweeps, err := repo.ListSweeps(ctx, 0)
	require.NoError(t, err)
	require.Len(t, sweeps, 1)
	assert.Equal(t, "busy", sweeps[0].ID)

	require.NoError(t, NewCleanupJob(repo, 0, zerolog.Nop()).Run())
}
