package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/allocator/internal/modules/analytics"
	"github.com/aristath/allocator/internal/modules/engine"
	"github.com/aristath/allocator/internal/modules/results"
	"github.com/aristath/allocator/internal/modules/sweep"
	testingpkg "github.com/aristath/allocator/internal/testing"
)

type stubBacktester struct{}

func (stubBacktester) Backtest(ctx context.Context, req engine.BacktestRequest) (*engine.BacktestResult, error) {
	return &engine.BacktestResult{
		ID:        "bt-" + req.Name,
		CreatedAt: time.Now().UTC(),
		Request:   req,
		Report:    &analytics.Report{},
	}, nil
}

func setupHandler(t *testing.T) (*Handler, *sweep.Runner) {
	t.Helper()
	db, cleanup := testingpkg.NewTestDB(t, "results")
	t.Cleanup(cleanup)

	logger := zerolog.Nop()
	repo := results.NewRepository(db.Conn(), logger)
	runner := sweep.NewRunner(stubBacktester{}, repo, nil, 2, logger)
	return NewHandler(runner, repo, logger), runner
}

func serve(h *Handler, method, path, body string) *httptest.ResponseRecorder {
	router := chi.NewRouter()
	router.Route("/api", h.RegisterRoutes)

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

const validSweep = `{
	"name": "grid",
	"base": {"universe": ["AAA", "BBB"], "start": "2024-01-02T00:00:00Z", "end": "2024-06-28T00:00:00Z"},
	"scenarios": [{"name": "a"}, {"name": "b", "lookback": 90}]
}`

func TestRegisterRoutes(t *testing.T) {
	handler, _ := setupHandler(t)

	assert.NotPanics(t, func() {
		handler.RegisterRoutes(chi.NewRouter())
	}, "RegisterRoutes should not panic")
}

func TestSweepLifecycle(t *testing.T) {
	handler, runner := setupHandler(t)

	w := serve(handler, http.MethodPost, "/api/sweeps/", validSweep)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var started struct {
		Data sweep.Sweep `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &started))
	require.NotEmpty(t, started.Data.ID)
	runner.Wait()

	w = serve(handler, http.MethodGet, "/api/sweeps/"+started.Data.ID, "")
	require.Equal(t, http.StatusOK, w.Code)

	var fetched struct {
		Data sweep.Sweep `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fetched))
	assert.Equal(t, sweep.StatusCompleted, fetched.Data.Status)
	assert.Equal(t, 2, fetched.Data.Completed)
	assert.Equal(t, "bt-grid/b", fetched.Data.Outcomes[1].BacktestID)

	w = serve(handler, http.MethodGet, "/api/sweeps/", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Data struct {
			Sweeps []results.SweepSummary `json:"sweeps"`
			Count  int                    `json:"count"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Data.Count)
	assert.Equal(t, "completed", list.Data.Sweeps[0].Status)

	w = serve(handler, http.MethodDelete, "/api/sweeps/"+started.Data.ID, "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestSweepErrors(t *testing.T) {
	handler, _ := setupHandler(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"malformed body", http.MethodPost, "/api/sweeps/", `{"name":`, http.StatusBadRequest},
		{"no scenarios", http.MethodPost, "/api/sweeps/", `{"base":{"universe":["AAA"],"start":"2024-01-02T00:00:00Z","end":"2024-02-02T00:00:00Z"}}`, http.StatusBadRequest},
		{"unknown sweep", http.MethodGet, "/api/sweeps/nope", "", http.StatusNotFound},
		{"cancel unknown", http.MethodDelete, "/api/sweeps/nope", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(handler, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.NotEmpty(t, body["error"])
		})
	}
}
