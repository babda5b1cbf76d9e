package handlers

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/allocator/internal/events"
	"github.com/aristath/allocator/internal/modules/history"
	testingpkg "github.com/aristath/allocator/internal/testing"
)

func setupHandler(t *testing.T) (*Handler, *history.Store, *[]*events.Event) {
	t.Helper()
	db, cleanup := testingpkg.NewTestDB(t, "history")
	t.Cleanup(cleanup)

	logger := zerolog.Nop()
	store := history.NewStore(db.Conn(), logger)

	bus := events.NewBus()
	received := []*events.Event{}
	bus.Subscribe(func(e *events.Event) { received = append(received, e) }, events.HistoryImported)

	return NewHandler(store, events.NewManager(bus, logger), logger), store, &received
}

func serve(h *Handler, method, path, body string) *httptest.ResponseRecorder {
	router := chi.NewRouter()
	router.Route("/api", h.RegisterRoutes)

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRegisterRoutes(t *testing.T) {
	handler, _, _ := setupHandler(t)

	assert.NotPanics(t, func() {
		handler.RegisterRoutes(chi.NewRouter())
	}, "RegisterRoutes should not panic")
}

func TestHandleAssets(t *testing.T) {
	handler, _, received := setupHandler(t)

	w := serve(handler, http.MethodPut, "/api/history/assets",
		`{"assets":[{"symbol":"AAA","sector":"tech","liquidity_tier":1},{"symbol":"BBB","sector":"energy","liquidity_tier":2}]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Len(t, *received, 1)
	data := (*received)[0].Data.(*events.HistoryImportedData)
	assert.Equal(t, "assets", data.Kind)
	assert.Equal(t, 2, data.Assets)

	w = serve(handler, http.MethodGet, "/api/history/assets", "")
	require.Equal(t, http.StatusOK, w.Code)

	var response struct {
		Data struct {
			Assets []struct {
				Symbol string `json:"symbol"`
			} `json:"assets"`
			Count int `json:"count"`
		} `json:"data"`
		Metadata map[string]interface{} `json:"metadata"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, 2, response.Data.Count)
	assert.Equal(t, "AAA", response.Data.Assets[0].Symbol)
	assert.NotEmpty(t, response.Metadata["timestamp"])
}

func TestHandleAssets_Invalid(t *testing.T) {
	handler, _, received := setupHandler(t)

	tests := []struct {
		name string
		body string
	}{
		{"malformed body", `{"assets":`},
		{"missing symbol", `{"assets":[{"sector":"tech"}]}`},
		{"negative tier", `{"assets":[{"symbol":"AAA","liquidity_tier":-1}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(handler, http.MethodPut, "/api/history/assets", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.NotEmpty(t, body["error"])
		})
	}
	assert.Empty(t, *received)
}

func TestHandleImportReturns(t *testing.T) {
	handler, store, received := setupHandler(t)

	body := `{
		"symbols": ["AAA", "BBB"],
		"timestamps": ["2024-01-02T00:00:00Z", "2024-01-03T00:00:00Z"],
		"returns": [[0.01, null], [-0.02, 0.005]]
	}`
	w := serve(handler, http.MethodPost, "/api/history/returns", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Len(t, *received, 1)
	assert.Equal(t, 4, (*received)[0].Data.(*events.HistoryImportedData).Cells)

	p, err := store.GetReturns(context.Background(), []string{"AAA", "BBB"}, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Equal(t, 2, p.Len())
	assert.Equal(t, 0.01, p.Returns[0][0])
	assert.True(t, math.IsNaN(p.Returns[0][1]))
	assert.Equal(t, 0.005, p.Returns[1][1])
}

func TestHandleImportReturns_Ragged(t *testing.T) {
	handler, _, _ := setupHandler(t)

	body := `{"symbols":["AAA","BBB"],"timestamps":["2024-01-02T00:00:00Z"],"returns":[[0.01]]}`
	w := serve(handler, http.MethodPost, "/api/history/returns", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleImportFeatures(t *testing.T) {
	handler, store, _ := setupHandler(t)

	body := `{
		"symbols": ["AAA"],
		"features": ["momentum", "volatility"],
		"timestamps": ["2024-01-02T00:00:00Z", "2024-01-03T00:00:00Z"],
		"values": [[[0.5, null]], [[0.25, 0.1]]]
	}`
	w := serve(handler, http.MethodPost, "/api/history/features", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var response struct {
		Data struct {
			Cells int `json:"cells"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, 4, response.Data.Cells)

	m, err := store.GetFeatureMatrix(context.Background(), []string{"AAA"}, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, []string{"momentum", "volatility"}, m.Features)
	assert.Equal(t, 0.5, m.Values[0][0][0])
	assert.True(t, math.IsNaN(m.Values[0][0][1]))
	assert.Equal(t, 0.1, m.Values[1][0][1])
}

func TestFromNullable(t *testing.T) {
	v := 1.5
	out := fromNullable([]*float64{&v, nil})
	assert.Equal(t, 1.5, out[0])
	assert.True(t, math.IsNaN(out[1]))
	assert.Empty(t, fromNullable(nil))
}
