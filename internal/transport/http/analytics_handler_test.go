package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradepulse/internal/cache"
	"tradepulse/internal/config"
	"tradepulse/internal/engine"
	"tradepulse/internal/infrastructure"
	"tradepulse/internal/store"
	"tradepulse/pkg/contracts/domain"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	s := store.NewMemoryStore()
	require.NoError(t, s.AddTrades(context.Background(), []domain.Trade{
		{ID: "1", Symbol: "ES", OpenDate: "2024-01-01", CloseDate: "2024-01-01",
			Status: domain.TradeStatusWin, NetPnl: 100, ContractsTraded: 1},
		{ID: "2", Symbol: "NQ", OpenDate: "2024-01-02", CloseDate: "2024-01-02",
			Status: domain.TradeStatusLoss, NetPnl: -40, ContractsTraded: 1},
	}))

	memo := cache.New(cache.DefaultOptions(), infrastructure.NewTestLogger())
	cfg := config.Default()
	cfg.Engine.NotifyDebounce = 10 * time.Millisecond

	e := engine.New(s, s, memo, cfg.Engine, infrastructure.NewTestLogger(), nil)
	e.Start(context.Background())
	t.Cleanup(func() { e.Stop(2 * time.Second) })
	require.NoError(t, e.WaitForDataPreparation(context.Background()))

	h := NewAnalyticsHandler(e, infrastructure.NewTestLogger())
	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, srv *httptest.Server, path string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestGetState(t *testing.T) {
	srv := newTestServer(t)

	var state struct {
		TotalTrades   int `json:"total_trades"`
		FilteredCount int `json:"filtered_count"`
		Metrics       struct {
			NetPnl float64 `json:"net_pnl"`
		} `json:"metrics"`
	}
	resp := getJSON(t, srv, "/state", &state)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, state.TotalTrades)
	assert.Equal(t, 2, state.FilteredCount)
	assert.InDelta(t, 60, state.Metrics.NetPnl, 1e-9)
}

func TestGetChart(t *testing.T) {
	srv := newTestServer(t)

	var series struct {
		Name   string `json:"name"`
		Points []struct {
			Label string  `json:"label"`
			Value float64 `json:"value"`
		} `json:"points"`
	}
	resp := getJSON(t, srv, "/charts/dailyPnl", &series)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "dailyPnl", series.Name)
	assert.Len(t, series.Points, 2)

	resp, err := http.Get(srv.URL + "/charts/doesNotExist")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPutFilters(t *testing.T) {
	srv := newTestServer(t)

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/filters",
		strings.NewReader(`{"symbols":["ES"]}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Eventually(t, func() bool {
		var state struct {
			FilteredCount int `json:"filtered_count"`
		}
		getJSON(t, srv, "/state", &state)
		return state.FilteredCount == 1
	}, 2*time.Second, 20*time.Millisecond)
}

func TestPutFiltersRejectsMalformedBody(t *testing.T) {
	srv := newTestServer(t)

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/filters",
		strings.NewReader(`{not json`))
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPutAggregationRejectsUnknownDimension(t *testing.T) {
	srv := newTestServer(t)

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/aggregation",
		strings.NewReader(`{"group_by":["galaxy"]}`))
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPostTradesReplaceAndAppend(t *testing.T) {
	srv := newTestServer(t)

	body := `[{"id":"9","symbol":"CL","open_date":"2024-02-01","status":"WIN","net_pnl":10}]`
	resp, err := http.Post(srv.URL+"/trades", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Eventually(t, func() bool {
		var state struct {
			TotalTrades int `json:"total_trades"`
		}
		getJSON(t, srv, "/state", &state)
		return state.TotalTrades == 1
	}, 2*time.Second, 20*time.Millisecond)

	body = `[{"id":"10","symbol":"GC","open_date":"2024-02-02","status":"LOSS","net_pnl":-5}]`
	resp, err = http.Post(srv.URL+"/trades?mode=append", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Eventually(t, func() bool {
		var state struct {
			TotalTrades int `json:"total_trades"`
		}
		getJSON(t, srv, "/state", &state)
		return state.TotalTrades == 2
	}, 2*time.Second, 20*time.Millisecond)
}

func TestPostTradesValidation(t *testing.T) {
	srv := newTestServer(t)

	// Missing required symbol.
	body := `[{"id":"9","open_date":"2024-02-01","net_pnl":10}]`
	resp, err := http.Post(srv.URL+"/trades", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetCacheStatsAndEvents(t *testing.T) {
	srv := newTestServer(t)

	var stats struct {
		Entries int `json:"entries"`
	}
	resp := getJSON(t, srv, "/cache/stats?top=3", &stats)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Positive(t, stats.Entries)

	var events []struct {
		Type string `json:"type"`
	}
	resp = getJSON(t, srv, "/events", &events)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, events)
}

func TestExportReport(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/export")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "spreadsheetml")
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "attachment")
}
