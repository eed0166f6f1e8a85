package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"asset-trader/asset"
	"asset-trader/execution"
	"asset-trader/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticAssets []*asset.Asset

func (s staticAssets) Snapshot() []*asset.Asset { return s }

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	reg := prometheus.NewRegistry()
	rec := metrics.NewRecorder(reg)
	rec.ObserveOrder("spy", execution.DirectionBuyToOpen, execution.OutcomeFilled)

	assets := staticAssets{
		{Name: "spy", Ticker: "SPY", Profit: decimal.RequireFromString("42.5")},
		{Ticker: "VTI"},
	}
	ts := httptest.NewServer(New(DefaultConfig(), assets, reg, nil).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestAssetsEndpoints(t *testing.T) {
	ts := newServer(t)

	resp, err := http.Get(ts.URL + "/assets")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Len(t, resp.Header.Get("X-Request-ID"), 8)
	var all []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&all))
	require.Len(t, all, 2)
	assert.Equal(t, "spy", all[0]["name"])

	resp, err = http.Get(ts.URL + "/assets/VTI")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var one map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&one))
	assert.Equal(t, "VTI", one["ticker"])

	resp, err = http.Get(ts.URL + "/assets/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetricsAndHealth(t *testing.T) {
	ts := newServer(t)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `asset_trader_orders_total{asset="spy",direction="BUY_TO_OPEN",outcome="filled"} 1`)

	resp, err = http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/assets", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
