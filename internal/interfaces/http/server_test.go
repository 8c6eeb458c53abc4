package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/simcore/internal/backtest/metrics"
	"github.com/sawpanic/simcore/internal/backtest/sim"
	"github.com/sawpanic/simcore/internal/interfaces/http/handlers"
	"github.com/sawpanic/simcore/internal/persistence"
	"github.com/sawpanic/simcore/internal/telemetry"
)

var day0 = time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)

type stubHealth struct{ healthy bool }

func (s stubHealth) Health(context.Context) persistence.HealthCheck {
	return persistence.HealthCheck{Healthy: s.healthy, LastCheck: day0}
}

func (s stubHealth) Ping(context.Context) error { return nil }

type stubBreaker string

func (b stubBreaker) BreakerState() string { return string(b) }

func seededRepo(t *testing.T) *persistence.MemoryRunRepo {
	t.Helper()
	repo := persistence.NewMemoryRunRepo()
	ctx := context.Background()
	for i, id := range []string{"r1", "r2", "r3"} {
		rec := persistence.RunRecord{
			ID:          id,
			Label:       "sweep",
			Config:      sim.DefaultConfig(),
			Symbols:     []string{"AAA"},
			StartDate:   day0,
			EndDate:     day0.AddDate(0, 0, 9),
			FinalEquity: 100000 + float64(i),
			TradeCount:  1,
			Metrics:     metrics.Metrics{metrics.ProfitFactor: metrics.PlusInfinity()},
			CreatedAt:   day0.Add(time.Duration(i) * time.Minute),
		}
		trades := []sim.Trade{{Symbol: "AAA", EntryDate: day0, ExitDate: day0.AddDate(0, 0, 2), Quantity: 10, PnL: 5}}
		require.NoError(t, repo.Insert(ctx, rec, trades))
	}
	return repo
}

func newTestServer(t *testing.T, deps handlers.Deps) http.Handler {
	t.Helper()
	return newServer(DefaultServerConfig(), deps).Handler()
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthHealthy(t *testing.T) {
	reg := telemetry.NewRegistry()
	reg.StartStage("simulate").Stop()
	h := newTestServer(t, handlers.Deps{
		Runs:      seededRepo(t),
		Health:    stubHealth{healthy: true},
		Breaker:   stubBreaker("closed"),
		Telemetry: reg,
		Version:   "v1.2.3",
	})

	rec := get(t, h, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Len(t, rec.Header().Get("X-Request-ID"), 8)

	var resp handlers.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "v1.2.3", resp.Version)
	assert.Equal(t, int64(3), resp.RunCount)
	require.NotNil(t, resp.Archive)
	assert.True(t, resp.Archive.Healthy)
	require.Len(t, resp.Stages, 1)
	assert.EqualValues(t, "simulate", resp.Stages[0].Stage)
}

func TestHealthDegradedAndUnhealthy(t *testing.T) {
	h := newTestServer(t, handlers.Deps{Runs: seededRepo(t), Breaker: stubBreaker("open")})
	var resp handlers.HealthResponse
	rec := get(t, h, "/health")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "degraded", resp.Status)

	h = newTestServer(t, handlers.Deps{Runs: seededRepo(t), Health: stubHealth{healthy: false}})
	rec = get(t, h, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestListRuns(t *testing.T) {
	h := newTestServer(t, handlers.Deps{Runs: seededRepo(t)})

	rec := get(t, h, "/runs?limit=2")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp handlers.RunsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Runs, 2)
	assert.Equal(t, "r3", resp.Runs[0].ID)
	assert.Equal(t, "r2", resp.Runs[1].ID)
	assert.Equal(t, int64(3), resp.Total)
	assert.Equal(t, 2, resp.Limit)
}

func TestListRunsRejectsBadLimit(t *testing.T) {
	h := newTestServer(t, handlers.Deps{Runs: seededRepo(t)})

	for _, q := range []string{"0", "-1", "abc", "100000"} {
		rec := get(t, h, "/runs?limit="+q)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)

		var resp handlers.ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "invalid_limit", resp.Code)
		assert.Equal(t, rec.Header().Get("X-Request-ID"), resp.RequestID)
	}
}

func TestGetRunIncludesTradesAndMarkers(t *testing.T) {
	h := newTestServer(t, handlers.Deps{Runs: seededRepo(t)})

	rec := get(t, h, "/runs/r2")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `"profit_factor":"+infinity"`))

	var resp handlers.RunDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "r2", resp.ID)
	assert.Equal(t, sim.SameBarClose, resp.Config.ExecutionTiming)
	require.Len(t, resp.Trades, 1)
	assert.Equal(t, int64(10), resp.Trades[0].Quantity)
	assert.Equal(t, metrics.KindPlusInfinity, resp.Metrics[metrics.ProfitFactor].Kind)
}

func TestGetRunMissing(t *testing.T) {
	h := newTestServer(t, handlers.Deps{Runs: seededRepo(t)})

	rec := get(t, h, "/runs/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "run_not_found")
}

func TestUnknownEndpoint(t *testing.T) {
	h := newTestServer(t, handlers.Deps{Runs: seededRepo(t)})

	rec := get(t, h, "/candidates")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "endpoint_not_found")
}

func TestMetricsEndpoint(t *testing.T) {
	reg := telemetry.NewRegistry()
	reg.SweepJob("ok")
	h := newTestServer(t, handlers.Deps{Runs: seededRepo(t), Telemetry: reg})

	rec := get(t, h, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEqual(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "simcore_sweep_jobs_total")
}

func TestCORSPreflight(t *testing.T) {
	h := newTestServer(t, handlers.Deps{Runs: seededRepo(t)})

	req := httptest.NewRequest(http.MethodOptions, "/runs", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestIDPropagatedAndRequestsCounted(t *testing.T) {
	reg := telemetry.NewRegistry()
	h := newTestServer(t, handlers.Deps{Runs: seededRepo(t), Telemetry: reg})

	req := httptest.NewRequest(http.MethodGet, "/runs/r1", nil)
	req.Header.Set("X-Request-ID", "sweep-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sweep-42", rec.Header().Get("X-Request-ID"))

	get(t, h, "/runs/nope")
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.HTTPRequests.WithLabelValues("/runs/{id}", "GET", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.HTTPRequests.WithLabelValues("/runs/{id}", "GET", "404")))
}
