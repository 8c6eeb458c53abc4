package telemetry

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/simcore/internal/backtest/sim"
	"github.com/sawpanic/simcore/internal/telemetry/latency"
)

func sampleResult() *sim.Result {
	d := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return &sim.Result{
		Config:      sim.DefaultConfig(),
		EquityCurve: []sim.EquityCurvePoint{{Date: d, Cash: 1000, Equity: 1000}, {Date: d.AddDate(0, 0, 1), Cash: 1100, Equity: 1100}},
		Trades:      []sim.Trade{{Symbol: "AAA", PnL: 100}},
		ExecutionLog: []sim.ExecutionEvent{
			{Symbol: "AAA", Action: sim.SideBuy, Outcome: sim.OutcomeFilled},
			{Symbol: "BBB", Action: sim.SideBuy, Outcome: sim.OutcomeRejected, Reason: sim.ReasonPositionLimit},
			{Symbol: "AAA", Action: sim.SideSell, Outcome: sim.OutcomeFilled},
		},
	}
}

func TestObserveRun(t *testing.T) {
	r := NewRegistry()
	r.RunStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(r.ActiveRuns))

	r.ObserveRun(sampleResult())

	assert.Equal(t, 0.0, testutil.ToFloat64(r.ActiveRuns))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.RunsTotal.WithLabelValues("shared", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.TradesTotal))
	assert.Equal(t, 1100.0, testutil.ToFloat64(r.FinalEquity))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.OrdersTotal.WithLabelValues("buy", "rejected", "position_limit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.OrdersTotal.WithLabelValues("sell", "filled", "")))
}

func TestRunFailed(t *testing.T) {
	r := NewRegistry()
	r.RunStarted()
	r.RunFailed(sim.ModeIndependent)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.RunsTotal.WithLabelValues("independent", "error")))
}

func TestCacheHitRatio(t *testing.T) {
	r := NewRegistry()
	r.CacheLookup(false)
	r.CacheLookup(true)
	r.CacheLookup(true)
	r.CacheLookup(true)

	assert.Equal(t, 3.0, testutil.ToFloat64(r.CacheRequests.WithLabelValues("hit")))
	assert.InDelta(t, 0.75, testutil.ToFloat64(r.CacheHitRatio), 1e-12)
}

func TestArchiveAndBreaker(t *testing.T) {
	r := NewRegistry()
	r.ArchiveWrite(nil)
	r.ArchiveWrite(errors.New("timeout"))
	r.BreakerChanged("archive", "closed", "open")

	assert.Equal(t, 1.0, testutil.ToFloat64(r.ArchiveWrites.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.BreakerState.WithLabelValues("archive")))

	r.BreakerChanged("archive", "open", "half-open")
	assert.Equal(t, 0.0, testutil.ToFloat64(r.BreakerState.WithLabelValues("archive")))
}

func TestStageTimers(t *testing.T) {
	r := NewRegistry()
	r.StartStage(latency.StageSimulate).Stop()
	r.StartStage(latency.StageMetrics).Stop()

	s := r.StageSummaries()
	require.Len(t, s, 2)
	assert.Equal(t, latency.StageSimulate, s[0].Stage)
	assert.Equal(t, 2, testutil.CollectAndCount(r.RunDuration))

	fam := family(t, r, "simcore_stage_duration_seconds")
	require.Equal(t, dto.MetricType_HISTOGRAM, fam.GetType())
	for _, m := range fam.GetMetric() {
		assert.Equal(t, uint64(1), m.GetHistogram().GetSampleCount())
	}
}

func TestHTTPRequestCounter(t *testing.T) {
	r := NewRegistry()
	r.HTTPRequest("/runs/{id}", "GET", 200)
	r.HTTPRequest("/runs/{id}", "GET", 200)
	r.HTTPRequest("/runs", "GET", 400)

	fam := family(t, r, "simcore_http_requests_total")
	require.Len(t, fam.GetMetric(), 2)
	assert.Equal(t, 2.0, testutil.ToFloat64(r.HTTPRequests.WithLabelValues("/runs/{id}", "GET", "200")))
}

func family(t *testing.T, r *Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := r.Gatherer().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	t.Fatalf("metric family %s not gathered", name)
	return nil
}

func TestNilRegistryIsInert(t *testing.T) {
	var r *Registry
	r.RunStarted()
	r.ObserveRun(sampleResult())
	r.CacheLookup(true)
	r.SweepJob("ok")
	r.ArchiveWrite(nil)
	r.BreakerChanged("archive", "closed", "open")
	r.StartStage(latency.StageAlign).Stop()
	assert.Nil(t, r.StageSummaries())
}

func TestHandlerServesMetrics(t *testing.T) {
	r := NewRegistry()
	r.SweepJob("ok")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `simcore_sweep_jobs_total{result="ok"} 1`))
}
