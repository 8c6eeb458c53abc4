// Package telemetry exposes Prometheus instruments for simulation runs,
// order outcomes, sweeps, the result cache and the run archive.
package telemetry

import (
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/simcore/internal/backtest/sim"
	"github.com/sawpanic/simcore/internal/telemetry/latency"
)

const namespace = "simcore"

// Registry holds the instruments on a private prometheus.Registry. All
// methods are safe on a nil *Registry, which records nothing.
type Registry struct {
	reg *prometheus.Registry

	RunsTotal     *prometheus.CounterVec
	RunDuration   *prometheus.HistogramVec
	OrdersTotal   *prometheus.CounterVec
	TradesTotal   prometheus.Counter
	FinalEquity   prometheus.Gauge
	ActiveRuns    prometheus.Gauge
	SweepJobs     *prometheus.CounterVec
	CacheRequests *prometheus.CounterVec
	CacheHitRatio prometheus.Gauge
	ArchiveWrites *prometheus.CounterVec
	BreakerState  *prometheus.GaugeVec
	HTTPRequests  *prometheus.CounterVec

	stages      *latency.Tracker
	cacheHits   atomic.Int64
	cacheMisses atomic.Int64
}

// NewRegistry creates and registers every instrument
func NewRegistry() *Registry {
	r := &Registry{
		reg:    prometheus.NewRegistry(),
		stages: latency.NewTracker(1000),

		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Simulation runs by mode and status",
		}, []string{"mode", "status"}),

		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of each run stage in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"stage"}),

		OrdersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_total",
			Help:      "Order attempts by action, outcome and reason",
		}, []string{"action", "outcome", "reason"}),

		TradesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_total",
			Help:      "Closed round trips across all runs",
		}),

		FinalEquity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_final_equity",
			Help:      "Final equity of the most recent run",
		}),

		ActiveRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_runs",
			Help:      "Runs currently executing",
		}),

		SweepJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_jobs_total",
			Help:      "Sweep jobs by result",
		}, []string{"result"}),

		CacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_requests_total",
			Help:      "Result cache lookups by result",
		}, []string{"result"}),

		CacheHitRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_hit_ratio",
			Help:      "Result cache hit ratio (0.0 to 1.0)",
		}),

		ArchiveWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_writes_total",
			Help:      "Run archive writes by result",
		}, []string{"result"}),

		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "breaker_open",
			Help:      "1 while the named circuit breaker is open",
		}, []string{"breaker"}),

		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route template, method and status code",
		}, []string{"route", "method", "code"}),
	}

	r.reg.MustRegister(
		r.RunsTotal, r.RunDuration, r.OrdersTotal, r.TradesTotal, r.FinalEquity,
		r.ActiveRuns, r.SweepJobs, r.CacheRequests, r.CacheHitRatio,
		r.ArchiveWrites, r.BreakerState, r.HTTPRequests,
	)
	return r
}

// Gatherer exposes the underlying registry
func (r *Registry) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.reg
}

// Handler serves the registry in the Prometheus text format
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.Gatherer(), promhttp.HandlerOpts{})
}

// StageTimer tracks one stage of a run
type StageTimer struct {
	r     *Registry
	stage latency.Stage
	start time.Time
}

// StartStage begins timing a stage
func (r *Registry) StartStage(stage latency.Stage) *StageTimer {
	return &StageTimer{r: r, stage: stage, start: time.Now()}
}

// Stop records the stage duration
func (st *StageTimer) Stop() time.Duration {
	d := time.Since(st.start)
	if st.r == nil {
		return d
	}
	st.r.RunDuration.WithLabelValues(string(st.stage)).Observe(d.Seconds())
	st.r.stages.Record(st.stage, d)

	log.Debug().Str("stage", string(st.stage)).Dur("duration", d).Msg("Stage completed")
	return d
}

// StageSummaries returns rolling percentiles per stage
func (r *Registry) StageSummaries() []latency.Summary {
	if r == nil {
		return nil
	}
	return r.stages.Summaries()
}

// RunStarted marks a run as in flight
func (r *Registry) RunStarted() {
	if r == nil {
		return
	}
	r.ActiveRuns.Inc()
}

// ObserveRun records a finished run and its execution log
func (r *Registry) ObserveRun(res *sim.Result) {
	if r == nil {
		return
	}
	r.ActiveRuns.Dec()
	r.RunsTotal.WithLabelValues(string(res.Config.Mode), "ok").Inc()
	r.TradesTotal.Add(float64(len(res.Trades)))
	r.FinalEquity.Set(res.FinalEquity())
	for _, ev := range res.ExecutionLog {
		r.OrdersTotal.WithLabelValues(string(ev.Action), string(ev.Outcome), ev.Reason).Inc()
	}
}

// RunFailed records a run that aborted with a fatal error
func (r *Registry) RunFailed(mode sim.Mode) {
	if r == nil {
		return
	}
	r.ActiveRuns.Dec()
	r.RunsTotal.WithLabelValues(string(mode), "error").Inc()
}

// SweepJob records a sweep job result: ok, error, cached or cancelled
func (r *Registry) SweepJob(result string) {
	if r == nil {
		return
	}
	r.SweepJobs.WithLabelValues(result).Inc()
}

// CacheLookup records a cache hit or miss and refreshes the hit ratio
func (r *Registry) CacheLookup(hit bool) {
	if r == nil {
		return
	}
	if hit {
		r.CacheRequests.WithLabelValues("hit").Inc()
		r.cacheHits.Add(1)
	} else {
		r.CacheRequests.WithLabelValues("miss").Inc()
		r.cacheMisses.Add(1)
	}
	hits, misses := r.cacheHits.Load(), r.cacheMisses.Load()
	r.CacheHitRatio.Set(float64(hits) / float64(hits+misses))
}

// ArchiveWrite records an archive write result
func (r *Registry) ArchiveWrite(err error) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
		log.Warn().Err(err).Msg("Archive write failed")
	}
	r.ArchiveWrites.WithLabelValues(result).Inc()
}

// BreakerChanged mirrors a breaker transition into the breaker_open gauge
func (r *Registry) BreakerChanged(name, _, to string) {
	if r == nil {
		return
	}
	v := 0.0
	if to == "open" {
		v = 1
	}
	r.BreakerState.WithLabelValues(name).Set(v)
}

// HTTPRequest counts one served request
func (r *Registry) HTTPRequest(route, method string, code int) {
	if r == nil {
		return
	}
	r.HTTPRequests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
}
