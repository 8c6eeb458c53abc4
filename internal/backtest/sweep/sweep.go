// Package sweep runs many simulation configurations over the same inputs.
// Runs are independent: each owns its PortfolioState, a failed configuration
// never aborts the others, and cancellation is honoured only between runs.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/sawpanic/simcore/internal/backtest/metrics"
	"github.com/sawpanic/simcore/internal/backtest/sim"
	"github.com/sawpanic/simcore/internal/data/cache"
	"github.com/sawpanic/simcore/internal/persistence"
	"github.com/sawpanic/simcore/internal/telemetry"
	"github.com/sawpanic/simcore/internal/telemetry/latency"
)

// Job is one configuration to simulate
type Job struct {
	Name   string     `json:"name" yaml:"name"`
	Label  string     `json:"label" yaml:"label"`
	Config sim.Config `json:"config" yaml:"config"`
}

// Outcome is the result of one job. Err is set when the run itself failed or
// never started; ArchiveErr only when archiving a successful run failed.
type Outcome struct {
	Index       int
	Job         Job
	RunID       string
	Fingerprint string
	Result      *sim.Result
	Metrics     metrics.Metrics
	Cached      bool
	Duration    time.Duration
	Err         error
	ArchiveErr  error
}

// OK reports whether the run produced a result
func (o Outcome) OK() bool { return o.Err == nil && o.Result != nil }

// Options configures a Runner. Every collaborator is optional.
type Options struct {
	Concurrency int
	Cache       *cache.ResultCache
	Archive     persistence.RunRepo
	Telemetry   *telemetry.Registry
	Logger      *zerolog.Logger
	// Progress is called after every job, serialized, with the number done
	Progress func(done, total int, o Outcome)
}

// Runner executes sweeps
type Runner struct {
	opts  Options
	log   zerolog.Logger
	newID func() string
}

// NewRunner creates a runner; Concurrency <= 0 means GOMAXPROCS
func NewRunner(opts Options) *Runner {
	if opts.Concurrency <= 0 {
		opts.Concurrency = runtime.GOMAXPROCS(0)
	}
	l := zerolog.Nop()
	if opts.Logger != nil {
		l = *opts.Logger
	}
	return &Runner{opts: opts, log: l, newID: uuid.NewString}
}

// Run simulates every job over the same prices and signals. Outcomes are
// returned in job order. The inputs are aligned once; an alignment failure is
// fatal for the whole sweep since no job could run. The returned error is
// ctx.Err() when the sweep was cancelled before every job started.
func (r *Runner) Run(ctx context.Context, jobs []Job, prices map[string][]sim.PriceBar, signals map[string][]sim.Signal) ([]Outcome, error) {
	align := r.opts.Telemetry.StartStage(latency.StageAlign)
	tl, err := sim.Align(prices, signals)
	align.Stop()
	if err != nil {
		return nil, fmt.Errorf("sweep alignment: %w", err)
	}

	outcomes := make([]Outcome, len(jobs))
	var (
		mu   sync.Mutex
		done int
	)

	var g errgroup.Group
	g.SetLimit(r.opts.Concurrency)
	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			o := r.runJob(ctx, i, job, tl, prices, signals)
			outcomes[i] = o

			mu.Lock()
			done++
			if r.opts.Progress != nil {
				r.opts.Progress(done, len(jobs), o)
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
		}
	}
	r.log.Info().Int("jobs", len(jobs)).Int("failed", failed).Msg("Sweep completed")

	return outcomes, ctx.Err()
}

func (r *Runner) runJob(ctx context.Context, i int, job Job, tl *sim.Timeline, prices map[string][]sim.PriceBar, signals map[string][]sim.Signal) (o Outcome) {
	o = Outcome{Index: i, Job: job}
	if err := ctx.Err(); err != nil {
		o.Err = err
		r.opts.Telemetry.SweepJob("cancelled")
		return o
	}

	start := time.Now()
	defer func() { o.Duration = time.Since(start) }()

	logger := r.log.With().Str("job", job.Name).Int("index", i).Logger()

	if r.opts.Cache != nil || r.opts.Archive != nil {
		fp, err := cache.Fingerprint(job.Config, prices, signals)
		if err != nil {
			logger.Warn().Err(err).Msg("Fingerprint failed")
		}
		o.Fingerprint = fp
	}

	if r.opts.Cache != nil && o.Fingerprint != "" {
		res, hit, err := r.opts.Cache.Get(ctx, o.Fingerprint)
		if err != nil {
			logger.Warn().Err(err).Msg("Cache lookup failed")
		}
		r.opts.Telemetry.CacheLookup(hit)
		if hit {
			o.Result, o.RunID, o.Cached = res, res.RunID, true
			o.Metrics = metrics.FromResult(res)
			r.opts.Telemetry.SweepJob("cached")
			return o
		}
	}

	o.RunID = r.newID()
	o.Result, o.Err = r.simulate(job, o.RunID, tl, logger)
	if o.Err != nil {
		logger.Warn().Err(o.Err).Msg("Sweep job failed")
		r.opts.Telemetry.SweepJob("error")
		return o
	}

	mt := r.opts.Telemetry.StartStage(latency.StageMetrics)
	o.Metrics = metrics.FromResult(o.Result)
	mt.Stop()

	if r.opts.Cache != nil && o.Fingerprint != "" {
		if err := r.opts.Cache.Put(ctx, o.Fingerprint, o.Result); err != nil {
			logger.Warn().Err(err).Msg("Cache store failed")
		}
	}

	if r.opts.Archive != nil {
		at := r.opts.Telemetry.StartStage(latency.StageArchive)
		rec := persistence.NewRunRecord(o.Result, o.Metrics, job.Label, o.Fingerprint)
		o.ArchiveErr = r.opts.Archive.Insert(ctx, rec, o.Result.Trades)
		at.Stop()
		r.opts.Telemetry.ArchiveWrite(o.ArchiveErr)
	}

	r.opts.Telemetry.SweepJob("ok")
	return o
}

func (r *Runner) simulate(job Job, runID string, tl *sim.Timeline, logger zerolog.Logger) (*sim.Result, error) {
	s, err := sim.New(job.Config, sim.WithRunID(runID), sim.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	r.opts.Telemetry.RunStarted()
	st := r.opts.Telemetry.StartStage(latency.StageSimulate)
	res, err := s.RunTimeline(tl)
	st.Stop()
	if err != nil {
		r.opts.Telemetry.RunFailed(s.Config().Mode)
		return nil, err
	}
	r.opts.Telemetry.ObserveRun(res)
	return res, nil
}

// Succeeded returns the outcomes that produced a result
func Succeeded(outcomes []Outcome) []Outcome {
	out := make([]Outcome, 0, len(outcomes))
	for _, o := range outcomes {
		if o.OK() {
			out = append(out, o)
		}
	}
	return out
}

// Errors joins every job error, prefixed with the job name
func Errors(outcomes []Outcome) error {
	var errs []error
	for _, o := range outcomes {
		if o.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", o.Job.Name, o.Err))
		}
	}
	return errors.Join(errs...)
}
