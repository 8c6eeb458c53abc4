package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/simcore/internal/backtest/sim"
	"github.com/sawpanic/simcore/internal/infra/breakers"
	"github.com/sawpanic/simcore/internal/net/ratelimit"
)

const archiveTarget = "runs"

// GuardedRepo protects a RunRepo with a write rate limit and a circuit
// breaker. Duplicate runs do not count against the breaker.
type GuardedRepo struct {
	inner   RunRepo
	breaker *breakers.Breaker
	limiter *ratelimit.Limiter
}

// GuardOptions configures NewGuardedRepo
type GuardOptions struct {
	WritesPerSecond float64
	Burst           int
	Breaker         breakers.Settings
}

// NewGuardedRepo wraps inner
func NewGuardedRepo(inner RunRepo, opts GuardOptions) *GuardedRepo {
	bs := opts.Breaker
	if bs.IsSuccessful == nil {
		bs.IsSuccessful = func(err error) bool {
			return err == nil || errors.Is(err, ErrDuplicateRun)
		}
	}
	if bs.OnStateChange == nil {
		bs.OnStateChange = func(name, from, to string) {
			log.Warn().Str("breaker", name).Str("from", from).Str("to", to).Msg("Archive breaker state change")
		}
	}
	return &GuardedRepo{
		inner:   inner,
		breaker: breakers.NewWithSettings("archive", bs),
		limiter: ratelimit.NewLimiter(opts.WritesPerSecond, opts.Burst),
	}
}

// BreakerState exposes the breaker state for health reporting
func (g *GuardedRepo) BreakerState() string { return g.breaker.State() }

func (g *GuardedRepo) Insert(ctx context.Context, run RunRecord, trades []sim.Trade) error {
	if err := g.limiter.Wait(ctx, archiveTarget); err != nil {
		return fmt.Errorf("archive rate limit: %w", err)
	}
	return g.breaker.Do(func() error {
		return g.inner.Insert(ctx, run, trades)
	})
}

func (g *GuardedRepo) Get(ctx context.Context, id string) (*RunRecord, error) {
	v, err := g.breaker.Execute(func() (any, error) { return g.inner.Get(ctx, id) })
	if err != nil {
		return nil, err
	}
	return v.(*RunRecord), nil
}

func (g *GuardedRepo) List(ctx context.Context, limit int) ([]RunRecord, error) {
	return guardedRuns(g.breaker, func() ([]RunRecord, error) { return g.inner.List(ctx, limit) })
}

func (g *GuardedRepo) ListRange(ctx context.Context, tr TimeRange, limit int) ([]RunRecord, error) {
	return guardedRuns(g.breaker, func() ([]RunRecord, error) { return g.inner.ListRange(ctx, tr, limit) })
}

func (g *GuardedRepo) ListByFingerprint(ctx context.Context, fingerprint string) ([]RunRecord, error) {
	return guardedRuns(g.breaker, func() ([]RunRecord, error) { return g.inner.ListByFingerprint(ctx, fingerprint) })
}

func (g *GuardedRepo) Trades(ctx context.Context, runID string) ([]sim.Trade, error) {
	v, err := g.breaker.Execute(func() (any, error) { return g.inner.Trades(ctx, runID) })
	if err != nil {
		return nil, err
	}
	return v.([]sim.Trade), nil
}

func (g *GuardedRepo) Count(ctx context.Context) (int64, error) {
	v, err := g.breaker.Execute(func() (any, error) { return g.inner.Count(ctx) })
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

func guardedRuns(b *breakers.Breaker, fn func() ([]RunRecord, error)) ([]RunRecord, error) {
	v, err := b.Execute(func() (any, error) { return fn() })
	if err != nil {
		return nil, err
	}
	return v.([]RunRecord), nil
}
