package persistence

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/sawpanic/simcore/internal/backtest/metrics"
	"github.com/sawpanic/simcore/internal/backtest/sim"
)

// ErrDuplicateRun is returned when a run with the same ID is archived twice
var ErrDuplicateRun = errors.New("duplicate run")

// TimeRange represents a time window for archive queries
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Contains reports whether t lies within the closed range
func (tr TimeRange) Contains(t time.Time) bool {
	return !t.Before(tr.From) && !t.After(tr.To)
}

// RunRecord is the archived summary of one simulation run
type RunRecord struct {
	ID          string          `json:"id" db:"id"`
	Label       string          `json:"label" db:"label"`
	Fingerprint string          `json:"fingerprint" db:"fingerprint"`
	Config      sim.Config      `json:"config" db:"config"`
	Symbols     []string        `json:"symbols" db:"symbols"`
	StartDate   time.Time       `json:"start_date" db:"start_date"`
	EndDate     time.Time       `json:"end_date" db:"end_date"`
	FinalEquity float64         `json:"final_equity" db:"final_equity"`
	TradeCount  int             `json:"trade_count" db:"trade_count"`
	Rejections  int             `json:"rejections" db:"rejections"`
	Metrics     metrics.Metrics `json:"metrics" db:"metrics"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// NewRunRecord summarizes a finished run for the archive
func NewRunRecord(res *sim.Result, m metrics.Metrics, label, fingerprint string) RunRecord {
	rec := RunRecord{
		ID:          res.RunID,
		Label:       label,
		Fingerprint: fingerprint,
		Config:      res.Config,
		Symbols:     symbolsOf(res),
		FinalEquity: res.FinalEquity(),
		TradeCount:  len(res.Trades),
		Rejections:  len(res.Rejections()),
		Metrics:     m,
	}
	if n := len(res.EquityCurve); n > 0 {
		rec.StartDate = res.EquityCurve[0].Date
		rec.EndDate = res.EquityCurve[n-1].Date
	}
	return rec
}

func symbolsOf(res *sim.Result) []string {
	seen := make(map[string]struct{})
	for _, ev := range res.ExecutionLog {
		seen[ev.Symbol] = struct{}{}
	}
	for _, p := range res.OpenPositions {
		seen[p.Symbol] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// RunRepo archives run summaries with their trade logs
type RunRepo interface {
	// Insert stores the run and its trades atomically
	Insert(ctx context.Context, run RunRecord, trades []sim.Trade) error

	// Get returns the run, or nil when it does not exist
	Get(ctx context.Context, id string) (*RunRecord, error)

	// List returns the most recent runs first
	List(ctx context.Context, limit int) ([]RunRecord, error)

	// ListRange returns runs created within the range, most recent first
	ListRange(ctx context.Context, tr TimeRange, limit int) ([]RunRecord, error)

	// ListByFingerprint returns runs that share the same inputs
	ListByFingerprint(ctx context.Context, fingerprint string) ([]RunRecord, error)

	// Trades returns the trade log of a run ordered by exit date
	Trades(ctx context.Context, runID string) ([]sim.Trade, error)

	// Count returns the number of archived runs
	Count(ctx context.Context) (int64, error)
}

// HealthCheck represents repository health status
type HealthCheck struct {
	Healthy        bool           `json:"healthy"`
	Errors         []string       `json:"errors,omitempty"`
	ConnectionPool map[string]int `json:"connection_pool,omitempty"`
	LastCheck      time.Time      `json:"last_check"`
	ResponseTimeMS int64          `json:"response_time_ms"`
}

// RepositoryHealth provides health monitoring for the persistence layer
type RepositoryHealth interface {
	Health(ctx context.Context) HealthCheck
	Ping(ctx context.Context) error
}
