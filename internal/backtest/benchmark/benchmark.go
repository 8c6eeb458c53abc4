// Package benchmark puts a strategy run in context against a passive
// buy-and-hold of the same capital in the same symbols.
package benchmark

import (
	"fmt"
	"math"

	"github.com/sawpanic/simcore/internal/backtest/metrics"
	"github.com/sawpanic/simcore/internal/backtest/sim"
)

// Row compares one metric between the strategy and the benchmark
type Row struct {
	Metric    string        `json:"metric"`
	Strategy  metrics.Value `json:"strategy"`
	Benchmark metrics.Value `json:"benchmark"`
	Delta     metrics.Value `json:"delta"`
}

// Comparison bundles both runs, their metrics and the comparison table
type Comparison struct {
	Strategy         *sim.Result     `json:"strategy"`
	Benchmark        *sim.Result     `json:"benchmark"`
	StrategyMetrics  metrics.Metrics `json:"strategy_metrics"`
	BenchmarkMetrics metrics.Metrics `json:"benchmark_metrics"`
	Rows             []Row           `json:"rows"`
}

// Config derives the benchmark configuration from a strategy configuration.
// Costs are kept; the buy fills at the first close, every symbol gets a slot,
// and no credit line is drawn.
func Config(cfg sim.Config, symbols int) sim.Config {
	b := cfg.WithDefaults()
	b.ExecutionTiming = sim.SameBarClose
	b.Mode = sim.ModeShared
	b.LeverageLimit = 0
	if symbols > 0 {
		b.MaxPositions = symbols
	}
	return b
}

// Signals builds the buy-and-hold signal series: +1 on the first bar of each
// symbol and 0 afterwards
func Signals(prices map[string][]sim.PriceBar) map[string][]sim.Signal {
	out := make(map[string][]sim.Signal, len(prices))
	for sym, bars := range prices {
		sigs := make([]sim.Signal, len(bars))
		for i, bar := range bars {
			sigs[i] = sim.Signal{Symbol: sym, Date: bar.Date, Value: sim.SignalHold}
		}
		if len(sigs) > 0 {
			sigs[0].Value = sim.SignalLong
		}
		out[sym] = sigs
	}
	return out
}

// BuyAndHold simulates a single buy at series start with no further trades.
// The position is never closed, so the run's trade log is empty and the value
// sits in OpenPositions.
func BuyAndHold(cfg sim.Config, prices map[string][]sim.PriceBar) (*sim.Result, error) {
	res, err := sim.Run(Config(cfg, len(prices)), prices, Signals(prices))
	if err != nil {
		return nil, fmt.Errorf("buy and hold: %w", err)
	}
	return res, nil
}

// Evaluate runs the strategy and the benchmark over the same prices and
// compares their metrics
func Evaluate(cfg sim.Config, prices map[string][]sim.PriceBar, signals map[string][]sim.Signal) (*Comparison, error) {
	strat, err := sim.Run(cfg, prices, signals)
	if err != nil {
		return nil, err
	}
	bench, err := BuyAndHold(cfg, prices)
	if err != nil {
		return nil, err
	}
	return Build(strat, bench), nil
}

// Build assembles a comparison from two finished runs
func Build(strategy, bench *sim.Result) *Comparison {
	sm := metrics.FromResult(strategy)
	bm := metrics.FromResult(bench)
	return &Comparison{
		Strategy:         strategy,
		Benchmark:        bench,
		StrategyMetrics:  sm,
		BenchmarkMetrics: bm,
		Rows:             Compare(sm, bm),
	}
}

// Compare lines up two metric tables in report order. Delta is strategy minus
// benchmark and is undefined whenever either side is not a finite number.
func Compare(strategy, bench metrics.Metrics) []Row {
	rows := make([]Row, 0, len(metrics.Names))
	for _, name := range metrics.Names {
		s, b := strategy.Get(name), bench.Get(name)
		rows = append(rows, Row{
			Metric:    name,
			Strategy:  s,
			Benchmark: b,
			Delta:     delta(s, b),
		})
	}
	return rows
}

func delta(s, b metrics.Value) metrics.Value {
	sv, sok := s.Float()
	bv, bok := b.Float()
	if !sok || !bok {
		return metrics.Undefined(metrics.FlagInsufficientData)
	}
	d := sv - bv
	if math.IsNaN(d) || math.IsInf(d, 0) {
		return metrics.Undefined(metrics.FlagInsufficientData)
	}
	return metrics.Num(d)
}

// Outperformed reports whether the strategy beat the benchmark on cumulative
// return; ok is false when either side is undefined
func (c *Comparison) Outperformed() (beat bool, ok bool) {
	for _, r := range c.Rows {
		if r.Metric != metrics.CumulativeReturn {
			continue
		}
		d, defined := r.Delta.Float()
		if !defined {
			return false, false
		}
		return d > 0, true
	}
	return false, false
}
