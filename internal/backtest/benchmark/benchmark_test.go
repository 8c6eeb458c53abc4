package benchmark

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/simcore/internal/backtest/metrics"
	"github.com/sawpanic/simcore/internal/backtest/sim"
)

var day0 = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

func bars(symbol string, closes ...float64) []sim.PriceBar {
	out := make([]sim.PriceBar, len(closes))
	for i, c := range closes {
		out[i] = sim.PriceBar{Symbol: symbol, Date: day0.AddDate(0, 0, i), Open: c, High: c, Low: c, Close: c, Volume: 10}
	}
	return out
}

func signals(symbol string, values ...sim.SignalValue) []sim.Signal {
	out := make([]sim.Signal, len(values))
	for i, v := range values {
		out[i] = sim.Signal{Symbol: symbol, Date: day0.AddDate(0, 0, i), Value: v}
	}
	return out
}

func fixture() (map[string][]sim.PriceBar, map[string][]sim.Signal) {
	prices := map[string][]sim.PriceBar{
		"AAA": bars("AAA", 100, 102, 104, 108, 110),
		"BBB": bars("BBB", 50, 48, 45, 42, 40),
	}
	sigs := map[string][]sim.Signal{
		"AAA": signals("AAA", 1, 0, 0, 0, -1),
		"BBB": signals("BBB", 0, 0, 0, 0, 0),
	}
	return prices, sigs
}

func strategyConfig() sim.Config {
	cfg := sim.DefaultConfig()
	cfg.InitialCapital = 10000
	cfg.LeverageLimit = 0.5
	cfg.ExecutionTiming = sim.NextBarOpen
	return cfg
}

func TestBuyAndHoldEqualWeight(t *testing.T) {
	prices, _ := fixture()

	res, err := BuyAndHold(strategyConfig(), prices)
	require.NoError(t, err)

	assert.Empty(t, res.Trades)
	require.Len(t, res.OpenPositions, 2)
	assert.Equal(t, int64(50), res.OpenPositions[0].Quantity)
	assert.Equal(t, int64(100), res.OpenPositions[1].Quantity)
	assert.InDelta(t, 9500.0, res.FinalEquity(), 1e-9)
	assert.NoError(t, sim.CheckInvariants(res))

	buys := 0
	for _, ev := range res.ExecutionLog {
		assert.Equal(t, day0, ev.Date)
		if ev.Outcome == sim.OutcomeFilled {
			buys++
		}
	}
	assert.Equal(t, 2, buys)
}

func TestConfigOverrides(t *testing.T) {
	b := Config(strategyConfig(), 3)

	assert.Equal(t, sim.SameBarClose, b.ExecutionTiming)
	assert.Equal(t, 3, b.MaxPositions)
	assert.Equal(t, 0.0, b.LeverageLimit)
	assert.Equal(t, 10000.0, b.InitialCapital)
}

func TestSignalsOnlyBuyFirstBar(t *testing.T) {
	prices, _ := fixture()
	sigs := Signals(prices)

	for sym, series := range sigs {
		require.Len(t, series, 5, sym)
		assert.Equal(t, sim.SignalLong, series[0].Value)
		for _, s := range series[1:] {
			assert.Equal(t, sim.SignalHold, s.Value)
		}
	}
}

func TestEvaluate(t *testing.T) {
	prices, sigs := fixture()
	cfg := sim.DefaultConfig()
	cfg.InitialCapital = 10000

	cmp, err := Evaluate(cfg, prices, sigs)
	require.NoError(t, err)
	require.Len(t, cmp.Rows, len(metrics.Names))

	byName := make(map[string]Row, len(cmp.Rows))
	for _, r := range cmp.Rows {
		byName[r.Metric] = r
	}

	cum := byName[metrics.CumulativeReturn]
	d, ok := cum.Delta.Float()
	require.True(t, ok)
	assert.InDelta(t, 0.15, d, 1e-12)

	// the benchmark never closes a trade
	assert.False(t, byName[metrics.WinRate].Delta.Defined())
	assert.Equal(t, metrics.KindUndefined, byName[metrics.WinRate].Benchmark.Kind)

	tc, ok := byName[metrics.TradeCount].Delta.Float()
	require.True(t, ok)
	assert.Equal(t, 1.0, tc)

	beat, ok := cmp.Outperformed()
	assert.True(t, ok)
	assert.True(t, beat)
}

func TestEvaluatePropagatesAlignmentErrors(t *testing.T) {
	prices, sigs := fixture()
	sigs["BBB"] = sigs["BBB"][:3]

	_, err := Evaluate(sim.DefaultConfig(), prices, sigs)
	assert.ErrorIs(t, err, sim.ErrDataAlignment)
}

func TestCompareDeltaMarkers(t *testing.T) {
	s := metrics.Metrics{
		metrics.ProfitFactor: metrics.PlusInfinity(),
		metrics.Sharpe:       metrics.Num(1.5),
	}
	b := metrics.Metrics{
		metrics.ProfitFactor: metrics.Num(2),
		metrics.Sharpe:       metrics.Num(0.5),
	}
	rows := Compare(s, b)

	for _, r := range rows {
		switch r.Metric {
		case metrics.ProfitFactor:
			assert.Equal(t, metrics.KindPlusInfinity, r.Strategy.Kind)
			assert.False(t, r.Delta.Defined())
		case metrics.Sharpe:
			v, ok := r.Delta.Float()
			require.True(t, ok)
			assert.InDelta(t, 1.0, v, 1e-12)
		case metrics.CAGR:
			// absent on both sides
			assert.False(t, r.Delta.Defined())
		}
	}
}
