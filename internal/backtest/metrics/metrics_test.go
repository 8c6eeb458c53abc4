package metrics

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/simcore/internal/backtest/sim"
)

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func curveOf(equity ...float64) []sim.EquityCurvePoint {
	out := make([]sim.EquityCurvePoint, len(equity))
	for i, e := range equity {
		out[i] = sim.EquityCurvePoint{Date: day0.AddDate(0, 0, i), Cash: e, Equity: e}
	}
	return out
}

func tradeWith(pnl float64, exitOffset int) sim.Trade {
	return sim.Trade{
		Symbol:            "AAA",
		EntryDate:         day0,
		ExitDate:          day0.AddDate(0, 0, exitOffset),
		PnL:               pnl,
		HoldingPeriodDays: exitOffset,
	}
}

func cfgWithCapital(capital float64) sim.Config {
	cfg := sim.DefaultConfig()
	cfg.InitialCapital = capital
	return cfg
}

func requireNumber(t *testing.T, m Metrics, name string) float64 {
	t.Helper()
	v, ok := m.Get(name).Float()
	require.True(t, ok, "%s should be defined, got %s", name, m.Get(name))
	return v
}

func TestComputeFillsEveryName(t *testing.T) {
	for _, m := range []Metrics{
		Compute(nil, nil, cfgWithCapital(1000)),
		Compute(curveOf(1000), nil, cfgWithCapital(1000)),
		Compute(curveOf(1000, 1100, 900), []sim.Trade{tradeWith(5, 1)}, cfgWithCapital(1000)),
	} {
		for _, name := range Names {
			_, ok := m[name]
			assert.True(t, ok, "missing %s", name)
		}
		for name, v := range m {
			if f, ok := v.Float(); ok {
				assert.False(t, math.IsNaN(f) || math.IsInf(f, 0), name)
			}
		}
	}
}

func TestFlatCurve(t *testing.T) {
	m := Compute(curveOf(10000, 10000, 10000, 10000, 10000), nil, cfgWithCapital(10000))

	assert.Equal(t, 0.0, requireNumber(t, m, CumulativeReturn))
	assert.Equal(t, 0.0, requireNumber(t, m, TradeCount))
	assert.Equal(t, 0.0, requireNumber(t, m, MaxDrawdown))
	assert.Equal(t, 0.0, requireNumber(t, m, DrawdownDuration))

	assert.Equal(t, Undefined(FlagNoVariance), m[Volatility])
	assert.Equal(t, Undefined(FlagNoVariance), m[Sharpe])
	assert.Equal(t, Undefined(FlagNoNegativeReturns), m[Sortino])
	assert.Equal(t, Undefined(FlagNoTrades), m[WinRate])
	assert.Equal(t, Undefined(FlagNoTrades), m[ProfitFactor])
	assert.Equal(t, 0.0, requireNumber(t, m, MaxConsecutiveWins))
	assert.Equal(t, FlagNoVariance, m.Flags()[Sharpe])
}

func TestSinglePoint(t *testing.T) {
	m := Compute(curveOf(500), nil, cfgWithCapital(500))

	assert.Equal(t, 0.0, requireNumber(t, m, MaxDrawdown))
	assert.Equal(t, Undefined(FlagZeroDuration), m[CAGR])
	assert.Equal(t, Undefined(FlagInsufficientData), m[Volatility])
	assert.Equal(t, Undefined(FlagInsufficientData), m[Sharpe])
}

func TestRoundTripStatistics(t *testing.T) {
	curve := curveOf(10000, 10200, 10400, 10800, 11000)
	m := Compute(curve, []sim.Trade{tradeWith(1000, 4)}, cfgWithCapital(10000))

	assert.InDelta(t, 0.10, requireNumber(t, m, CumulativeReturn), 1e-12)
	assert.Equal(t, 1.0, requireNumber(t, m, TradeCount))
	assert.Equal(t, 1.0, requireNumber(t, m, WinRate))
	assert.Equal(t, PlusInfinity(), m[ProfitFactor])
	assert.Equal(t, 1000.0, requireNumber(t, m, AvgWin))
	assert.Equal(t, Undefined(FlagNoLosses), m[AvgLoss])
	assert.Equal(t, 1.0, requireNumber(t, m, MaxConsecutiveWins))
	assert.Equal(t, 4.0, requireNumber(t, m, AvgHoldingPeriodDays))

	cagr := requireNumber(t, m, CAGR)
	assert.InDelta(t, math.Pow(1.1, 365.0/4)-1, cagr, 1e-9)
}

func TestVolatilityAndSharpe(t *testing.T) {
	curve := curveOf(100, 110, 99, 108.9)
	cfg := cfgWithCapital(100)
	m := Compute(curve, nil, cfg)

	rets := []float64{0.1, -0.1, 0.1}
	mu := (0.1 - 0.1 + 0.1) / 3
	ss := 0.0
	for _, r := range rets {
		ss += (r - mu) * (r - mu)
	}
	sd := math.Sqrt(ss / 2)

	assert.InDelta(t, sd*math.Sqrt(252), requireNumber(t, m, Volatility), 1e-9)
	assert.InDelta(t, mu/sd*math.Sqrt(252), requireNumber(t, m, Sharpe), 1e-9)
	// a single negative return cannot form a sample deviation
	assert.Equal(t, Undefined(FlagInsufficientData), m[Sortino])
}

func TestRiskFreeRateLowersSharpe(t *testing.T) {
	curve := curveOf(100, 101, 100.5, 102, 101.5, 103)
	base := Compute(curve, nil, cfgWithCapital(100))

	cfg := cfgWithCapital(100)
	cfg.RiskFreeRate = 0.001
	withRf := Compute(curve, nil, cfg)

	assert.Less(t, requireNumber(t, withRf, Sharpe), requireNumber(t, base, Sharpe))
	assert.Less(t, requireNumber(t, withRf, Sortino), requireNumber(t, base, Sortino))
}

func TestDrawdown(t *testing.T) {
	m := Compute(curveOf(100, 120, 90, 96, 130, 117, 140), nil, cfgWithCapital(100))

	assert.InDelta(t, 90.0/120-1, requireNumber(t, m, MaxDrawdown), 1e-12)
	assert.Equal(t, 2.0, requireNumber(t, m, DrawdownDuration))
}

func TestTradeStatistics(t *testing.T) {
	// out of exit order on purpose: streaks follow exit date
	trades := []sim.Trade{
		tradeWith(-50, 5),
		tradeWith(100, 1),
		tradeWith(200, 2),
		tradeWith(-30, 4),
		tradeWith(40, 3),
		tradeWith(0, 6),
		tradeWith(-10, 7),
	}
	m := Compute(curveOf(1000, 1250), trades, cfgWithCapital(1000))

	assert.Equal(t, 7.0, requireNumber(t, m, TradeCount))
	assert.InDelta(t, 3.0/7, requireNumber(t, m, WinRate), 1e-12)
	assert.InDelta(t, 340.0/90, requireNumber(t, m, ProfitFactor), 1e-12)
	assert.InDelta(t, 340.0/3, requireNumber(t, m, AvgWin), 1e-12)
	assert.InDelta(t, -30.0, requireNumber(t, m, AvgLoss), 1e-12)
	assert.Equal(t, 3.0, requireNumber(t, m, MaxConsecutiveWins))
	assert.Equal(t, 2.0, requireNumber(t, m, MaxConsecutiveLosses))
	assert.Equal(t, 200.0, requireNumber(t, m, LargestWin))
	assert.Equal(t, -50.0, requireNumber(t, m, LargestLoss))
	assert.InDelta(t, 250.0, requireNumber(t, m, TotalPnL), 1e-12)

	// input left untouched
	assert.Equal(t, -50.0, trades[0].PnL)
}

func TestAllZeroPnL(t *testing.T) {
	m := Compute(curveOf(1000, 1000), []sim.Trade{tradeWith(0, 1)}, cfgWithCapital(1000))

	assert.Equal(t, 0.0, requireNumber(t, m, WinRate))
	assert.Equal(t, Undefined(FlagNoLosses), m[ProfitFactor])
	assert.Equal(t, Undefined(FlagNoWins), m[AvgWin])
}

func TestNonPositiveEquity(t *testing.T) {
	m := Compute(curveOf(100, 0, 10), nil, cfgWithCapital(100))

	assert.Equal(t, Undefined(FlagNonPositiveEquity), m[Volatility])
	assert.Equal(t, Undefined(FlagNonPositiveEquity), m[Sharpe])
	assert.InDelta(t, -0.9, requireNumber(t, m, CumulativeReturn), 1e-12)
	assert.Equal(t, -1.0, requireNumber(t, m, MaxDrawdown))
}

func TestJSONMarkers(t *testing.T) {
	m := Metrics{
		TradeCount:   Num(3),
		ProfitFactor: PlusInfinity(),
		Sharpe:       Undefined(FlagNoVariance),
	}
	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"trade_count":3,"profit_factor":"+infinity","sharpe":"undefined"}`, string(data))

	var back Metrics
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, KindPlusInfinity, back[ProfitFactor].Kind)
	assert.Equal(t, KindUndefined, back[Sharpe].Kind)
	assert.Equal(t, 3.0, back[TradeCount].Number)

	var bad Value
	assert.Error(t, json.Unmarshal([]byte(`"nan"`), &bad))
}

func TestNumGuardsNonFinite(t *testing.T) {
	assert.False(t, Num(math.NaN()).Defined())
	assert.False(t, Num(math.Inf(1)).Defined())
	assert.True(t, Num(1.5).Defined())
	assert.Equal(t, "1.50", Num(1.5).Format(2))
	assert.Equal(t, "undefined", Undefined("").Format(2))
}

func TestFromSimulation(t *testing.T) {
	ds := []time.Time{day0, day0.AddDate(0, 0, 1), day0.AddDate(0, 0, 2), day0.AddDate(0, 0, 3), day0.AddDate(0, 0, 4)}
	closes := []float64{100, 102, 104, 108, 110}
	sigs := []sim.SignalValue{1, 0, 0, 0, -1}

	bars := make([]sim.PriceBar, len(ds))
	signals := make([]sim.Signal, len(ds))
	for i := range ds {
		bars[i] = sim.PriceBar{Symbol: "AAA", Date: ds[i], Open: closes[i], High: closes[i], Low: closes[i], Close: closes[i]}
		signals[i] = sim.Signal{Symbol: "AAA", Date: ds[i], Value: sigs[i]}
	}

	res, err := sim.Run(cfgWithCapital(10000),
		map[string][]sim.PriceBar{"AAA": bars},
		map[string][]sim.Signal{"AAA": signals})
	require.NoError(t, err)

	m := FromResult(res)
	assert.Equal(t, 1.0, requireNumber(t, m, TradeCount))
	assert.InDelta(t, 1000.0, requireNumber(t, m, TotalPnL), 1e-9)
	assert.Equal(t, 1.0, requireNumber(t, m, WinRate))
	assert.InDelta(t, 0.10, requireNumber(t, m, CumulativeReturn), 1e-12)
	assert.InDelta(t, 0.8, requireNumber(t, m, Exposure), 1e-12)
}
