// Package metrics derives return, risk and trade statistics from a finished
// simulation. Every function here is read-only over its inputs and safe to
// call concurrently.
package metrics

import (
	"encoding/json"
	"math"
	"sort"

	"github.com/sawpanic/simcore/internal/backtest/sim"
)

// Metric names
const (
	CumulativeReturn     = "cumulative_return"
	CAGR                 = "cagr"
	Volatility           = "volatility"
	Sharpe               = "sharpe"
	Sortino              = "sortino"
	MaxDrawdown          = "max_drawdown"
	DrawdownDuration     = "drawdown_duration"
	WinRate              = "win_rate"
	ProfitFactor         = "profit_factor"
	AvgWin               = "avg_win"
	AvgLoss              = "avg_loss"
	MaxConsecutiveWins   = "max_consecutive_wins"
	MaxConsecutiveLosses = "max_consecutive_losses"
	TradeCount           = "trade_count"
	FinalEquity          = "final_equity"
	TotalPnL             = "total_pnl"
	LargestWin           = "largest_win"
	LargestLoss          = "largest_loss"
	AvgHoldingPeriodDays = "avg_holding_period_days"
	Exposure             = "exposure"
)

// Names lists every metric in report order
var Names = []string{
	CumulativeReturn, CAGR, Volatility, Sharpe, Sortino,
	MaxDrawdown, DrawdownDuration,
	WinRate, ProfitFactor, AvgWin, AvgLoss,
	MaxConsecutiveWins, MaxConsecutiveLosses, TradeCount,
	FinalEquity, TotalPnL, LargestWin, LargestLoss, AvgHoldingPeriodDays, Exposure,
}

// varianceEpsilon treats a standard deviation at or below it as zero
const varianceEpsilon = 1e-12

// Metrics maps metric name to value. Compute always fills every name.
type Metrics map[string]Value

// Get returns the named value, undefined if absent
func (m Metrics) Get(name string) Value {
	if v, ok := m[name]; ok {
		return v
	}
	return Undefined(FlagInsufficientData)
}

// Flags returns the reason flags of undefined metrics
func (m Metrics) Flags() map[string]string {
	flags := make(map[string]string)
	for name, v := range m {
		if v.Kind == KindUndefined && v.Flag != "" {
			flags[name] = v.Flag
		}
	}
	return flags
}

// MarshalJSON emits a flat object with keys in sorted order
func (m Metrics) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]Value(m))
}

// FromResult computes metrics for a simulation result
func FromResult(res *sim.Result) Metrics {
	return Compute(res.EquityCurve, res.Trades, res.Config)
}

// Compute derives the full metric table from an equity curve and trade log
func Compute(curve []sim.EquityCurvePoint, trades []sim.Trade, cfg sim.Config) Metrics {
	cfg = cfg.WithDefaults()
	m := make(Metrics, len(Names))

	returnMetrics(m, curve, cfg)
	riskMetrics(m, curve, cfg)
	drawdownMetrics(m, curve)
	tradeMetrics(m, trades)

	return m
}

func initialEquity(curve []sim.EquityCurvePoint, cfg sim.Config) float64 {
	if cfg.InitialCapital > 0 {
		return cfg.InitialCapital
	}
	if len(curve) > 0 {
		return curve[0].Equity
	}
	return 0
}

func returnMetrics(m Metrics, curve []sim.EquityCurvePoint, cfg sim.Config) {
	if len(curve) == 0 {
		m[CumulativeReturn] = Undefined(FlagInsufficientData)
		m[CAGR] = Undefined(FlagInsufficientData)
		m[FinalEquity] = Undefined(FlagInsufficientData)
		m[Exposure] = Undefined(FlagInsufficientData)
		return
	}

	start := initialEquity(curve, cfg)
	end := curve[len(curve)-1].Equity
	m[FinalEquity] = Num(end)

	if start <= 0 {
		m[CumulativeReturn] = Undefined(FlagNonPositiveEquity)
		m[CAGR] = Undefined(FlagNonPositiveEquity)
	} else {
		growth := end / start
		m[CumulativeReturn] = Num(growth - 1)

		days := curve[len(curve)-1].Date.Sub(curve[0].Date).Hours() / 24
		switch {
		case days <= 0:
			m[CAGR] = Undefined(FlagZeroDuration)
		case growth <= 0:
			m[CAGR] = Undefined(FlagNonPositiveEquity)
		default:
			m[CAGR] = Num(math.Pow(growth, 365/days) - 1)
		}
	}

	invested := 0
	for _, pt := range curve {
		if pt.HoldingsValue > 0 {
			invested++
		}
	}
	m[Exposure] = Num(float64(invested) / float64(len(curve)))
}

// dailyReturns returns r_t = equity_t / equity_{t-1} - 1; ok is false when a
// prior equity is not positive
func dailyReturns(curve []sim.EquityCurvePoint) (rets []float64, ok bool) {
	if len(curve) < 2 {
		return nil, true
	}
	rets = make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev <= 0 {
			return nil, false
		}
		rets = append(rets, curve[i].Equity/prev-1)
	}
	return rets, true
}

func riskMetrics(m Metrics, curve []sim.EquityCurvePoint, cfg sim.Config) {
	rets, ok := dailyReturns(curve)
	if !ok {
		m[Volatility] = Undefined(FlagNonPositiveEquity)
		m[Sharpe] = Undefined(FlagNonPositiveEquity)
		m[Sortino] = Undefined(FlagNonPositiveEquity)
		return
	}

	ann := math.Sqrt(cfg.AnnualizationFactor)

	sd, sdOK := stdev(rets)
	switch {
	case !sdOK:
		m[Volatility] = Undefined(FlagInsufficientData)
		m[Sharpe] = Undefined(FlagInsufficientData)
	case sd <= varianceEpsilon:
		m[Volatility] = Undefined(FlagNoVariance)
		m[Sharpe] = Undefined(FlagNoVariance)
	default:
		m[Volatility] = Num(sd * ann)
		m[Sharpe] = Num((mean(rets) - cfg.RiskFreeRate) / sd * ann)
	}

	var downside []float64
	for _, r := range rets {
		if r < 0 {
			downside = append(downside, r)
		}
	}
	if len(downside) == 0 {
		m[Sortino] = Undefined(FlagNoNegativeReturns)
		return
	}
	dsd, dOK := stdev(downside)
	switch {
	case !dOK:
		m[Sortino] = Undefined(FlagInsufficientData)
	case dsd <= varianceEpsilon:
		m[Sortino] = Undefined(FlagNoVariance)
	default:
		m[Sortino] = Num((mean(rets) - cfg.RiskFreeRate) / dsd * ann)
	}
}

func drawdownMetrics(m Metrics, curve []sim.EquityCurvePoint) {
	worst := 0.0
	longest, run := 0, 0
	peak := math.Inf(-1)

	for _, pt := range curve {
		if pt.Equity > peak {
			peak = pt.Equity
		}
		dd := 0.0
		if peak > 0 {
			dd = pt.Equity/peak - 1
		}
		if dd < worst {
			worst = dd
		}
		if dd < 0 {
			run++
			if run > longest {
				longest = run
			}
		} else {
			run = 0
		}
	}

	m[MaxDrawdown] = Num(worst)
	m[DrawdownDuration] = Num(float64(longest))
}

func tradeMetrics(m Metrics, trades []sim.Trade) {
	n := len(trades)
	m[TradeCount] = Num(float64(n))

	ordered := make([]sim.Trade, n)
	copy(ordered, trades)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].ExitDate.Before(ordered[j].ExitDate)
	})

	var (
		grossWin, grossLoss   float64
		wins, losses          int
		largestWin            = math.Inf(-1)
		largestLoss           = math.Inf(1)
		total, holding        float64
		winStreak, lossStreak int
		maxWins, maxLosses    int
	)

	for _, t := range ordered {
		total += t.PnL
		holding += float64(t.HoldingPeriodDays)
		switch {
		case t.PnL > 0:
			wins++
			grossWin += t.PnL
			largestWin = math.Max(largestWin, t.PnL)
			winStreak++
			lossStreak = 0
		case t.PnL < 0:
			losses++
			grossLoss += t.PnL
			largestLoss = math.Min(largestLoss, t.PnL)
			lossStreak++
			winStreak = 0
		default:
			winStreak, lossStreak = 0, 0
		}
		if winStreak > maxWins {
			maxWins = winStreak
		}
		if lossStreak > maxLosses {
			maxLosses = lossStreak
		}
	}

	m[MaxConsecutiveWins] = Num(float64(maxWins))
	m[MaxConsecutiveLosses] = Num(float64(maxLosses))
	m[TotalPnL] = Num(total)

	if n == 0 {
		for _, name := range []string{WinRate, ProfitFactor, AvgWin, AvgLoss, LargestWin, LargestLoss, AvgHoldingPeriodDays} {
			m[name] = Undefined(FlagNoTrades)
		}
		return
	}

	m[WinRate] = Num(float64(wins) / float64(n))
	m[AvgHoldingPeriodDays] = Num(holding / float64(n))

	switch {
	case losses > 0:
		m[ProfitFactor] = Num(grossWin / math.Abs(grossLoss))
	case wins > 0:
		m[ProfitFactor] = PlusInfinity()
	default:
		m[ProfitFactor] = Undefined(FlagNoLosses)
	}

	if wins > 0 {
		m[AvgWin] = Num(grossWin / float64(wins))
		m[LargestWin] = Num(largestWin)
	} else {
		m[AvgWin] = Undefined(FlagNoWins)
		m[LargestWin] = Undefined(FlagNoWins)
	}
	if losses > 0 {
		m[AvgLoss] = Num(grossLoss / float64(losses))
		m[LargestLoss] = Num(largestLoss)
	} else {
		m[AvgLoss] = Undefined(FlagNoLosses)
		m[LargestLoss] = Undefined(FlagNoLosses)
	}
}

func mean(xs []float64) float64 {
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// stdev is the sample standard deviation; it needs at least two observations
func stdev(xs []float64) (float64, bool) {
	if len(xs) < 2 {
		return 0, false
	}
	mu := mean(xs)
	ss := 0.0
	for _, x := range xs {
		d := x - mu
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)-1)), true
}
