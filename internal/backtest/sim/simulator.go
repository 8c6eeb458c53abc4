package sim

import (
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// StepInput is everything a single date contributes to the simulation. Signals
// holds the signal that triggers a fill on Date; FillPrices the bar price used
// for those fills; Closes the marks for end-of-date valuation.
type StepInput struct {
	Date       time.Time
	Symbols    []string
	Signals    map[string]SignalValue
	FillPrices map[string]float64
	Closes     map[string]float64
}

// StepOutput is what one date produced
type StepOutput struct {
	Events []ExecutionEvent
	Trades []Trade
	Point  EquityCurvePoint
}

// Step evaluates one date without mutating state and returns the next state
func Step(cfg Config, state *PortfolioState, in StepInput) (*PortfolioState, StepOutput) {
	next := state.Clone()
	out := NewExecutor(cfg.WithDefaults()).step(next, in)
	return next, out
}

// step applies one date in place: executes every symbol in the given order,
// marks holdings to the date's close and snapshots equity
func (e *Executor) step(state *PortfolioState, in StepInput) StepOutput {
	var out StepOutput
	state.Date = in.Date

	for _, symbol := range in.Symbols {
		signal, ok := in.Signals[symbol]
		if !ok {
			continue
		}
		d := e.Execute(state, symbol, signal, in.Date, in.FillPrices[symbol])
		if d.Event != nil {
			out.Events = append(out.Events, *d.Event)
		}
		if d.Trade != nil {
			out.Trades = append(out.Trades, *d.Trade)
		}
	}

	for _, symbol := range in.Symbols {
		if c, ok := in.Closes[symbol]; ok {
			state.Mark(symbol, c)
		}
	}
	out.Point = state.Snapshot()
	return out
}

// Simulator drives the chronological walk over an aligned timeline
type Simulator struct {
	cfg    Config
	logger zerolog.Logger
	runID  string
}

// Option configures a Simulator
type Option func(*Simulator)

// WithLogger attaches a logger; runs are silent by default
func WithLogger(l zerolog.Logger) Option {
	return func(s *Simulator) { s.logger = l }
}

// WithRunID stamps results with an identifier
func WithRunID(id string) Option {
	return func(s *Simulator) { s.runID = id }
}

// New validates cfg and returns a simulator
func New(cfg Config, opts ...Option) (*Simulator, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Simulator{cfg: cfg, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Config returns the effective configuration
func (s *Simulator) Config() Config { return s.cfg }

// Run is the pure entry point: validate, align, simulate. Identical inputs give
// identical results, and no state is shared between calls.
func Run(cfg Config, prices map[string][]PriceBar, signals map[string][]Signal) (*Result, error) {
	s, err := New(cfg)
	if err != nil {
		return nil, err
	}
	return s.Run(prices, signals)
}

// Run aligns the inputs and simulates them. Fatal errors return before any
// equity curve is produced.
func (s *Simulator) Run(prices map[string][]PriceBar, signals map[string][]Signal) (*Result, error) {
	tl, err := Align(prices, signals)
	if err != nil {
		return nil, err
	}
	return s.RunTimeline(tl)
}

// RunTimeline simulates an already aligned timeline
func (s *Simulator) RunTimeline(tl *Timeline) (*Result, error) {
	var (
		res *Result
		err error
	)
	if s.cfg.Mode == ModeIndependent && len(tl.Symbols) > 1 {
		res, err = s.runIndependent(tl)
		if err != nil {
			return nil, err
		}
	} else {
		res = s.runShared(tl)
	}
	res.RunID = s.runID
	res.Config = s.cfg

	s.logger.Info().
		Str("run_id", s.runID).
		Int("dates", tl.Len()).
		Int("symbols", len(tl.Symbols)).
		Int("trades", len(res.Trades)).
		Int("rejections", len(res.Rejections())).
		Float64("final_equity", res.FinalEquity()).
		Msg("Simulation completed")

	return res, nil
}

func (s *Simulator) runShared(tl *Timeline) *Result {
	exec := NewExecutor(s.cfg)
	state := NewPortfolioState(s.cfg.InitialCapital)

	res := &Result{
		EquityCurve:  make([]EquityCurvePoint, 0, tl.Len()),
		Trades:       make([]Trade, 0),
		ExecutionLog: make([]ExecutionEvent, 0),
	}

	for i := range tl.Dates {
		out := exec.step(state, s.inputAt(tl, i))
		for _, ev := range out.Events {
			s.logEvent(ev)
		}
		res.EquityCurve = append(res.EquityCurve, out.Point)
		res.Trades = append(res.Trades, out.Trades...)
		res.ExecutionLog = append(res.ExecutionLog, out.Events...)
	}

	if s.cfg.ExecutionTiming == NextBarOpen {
		res.ExecutionLog = append(res.ExecutionLog, s.unfilledFinalSignals(tl, state)...)
	}
	res.OpenPositions = state.OpenPositions()
	return res
}

// inputAt builds the step input for date i. Under next_bar_open the signal of
// date i-1 fills at the open of date i; nothing ever reads a later bar.
func (s *Simulator) inputAt(tl *Timeline, i int) StepInput {
	in := StepInput{
		Date:       tl.Dates[i],
		Symbols:    tl.Symbols,
		Signals:    make(map[string]SignalValue, len(tl.Symbols)),
		FillPrices: make(map[string]float64, len(tl.Symbols)),
		Closes:     make(map[string]float64, len(tl.Symbols)),
	}
	for _, sym := range tl.Symbols {
		bar := tl.Bars[sym][i]
		in.Closes[sym] = bar.Close
		switch s.cfg.ExecutionTiming {
		case NextBarOpen:
			if i == 0 {
				continue
			}
			in.Signals[sym] = tl.Signals[sym][i-1]
			in.FillPrices[sym] = bar.Open
		default:
			in.Signals[sym] = tl.Signals[sym][i]
			in.FillPrices[sym] = bar.Close
		}
	}
	return in
}

// unfilledFinalSignals records triggers on the last bar that have no next bar
// to fill on
func (s *Simulator) unfilledFinalSignals(tl *Timeline, state *PortfolioState) []ExecutionEvent {
	last := tl.Len() - 1
	var events []ExecutionEvent
	for _, sym := range tl.Symbols {
		tr := Lookup(state.PositionState(sym), tl.Signals[sym][last])
		var side Side
		switch tr.Action {
		case ActionBuy:
			side = SideBuy
		case ActionSell:
			side = SideSell
		default:
			continue
		}
		ev := ExecutionEvent{
			Date:    tl.Dates[last],
			Symbol:  sym,
			Action:  side,
			Outcome: OutcomeSkipped,
			Reason:  ReasonNoNextBar,
		}
		s.logEvent(ev)
		events = append(events, ev)
	}
	return events
}

func (s *Simulator) logEvent(ev ExecutionEvent) {
	e := s.logger.Debug()
	if ev.Outcome != OutcomeFilled {
		e = e.Str("reason", ev.Reason)
	}
	e.Time("date", ev.Date).
		Str("symbol", ev.Symbol).
		Str("action", string(ev.Action)).
		Str("outcome", string(ev.Outcome)).
		Int64("qty", ev.Quantity).
		Float64("price", ev.Price).
		Msg("Order")
}

// runIndependent gives each symbol capital/N and simulates the symbols
// concurrently; each sub-run owns its own PortfolioState
func (s *Simulator) runIndependent(tl *Timeline) (*Result, error) {
	sub := s.cfg
	sub.Mode = ModeShared
	sub.InitialCapital = s.cfg.InitialCapital / float64(len(tl.Symbols))

	results := make([]*Result, len(tl.Symbols))
	var g errgroup.Group
	for i, sym := range tl.Symbols {
		i, sym := i, sym
		g.Go(func() error {
			child := &Simulator{cfg: sub, logger: s.logger.With().Str("symbol", sym).Logger()}
			results[i] = child.runShared(&Timeline{
				Symbols: []string{sym},
				Dates:   tl.Dates,
				Bars:    map[string][]PriceBar{sym: tl.Bars[sym]},
				Signals: map[string][]SignalValue{sym: tl.Signals[sym]},
			})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return mergeResults(tl.Dates, results), nil
}

// mergeResults sums per-date sub-curves and merges logs in (date, symbol) order
func mergeResults(dates []time.Time, parts []*Result) *Result {
	res := &Result{
		EquityCurve:  make([]EquityCurvePoint, len(dates)),
		Trades:       make([]Trade, 0),
		ExecutionLog: make([]ExecutionEvent, 0),
	}
	for i, d := range dates {
		res.EquityCurve[i].Date = d
	}

	for _, part := range parts {
		for i, pt := range part.EquityCurve {
			res.EquityCurve[i].Cash += pt.Cash
			res.EquityCurve[i].HoldingsValue += pt.HoldingsValue
			res.EquityCurve[i].Equity += pt.Equity
			res.EquityCurve[i].OpenPositions += pt.OpenPositions
		}
		res.Trades = append(res.Trades, part.Trades...)
		res.ExecutionLog = append(res.ExecutionLog, part.ExecutionLog...)
		res.OpenPositions = append(res.OpenPositions, part.OpenPositions...)
	}

	sort.SliceStable(res.Trades, func(i, j int) bool {
		a, b := res.Trades[i], res.Trades[j]
		if !a.ExitDate.Equal(b.ExitDate) {
			return a.ExitDate.Before(b.ExitDate)
		}
		return a.Symbol < b.Symbol
	})
	sort.SliceStable(res.ExecutionLog, func(i, j int) bool {
		a, b := res.ExecutionLog[i], res.ExecutionLog[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		return a.Symbol < b.Symbol
	})
	return res
}
