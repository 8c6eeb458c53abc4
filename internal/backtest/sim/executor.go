package sim

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionState is the per-symbol state of the trade state machine
type PositionState uint8

const (
	Flat PositionState = iota
	Long
)

func (p PositionState) String() string {
	if p == Long {
		return "LONG"
	}
	return "FLAT"
}

// Action is what a transition asks the executor to attempt
type Action uint8

const (
	ActionNone Action = iota
	ActionBuy
	ActionSell
)

// Transition is one row of the state machine table
type Transition struct {
	Action   Action
	OnFill   PositionState
	OnReject PositionState
}

// transitions is indexed by [state][signal+1]. A repeated +1 while LONG is a
// no-op: one position per symbol, no scaling in.
var transitions = [2][3]Transition{
	Flat: {
		{ActionNone, Flat, Flat}, // -1
		{ActionNone, Flat, Flat}, //  0
		{ActionBuy, Long, Flat},  // +1
	},
	Long: {
		{ActionSell, Flat, Flat}, // -1
		{ActionNone, Long, Long}, //  0
		{ActionNone, Long, Long}, // +1
	},
}

// Lookup returns the transition for a state and signal
func Lookup(state PositionState, signal SignalValue) Transition {
	return transitions[state][int(signal)+1]
}

// Decision is the outcome of evaluating one symbol on one date. Event is nil
// when the transition is a no-op; Trade is set only when a position closed.
type Decision struct {
	Event *ExecutionEvent
	Trade *Trade
	Next  PositionState
}

// Executor turns signal transitions into orders against a PortfolioState
type Executor struct {
	cfg            Config
	commissionRate decimal.Decimal
	slippage       decimal.Decimal
	credit         decimal.Decimal
}

// NewExecutor builds an executor; cfg is assumed validated
func NewExecutor(cfg Config) *Executor {
	return &Executor{
		cfg:            cfg,
		commissionRate: decimal.NewFromFloat(cfg.CommissionRate),
		slippage:       decimal.NewFromFloat(cfg.SlippageBps).Div(decimal.NewFromInt(10000)),
		credit:         decimal.NewFromFloat(cfg.InitialCapital).Mul(decimal.NewFromFloat(cfg.LeverageLimit)),
	}
}

// AvailableCash is cash plus the leverage credit line
func (e *Executor) AvailableCash(state *PortfolioState) decimal.Decimal {
	return state.Cash.Add(e.credit)
}

// ExecutionPrice applies adverse slippage: up for buys, down for sells
func (e *Executor) ExecutionPrice(side Side, price float64) decimal.Decimal {
	p := decimal.NewFromFloat(price)
	if side == SideBuy {
		return p.Mul(decimal.NewFromInt(1).Add(e.slippage))
	}
	return p.Mul(decimal.NewFromInt(1).Sub(e.slippage))
}

// Execute evaluates the transition for symbol and applies any fill to state
func (e *Executor) Execute(state *PortfolioState, symbol string, signal SignalValue, date time.Time, price float64) Decision {
	current := state.PositionState(symbol)
	tr := Lookup(current, signal)

	switch tr.Action {
	case ActionBuy:
		return e.buy(state, symbol, date, price, tr)
	case ActionSell:
		return e.sell(state, symbol, date, price, tr)
	default:
		return Decision{Next: current}
	}
}

func (e *Executor) buy(state *PortfolioState, symbol string, date time.Time, price float64, tr Transition) Decision {
	px := e.ExecutionPrice(SideBuy, price)
	reject := func(outcome Outcome, reason string) Decision {
		return Decision{
			Event: &ExecutionEvent{
				Date:    date,
				Symbol:  symbol,
				Action:  SideBuy,
				Outcome: outcome,
				Reason:  reason,
				Price:   px.InexactFloat64(),
			},
			Next: tr.OnReject,
		}
	}

	openSlots := e.cfg.MaxPositions - state.OpenCount()
	if openSlots <= 0 {
		return reject(OutcomeRejected, ReasonPositionLimit)
	}

	available := e.AvailableCash(state)
	unitCost := px.Mul(decimal.NewFromInt(1).Add(e.commissionRate))
	if available.LessThan(unitCost) {
		return reject(OutcomeRejected, ReasonInsufficientCash)
	}

	allocation := available.Div(decimal.NewFromInt(int64(openSlots)))
	qty := allocation.Div(unitCost).Floor().IntPart()
	if qty <= 0 {
		return reject(OutcomeSkipped, ReasonZeroQuantity)
	}

	order := Order{
		Symbol:        symbol,
		Side:          SideBuy,
		Date:          date,
		Quantity:      qty,
		ExecutedPrice: px,
	}
	order.Commission = order.Notional().Mul(e.commissionRate)
	if order.Notional().Add(order.Commission).GreaterThan(available) {
		return reject(OutcomeRejected, ReasonInsufficientCash)
	}

	state.applyBuy(order)
	return Decision{Event: filledEvent(order), Next: tr.OnFill}
}

func (e *Executor) sell(state *PortfolioState, symbol string, date time.Time, price float64, tr Transition) Decision {
	pos := state.Holdings[symbol]
	order := Order{
		Symbol:        symbol,
		Side:          SideSell,
		Date:          date,
		Quantity:      pos.Quantity,
		ExecutedPrice: e.ExecutionPrice(SideSell, price),
	}
	order.Commission = order.Notional().Mul(e.commissionRate)

	trade := state.applySell(order)
	return Decision{Event: filledEvent(order), Trade: &trade, Next: tr.OnFill}
}

func filledEvent(o Order) *ExecutionEvent {
	return &ExecutionEvent{
		Date:       o.Date,
		Symbol:     o.Symbol,
		Action:     o.Side,
		Outcome:    OutcomeFilled,
		Quantity:   o.Quantity,
		Price:      o.ExecutedPrice.InexactFloat64(),
		Commission: o.Commission.InexactFloat64(),
	}
}
