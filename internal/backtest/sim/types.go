package sim

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceBar is one OHLCV bar for a symbol
type PriceBar struct {
	Symbol string    `json:"symbol"`
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// SignalValue is the discrete trading intent for a symbol on a date
type SignalValue int8

const (
	SignalExit SignalValue = -1
	SignalHold SignalValue = 0
	SignalLong SignalValue = 1
)

// Valid reports whether v is one of -1, 0, +1
func (v SignalValue) Valid() bool {
	return v == SignalExit || v == SignalHold || v == SignalLong
}

// Signal is a per-symbol, per-date trading signal
type Signal struct {
	Symbol string      `json:"symbol"`
	Date   time.Time   `json:"date"`
	Value  SignalValue `json:"value"`
}

// Side of an order
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Order is produced and consumed within one simulation step
type Order struct {
	Symbol        string
	Side          Side
	Date          time.Time
	Quantity      int64
	ExecutedPrice decimal.Decimal // post-slippage
	Commission    decimal.Decimal
}

// Notional returns quantity × executed price
func (o Order) Notional() decimal.Decimal {
	return o.ExecutedPrice.Mul(decimal.NewFromInt(o.Quantity))
}

// Trade is a closed round trip, immutable once appended to the trade log
type Trade struct {
	Symbol            string    `json:"symbol"`
	EntryDate         time.Time `json:"entry_date"`
	EntryPrice        float64   `json:"entry_price"`
	ExitDate          time.Time `json:"exit_date"`
	ExitPrice         float64   `json:"exit_price"`
	Quantity          int64     `json:"quantity"`
	EntryCommission   float64   `json:"entry_commission"`
	ExitCommission    float64   `json:"exit_commission"`
	PnL               float64   `json:"pnl"`
	HoldingPeriodDays int       `json:"holding_period_days"`
}

// EquityCurvePoint is the portfolio valuation for one simulated date
type EquityCurvePoint struct {
	Date          time.Time `json:"date"`
	Cash          float64   `json:"cash"`
	HoldingsValue float64   `json:"holdings_value"`
	Equity        float64   `json:"equity"`
	OpenPositions int       `json:"open_positions"`
}

// Outcome of an order attempt
type Outcome string

const (
	OutcomeFilled   Outcome = "filled"
	OutcomeRejected Outcome = "rejected"
	OutcomeSkipped  Outcome = "skipped"
)

// Reason codes recorded on rejected or skipped orders
const (
	ReasonInsufficientCash = "insufficient_cash"
	ReasonPositionLimit    = "position_limit"
	ReasonZeroQuantity     = "zero_quantity"
	ReasonNoNextBar        = "no_next_bar"
)

// ExecutionEvent is one audit record for an accepted or rejected order
type ExecutionEvent struct {
	Date       time.Time `json:"date"`
	Symbol     string    `json:"symbol"`
	Action     Side      `json:"action"`
	Outcome    Outcome   `json:"outcome"`
	Reason     string    `json:"reason,omitempty"`
	Quantity   int64     `json:"quantity"`
	Price      float64   `json:"price"`
	Commission float64   `json:"commission"`
}

// OpenPosition describes a position still held at the end of a run
type OpenPosition struct {
	Symbol          string    `json:"symbol"`
	Quantity        int64     `json:"quantity"`
	EntryDate       time.Time `json:"entry_date"`
	EntryPrice      float64   `json:"entry_price"`
	EntryCommission float64   `json:"entry_commission"`
	LastClose       float64   `json:"last_close"`
	UnrealizedPnL   float64   `json:"unrealized_pnl"`
}

// Result is everything a single run produces
type Result struct {
	RunID         string             `json:"run_id"`
	Config        Config             `json:"config"`
	EquityCurve   []EquityCurvePoint `json:"equity_curve"`
	Trades        []Trade            `json:"trades"`
	ExecutionLog  []ExecutionEvent   `json:"execution_log"`
	OpenPositions []OpenPosition     `json:"open_positions"`
}

// InitialEquity returns the first curve point's equity, or 0 for an empty curve
func (r *Result) InitialEquity() float64 {
	if len(r.EquityCurve) == 0 {
		return 0
	}
	return r.EquityCurve[0].Equity
}

// FinalEquity returns the last curve point's equity, or 0 for an empty curve
func (r *Result) FinalEquity() float64 {
	if len(r.EquityCurve) == 0 {
		return 0
	}
	return r.EquityCurve[len(r.EquityCurve)-1].Equity
}

// Rejections returns the rejected and skipped execution events
func (r *Result) Rejections() []ExecutionEvent {
	var out []ExecutionEvent
	for _, ev := range r.ExecutionLog {
		if ev.Outcome != OutcomeFilled {
			out = append(out, ev)
		}
	}
	return out
}
