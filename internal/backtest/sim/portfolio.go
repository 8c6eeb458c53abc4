package sim

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Position is an open long holding in one symbol
type Position struct {
	Symbol          string
	Quantity        int64
	EntryDate       time.Time
	EntryPrice      decimal.Decimal
	EntryCommission decimal.Decimal
}

// PortfolioState is the cash ledger, open holdings and last marks of a run.
// It is owned by the simulator step loop and never shared across runs.
type PortfolioState struct {
	Date     time.Time
	Cash     decimal.Decimal
	Holdings map[string]*Position
	marks    map[string]decimal.Decimal
}

// NewPortfolioState returns a flat portfolio holding only cash
func NewPortfolioState(capital float64) *PortfolioState {
	return &PortfolioState{
		Cash:     decimal.NewFromFloat(capital),
		Holdings: make(map[string]*Position),
		marks:    make(map[string]decimal.Decimal),
	}
}

// Clone returns a deep copy so a step can be evaluated without touching s
func (s *PortfolioState) Clone() *PortfolioState {
	c := &PortfolioState{
		Date:     s.Date,
		Cash:     s.Cash,
		Holdings: make(map[string]*Position, len(s.Holdings)),
		marks:    make(map[string]decimal.Decimal, len(s.marks)),
	}
	for sym, pos := range s.Holdings {
		p := *pos
		c.Holdings[sym] = &p
	}
	for sym, m := range s.marks {
		c.marks[sym] = m
	}
	return c
}

// PositionState returns LONG when the symbol has an open position
func (s *PortfolioState) PositionState(symbol string) PositionState {
	if pos, ok := s.Holdings[symbol]; ok && pos.Quantity > 0 {
		return Long
	}
	return Flat
}

// OpenCount returns the number of open positions
func (s *PortfolioState) OpenCount() int {
	return len(s.Holdings)
}

// Mark records the latest close for a symbol
func (s *PortfolioState) Mark(symbol string, close float64) {
	s.marks[symbol] = decimal.NewFromFloat(close)
}

// HoldingsValue is Σ quantity × last mark over open positions
func (s *PortfolioState) HoldingsValue() decimal.Decimal {
	total := decimal.Zero
	for sym, pos := range s.Holdings {
		mark, ok := s.marks[sym]
		if !ok {
			mark = pos.EntryPrice
		}
		total = total.Add(mark.Mul(decimal.NewFromInt(pos.Quantity)))
	}
	return total
}

// Equity is cash + holdings value
func (s *PortfolioState) Equity() decimal.Decimal {
	return s.Cash.Add(s.HoldingsValue())
}

// Snapshot converts the current state into an equity curve point
func (s *PortfolioState) Snapshot() EquityCurvePoint {
	holdings := s.HoldingsValue()
	return EquityCurvePoint{
		Date:          s.Date,
		Cash:          s.Cash.InexactFloat64(),
		HoldingsValue: holdings.InexactFloat64(),
		Equity:        s.Cash.Add(holdings).InexactFloat64(),
		OpenPositions: len(s.Holdings),
	}
}

// OpenPositions lists held positions in symbol order with unrealized pnl
// measured at the last mark, net of the entry commission
func (s *PortfolioState) OpenPositions() []OpenPosition {
	symbols := make([]string, 0, len(s.Holdings))
	for sym := range s.Holdings {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	out := make([]OpenPosition, 0, len(symbols))
	for _, sym := range symbols {
		pos := s.Holdings[sym]
		mark, ok := s.marks[sym]
		if !ok {
			mark = pos.EntryPrice
		}
		unrealized := mark.Sub(pos.EntryPrice).Mul(decimal.NewFromInt(pos.Quantity)).Sub(pos.EntryCommission)
		out = append(out, OpenPosition{
			Symbol:          sym,
			Quantity:        pos.Quantity,
			EntryDate:       pos.EntryDate,
			EntryPrice:      pos.EntryPrice.InexactFloat64(),
			EntryCommission: pos.EntryCommission.InexactFloat64(),
			LastClose:       mark.InexactFloat64(),
			UnrealizedPnL:   unrealized.InexactFloat64(),
		})
	}
	return out
}

func (s *PortfolioState) applyBuy(o Order) {
	s.Cash = s.Cash.Sub(o.Notional()).Sub(o.Commission)
	s.Holdings[o.Symbol] = &Position{
		Symbol:          o.Symbol,
		Quantity:        o.Quantity,
		EntryDate:       o.Date,
		EntryPrice:      o.ExecutedPrice,
		EntryCommission: o.Commission,
	}
}

// applySell closes the whole position and returns the resulting trade
func (s *PortfolioState) applySell(o Order) Trade {
	pos := s.Holdings[o.Symbol]
	delete(s.Holdings, o.Symbol)
	s.Cash = s.Cash.Add(o.Notional()).Sub(o.Commission)

	qty := decimal.NewFromInt(pos.Quantity)
	pnl := o.ExecutedPrice.Sub(pos.EntryPrice).Mul(qty).Sub(pos.EntryCommission).Sub(o.Commission)

	return Trade{
		Symbol:            o.Symbol,
		EntryDate:         pos.EntryDate,
		EntryPrice:        pos.EntryPrice.InexactFloat64(),
		ExitDate:          o.Date,
		ExitPrice:         o.ExecutedPrice.InexactFloat64(),
		Quantity:          pos.Quantity,
		EntryCommission:   pos.EntryCommission.InexactFloat64(),
		ExitCommission:    o.Commission.InexactFloat64(),
		PnL:               pnl.InexactFloat64(),
		HoldingPeriodDays: calendarDays(pos.EntryDate, o.Date),
	}
}

func calendarDays(from, to time.Time) int {
	return int(math.Round(to.Sub(from).Hours() / 24))
}
