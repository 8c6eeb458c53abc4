package sim

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Timeline is the validated, index-aligned input of a run. Dates is the single
// calendar shared by every symbol; Bars[s][i] and Signals[s][i] belong to Dates[i].
type Timeline struct {
	Symbols []string
	Dates   []time.Time
	Bars    map[string][]PriceBar
	Signals map[string][]SignalValue
}

// Len returns the number of simulated dates
func (t *Timeline) Len() int { return len(t.Dates) }

// Align validates prices and signals and builds a Timeline. Any mismatch is a
// *DataAlignmentError; nothing is forward-filled.
func Align(prices map[string][]PriceBar, signals map[string][]Signal) (*Timeline, error) {
	if len(prices) == 0 {
		return nil, &DataAlignmentError{Symbol: "*", Reason: "no price series supplied"}
	}

	symbols := make([]string, 0, len(prices))
	for symbol := range prices {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	for symbol := range signals {
		if _, ok := prices[symbol]; !ok {
			return nil, &DataAlignmentError{Symbol: symbol, Reason: "signals supplied without price series"}
		}
	}

	tl := &Timeline{
		Symbols: symbols,
		Bars:    make(map[string][]PriceBar, len(symbols)),
		Signals: make(map[string][]SignalValue, len(symbols)),
	}

	for i, symbol := range symbols {
		bars := prices[symbol]
		sigs, ok := signals[symbol]
		if !ok {
			return nil, &DataAlignmentError{Symbol: symbol, Reason: "no signal series"}
		}
		if len(bars) == 0 {
			return nil, &DataAlignmentError{Symbol: symbol, Reason: "empty price series"}
		}
		if err := validateBars(symbol, bars); err != nil {
			return nil, err
		}
		values, err := alignSignals(symbol, bars, sigs)
		if err != nil {
			return nil, err
		}

		if i == 0 {
			tl.Dates = make([]time.Time, len(bars))
			for j, bar := range bars {
				tl.Dates[j] = bar.Date
			}
		} else if err := sameCalendar(symbol, tl.Dates, bars); err != nil {
			return nil, err
		}

		tl.Bars[symbol] = bars
		tl.Signals[symbol] = values
	}

	return tl, nil
}

func validateBars(symbol string, bars []PriceBar) error {
	for i, bar := range bars {
		if bar.Symbol != "" && bar.Symbol != symbol {
			return &DataAlignmentError{Symbol: symbol, Date: bar.Date, Reason: fmt.Sprintf("bar tagged with symbol %q", bar.Symbol)}
		}
		if !positive(bar.Open) || !positive(bar.Close) {
			return &DataAlignmentError{Symbol: symbol, Date: bar.Date, Reason: "open and close must be positive"}
		}
		if i == 0 {
			continue
		}
		prev := bars[i-1].Date
		switch {
		case bar.Date.Equal(prev):
			return &DataAlignmentError{Symbol: symbol, Date: bar.Date, Reason: "duplicate price bar date"}
		case bar.Date.Before(prev):
			return &DataAlignmentError{Symbol: symbol, Date: bar.Date, Reason: "price bar dates not strictly increasing"}
		}
	}
	return nil
}

func alignSignals(symbol string, bars []PriceBar, sigs []Signal) ([]SignalValue, error) {
	if len(sigs) != len(bars) {
		return nil, &DataAlignmentError{Symbol: symbol, Reason: fmt.Sprintf("%d signals for %d price bars", len(sigs), len(bars))}
	}
	values := make([]SignalValue, len(sigs))
	for i, sig := range sigs {
		if sig.Symbol != "" && sig.Symbol != symbol {
			return nil, &DataAlignmentError{Symbol: symbol, Date: sig.Date, Reason: fmt.Sprintf("signal tagged with symbol %q", sig.Symbol)}
		}
		if i > 0 && !sig.Date.After(sigs[i-1].Date) {
			return nil, &DataAlignmentError{Symbol: symbol, Date: sig.Date, Reason: "signal dates duplicated or not strictly increasing"}
		}
		if !sig.Date.Equal(bars[i].Date) {
			return nil, &DataAlignmentError{Symbol: symbol, Date: sig.Date, Reason: fmt.Sprintf("signal date does not match price bar date %s", bars[i].Date.Format("2006-01-02"))}
		}
		if !sig.Value.Valid() {
			return nil, &DataAlignmentError{Symbol: symbol, Date: sig.Date, Reason: fmt.Sprintf("signal value %d not in {-1,0,+1}", sig.Value)}
		}
		values[i] = sig.Value
	}
	return values, nil
}

func sameCalendar(symbol string, dates []time.Time, bars []PriceBar) error {
	if len(bars) != len(dates) {
		return &DataAlignmentError{Symbol: symbol, Reason: fmt.Sprintf("calendar has %d dates, expected %d", len(bars), len(dates))}
	}
	for i, bar := range bars {
		if !bar.Date.Equal(dates[i]) {
			return &DataAlignmentError{Symbol: symbol, Date: bar.Date, Reason: "calendar differs from other symbols"}
		}
	}
	return nil
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
