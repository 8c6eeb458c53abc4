package metrics

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Kind distinguishes a number from the explicit non-numeric markers
type Kind uint8

const (
	KindNumber Kind = iota
	KindUndefined
	KindPlusInfinity
)

const (
	undefinedMarker    = "undefined"
	plusInfinityMarker = "+infinity"
)

// Flags explaining why a metric is undefined
const (
	FlagNoVariance        = "no_variance"
	FlagInsufficientData  = "insufficient_data"
	FlagNoTrades          = "no_trades"
	FlagNoWins            = "no_wins"
	FlagNoLosses          = "no_losses"
	FlagNoNegativeReturns = "no_negative_returns"
	FlagZeroDuration      = "zero_duration"
	FlagNonPositiveEquity = "non_positive_equity"
)

// Value is a metric result: a finite number, "undefined", or "+infinity".
// NaN and infinities never escape as numbers.
type Value struct {
	Kind   Kind
	Number float64
	Flag   string
}

// Num wraps a finite number; NaN or ±Inf become undefined
func Num(v float64) Value {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Undefined(FlagInsufficientData)
	}
	return Value{Kind: KindNumber, Number: v}
}

// Undefined returns the undefined marker with a reason flag
func Undefined(flag string) Value {
	return Value{Kind: KindUndefined, Flag: flag}
}

// PlusInfinity returns the +infinity marker
func PlusInfinity() Value {
	return Value{Kind: KindPlusInfinity}
}

// Defined reports whether v holds a finite number
func (v Value) Defined() bool { return v.Kind == KindNumber }

// Float returns the number and whether it is defined
func (v Value) Float() (float64, bool) {
	if v.Kind != KindNumber {
		return 0, false
	}
	return v.Number, true
}

func (v Value) String() string {
	switch v.Kind {
	case KindUndefined:
		return undefinedMarker
	case KindPlusInfinity:
		return plusInfinityMarker
	default:
		return strconv.FormatFloat(v.Number, 'f', -1, 64)
	}
}

// Format renders numbers with fixed precision and markers verbatim
func (v Value) Format(precision int) string {
	if v.Kind != KindNumber {
		return v.String()
	}
	return strconv.FormatFloat(v.Number, 'f', precision, 64)
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindUndefined:
		return []byte(`"` + undefinedMarker + `"`), nil
	case KindPlusInfinity:
		return []byte(`"` + plusInfinityMarker + `"`), nil
	default:
		return json.Marshal(v.Number)
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		switch s {
		case undefinedMarker:
			*v = Value{Kind: KindUndefined}
		case plusInfinityMarker:
			*v = PlusInfinity()
		default:
			return fmt.Errorf("unknown metric marker %q", s)
		}
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("metric value: %w", err)
	}
	*v = Num(f)
	return nil
}
