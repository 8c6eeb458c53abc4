// Package report renders simulation outputs as flat tables, CSV, JSON lines,
// Markdown and spreadsheets.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/sawpanic/simcore/internal/backtest/benchmark"
	"github.com/sawpanic/simcore/internal/backtest/metrics"
	"github.com/sawpanic/simcore/internal/backtest/sim"
)

const dateLayout = "2006-01-02"

// Table is a header plus string rows, one row per record
type Table struct {
	Name   string
	Header []string
	Rows   [][]string
}

// EquityRows flattens the equity curve, one row per date
func EquityRows(curve []sim.EquityCurvePoint) Table {
	t := Table{Name: "equity", Header: []string{"date", "cash", "holdings_value", "equity", "open_positions"}}
	for _, p := range curve {
		t.Rows = append(t.Rows, []string{
			p.Date.Format(dateLayout), num(p.Cash), num(p.HoldingsValue), num(p.Equity), strconv.Itoa(p.OpenPositions),
		})
	}
	return t
}

// TradeRows flattens the trade log in exit order
func TradeRows(trades []sim.Trade) Table {
	t := Table{Name: "trades", Header: []string{
		"symbol", "entry_date", "entry_price", "exit_date", "exit_price", "quantity",
		"entry_commission", "exit_commission", "pnl", "holding_period_days",
	}}
	for _, tr := range trades {
		t.Rows = append(t.Rows, []string{
			tr.Symbol, tr.EntryDate.Format(dateLayout), num(tr.EntryPrice), tr.ExitDate.Format(dateLayout), num(tr.ExitPrice),
			strconv.FormatInt(tr.Quantity, 10), num(tr.EntryCommission), num(tr.ExitCommission), num(tr.PnL),
			strconv.Itoa(tr.HoldingPeriodDays),
		})
	}
	return t
}

// MetricRows renders metrics as name/value/flag in report order. Undefined
// values carry their flag; numbers and +infinity leave it empty.
func MetricRows(m metrics.Metrics) Table {
	t := Table{Name: "metrics", Header: []string{"metric", "value", "flag"}}
	for _, name := range metrics.Names {
		v := m.Get(name)
		t.Rows = append(t.Rows, []string{name, v.String(), v.Flag})
	}
	return t
}

// ExecutionRows flattens the execution log
func ExecutionRows(log []sim.ExecutionEvent) Table {
	t := Table{Name: "execution", Header: []string{"date", "symbol", "action", "outcome", "reason", "quantity", "price", "commission"}}
	for _, ev := range log {
		t.Rows = append(t.Rows, []string{
			ev.Date.Format(dateLayout), ev.Symbol, string(ev.Action), string(ev.Outcome), ev.Reason,
			strconv.FormatInt(ev.Quantity, 10), num(ev.Price), num(ev.Commission),
		})
	}
	return t
}

// ComparisonRows renders a benchmark comparison
func ComparisonRows(rows []benchmark.Row) Table {
	t := Table{Name: "benchmark", Header: []string{"metric", "strategy", "benchmark", "delta"}}
	for _, r := range rows {
		t.Rows = append(t.Rows, []string{r.Metric, r.Strategy.String(), r.Benchmark.String(), r.Delta.String()})
	}
	return t
}

// WriteCSV writes the header then every row
func WriteCSV(w io.Writer, t Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header); err != nil {
		return fmt.Errorf("write %s header: %w", t.Name, err)
	}
	if err := cw.WriteAll(t.Rows); err != nil {
		return fmt.Errorf("write %s rows: %w", t.Name, err)
	}
	return nil
}

func num(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
