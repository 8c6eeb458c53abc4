// Package loader reads price bars and signals from CSV files. Rows keep their
// file order; ordering and calendar checks belong to the aligner.
package loader

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sawpanic/simcore/internal/backtest/sim"
)

var dateLayouts = []string{"2006-01-02", time.RFC3339, "2006-01-02 15:04:05"}

// LoadPrices reads symbol,date,open,high,low,close[,volume] rows from path
func LoadPrices(path string) (map[string][]sim.PriceBar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open prices: %w", err)
	}
	defer f.Close()
	return ReadPrices(f)
}

// LoadSignals reads symbol,date,signal rows from path
func LoadSignals(path string) (map[string][]sim.Signal, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open signals: %w", err)
	}
	defer f.Close()
	return ReadSignals(f)
}

// ReadPrices parses a price CSV with a header row; column order is free
func ReadPrices(r io.Reader) (map[string][]sim.PriceBar, error) {
	out := make(map[string][]sim.PriceBar)
	err := readRows(r, []string{"symbol", "date", "open", "high", "low", "close"},
		func(get func(string) string) error {
			date, err := parseDate(get("date"))
			if err != nil {
				return err
			}
			bar := sim.PriceBar{Symbol: get("symbol"), Date: date}
			fields := []struct {
				col string
				dst *float64
			}{
				{"open", &bar.Open}, {"high", &bar.High}, {"low", &bar.Low}, {"close", &bar.Close}, {"volume", &bar.Volume},
			}
			for _, fl := range fields {
				v := get(fl.col)
				if v == "" && fl.col == "volume" {
					continue
				}
				if *fl.dst, err = strconv.ParseFloat(v, 64); err != nil {
					return fmt.Errorf("column %s: %w", fl.col, err)
				}
			}
			out[bar.Symbol] = append(out[bar.Symbol], bar)
			return nil
		})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ReadSignals parses a signal CSV with a header row. Values must be -1, 0 or 1.
func ReadSignals(r io.Reader) (map[string][]sim.Signal, error) {
	out := make(map[string][]sim.Signal)
	err := readRows(r, []string{"symbol", "date", "signal"},
		func(get func(string) string) error {
			date, err := parseDate(get("date"))
			if err != nil {
				return err
			}
			n, err := strconv.Atoi(get("signal"))
			if err != nil {
				return fmt.Errorf("column signal: %w", err)
			}
			v := sim.SignalValue(n)
			if n < -1 || n > 1 {
				return fmt.Errorf("signal must be -1, 0 or 1, got %d", n)
			}
			sym := get("symbol")
			out[sym] = append(out[sym], sim.Signal{Symbol: sym, Date: date, Value: v})
			return nil
		})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func readRows(r io.Reader, required []string, fn func(get func(string) string) error) error {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty csv: missing header")
		}
		return fmt.Errorf("read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, c := range required {
		if _, ok := cols[c]; !ok {
			return fmt.Errorf("missing column %q", c)
		}
	}

	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		line++
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		get := func(col string) string {
			i, ok := cols[col]
			if !ok || i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}
		if get("symbol") == "" {
			return fmt.Errorf("line %d: empty symbol", line)
		}
		if err := fn(get); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
	}
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", s)
}
