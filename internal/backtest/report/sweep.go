package report

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/sawpanic/simcore/internal/backtest/metrics"
	"github.com/sawpanic/simcore/internal/backtest/sweep"
)

var sweepMetrics = []string{
	metrics.CumulativeReturn, metrics.CAGR, metrics.Sharpe, metrics.MaxDrawdown,
	metrics.WinRate, metrics.ProfitFactor, metrics.TradeCount, metrics.FinalEquity,
}

// SweepRows summarizes a sweep, one row per job in job order
func SweepRows(outcomes []sweep.Outcome) Table {
	t := Table{Name: "sweep", Header: append([]string{"job", "label", "run_id", "cached", "duration_ms", "error"}, sweepMetrics...)}
	for _, o := range outcomes {
		row := []string{
			o.Job.Name, o.Job.Label, o.RunID, strconv.FormatBool(o.Cached),
			strconv.FormatInt(o.Duration.Milliseconds(), 10), errString(o.Err),
		}
		for _, name := range sweepMetrics {
			if o.OK() {
				row = append(row, o.Metrics.Get(name).String())
			} else {
				row = append(row, "")
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

// WriteSweep writes sweep.csv and returns its path
func (w *Writer) WriteSweep(outcomes []sweep.Outcome) (string, error) {
	if err := os.MkdirAll(w.outputDir, 0755); err != nil {
		return "", err
	}
	return w.writeCSVFile(SweepFile, SweepRows(outcomes))
}

// RunDir returns the per-job output directory used for sweep artifacts
func (w *Writer) RunDir(o sweep.Outcome) string {
	name := o.Job.Name
	if name == "" {
		name = "job-" + strconv.Itoa(o.Index)
	}
	return filepath.Join(w.outputDir, name)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
