package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sawpanic/simcore/internal/backtest/metrics"
)

// Markdown renders the run summary without touching disk
func Markdown(run Run) string {
	return (&Writer{}).markdown(run)
}

func (w *Writer) markdown(run Run) string {
	var report strings.Builder
	res := run.Result

	title := run.Title
	if title == "" {
		title = "Backtest Report"
	}
	fmt.Fprintf(&report, "# %s\n\n", title)
	if w.now != nil {
		fmt.Fprintf(&report, "**Generated**: %s\n", w.now().UTC().Format("2006-01-02 15:04:05 UTC"))
	}
	if res.RunID != "" {
		fmt.Fprintf(&report, "**Run**: `%s`\n", res.RunID)
	}
	if n := len(res.EquityCurve); n > 0 {
		fmt.Fprintf(&report, "**Period**: %s to %s (%d bars)\n",
			res.EquityCurve[0].Date.Format(dateLayout), res.EquityCurve[n-1].Date.Format(dateLayout), n)
	}
	fmt.Fprintf(&report, "**Configuration**: %s\n\n", res.Config)

	report.WriteString("## Summary\n\n")
	fmt.Fprintf(&report, "- **Initial Equity**: %.2f\n", res.InitialEquity())
	fmt.Fprintf(&report, "- **Final Equity**: %.2f\n", res.FinalEquity())
	fmt.Fprintf(&report, "- **Trades**: %d\n", len(res.Trades))
	fmt.Fprintf(&report, "- **Open Positions**: %d\n", len(res.OpenPositions))
	fmt.Fprintf(&report, "- **Rejected or Skipped Orders**: %d\n\n", len(res.Rejections()))

	report.WriteString("## Metrics\n\n")
	report.WriteString("| Metric | Value | Note |\n")
	report.WriteString("|--------|------:|------|\n")
	for _, name := range metrics.Names {
		v := run.Metrics.Get(name)
		fmt.Fprintf(&report, "| %s | %s | %s |\n", name, v.Format(4), v.Flag)
	}
	report.WriteString("\n")

	if run.Comparison != nil {
		report.WriteString("## Benchmark (buy and hold)\n\n")
		report.WriteString("| Metric | Strategy | Benchmark | Delta |\n")
		report.WriteString("|--------|---------:|----------:|------:|\n")
		for _, r := range run.Comparison.Rows {
			fmt.Fprintf(&report, "| %s | %s | %s | %s |\n", r.Metric, r.Strategy.Format(4), r.Benchmark.Format(4), r.Delta.Format(4))
		}
		if beat, ok := run.Comparison.Outperformed(); ok {
			fmt.Fprintf(&report, "\nStrategy outperformed benchmark: %t\n", beat)
		}
		report.WriteString("\n")
	}

	if rej := res.Rejections(); len(rej) > 0 {
		report.WriteString("## Rejections\n\n")
		counts := make(map[string]int)
		for _, ev := range rej {
			counts[string(ev.Outcome)+"/"+ev.Reason]++
		}
		keys := make([]string, 0, len(counts))
		for k := range counts {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		report.WriteString("| Outcome / Reason | Count |\n")
		report.WriteString("|------------------|------:|\n")
		for _, k := range keys {
			fmt.Fprintf(&report, "| %s | %d |\n", k, counts[k])
		}
		report.WriteString("\n")
	}

	if len(res.OpenPositions) > 0 {
		report.WriteString("## Open Positions\n\n")
		report.WriteString("| Symbol | Quantity | Entry Date | Entry Price | Last Close | Unrealized PnL |\n")
		report.WriteString("|--------|---------:|------------|------------:|-----------:|---------------:|\n")
		for _, p := range res.OpenPositions {
			fmt.Fprintf(&report, "| %s | %d | %s | %.4f | %.4f | %.2f |\n",
				p.Symbol, p.Quantity, p.EntryDate.Format(dateLayout), p.EntryPrice, p.LastClose, p.UnrealizedPnL)
		}
		report.WriteString("\n")
	}

	if w.outputDir != "" {
		report.WriteString("## Artifact Paths\n\n")
		for _, f := range []string{EquityFile, TradesFile, MetricsFile, ExecutionFile} {
			fmt.Fprintf(&report, "- `%s/%s`\n", w.outputDir, f)
		}
	}
	return report.String()
}
