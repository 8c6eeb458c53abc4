package main

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sawpanic/simcore/internal/backtest/benchmark"
	"github.com/sawpanic/simcore/internal/backtest/metrics"
	"github.com/sawpanic/simcore/internal/backtest/report"
	"github.com/sawpanic/simcore/internal/backtest/sim"
	"github.com/sawpanic/simcore/internal/backtest/sweep"
	"github.com/sawpanic/simcore/internal/data/loader"
)

// inputFlags are the CSV inputs shared by run, benchmark and sweep
type inputFlags struct {
	prices  string
	signals string
}

func (f *inputFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.prices, "prices", "", "Price bars CSV (symbol,date,open,high,low,close[,volume])")
	fs.StringVar(&f.signals, "signals", "", "Signals CSV (symbol,date,signal)")
}

func (f *inputFlags) load() (map[string][]sim.PriceBar, map[string][]sim.Signal, error) {
	if f.prices == "" || f.signals == "" {
		return nil, nil, fmt.Errorf("--prices and --signals are required")
	}
	prices, err := loader.LoadPrices(f.prices)
	if err != nil {
		return nil, nil, err
	}
	signals, err := loader.LoadSignals(f.signals)
	if err != nil {
		return nil, nil, err
	}
	return prices, signals, nil
}

type runOptions struct {
	inputs    inputFlags
	outDir    string
	xlsx      bool
	label     string
	benchmark bool
}

func newRunCmd(g *globals) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Simulate one configuration and write its artifacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSingle(cmd.Context(), g, opts, cmd.OutOrStdout())
		},
	}
	registerRunFlags(cmd.Flags(), opts)
	cmd.Flags().BoolVar(&opts.benchmark, "benchmark", false, "Also compare against buy-and-hold")
	return cmd
}

func newBenchmarkCmd(g *globals) *cobra.Command {
	opts := &runOptions{benchmark: true}
	cmd := &cobra.Command{
		Use:   "benchmark",
		Short: "Simulate one configuration and compare it with buy-and-hold",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSingle(cmd.Context(), g, opts, cmd.OutOrStdout())
		},
	}
	registerRunFlags(cmd.Flags(), opts)
	return cmd
}

func registerRunFlags(fs *pflag.FlagSet, opts *runOptions) {
	opts.inputs.register(fs)
	fs.StringVarP(&opts.outDir, "out", "o", "out", "Output directory")
	fs.BoolVar(&opts.xlsx, "xlsx", false, "Also write results.xlsx")
	fs.StringVar(&opts.label, "label", "", "Label stored with the archived run")
}

func runSingle(ctx context.Context, g *globals, opts *runOptions, out io.Writer) error {
	prices, signals, err := opts.inputs.load()
	if err != nil {
		return err
	}

	svc, err := buildServices(ctx, g.cfg, g.logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	runner := sweep.NewRunner(sweep.Options{
		Concurrency: 1,
		Cache:       svc.cache,
		Archive:     svc.archive,
		Telemetry:   svc.telemetry,
		Logger:      &g.logger,
	})
	job := sweep.Job{Name: "run", Label: opts.label, Config: g.cfg.Simulation}
	outcomes, err := runner.Run(ctx, []sweep.Job{job}, prices, signals)
	if err != nil {
		return err
	}
	o := outcomes[0]
	if o.Err != nil {
		return o.Err
	}
	if o.ArchiveErr != nil {
		g.logger.Warn().Err(o.ArchiveErr).Str("run_id", o.RunID).Msg("Run not archived")
	}

	rep := report.Run{Title: "Backtest " + o.RunID, Result: o.Result, Metrics: o.Metrics}
	if opts.benchmark {
		bench, err := benchmark.BuyAndHold(g.cfg.Simulation, prices)
		if err != nil {
			return err
		}
		rep.Comparison = benchmark.Build(o.Result, bench)
	}

	paths, err := report.NewWriter(opts.outDir, opts.xlsx).WriteRun(rep)
	if err != nil {
		return err
	}

	printSummary(out, o, rep.Comparison)
	for _, p := range paths {
		fmt.Fprintf(out, "  wrote %s\n", p)
	}
	g.logger.Info().
		Str("run_id", o.RunID).
		Bool("cached", o.Cached).
		Int("artifacts", len(paths)).
		Dur("duration", o.Duration).
		Msg("Run complete")
	return nil
}

var summaryMetrics = []string{
	metrics.FinalEquity, metrics.CumulativeReturn, metrics.CAGR, metrics.Volatility,
	metrics.Sharpe, metrics.Sortino, metrics.MaxDrawdown, metrics.WinRate,
	metrics.ProfitFactor, metrics.TradeCount,
}

func printSummary(out io.Writer, o sweep.Outcome, cmp *benchmark.Comparison) {
	fmt.Fprintf(out, "Run %s (%s)\n", o.RunID, o.Result.Config.String())
	if cmp == nil {
		for _, name := range summaryMetrics {
			fmt.Fprintf(out, "  %-24s %s\n", name, o.Metrics.Get(name).Format(4))
		}
	} else {
		fmt.Fprintf(out, "  %-24s %14s %14s %14s\n", "metric", "strategy", "benchmark", "delta")
		rows := make(map[string]benchmark.Row, len(cmp.Rows))
		for _, r := range cmp.Rows {
			rows[r.Metric] = r
		}
		for _, name := range summaryMetrics {
			r := rows[name]
			fmt.Fprintf(out, "  %-24s %14s %14s %14s\n", name, r.Strategy.Format(4), r.Benchmark.Format(4), r.Delta.Format(4))
		}
		if beat, ok := cmp.Outperformed(); ok {
			verdict := color.New(color.FgGreen)
			if !beat {
				verdict = color.New(color.FgRed)
			}
			fmt.Fprintf(out, "  outperformed buy-and-hold: %s\n", verdict.Sprint(beat))
		}
	}

	if rej := o.Result.Rejections(); len(rej) > 0 {
		counts := make(map[string]int)
		for _, ev := range rej {
			counts[ev.Reason]++
		}
		reasons := make([]string, 0, len(counts))
		for r := range counts {
			reasons = append(reasons, r)
		}
		sort.Strings(reasons)
		for _, r := range reasons {
			fmt.Fprintf(out, "  rejected %-15s %d\n", r, counts[r])
		}
	}
}
