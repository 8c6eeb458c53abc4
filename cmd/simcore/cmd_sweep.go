package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sawpanic/simcore/internal/backtest/report"
	"github.com/sawpanic/simcore/internal/backtest/sweep"
	"github.com/sawpanic/simcore/internal/config"
	simlog "github.com/sawpanic/simcore/internal/log"
)

type sweepOptions struct {
	inputs      inputFlags
	configs     string
	outDir      string
	xlsx        bool
	perRun      bool
	concurrency int
	quiet       bool
}

func newSweepCmd(g *globals) *cobra.Command {
	opts := &sweepOptions{}
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Simulate many configurations over the same inputs",
		Long: `Discovers sweep files with a doublestar glob, expands their jobs and
grids on top of the base simulation config, and runs them in parallel.
A failing configuration is reported in sweep.csv and does not stop the others.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(cmd.Context(), g, opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	fs := cmd.Flags()
	opts.inputs.register(fs)
	fs.StringVar(&opts.configs, "configs", "", "Sweep file glob, e.g. 'sweeps/**/*.yaml' (default from config)")
	fs.StringVarP(&opts.outDir, "out", "o", "out/sweep", "Output directory")
	fs.BoolVar(&opts.xlsx, "xlsx", false, "Also write results.xlsx for every run (implies --per-run)")
	fs.BoolVar(&opts.perRun, "per-run", false, "Write full artifacts for every successful run")
	fs.IntVar(&opts.concurrency, "concurrency", 0, "Parallel runs (default from config, then GOMAXPROCS)")
	fs.BoolVarP(&opts.quiet, "quiet", "q", false, "Disable the progress bar")
	return cmd
}

func runSweep(ctx context.Context, g *globals, opts *sweepOptions, out, progressOut io.Writer) error {
	pattern := opts.configs
	if pattern == "" {
		pattern = g.cfg.Sweep.Configs
	}
	if pattern == "" {
		return fmt.Errorf("--configs is required (or set sweep.configs)")
	}
	jobs, err := config.LoadSweepJobs(pattern, g.cfg.Simulation)
	if err != nil {
		return err
	}

	prices, signals, err := opts.inputs.load()
	if err != nil {
		return err
	}

	svc, err := buildServices(ctx, g.cfg, g.logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	concurrency := opts.concurrency
	if concurrency <= 0 {
		concurrency = g.cfg.Sweep.Concurrency
	}

	pcfg := simlog.QuietProgressConfig()
	if !opts.quiet {
		pcfg = simlog.DefaultProgressConfig()
		pcfg.Interactive = isTerminal(progressOut)
	}
	progress := simlog.NewProgressIndicator(progressOut, "sweep", len(jobs), pcfg)

	runner := sweep.NewRunner(sweep.Options{
		Concurrency: concurrency,
		Cache:       svc.cache,
		Archive:     svc.archive,
		Telemetry:   svc.telemetry,
		Logger:      &g.logger,
		Progress: func(done, total int, o sweep.Outcome) {
			progress.Observe(done, o.OK(), o.Job.Name)
		},
	})

	g.logger.Info().Str("pattern", pattern).Int("jobs", len(jobs)).Int("concurrency", concurrency).Msg("Sweep starting")
	outcomes, runErr := runner.Run(ctx, jobs, prices, signals)
	if outcomes == nil {
		return runErr
	}
	progress.Finish()

	w := report.NewWriter(opts.outDir, opts.xlsx)
	path, err := w.WriteSweep(outcomes)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "wrote %s\n", path)

	if opts.perRun || opts.xlsx {
		for _, o := range sweep.Succeeded(outcomes) {
			rw := report.NewWriter(w.RunDir(o), opts.xlsx)
			if _, err := rw.WriteRun(report.Run{Title: o.Job.Name, Result: o.Result, Metrics: o.Metrics}); err != nil {
				return fmt.Errorf("%s: %w", o.Job.Name, err)
			}
		}
	}

	ok := len(sweep.Succeeded(outcomes))
	fmt.Fprintf(out, "%d/%d runs succeeded\n", ok, len(outcomes))
	if failed := sweep.Errors(outcomes); failed != nil {
		g.logger.Warn().Err(failed).Int("failed", len(outcomes)-ok).Msg("Some sweep jobs failed")
	}
	return runErr
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
