package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/simcore/internal/config"
	simlog "github.com/sawpanic/simcore/internal/log"
)

const (
	appName = "simcore"
	version = "v0.4.0"
)

// globals holds what every subcommand needs after the root pre-run
type globals struct {
	configPath string
	logLevel   string
	logFormat  string
	logFile    string

	cfg       *config.AppConfig
	logger    zerolog.Logger
	logCloser io.Closer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globals{}

	rootCmd := &cobra.Command{
		Use:          appName,
		Short:        "Deterministic long-only backtest simulator",
		Version:      version,
		SilenceUsage: true,
		Long: `simcore replays per-symbol trading signals against daily price bars,
producing an equity curve, a trade log, an execution log and a metrics table.

Inputs are CSV files (symbol,date,open,high,low,close[,volume] and
symbol,date,signal). Configuration comes from a YAML file with SIMCORE_*,
PG_* and REDIS_* environment overrides.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return g.init(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if g.logCloser != nil {
				g.logCloser.Close()
			}
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&g.configPath, "config", "c", "", "YAML configuration file")
	pf.StringVar(&g.logLevel, "log-level", "", "Log level (debug|info|warn|error), overrides config")
	pf.StringVar(&g.logFormat, "log-format", "", "Log format (auto|json|console), overrides config")
	pf.StringVar(&g.logFile, "log-file", "", "Rotating log file, overrides config")

	rootCmd.AddCommand(
		newRunCmd(g),
		newBenchmarkCmd(g),
		newSweepCmd(g),
		newServeCmd(g),
	)
	return rootCmd
}

func (g *globals) init(cmd *cobra.Command) error {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return err
	}
	if g.logLevel != "" {
		cfg.Logging.Level = g.logLevel
	}
	if g.logFormat != "" {
		cfg.Logging.Format = g.logFormat
	}
	if g.logFile != "" {
		cfg.Logging.File = g.logFile
	}

	logger, closer, err := simlog.Setup(simlog.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Out:        cmd.ErrOrStderr(),
	})
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}

	g.cfg, g.logger, g.logCloser = cfg, logger, closer
	log.Debug().Str("config", g.configPath).Str("version", version).Msg("Configuration loaded")
	return nil
}
