package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/simcore/internal/backtest/report"
	"github.com/sawpanic/simcore/internal/config"
)

const (
	pricesCSV = `symbol,date,open,high,low,close,volume
AAA,2025-09-01,100,100,100,100,1000
AAA,2025-09-02,104,104,104,104,1000
AAA,2025-09-03,110,110,110,110,1000
AAA,2025-09-04,108,108,108,108,1000
`
	signalsCSV = `symbol,date,signal
AAA,2025-09-01,1
AAA,2025-09-02,0
AAA,2025-09-03,-1
AAA,2025-09-04,1
`
	configYAML = `
simulation:
  initial_capital: 1000
cache:
  backend: none
logging:
  level: error
  format: json
`
)

type fixture struct {
	dir, prices, signals, config string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	f := fixture{
		dir:     dir,
		prices:  filepath.Join(dir, "prices.csv"),
		signals: filepath.Join(dir, "signals.csv"),
		config:  filepath.Join(dir, "simcore.yaml"),
	}
	require.NoError(t, os.WriteFile(f.prices, []byte(pricesCSV), 0644))
	require.NoError(t, os.WriteFile(f.signals, []byte(signalsCSV), 0644))
	require.NoError(t, os.WriteFile(f.config, []byte(configYAML), 0644))
	return f
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRunWritesArtifacts(t *testing.T) {
	f := newFixture(t)
	outDir := filepath.Join(f.dir, "out")

	stdout, err := execute(t, "run", "--config", f.config, "--prices", f.prices, "--signals", f.signals,
		"--out", outDir, "--xlsx", "--label", "smoke")
	require.NoError(t, err)

	assert.Contains(t, stdout, "cumulative_return")
	for _, name := range []string{report.EquityFile, report.TradesFile, report.MetricsFile,
		report.ExecutionFile, report.ReportFile, report.XLSXFile} {
		assert.FileExists(t, filepath.Join(outDir, name))
		assert.Contains(t, stdout, filepath.Join(outDir, name))
	}
	assert.NoFileExists(t, filepath.Join(outDir, report.BenchmarkFile))
}

func TestBenchmarkComparesWithBuyAndHold(t *testing.T) {
	f := newFixture(t)
	outDir := filepath.Join(f.dir, "bench")

	stdout, err := execute(t, "benchmark", "--config", f.config, "--prices", f.prices, "--signals", f.signals, "--out", outDir)
	require.NoError(t, err)

	assert.Contains(t, stdout, "strategy")
	assert.Contains(t, stdout, "outperformed buy-and-hold:")
	assert.FileExists(t, filepath.Join(outDir, report.BenchmarkFile))
}

func TestRunRequiresInputs(t *testing.T) {
	f := newFixture(t)
	_, err := execute(t, "run", "--config", f.config, "--out", f.dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--prices and --signals are required")
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	f := newFixture(t)
	bad := filepath.Join(f.dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("simulation:\n  initial_capital: -5\n"), 0644))

	_, err := execute(t, "run", "--config", bad, "--prices", f.prices, "--signals", f.signals)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestSweepIsolatesFailingJobs(t *testing.T) {
	f := newFixture(t)
	sweeps := filepath.Join(f.dir, "sweeps")
	require.NoError(t, os.MkdirAll(sweeps, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(sweeps, "costs.yaml"), []byte(`
jobs:
  - name: cheap
    simulation:
      commission_rate: 0.0005
  - name: broken
    simulation:
      initial_capital: -1
`), 0644))
	outDir := filepath.Join(f.dir, "sweep-out")

	stdout, err := execute(t, "sweep", "--config", f.config, "--prices", f.prices, "--signals", f.signals,
		"--configs", filepath.Join(sweeps, "**", "*.yaml"), "--out", outDir, "--per-run", "--quiet", "--concurrency", "2")
	require.NoError(t, err)
	assert.Contains(t, stdout, "1/2 runs succeeded")

	data, err := os.ReadFile(filepath.Join(outDir, report.SweepFile))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[1], "costs/cheap,"))
	assert.True(t, strings.HasPrefix(lines[2], "costs/broken,"))

	assert.FileExists(t, filepath.Join(outDir, "costs", "cheap", report.MetricsFile))
	assert.NoDirExists(t, filepath.Join(outDir, "costs", "broken"))
}

func TestSweepWithoutPattern(t *testing.T) {
	f := newFixture(t)
	_, err := execute(t, "sweep", "--config", f.config, "--prices", f.prices, "--signals", f.signals)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--configs is required")
}

func TestServeStopsOnCancel(t *testing.T) {
	cfg := config.Default()
	cfg.Cache.Backend = config.CacheNone
	cfg.HTTP.Port = 0
	g := &globals{cfg: cfg, logger: zerolog.Nop()}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	require.NoError(t, runServe(ctx, g, &serveOptions{host: "127.0.0.1"}, &out))
	assert.Contains(t, out.String(), "Serving on http://127.0.0.1:0")
}

func TestBuildServicesRejectsUnknownCache(t *testing.T) {
	cfg := config.Default()
	cfg.Cache.Backend = "memcached"

	_, err := buildServices(context.Background(), cfg, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown backend")
}

func TestBuildServicesMemoryCache(t *testing.T) {
	cfg := config.Default()
	svc, err := buildServices(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.NotNil(t, svc.cache)
	assert.NotNil(t, svc.archive)
	assert.False(t, svc.durable)
	assert.Equal(t, "closed", svc.archive.BreakerState())
	assert.NoError(t, svc.Close())
}
