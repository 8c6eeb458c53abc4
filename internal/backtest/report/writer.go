package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sawpanic/simcore/internal/backtest/benchmark"
	"github.com/sawpanic/simcore/internal/backtest/metrics"
	"github.com/sawpanic/simcore/internal/backtest/sim"
)

// Artifact file names
const (
	EquityFile    = "equity.csv"
	TradesFile    = "trades.csv"
	MetricsFile   = "metrics.json"
	ExecutionFile = "execution.jsonl"
	ReportFile    = "report.md"
	XLSXFile      = "results.xlsx"
	BenchmarkFile = "benchmark.csv"
	SweepFile     = "sweep.csv"
)

// Run bundles everything written for a single simulation
type Run struct {
	Title      string
	Result     *sim.Result
	Metrics    metrics.Metrics
	Comparison *benchmark.Comparison // optional
}

// Writer writes run artifacts under one output directory
type Writer struct {
	outputDir string
	xlsx      bool
	now       func() time.Time
}

// NewWriter creates a writer; xlsx adds results.xlsx next to the CSV files
func NewWriter(outputDir string, xlsx bool) *Writer {
	return &Writer{outputDir: outputDir, xlsx: xlsx, now: time.Now}
}

// GetOutputDir returns the output directory
func (w *Writer) GetOutputDir() string { return w.outputDir }

// WriteRun writes every artifact for run and returns their paths
func (w *Writer) WriteRun(run Run) ([]string, error) {
	if err := os.MkdirAll(w.outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	res := run.Result
	tables := []struct {
		file  string
		table Table
	}{
		{EquityFile, EquityRows(res.EquityCurve)},
		{TradesFile, TradeRows(res.Trades)},
	}
	if run.Comparison != nil {
		tables = append(tables, struct {
			file  string
			table Table
		}{BenchmarkFile, ComparisonRows(run.Comparison.Rows)})
	}

	var paths []string
	for _, t := range tables {
		p, err := w.writeCSVFile(t.file, t.table)
		if err != nil {
			return paths, err
		}
		paths = append(paths, p)
	}

	steps := []struct {
		file string
		fn   func(string) error
	}{
		{MetricsFile, func(p string) error { return writeJSONFile(p, run.Metrics) }},
		{ExecutionFile, func(p string) error { return writeJSONLines(p, res.ExecutionLog) }},
		{ReportFile, func(p string) error { return os.WriteFile(p, []byte(w.markdown(run)), 0644) }},
	}
	if w.xlsx {
		steps = append(steps, struct {
			file string
			fn   func(string) error
		}{XLSXFile, func(p string) error { return WriteXLSX(p, run) }})
	}

	for _, s := range steps {
		p := filepath.Join(w.outputDir, s.file)
		if err := s.fn(p); err != nil {
			return paths, fmt.Errorf("write %s: %w", s.file, err)
		}
		paths = append(paths, p)
	}
	return paths, nil
}

func (w *Writer) writeCSVFile(name string, t Table) (string, error) {
	path := filepath.Join(w.outputDir, name)
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create file %s: %w", path, err)
	}
	defer file.Close()

	if err := WriteCSV(file, t); err != nil {
		return "", err
	}
	return path, nil
}

func writeJSONFile(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}

// writeJSONLines writes one JSON object per event
func writeJSONLines(path string, events []sim.ExecutionEvent) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	for _, ev := range events {
		if err := enc.Encode(ev); err != nil {
			return fmt.Errorf("failed to encode execution event: %w", err)
		}
	}
	return nil
}
