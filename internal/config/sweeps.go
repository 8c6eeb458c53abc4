package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/sawpanic/simcore/internal/backtest/sim"
	"github.com/sawpanic/simcore/internal/backtest/sweep"
)

// SweepFile is one YAML file of sweep jobs. A file without jobs or grid is a
// single job named after the file. Every simulation block overlays base.
//
//	label: costs
//	simulation: {max_positions: 2}
//	jobs:
//	  - name: cheap
//	    simulation: {commission_rate: 0.0005}
//	grid:
//	  commission_rate: [0, 0.001]
//	  slippage_bps: [0, 5]
type SweepFile struct {
	Name       string                   `yaml:"name"`
	Label      string                   `yaml:"label"`
	Simulation yaml.Node                `yaml:"simulation"`
	Jobs       []SweepJobSpec           `yaml:"jobs"`
	Grid       map[string][]interface{} `yaml:"grid"`
}

// SweepJobSpec is one explicit job within a SweepFile
type SweepJobSpec struct {
	Name       string    `yaml:"name"`
	Label      string    `yaml:"label"`
	Simulation yaml.Node `yaml:"simulation"`
}

// DiscoverSweepFiles expands a doublestar pattern (e.g. sweeps/**/*.yaml)
// into a sorted list of files
func DiscoverSweepFiles(pattern string) ([]string, error) {
	matches, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		return nil, fmt.Errorf("error matching pattern %q: %w", pattern, err)
	}
	files := matches[:0]
	for _, m := range matches {
		if info, err := os.Stat(m); err == nil && !info.IsDir() {
			files = append(files, m)
		}
	}
	sort.Strings(files)
	return files, nil
}

// LoadSweepJobs loads every file matched by pattern, in path order. Job
// configurations are validated later by the runner so that one bad job does
// not abort the sweep.
func LoadSweepJobs(pattern string, base sim.Config) ([]sweep.Job, error) {
	files, err := DiscoverSweepFiles(pattern)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no sweep files match %q", pattern)
	}

	var jobs []sweep.Job
	for _, f := range files {
		fileJobs, err := LoadSweepFile(f, base)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, fileJobs...)
	}
	return jobs, nil
}

// LoadSweepFile expands one sweep file into jobs
func LoadSweepFile(path string, base sim.Config) ([]sweep.Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sweep file: %w", err)
	}
	var sf SweepFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("failed to parse sweep file %s: %w", path, err)
	}

	if sf.Name == "" {
		sf.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	fileBase, err := overlay(base, &sf.Simulation)
	if err != nil {
		return nil, fmt.Errorf("%s: simulation: %w", path, err)
	}

	var jobs []sweep.Job
	for i, spec := range sf.Jobs {
		cfg, err := overlay(fileBase, &spec.Simulation)
		if err != nil {
			return nil, fmt.Errorf("%s: job %d: %w", path, i, err)
		}
		name := spec.Name
		if name == "" {
			name = fmt.Sprintf("%d", i)
		}
		label := spec.Label
		if label == "" {
			label = sf.Label
		}
		jobs = append(jobs, sweep.Job{Name: sf.Name + "/" + name, Label: label, Config: cfg})
	}

	gridJobs, err := expandGrid(sf, fileBase)
	if err != nil {
		return nil, fmt.Errorf("%s: grid: %w", path, err)
	}
	jobs = append(jobs, gridJobs...)

	if len(jobs) == 0 {
		jobs = append(jobs, sweep.Job{Name: sf.Name, Label: sf.Label, Config: fileBase})
	}
	return jobs, nil
}

// expandGrid builds the cartesian product of the grid axes in key order
func expandGrid(sf SweepFile, base sim.Config) ([]sweep.Job, error) {
	if len(sf.Grid) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(sf.Grid))
	for k, values := range sf.Grid {
		if len(values) == 0 {
			return nil, fmt.Errorf("axis %s has no values", k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var jobs []sweep.Job
	idx := make([]int, len(keys))
	for {
		point := make(map[string]interface{}, len(keys))
		parts := make([]string, len(keys))
		for i, k := range keys {
			v := sf.Grid[k][idx[i]]
			point[k] = v
			parts[i] = fmt.Sprintf("%s=%v", k, v)
		}

		raw, err := yaml.Marshal(point)
		if err != nil {
			return nil, err
		}
		cfg := base
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("point %s: %w", strings.Join(parts, ","), err)
		}
		jobs = append(jobs, sweep.Job{Name: sf.Name + "/" + strings.Join(parts, ","), Label: sf.Label, Config: cfg})

		// odometer increment, last axis fastest
		i := len(idx) - 1
		for ; i >= 0; i-- {
			idx[i]++
			if idx[i] < len(sf.Grid[keys[i]]) {
				break
			}
			idx[i] = 0
		}
		if i < 0 {
			return jobs, nil
		}
	}
}

func overlay(base sim.Config, node *yaml.Node) (sim.Config, error) {
	cfg := base
	if node.Kind == 0 {
		return cfg, nil
	}
	if err := node.Decode(&cfg); err != nil {
		return base, err
	}
	return cfg, nil
}
