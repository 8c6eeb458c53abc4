package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/simcore/internal/backtest/sim"
)

func TestLoadSweepJobsAcrossDirectories(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a/single.yaml", `
label: solo
simulation:
  max_positions: 3
`)
	writeFile(t, dir, "b/nested/costs.yml", `
label: costs
simulation:
  slippage_bps: 2
jobs:
  - name: cheap
    simulation:
      commission_rate: 0.0005
  - name: dear
    label: expensive
    simulation:
      commission_rate: 0.01
`)
	writeFile(t, dir, "b/ignored.txt", "not a sweep")

	base := sim.DefaultConfig()
	jobs, err := LoadSweepJobs(dir+"/**/*.{yaml,yml}", base)
	require.NoError(t, err)
	require.Len(t, jobs, 3)

	assert.Equal(t, "single", jobs[0].Name)
	assert.Equal(t, "solo", jobs[0].Label)
	assert.Equal(t, 3, jobs[0].Config.MaxPositions)

	assert.Equal(t, "costs/cheap", jobs[1].Name)
	assert.Equal(t, "costs", jobs[1].Label)
	assert.Equal(t, 0.0005, jobs[1].Config.CommissionRate)
	assert.Equal(t, 2.0, jobs[1].Config.SlippageBps)
	assert.Equal(t, base.InitialCapital, jobs[1].Config.InitialCapital)

	assert.Equal(t, "costs/dear", jobs[2].Name)
	assert.Equal(t, "expensive", jobs[2].Label)
}

func TestLoadSweepFileGrid(t *testing.T) {
	p := writeFile(t, t.TempDir(), "grid.yaml", `
name: g
grid:
  slippage_bps: [0, 5]
  max_positions: [1, 2, 3]
`)
	jobs, err := LoadSweepFile(p, sim.DefaultConfig())
	require.NoError(t, err)
	require.Len(t, jobs, 6)

	assert.Equal(t, "g/max_positions=1,slippage_bps=0", jobs[0].Name)
	assert.Equal(t, "g/max_positions=1,slippage_bps=5", jobs[1].Name)
	assert.Equal(t, 5.0, jobs[1].Config.SlippageBps)
	assert.Equal(t, "g/max_positions=3,slippage_bps=5", jobs[5].Name)
	assert.Equal(t, 3, jobs[5].Config.MaxPositions)
}

func TestLoadSweepJobsNoMatch(t *testing.T) {
	_, err := LoadSweepJobs(t.TempDir()+"/**/*.yaml", sim.DefaultConfig())
	assert.ErrorContains(t, err, "no sweep files")
}

func TestLoadSweepFileBadField(t *testing.T) {
	p := writeFile(t, t.TempDir(), "bad.yaml", `
simulation:
  max_positions: lots
`)
	_, err := LoadSweepFile(p, sim.DefaultConfig())
	assert.Error(t, err)
}
