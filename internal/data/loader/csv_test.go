package loader

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/simcore/internal/backtest/sim"
)

func TestReadPrices(t *testing.T) {
	in := `Date,Symbol,Open,High,Low,Close,Volume
2025-01-02,AAA,10,11,9.5,10.5,1000
2025-01-03,AAA,10.5,12,10,11.75,
2025-01-02,BBB,50,51,49,50.25,300
`
	prices, err := ReadPrices(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, prices["AAA"], 2)
	require.Len(t, prices["BBB"], 1)

	bar := prices["AAA"][1]
	assert.Equal(t, time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC), bar.Date)
	assert.Equal(t, 11.75, bar.Close)
	assert.Equal(t, 0.0, bar.Volume)
	assert.Equal(t, 1000.0, prices["AAA"][0].Volume)
}

func TestReadPricesKeepsFileOrder(t *testing.T) {
	in := "symbol,date,open,high,low,close\nAAA,2025-01-03,1,1,1,1\nAAA,2025-01-02,1,1,1,1\n"
	prices, err := ReadPrices(strings.NewReader(in))
	require.NoError(t, err)
	assert.True(t, prices["AAA"][0].Date.After(prices["AAA"][1].Date))

	_, err = sim.Align(prices, map[string][]sim.Signal{"AAA": {
		{Symbol: "AAA", Date: prices["AAA"][0].Date}, {Symbol: "AAA", Date: prices["AAA"][1].Date},
	}})
	assert.ErrorIs(t, err, sim.ErrDataAlignment)
}

func TestReadPricesErrors(t *testing.T) {
	cases := map[string]string{
		"missing column": "symbol,date,open,high,low\nAAA,2025-01-02,1,1,1\n",
		"bad number":     "symbol,date,open,high,low,close\nAAA,2025-01-02,1,1,1,x\n",
		"bad date":       "symbol,date,open,high,low,close\nAAA,02/01/2025,1,1,1,1\n",
		"empty symbol":   "symbol,date,open,high,low,close\n,2025-01-02,1,1,1,1\n",
		"empty":          "",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ReadPrices(strings.NewReader(in))
			assert.Error(t, err)
		})
	}
}

func TestReadSignals(t *testing.T) {
	in := "symbol,date,signal\nAAA,2025-01-02,1\nAAA,2025-01-03T00:00:00Z,0\nAAA,2025-01-06,-1\n"
	signals, err := ReadSignals(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, signals["AAA"], 3)
	assert.Equal(t, sim.SignalLong, signals["AAA"][0].Value)
	assert.Equal(t, sim.SignalExit, signals["AAA"][2].Value)

	_, err = ReadSignals(strings.NewReader("symbol,date,signal\nAAA,2025-01-02,2\n"))
	assert.ErrorContains(t, err, "line 2")
}

func TestLoadFromFiles(t *testing.T) {
	dir := t.TempDir()
	pp := filepath.Join(dir, "prices.csv")
	sp := filepath.Join(dir, "signals.csv")
	require.NoError(t, os.WriteFile(pp, []byte("symbol,date,open,high,low,close\nAAA,2025-01-02,1,1,1,1\n"), 0644))
	require.NoError(t, os.WriteFile(sp, []byte("symbol,date,signal\nAAA,2025-01-02,1\n"), 0644))

	prices, err := LoadPrices(pp)
	require.NoError(t, err)
	signals, err := LoadSignals(sp)
	require.NoError(t, err)

	res, err := sim.Run(sim.DefaultConfig(), prices, signals)
	require.NoError(t, err)
	assert.Len(t, res.EquityCurve, 1)

	_, err = LoadPrices(filepath.Join(dir, "missing.csv"))
	assert.Error(t, err)
}
