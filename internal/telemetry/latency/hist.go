package latency

import (
	"math"
	"sort"
	"sync"
	"time"
)

// Stage names a phase of a simulation run
type Stage string

const (
	StageAlign    Stage = "align"
	StageSimulate Stage = "simulate"
	StageMetrics  Stage = "metrics"
	StageArchive  Stage = "archive"
)

// Stages lists the known stages in pipeline order
var Stages = []Stage{StageAlign, StageSimulate, StageMetrics, StageArchive}

// Histogram keeps a rolling window of durations for percentile queries
type Histogram struct {
	mu      sync.RWMutex
	samples []float64 // milliseconds
	maxSize int
	current int
	full    bool
	stage   Stage
}

// NewHistogram creates a histogram holding the last maxSize samples
func NewHistogram(stage Stage, maxSize int) *Histogram {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &Histogram{
		samples: make([]float64, maxSize),
		maxSize: maxSize,
		stage:   stage,
	}
}

// Record adds a measurement
func (h *Histogram) Record(d time.Duration) {
	ms := float64(d.Nanoseconds()) / 1e6

	h.mu.Lock()
	defer h.mu.Unlock()

	h.samples[h.current] = ms
	h.current = (h.current + 1) % h.maxSize
	if !h.full && h.current == 0 {
		h.full = true
	}
}

// Percentile returns the p-th percentile (0..1) with linear interpolation,
// 0 when empty
func (h *Histogram) Percentile(p float64) float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := h.size()
	if n == 0 {
		return 0
	}
	values := make([]float64, n)
	copy(values, h.samples[:n])
	sort.Float64s(values)

	index := p * float64(n-1)
	lower, upper := int(math.Floor(index)), int(math.Ceil(index))
	if lower == upper {
		return values[lower]
	}
	w := index - float64(lower)
	return values[lower]*(1-w) + values[upper]*w
}

// Count returns the number of samples in the window
func (h *Histogram) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.size()
}

// size assumes the lock is held
func (h *Histogram) size() int {
	if h.full {
		return h.maxSize
	}
	return h.current
}

// Summary aggregates percentiles for a stage
type Summary struct {
	Stage Stage   `json:"stage"`
	P50   float64 `json:"p50_ms"`
	P95   float64 `json:"p95_ms"`
	P99   float64 `json:"p99_ms"`
	Count int     `json:"count"`
}

func (h *Histogram) Summary() Summary {
	return Summary{
		Stage: h.stage,
		P50:   h.Percentile(0.5),
		P95:   h.Percentile(0.95),
		P99:   h.Percentile(0.99),
		Count: h.Count(),
	}
}

// Tracker holds one histogram per stage
type Tracker struct {
	mu         sync.RWMutex
	histograms map[Stage]*Histogram
	window     int
}

// NewTracker creates histograms for every known stage
func NewTracker(window int) *Tracker {
	t := &Tracker{histograms: make(map[Stage]*Histogram), window: window}
	for _, s := range Stages {
		t.histograms[s] = NewHistogram(s, window)
	}
	return t
}

// Record adds a measurement, creating the stage on first use
func (t *Tracker) Record(stage Stage, d time.Duration) {
	t.mu.RLock()
	h, ok := t.histograms[stage]
	t.mu.RUnlock()

	if !ok {
		t.mu.Lock()
		if h, ok = t.histograms[stage]; !ok {
			h = NewHistogram(stage, t.window)
			t.histograms[stage] = h
		}
		t.mu.Unlock()
	}
	h.Record(d)
}

// Summaries returns every stage that has samples, in pipeline order first
func (t *Tracker) Summaries() []Summary {
	t.mu.RLock()
	defer t.mu.RUnlock()

	names := make([]string, 0, len(t.histograms))
	for s := range t.histograms {
		names = append(names, string(s))
	}
	order := make(map[Stage]int, len(Stages))
	for i, s := range Stages {
		order[s] = i
	}
	sort.Slice(names, func(i, j int) bool {
		oi, iok := order[Stage(names[i])]
		oj, jok := order[Stage(names[j])]
		switch {
		case iok && jok:
			return oi < oj
		case iok != jok:
			return iok
		default:
			return names[i] < names[j]
		}
	})

	out := make([]Summary, 0, len(names))
	for _, n := range names {
		h := t.histograms[Stage(n)]
		if h.Count() > 0 {
			out = append(out, h.Summary())
		}
	}
	return out
}

// Timer measures one stage
type Timer struct {
	tracker *Tracker
	stage   Stage
	start   time.Time
}

// Start begins timing stage on t
func (t *Tracker) Start(stage Stage) *Timer {
	return &Timer{tracker: t, stage: stage, start: time.Now()}
}

// Stop records and returns the elapsed time
func (tm *Timer) Stop() time.Duration {
	d := time.Since(tm.start)
	tm.tracker.Record(tm.stage, d)
	return d
}
