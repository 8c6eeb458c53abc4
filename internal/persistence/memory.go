package persistence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sawpanic/simcore/internal/backtest/sim"
)

// MemoryRunRepo is an in-process RunRepo used when no database is configured
type MemoryRunRepo struct {
	mu     sync.RWMutex
	runs   map[string]RunRecord
	trades map[string][]sim.Trade
	now    func() time.Time
}

// NewMemoryRunRepo returns an empty repository
func NewMemoryRunRepo() *MemoryRunRepo {
	return &MemoryRunRepo{
		runs:   make(map[string]RunRecord),
		trades: make(map[string][]sim.Trade),
		now:    time.Now,
	}
}

func (m *MemoryRunRepo) Insert(_ context.Context, run RunRecord, trades []sim.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.runs[run.ID]; exists {
		return ErrDuplicateRun
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = m.now().UTC()
	}
	m.runs[run.ID] = run
	m.trades[run.ID] = append([]sim.Trade(nil), trades...)
	return nil
}

func (m *MemoryRunRepo) Get(_ context.Context, id string) (*RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	run, ok := m.runs[id]
	if !ok {
		return nil, nil
	}
	return &run, nil
}

func (m *MemoryRunRepo) List(_ context.Context, limit int) ([]RunRecord, error) {
	return m.filter(limit, func(RunRecord) bool { return true }), nil
}

func (m *MemoryRunRepo) ListRange(_ context.Context, tr TimeRange, limit int) ([]RunRecord, error) {
	return m.filter(limit, func(r RunRecord) bool { return tr.Contains(r.CreatedAt) }), nil
}

func (m *MemoryRunRepo) ListByFingerprint(_ context.Context, fingerprint string) ([]RunRecord, error) {
	return m.filter(0, func(r RunRecord) bool { return r.Fingerprint == fingerprint }), nil
}

func (m *MemoryRunRepo) Trades(_ context.Context, runID string) ([]sim.Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]sim.Trade(nil), m.trades[runID]...), nil
}

func (m *MemoryRunRepo) Count(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.runs)), nil
}

// filter returns matching runs newest first; limit <= 0 means all
func (m *MemoryRunRepo) filter(limit int, keep func(RunRecord) bool) []RunRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]RunRecord, 0, len(m.runs))
	for _, r := range m.runs {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
