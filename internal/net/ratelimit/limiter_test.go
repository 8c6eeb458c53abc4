package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterBurst(t *testing.T) {
	l := NewLimiter(2, 2)

	assert.True(t, l.Allow("runs"))
	assert.True(t, l.Allow("runs"))
	assert.False(t, l.Allow("runs"))

	stats := l.Stats()
	require.Contains(t, stats, "runs")
	assert.True(t, stats["runs"].IsThrottled())
}

func TestLimiterTargetsAreIndependent(t *testing.T) {
	l := NewLimiter(1, 1)

	assert.True(t, l.Allow("runs"))
	assert.True(t, l.Allow("run_trades"))
	assert.False(t, l.Allow("runs"))
	assert.False(t, l.Allow("run_trades"))
}

func TestLimiterWaitHonoursContext(t *testing.T) {
	l := NewLimiter(0.1, 1)
	require.NoError(t, l.Wait(context.Background(), "runs"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Wait(ctx, "runs"))
}

func TestLimiterDisabled(t *testing.T) {
	l := NewLimiter(0, 1)
	for i := 0; i < 100; i++ {
		require.True(t, l.Allow("runs"))
	}
}

func TestLimiterSetRPSAndReset(t *testing.T) {
	l := NewLimiter(1, 1)
	assert.True(t, l.Allow("runs"))
	assert.False(t, l.Allow("runs"))

	l.SetRPS(0)
	assert.True(t, l.Allow("runs"))

	l.Reset()
	assert.Empty(t, l.Stats())
}
