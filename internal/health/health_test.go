package health

import (
	"context"
	"testing"
	"time"

	"github.com/finvex/ordergate/internal/admission"
	"github.com/finvex/ordergate/internal/breaker"
	"github.com/finvex/ordergate/internal/config"
	"github.com/finvex/ordergate/internal/overload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newChecker(t *testing.T) (*Checker, *admission.Gate, *breaker.Breaker) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	gate := admission.NewGate(2, time.Second, logger)
	brk := breaker.New(breaker.DefaultConfig(), logger)
	probe := overload.NewProbe(&config.OverloadConfig{}, 0, nil)
	detector := overload.NewDetector(overload.DefaultConfig())
	return NewChecker(gate, brk, probe, detector), gate, brk
}

func TestSnapshotReflectsPermitUsage(t *testing.T) {
	checker, gate, _ := newChecker(t)

	p, err := gate.Acquire(context.Background())
	require.NoError(t, err)
	defer p.Release()

	snap := checker.Snapshot()
	assert.Equal(t, int64(1), snap.ActivePermits)
	assert.Equal(t, int64(1), snap.AvailablePermits)
	assert.Equal(t, "closed", snap.CircuitBreakerState)
	assert.Equal(t, "healthy", snap.Recommendation)
}

func TestSnapshotReportsOpenBreaker(t *testing.T) {
	checker, _, brk := newChecker(t)

	brk.NoteUtilization(0.9)
	snap := checker.Snapshot()
	assert.Equal(t, "open", snap.CircuitBreakerState)
	assert.Contains(t, snap.Recommendation, "circuit breaker open")
	assert.False(t, checker.Healthy())
}

func TestSnapshotReportsPermitSaturation(t *testing.T) {
	checker, gate, _ := newChecker(t)

	p1, err := gate.Acquire(context.Background())
	require.NoError(t, err)
	defer p1.Release()
	p2, err := gate.Acquire(context.Background())
	require.NoError(t, err)
	defer p2.Release()

	snap := checker.Snapshot()
	assert.Equal(t, int64(0), snap.AvailablePermits)
	assert.Contains(t, snap.Recommendation, "saturated")
	assert.True(t, checker.Healthy())
}
