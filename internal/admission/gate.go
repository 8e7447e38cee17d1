// Package admission implements the bounded-concurrency admission gate that
// limits simultaneous batch database operations below the physical connection
// pool capacity, making the gate rather than the pool the primary point of
// backpressure.
package admission

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/finvex/ordergate/pkg/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// ErrAcquireTimeout is returned when no permit became available within the
// configured acquire timeout. Deliberately distinct from a database-level
// connection timeout so the classifier can report which layer rejected.
var ErrAcquireTimeout = errors.New("admission gate: timed out waiting for permit")

// Gate is a counting semaphore with wait-time and queue-depth accounting.
type Gate struct {
	sem            *semaphore.Weighted
	permits        int64
	acquireTimeout time.Duration
	logger         *zap.Logger

	held    atomic.Int64
	waiting atomic.Int64
}

// NewGate creates a gate with the given permit count. The caller is expected
// to configure permits strictly below the connection pool size; that policy
// is enforced at config validation, not here.
func NewGate(permits int, acquireTimeout time.Duration, logger *zap.Logger) *Gate {
	g := &Gate{
		sem:            semaphore.NewWeighted(int64(permits)),
		permits:        int64(permits),
		acquireTimeout: acquireTimeout,
		logger:         logger,
	}
	metrics.AdmissionAvailablePermits.Set(float64(permits))
	return g
}

// Permit is one slot in the gate. It is released exactly once; extra Release
// calls are ignored and counted as defects.
type Permit struct {
	gate     *Gate
	released atomic.Bool
}

// Release returns the permit to the gate. Safe to call from a defer on every
// exit path; only the first call has an effect.
func (p *Permit) Release() {
	if p == nil {
		return
	}
	if !p.released.CompareAndSwap(false, true) {
		metrics.AdmissionDoubleReleases.Inc()
		p.gate.logger.Error("admission permit released twice")
		return
	}
	p.gate.sem.Release(1)
	held := p.gate.held.Add(-1)
	metrics.AdmissionAvailablePermits.Set(float64(p.gate.permits - held))
}

// Acquire blocks the calling operation until a permit is available, the gate
// timeout elapses, or ctx is cancelled. Wait duration is recorded regardless
// of outcome.
func (g *Gate) Acquire(ctx context.Context) (*Permit, error) {
	start := time.Now()
	g.waiting.Add(1)
	metrics.AdmissionWaiting.Set(float64(g.waiting.Load()))

	acquireCtx, cancel := context.WithTimeout(ctx, g.acquireTimeout)
	defer cancel()

	err := g.sem.Acquire(acquireCtx, 1)

	wait := time.Since(start)
	metrics.AdmissionWaitSeconds.Observe(wait.Seconds())
	g.waiting.Add(-1)
	metrics.AdmissionWaiting.Set(float64(g.waiting.Load()))

	if err != nil {
		// Caller cancellation propagates as-is; only the gate's own deadline
		// is classified as a concurrency limit rejection.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		metrics.AdmissionTimeouts.Inc()
		g.logger.Warn("admission gate acquire timed out",
			zap.Duration("waited", wait),
			zap.Int64("held_permits", g.held.Load()))
		return nil, ErrAcquireTimeout
	}

	held := g.held.Add(1)
	metrics.AdmissionAvailablePermits.Set(float64(g.permits - held))

	return &Permit{gate: g}, nil
}

// Held returns the number of permits currently out.
func (g *Gate) Held() int64 { return g.held.Load() }

// Available returns the number of free permits.
func (g *Gate) Available() int64 { return g.permits - g.held.Load() }

// Waiting returns the number of operations blocked in Acquire.
func (g *Gate) Waiting() int64 { return g.waiting.Load() }

// Capacity returns the configured permit count.
func (g *Gate) Capacity() int64 { return g.permits }
