// Package overload implements resource utilization sampling and the overload
// detector that converts samples into accept/reject decisions with retry
// guidance.
package overload

import (
	"database/sql"
	"runtime"
	"sync/atomic"

	"github.com/finvex/ordergate/internal/config"
	"github.com/finvex/ordergate/pkg/metrics"
)

// Snapshot is an ephemeral utilization sample. All fields are fractions in
// [0,1]; it is recomputed on each check and owned by the calling check.
type Snapshot struct {
	ThreadPoolUtilization   float64
	DBConnectionUtilization float64
	MemoryUtilization       float64
	ActiveRequestRatio      float64
}

// Probe reads instantaneous utilization of the goroutine budget, database
// connection pool, heap memory, and active-request count. Sampling is
// read-only with no blocking I/O; inputs are pre-sampled gauges.
type Probe struct {
	cfg            *config.OverloadConfig
	sqlDB          *sql.DB
	maxInFlight    int64
	activeRequests atomic.Int64
}

// NewProbe creates a probe over the given connection pool. sqlDB may be nil,
// in which case DB utilization reads as zero (used by tests).
func NewProbe(cfg *config.OverloadConfig, maxInFlight int, sqlDB *sql.DB) *Probe {
	return &Probe{cfg: cfg, sqlDB: sqlDB, maxInFlight: int64(maxInFlight)}
}

// RequestStarted marks one request in flight.
func (p *Probe) RequestStarted() { p.activeRequests.Add(1) }

// RequestFinished marks one request complete.
func (p *Probe) RequestFinished() { p.activeRequests.Add(-1) }

// ActiveRequests returns the current in-flight request count.
func (p *Probe) ActiveRequests() int64 { return p.activeRequests.Load() }

// Sample computes a fresh utilization snapshot and updates the per-resource
// gauges.
func (p *Probe) Sample() Snapshot {
	var s Snapshot

	if p.cfg.WorkerCeiling > 0 {
		s.ThreadPoolUtilization = clamp(float64(runtime.NumGoroutine()) / float64(p.cfg.WorkerCeiling))
	}

	if p.sqlDB != nil {
		stats := p.sqlDB.Stats()
		if stats.MaxOpenConnections > 0 {
			s.DBConnectionUtilization = clamp(float64(stats.InUse) / float64(stats.MaxOpenConnections))
		}
		metrics.DBOpenConns.Set(float64(stats.OpenConnections))
		metrics.DBInUseConns.Set(float64(stats.InUse))
		metrics.DBIdleConns.Set(float64(stats.Idle))
	}

	if p.cfg.MemoryLimitBytes > 0 {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		s.MemoryUtilization = clamp(float64(ms.Alloc) / float64(p.cfg.MemoryLimitBytes))
	}

	if p.maxInFlight > 0 {
		s.ActiveRequestRatio = clamp(float64(p.activeRequests.Load()) / float64(p.maxInFlight))
	}

	metrics.ResourceUtilization.WithLabelValues("thread_pool").Set(s.ThreadPoolUtilization)
	metrics.ResourceUtilization.WithLabelValues("db_connections").Set(s.DBConnectionUtilization)
	metrics.ResourceUtilization.WithLabelValues("memory").Set(s.MemoryUtilization)
	metrics.ResourceUtilization.WithLabelValues("active_requests").Set(s.ActiveRequestRatio)

	return s
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
