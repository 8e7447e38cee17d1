// Package health exposes a read-only snapshot of the admission control state
// for an external health endpoint to render. It defines no HTTP routes.
package health

import (
	"github.com/finvex/ordergate/internal/admission"
	"github.com/finvex/ordergate/internal/breaker"
	"github.com/finvex/ordergate/internal/overload"
)

// Snapshot is the point-in-time view of the admission control plane.
type Snapshot struct {
	ActivePermits       int64             `json:"active_permits"`
	AvailablePermits    int64             `json:"available_permits"`
	WaitingCount        int64             `json:"waiting_count"`
	Utilization         overload.Snapshot `json:"utilization"`
	CircuitBreakerState string            `json:"circuit_breaker_state"`
	Recommendation      string            `json:"recommendation"`
}

// Checker reads the shared components. It never mutates them.
type Checker struct {
	gate     *admission.Gate
	brk      *breaker.Breaker
	probe    *overload.Probe
	detector *overload.Detector
}

// NewChecker wires the read-only view.
func NewChecker(gate *admission.Gate, brk *breaker.Breaker, probe *overload.Probe, detector *overload.Detector) *Checker {
	return &Checker{gate: gate, brk: brk, probe: probe, detector: detector}
}

// Snapshot samples current state and derives an operator recommendation.
func (c *Checker) Snapshot() Snapshot {
	utilization := c.probe.Sample()
	decision := c.detector.Detect(utilization)
	state := c.brk.State()

	recommendation := "healthy"
	switch {
	case state == breaker.StateOpen:
		recommendation = "rejecting: circuit breaker open, waiting for recovery window"
	case state == breaker.StateHalfOpen:
		recommendation = "probing: circuit breaker half-open"
	case decision.Overloaded:
		recommendation = "shedding: " + decision.Resource + " utilization above threshold"
	case c.gate.Available() == 0:
		recommendation = "saturated: all admission permits in use"
	}

	return Snapshot{
		ActivePermits:       c.gate.Held(),
		AvailablePermits:    c.gate.Available(),
		WaitingCount:        c.gate.Waiting(),
		Utilization:         utilization,
		CircuitBreakerState: state.String(),
		Recommendation:      recommendation,
	}
}

// Healthy reports whether the service should pass a liveness-style check.
func (c *Checker) Healthy() bool {
	return c.brk.State() != breaker.StateOpen
}
