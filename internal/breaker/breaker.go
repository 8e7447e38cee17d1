// Package breaker implements the three-state circuit breaker protecting the
// batch submission path. State transitions are atomic compare-and-swap
// operations; external components only call Allow, RecordSuccess,
// RecordFailure, and NoteUtilization, never set state directly.
package breaker

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/finvex/ordergate/pkg/metrics"
	"go.uber.org/zap"
)

// State represents the externally visible breaker state.
type State int32

const (
	// StateClosed - normal operation, submissions pass through
	StateClosed State = iota
	// StateOpen - submissions are rejected fail-fast
	StateOpen
	// StateHalfOpen - probing whether the system has recovered
	StateHalfOpen

	// stateTesting is the transient sub-state of half-open while the single
	// trial request is in flight. Reported externally as half-open.
	stateTesting
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen, stateTesting:
		return "half-open"
	default:
		return "unknown"
	}
}

// OpenError is returned by Allow while the breaker rejects submissions.
type OpenError struct {
	Remaining time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker open, %s until recovery probe", e.Remaining)
}

// Config holds the breaker policy.
type Config struct {
	// UtilizationTripThreshold trips the breaker preventively, well below the
	// overload detector's hard ceiling.
	UtilizationTripThreshold float64
	MaxConsecutiveFailures   int64
	RecoveryTimeout          time.Duration
}

// DefaultConfig returns the production policy.
func DefaultConfig() Config {
	return Config{
		UtilizationTripThreshold: 0.75,
		MaxConsecutiveFailures:   3,
		RecoveryTimeout:          15 * time.Second,
	}
}

// Breaker is the process-wide circuit breaker. Create one at startup in the
// closed state and inject it by reference wherever it is consulted.
type Breaker struct {
	cfg    Config
	logger *zap.Logger

	state        atomic.Int32
	failures     atomic.Int64
	transitionAt atomic.Int64 // unix nanos of the last state change
}

// New creates a breaker in the closed state.
func New(cfg Config, logger *zap.Logger) *Breaker {
	b := &Breaker{cfg: cfg, logger: logger}
	b.transitionAt.Store(time.Now().UnixNano())
	metrics.BreakerState.Set(float64(StateClosed))
	return b
}

// Allow reports whether a new batch submission may proceed. In half-open
// state exactly one caller wins the trial slot; everyone else is rejected
// until the trial resolves. The caller that is admitted must report the
// outcome via RecordSuccess or RecordFailure.
func (b *Breaker) Allow() error {
	for {
		switch State(b.state.Load()) {
		case StateClosed:
			return nil

		case StateOpen:
			remaining := b.remaining()
			if remaining > 0 {
				metrics.BreakerRejections.Inc()
				return &OpenError{Remaining: remaining}
			}
			// Recovery window elapsed; move to half-open and retry the loop
			// so this caller competes for the trial slot.
			b.transition(StateOpen, StateHalfOpen, "recovery timeout elapsed")

		case StateHalfOpen:
			// Exclusive trial slot: only the CAS winner proceeds. Not counted
			// as a transition since the visible state stays half-open.
			if b.state.CompareAndSwap(int32(StateHalfOpen), int32(stateTesting)) {
				b.logger.Debug("circuit breaker admitted half-open trial request")
				return nil
			}
			// Lost the race; re-read state.

		case stateTesting:
			metrics.BreakerRejections.Inc()
			return &OpenError{Remaining: b.remaining()}
		}
	}
}

// RecordSuccess signals that a guarded submission completed successfully.
func (b *Breaker) RecordSuccess() {
	b.failures.Store(0)
	b.transition(stateTesting, StateClosed, "trial request succeeded")
}

// RecordFailure signals that a guarded submission failed.
func (b *Breaker) RecordFailure() {
	failures := b.failures.Add(1)

	if b.transition(stateTesting, StateOpen, "trial request failed") {
		return
	}
	if failures >= b.cfg.MaxConsecutiveFailures {
		b.transition(StateClosed, StateOpen,
			fmt.Sprintf("%d consecutive failures", failures))
	}
}

// CancelTrial returns an admitted half-open trial slot without resolving it,
// for callers rejected by a later admission layer before the guarded
// operation ran. No-op outside the trial sub-state.
func (b *Breaker) CancelTrial() {
	if b.state.CompareAndSwap(int32(stateTesting), int32(StateHalfOpen)) {
		b.logger.Debug("circuit breaker trial request cancelled before execution")
	}
}

// NoteUtilization feeds the connection pool utilization signal. The breaker
// trips preventively when utilization exceeds the configured threshold.
func (b *Breaker) NoteUtilization(dbUtilization float64) {
	if dbUtilization > b.cfg.UtilizationTripThreshold {
		b.transition(StateClosed, StateOpen,
			fmt.Sprintf("connection pool utilization %.2f above %.2f",
				dbUtilization, b.cfg.UtilizationTripThreshold))
	}
}

// State returns the externally visible state.
func (b *Breaker) State() State {
	s := State(b.state.Load())
	if s == stateTesting {
		return StateHalfOpen
	}
	return s
}

// ConsecutiveFailures returns the current failure streak.
func (b *Breaker) ConsecutiveFailures() int64 {
	return b.failures.Load()
}

// LastTransition returns when the breaker last changed state.
func (b *Breaker) LastTransition() time.Time {
	return time.Unix(0, b.transitionAt.Load())
}

// remaining reports the time left in the recovery window, clamped at zero.
func (b *Breaker) remaining() time.Duration {
	elapsed := time.Since(b.LastTransition())
	if elapsed >= b.cfg.RecoveryTimeout {
		return 0
	}
	return b.cfg.RecoveryTimeout - elapsed
}

// transition performs a CAS state change, logging and counting it on success.
func (b *Breaker) transition(from, to State, reason string) bool {
	if !b.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	b.transitionAt.Store(time.Now().UnixNano())

	visible := to
	if visible == stateTesting {
		visible = StateHalfOpen
	}
	metrics.BreakerState.Set(float64(visible))
	metrics.BreakerTransitions.WithLabelValues(from.String(), to.String()).Inc()

	b.logger.Info("circuit breaker state transition",
		zap.String("from", from.String()),
		zap.String("to", visible.String()),
		zap.String("reason", reason))
	return true
}
