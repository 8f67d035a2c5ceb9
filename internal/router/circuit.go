package router

import (
	"time"

	"github.com/glitchwatch/core/internal/domain"
)

// tryAttempt reports whether c's circuit currently permits a selection
// attempt, flipping an expired open breaker to half-open first.
func (r *Router) tryAttempt(c *cell) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.circuit.State {
	case domain.CircuitClosed, domain.CircuitHalfOpen:
		return true
	case domain.CircuitOpen:
		if time.Since(c.circuit.OpenedAt) >= r.cfg.CircuitBreakerWindow {
			c.circuit.State = domain.CircuitHalfOpen
			return true
		}
		return false
	default:
		return true
	}
}

// resetOldestOpen forces the earliest-opened breaker among pred's pool into
// half-open, used when every model in a pool is currently open and selection
// would otherwise have nothing to return.
func (r *Router) resetOldestOpen(pred func(domain.ModelConfig) bool) bool {
	cells := r.pool(pred)
	var oldest *cell
	var oldestAt time.Time
	for _, c := range cells {
		c.mu.Lock()
		if c.circuit.State == domain.CircuitOpen {
			if oldest == nil || c.circuit.OpenedAt.Before(oldestAt) {
				oldest = c
				oldestAt = c.circuit.OpenedAt
			}
		}
		c.mu.Unlock()
	}
	if oldest == nil {
		return false
	}
	oldest.mu.Lock()
	oldest.circuit.State = domain.CircuitHalfOpen
	oldest.mu.Unlock()
	return true
}

// RecordSuccess records a successful model call, closing a half-open
// circuit and resetting the consecutive-failure streak. usedTool reports
// whether the call exercised tool-calling so tool-specific counters track
// separately from plain completions.
func (r *Router) RecordSuccess(ctx domain.Context, modelID string, latencyMS int64, usedTool bool) {
	c := r.cellFor(modelID)
	if c == nil {
		return
	}
	c.mu.Lock()
	c.perf.Success++
	c.perf.ConsecutiveFailures = 0
	c.perf.TotalLatencyMS += latencyMS
	c.perf.LastUsed = time.Now()
	if usedTool {
		c.perf.ToolSuccess++
	}
	if c.circuit.State == domain.CircuitHalfOpen {
		c.circuit.State = domain.CircuitClosed
		c.circuit.ErrorTimestamps = nil
	}
	snapshotPerf, snapshotCircuit := c.perf, c.circuit
	c.mu.Unlock()

	r.mirror(ctx, modelID, snapshotPerf, snapshotCircuit)
}

// RecordFailure records a failed model call and trips the circuit when
// either the consecutive-failure count or the sliding-window error count
// crosses its threshold.
func (r *Router) RecordFailure(ctx domain.Context, modelID string, usedTool bool) {
	c := r.cellFor(modelID)
	if c == nil {
		return
	}
	now := time.Now()
	c.mu.Lock()
	c.perf.Failure++
	c.perf.ConsecutiveFailures++
	if usedTool {
		c.perf.ToolFailure++
	}

	c.circuit.ErrorTimestamps = append(c.circuit.ErrorTimestamps, now)
	c.circuit.ErrorTimestamps = pruneWindow(c.circuit.ErrorTimestamps, now, r.cfg.CircuitBreakerWindow)

	shouldTrip := c.perf.ConsecutiveFailures >= consecutiveFailuresToTrip ||
		len(c.circuit.ErrorTimestamps) >= r.cfg.CircuitBreakerThreshold

	if shouldTrip && c.circuit.State != domain.CircuitOpen {
		c.circuit.State = domain.CircuitOpen
		c.circuit.OpenedAt = now
		r.log.Warn("router circuit opened",
			"model", modelID,
			"consecutive_failures", c.perf.ConsecutiveFailures,
			"window_errors", len(c.circuit.ErrorTimestamps))
	} else if c.circuit.State == domain.CircuitHalfOpen {
		// A failed probe in half-open reopens the circuit.
		c.circuit.State = domain.CircuitOpen
		c.circuit.OpenedAt = now
	}
	snapshotPerf, snapshotCircuit := c.perf, c.circuit
	c.mu.Unlock()

	r.mirror(ctx, modelID, snapshotPerf, snapshotCircuit)
}

func pruneWindow(ts []time.Time, now time.Time, window time.Duration) []time.Time {
	out := ts[:0:0]
	for _, t := range ts {
		if now.Sub(t) <= window {
			out = append(out, t)
		}
	}
	return out
}

func (r *Router) cellFor(modelID string) *cell {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cells[modelID]
}
