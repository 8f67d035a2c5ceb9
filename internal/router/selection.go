package router

import (
	"context"
	"fmt"
	"math"

	"github.com/glitchwatch/core/internal/domain"
)

// UnicornSignals carries the three independent strong-signal inputs the
// unicorn escalation rule evaluates: a ≥2-of-3 majority routes the call to
// the SOTA pool instead of standard.
type UnicornSignals struct {
	DiscountPercentage float64 // triggers at >= 80
	Confidence         float64 // triggers at >= 85
	ZScore             float64 // triggers at >= 4 (absolute value)
}

// IsUnicorn reports whether at least two of the three signals clear their
// individual thresholds.
func (u UnicornSignals) IsUnicorn() bool {
	hits := 0
	if u.DiscountPercentage >= 80 {
		hits++
	}
	if u.Confidence >= 85 {
		hits++
	}
	if math.Abs(u.ZScore) >= 4 {
		hits++
	}
	return hits >= 2
}

// ErrNoModelsAvailable is returned when a pool has no selectable models
// even after the reset-oldest fallback.
var ErrNoModelsAvailable = fmt.Errorf("router: no models available")

// Select chooses a model for one validation call. needsTools narrows the
// pool to tool-capable models. unicorn carries the validator's escalation
// signals; a ≥2-of-3 majority tries the SOTA pool first (gated on
// cfg.EnableSOTAModels), falling back to standard if SOTA has nothing
// selectable.
func (r *Router) Select(ctx context.Context, needsTools bool, unicorn UnicornSignals) (string, error) {
	if unicorn.IsUnicorn() && r.cfg.EnableSOTAModels {
		if id, err := r.selectFrom(isSOTA, needsTools); err == nil {
			return id, nil
		}
	}
	return r.selectFrom(isStandard, needsTools)
}

func (r *Router) selectFrom(base func(domain.ModelConfig) bool, needsTools bool) (string, error) {
	pred := base
	if needsTools {
		pred = func(m domain.ModelConfig) bool { return base(m) && m.SupportsTools }
	}

	cells := r.availableCells(pred)
	if len(cells) == 0 {
		if r.resetOldestOpen(pred) {
			cells = r.availableCells(pred)
		}
	}
	if len(cells) == 0 {
		return "", ErrNoModelsAvailable
	}

	type weighted struct {
		id     string
		weight int
	}
	ws := make([]weighted, 0, len(cells))
	total := 0
	for _, c := range cells {
		c.mu.Lock()
		w := effectiveWeight(c.model, c.perf)
		c.mu.Unlock()
		ws = append(ws, weighted{id: c.model.ID, weight: w})
		total += w
	}

	// Stable tie-break: ws is already in the router's fixed insertion order,
	// so equal-weight models are chosen in that deterministic order whenever
	// the random draw lands on a boundary shared by ties.
	pick := 0
	if total > 0 {
		pick = r.randIntn(total)
	}
	cum := 0
	for _, w := range ws {
		cum += w.weight
		if pick < cum {
			return w.id, nil
		}
	}
	return ws[len(ws)-1].id, nil
}

func (r *Router) randIntn(n int) int {
	r.mu.RLock()
	rng := r.rng
	r.mu.RUnlock()
	return rng.Intn(n)
}

// availableCells returns pool cells whose circuit is not open, transitioning
// any open circuit past its recovery window into half-open as a side effect.
func (r *Router) availableCells(pred func(domain.ModelConfig) bool) []*cell {
	cells := r.pool(pred)
	out := make([]*cell, 0, len(cells))
	for _, c := range cells {
		if r.tryAttempt(c) {
			out = append(out, c)
		}
	}
	return out
}

// effectiveWeight derives a model's selection weight from its history:
//
//	success_rate = success / (success+failure), or 1.0 with no history
//	consecutive_penalty = min(consecutive_failures*10, 80)
//	tool_bonus = round(tool_success_rate*5) when tool totals > 0, else 0
//	effective = max(1, round(base_weight*success_rate) - consecutive_penalty + tool_bonus)
func effectiveWeight(m domain.ModelConfig, p domain.ModelPerformance) int {
	total := p.Success + p.Failure
	successRate := 1.0
	if total > 0 {
		successRate = float64(p.Success) / float64(total)
	}

	consecutivePenalty := p.ConsecutiveFailures * 10
	if consecutivePenalty > 80 {
		consecutivePenalty = 80
	}

	toolBonus := 0
	toolTotal := p.ToolSuccess + p.ToolFailure
	if toolTotal > 0 {
		toolBonus = int(math.Round(float64(p.ToolSuccess) / float64(toolTotal) * 5))
	}

	w := int(math.Round(float64(m.BaseWeight)*successRate)) - consecutivePenalty + toolBonus
	if w < 1 {
		w = 1
	}
	return w
}
