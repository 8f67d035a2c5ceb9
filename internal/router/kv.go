package router

import (
	"encoding/json"
	"time"

	"github.com/glitchwatch/core/internal/domain"
)

const mirrorTTL = 24 * time.Hour

func perfKey(modelID string) string    { return "model.perf." + modelID }
func circuitKey(modelID string) string { return "model.circuit." + modelID }

// loadFromKV seeds a freshly constructed cell from any snapshot a prior
// router instance already mirrored, so a newly started replica converges
// toward the fleet's shared view instead of starting cold.
func (r *Router) loadFromKV(ctx domain.Context, c *cell) {
	if r.kv == nil {
		return
	}
	if raw, ok, err := r.kv.Get(ctx, perfKey(c.model.ID)); err == nil && ok {
		var perf domain.ModelPerformance
		if json.Unmarshal([]byte(raw), &perf) == nil {
			c.perf = perf
		}
	}
	if raw, ok, err := r.kv.Get(ctx, circuitKey(c.model.ID)); err == nil && ok {
		var circuit domain.CircuitBreakerState
		if json.Unmarshal([]byte(raw), &circuit) == nil {
			c.circuit = circuit
		}
	}
}

// mirror writes a model's current performance and circuit snapshots to KV
// with a 24h TTL. Replicas converge last-writer-wins; selection is
// randomized anyway, so a stale snapshot only skews weights briefly.
func (r *Router) mirror(ctx domain.Context, modelID string, perf domain.ModelPerformance, circuit domain.CircuitBreakerState) {
	if r.kv == nil {
		return
	}
	if b, err := json.Marshal(perf); err == nil {
		_ = r.kv.Set(ctx, perfKey(modelID), string(b), mirrorTTL)
	}
	if b, err := json.Marshal(circuit); err == nil {
		_ = r.kv.Set(ctx, circuitKey(modelID), string(b), mirrorTTL)
	}
}
