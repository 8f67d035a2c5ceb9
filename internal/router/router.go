// Package router implements the weighted model router: it partitions a
// static model pool into standard (free) and SOTA (paid) tiers, tracks
// per-model performance and circuit-breaker state, and selects a model by a
// success-weighted random walk. Each model's breaker trips on either a
// consecutive-failure streak or an error count within a sliding window.
package router

import (
	"context"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/glitchwatch/core/internal/domain"
)

// Config holds the router's tunables, sourced from config.Config.
type Config struct {
	EnableSOTAModels        bool
	CircuitBreakerThreshold int           // errors within Window to trip
	CircuitBreakerWindow    time.Duration // sliding window for the threshold above, and the half-open recovery delay
}

const consecutiveFailuresToTrip = 5

// cell is one model's mutable state plus the lock that guards it, so
// concurrent Select/RecordSuccess/RecordFailure calls on different models
// never contend.
type cell struct {
	mu      sync.Mutex
	model   domain.ModelConfig
	perf    domain.ModelPerformance
	circuit domain.CircuitBreakerState
}

// Router selects a model for each validation call and records outcomes.
type Router struct {
	cfg Config
	kv  domain.KV
	log *slog.Logger

	mu    sync.RWMutex
	cells map[string]*cell
	order []string // insertion order, used for stable tie-breaks

	rng *rand.Rand
}

// New constructs a Router over a static model pool, seeding each model's
// mutable state from KV if a prior instance already mirrored it there, so a
// freshly started replica converges toward the fleet's recent history.
func New(ctx context.Context, models []domain.ModelConfig, kv domain.KV, cfg Config, log *slog.Logger) *Router {
	if cfg.CircuitBreakerThreshold <= 0 {
		cfg.CircuitBreakerThreshold = 3
	}
	if cfg.CircuitBreakerWindow <= 0 {
		cfg.CircuitBreakerWindow = 5 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	r := &Router{
		cfg:   cfg,
		kv:    kv,
		log:   log,
		cells: make(map[string]*cell, len(models)),
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, m := range models {
		c := &cell{model: m, circuit: domain.CircuitBreakerState{State: domain.CircuitClosed}}
		r.loadFromKV(ctx, c)
		r.cells[m.ID] = c
		r.order = append(r.order, m.ID)
	}
	return r
}

// SetRand overrides the random source; exposed for deterministic tests of
// weight-proportional selection.
func (r *Router) SetRand(rng *rand.Rand) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rng = rng
}

// pool filters the router's models to those matching the given predicate,
// returned in stable insertion order.
func (r *Router) pool(pred func(domain.ModelConfig) bool) []*cell {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*cell, 0, len(r.order))
	for _, id := range r.order {
		c := r.cells[id]
		if pred(c.model) {
			out = append(out, c)
		}
	}
	return out
}

func isStandard(m domain.ModelConfig) bool { return m.Enabled && m.IsFree }
func isSOTA(m domain.ModelConfig) bool     { return m.Enabled && !isStandard(m) }

// StandardPool returns enabled free models, in stable order.
func (r *Router) StandardPool() []domain.ModelConfig { return r.poolConfigs(isStandard) }

// SOTAPool returns enabled non-standard models, in stable order.
func (r *Router) SOTAPool() []domain.ModelConfig { return r.poolConfigs(isSOTA) }

func (r *Router) poolConfigs(pred func(domain.ModelConfig) bool) []domain.ModelConfig {
	cells := r.pool(pred)
	out := make([]domain.ModelConfig, 0, len(cells))
	for _, c := range cells {
		c.mu.Lock()
		out = append(out, c.model)
		c.mu.Unlock()
	}
	return out
}

// ModelStats is the read-only view exposed by Stats for the admin surface.
type ModelStats struct {
	ModelID             string
	Enabled             bool
	IsFree              bool
	BaseWeight          int
	EffectiveWeight     int
	Success             int64
	Failure             int64
	ConsecutiveFailures int
	AvgLatencyMS        int64
	LastUsed            time.Time
	CircuitState        domain.CircuitState
}

// Stats returns a snapshot of every model's counters and derived weight.
func (r *Router) Stats() []ModelStats {
	r.mu.RLock()
	ids := append([]string(nil), r.order...)
	r.mu.RUnlock()

	out := make([]ModelStats, 0, len(ids))
	for _, id := range ids {
		r.mu.RLock()
		c := r.cells[id]
		r.mu.RUnlock()
		c.mu.Lock()
		var avgLatency int64
		if c.perf.Success > 0 {
			avgLatency = c.perf.TotalLatencyMS / c.perf.Success
		}
		out = append(out, ModelStats{
			ModelID:             c.model.ID,
			Enabled:             c.model.Enabled,
			IsFree:              c.model.IsFree,
			BaseWeight:          c.model.BaseWeight,
			EffectiveWeight:     effectiveWeight(c.model, c.perf),
			Success:             c.perf.Success,
			Failure:             c.perf.Failure,
			ConsecutiveFailures: c.perf.ConsecutiveFailures,
			AvgLatencyMS:        avgLatency,
			LastUsed:            c.perf.LastUsed,
			CircuitState:        c.circuit.State,
		})
		c.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModelID < out[j].ModelID })
	return out
}
