// Package dispatcher implements the tiered notification dispatcher: it
// turns one confirmed glitch into per-tier delayed jobs, then fans each job
// out to subscribers through per-channel providers, honoring preference
// filters, per-user dedup, and per-channel daily caps. Channel deliveries
// are independent; one provider's failure never blocks another channel or
// another user.
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glitchwatch/core/internal/adapter/observability"
	"github.com/glitchwatch/core/internal/config"
	"github.com/glitchwatch/core/internal/domain"
	"github.com/glitchwatch/core/internal/wire"
)

// JobTaskName is the Delay Queue task type every per-tier DispatchJob is
// enqueued and consumed under.
const JobTaskName = "dispatch.notify"

const glitchKeyPrefix = "glitch."
const userDedupTTL = 7 * 24 * time.Hour

// RateLimiter reserves per-user daily send capacity before a channel call.
// Satisfied by *ratelimiter.Limiter; declared narrowly here so this package
// does not need to import the adapter.
type RateLimiter interface {
	Reserve(ctx context.Context, channel, userID, day string, max int) (bool, error)
}

// Dispatcher wires the Bus, KV, Delay Queue, tier policy, channel registry,
// and rate limiter together.
type Dispatcher struct {
	bus         domain.Bus
	kv          domain.KV
	queue       domain.DelayQueue
	policy      config.TierPolicy
	channels    map[string]domain.ChannelProvider
	broadcast   []domain.ChannelProvider
	limiter     RateLimiter
	subs        domain.SubscriberRepository
	anomalyRepo domain.AnomalyRepository
	dedupTTL    time.Duration
	log         *slog.Logger
}

// New constructs a Dispatcher. broadcast is the set of non-user-targeted
// providers invoked synchronously for every confirmed glitch (public
// channels, retailer feeds); it may be empty.
func New(
	bus domain.Bus,
	kv domain.KV,
	queue domain.DelayQueue,
	policy config.TierPolicy,
	channels map[string]domain.ChannelProvider,
	broadcast []domain.ChannelProvider,
	limiter RateLimiter,
	subs domain.SubscriberRepository,
	anomalyRepo domain.AnomalyRepository,
	dedupTTL time.Duration,
	log *slog.Logger,
) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	if dedupTTL <= 0 {
		dedupTTL = 24 * time.Hour
	}
	return &Dispatcher{
		bus: bus, kv: kv, queue: queue, policy: policy,
		channels: channels, broadcast: broadcast, limiter: limiter,
		subs: subs, anomalyRepo: anomalyRepo, dedupTTL: dedupTTL, log: log,
	}
}

// Handle is a consumer.HandlerFunc for the anomaly.confirmed stream: it
// dedups the glitch, fires synchronous broadcasts, persists the glitch for
// later job lookups, and schedules one delay-queue job per tier-delay group.
func (d *Dispatcher) Handle(ctx context.Context, entry domain.StreamEntry) error {
	glitch, err := wire.DecodeGlitch(entry.Payload)
	if err != nil {
		return err
	}

	dedupKey := "notify.glitch." + glitch.ID
	fresh, err := d.kv.SetNX(ctx, dedupKey, "1", d.dedupTTL)
	if err != nil {
		return fmt.Errorf("dispatcher[%s]: dedup check: %w", glitch.ID, err)
	}
	if !fresh {
		d.log.Info("glitch already scheduled, skipping", slog.String("glitch_id", glitch.ID))
		return nil
	}

	if err := d.persistGlitch(ctx, glitch); err != nil {
		return fmt.Errorf("dispatcher[%s]: persist glitch: %w", glitch.ID, err)
	}

	for _, p := range d.broadcast {
		res, err := p.Send(ctx, glitch, "")
		d.countSend(ctx, p.Channel(), outcomeLabel(res, err))
		if err != nil {
			d.log.Warn("broadcast channel failed", slog.String("channel", p.Channel()), slog.Any("error", err))
		}
	}

	groups := d.policy.GroupByDelay(d.policy.AllTiers())
	for delayMS, tiers := range groups {
		job := domain.DispatchJob{GlitchID: glitch.ID, Tiers: tiers, ScheduledAt: time.Now().Add(time.Duration(delayMS) * time.Millisecond)}
		payload, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("dispatcher[%s]: marshal job: %w", glitch.ID, err)
		}
		if err := d.queue.Add(ctx, JobTaskName, payload, time.Duration(delayMS)*time.Millisecond, job.UniqueID()); err != nil {
			return fmt.Errorf("dispatcher[%s]: schedule job: %w", glitch.ID, err)
		}
		observability.DispatchJobsScheduledTotal.WithLabelValues(tierGroupLabel(tiers)).Inc()
	}
	return nil
}

func (d *Dispatcher) persistGlitch(ctx context.Context, g domain.ValidatedGlitch) error {
	b, err := json.Marshal(g)
	if err != nil {
		return err
	}
	return d.kv.Set(ctx, glitchKeyPrefix+g.ID, string(b), 0)
}

func (d *Dispatcher) loadGlitch(ctx context.Context, id string) (domain.ValidatedGlitch, bool, error) {
	raw, ok, err := d.kv.Get(ctx, glitchKeyPrefix+id)
	if err != nil || !ok {
		return domain.ValidatedGlitch{}, ok, err
	}
	var g domain.ValidatedGlitch
	if err := json.Unmarshal([]byte(raw), &g); err != nil {
		return domain.ValidatedGlitch{}, false, err
	}
	return g, true, nil
}

func tierGroupLabel(tiers []domain.Tier) string {
	names := make([]string, len(tiers))
	for i, t := range tiers {
		names[i] = string(t)
	}
	return strings.Join(names, ",")
}

func outcomeLabel(res domain.ChannelResult, err error) string {
	if err != nil || !res.Success {
		return "failure"
	}
	return "success"
}

// countSend records one channel send attempt on both the Prometheus counter
// and its KV-mirrored metrics.* twin the admin inspector reads back.
func (d *Dispatcher) countSend(ctx context.Context, channel, result string) {
	observability.DispatchSendsTotal.WithLabelValues(channel, result).Inc()
	observability.MirrorIncr(ctx, d.kv, "dispatch_sends_total", map[string]string{"channel": channel, "result": result})
}
