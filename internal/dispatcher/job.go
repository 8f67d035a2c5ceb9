package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glitchwatch/core/internal/domain"
)

// ProcessJob is the delay-queue consumer handler for JobTaskName: it loads
// the job's target-tier subscribers, applies the preference filter,
// enforces per-user-per-glitch dedup and per-channel daily caps, and fans
// out across every channel the user's tier authorizes.
func (d *Dispatcher) ProcessJob(ctx context.Context, payload []byte) error {
	var job domain.DispatchJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return fmt.Errorf("dispatcher: unmarshal job: %w", err)
	}

	glitch, ok, err := d.loadGlitch(ctx, job.GlitchID)
	if err != nil {
		return fmt.Errorf("dispatcher: load glitch %s: %w", job.GlitchID, err)
	}
	if !ok {
		return fmt.Errorf("dispatcher: glitch %s not found", job.GlitchID)
	}

	subs, err := d.subs.ActiveByTiers(ctx, job.Tiers)
	if err != nil {
		return fmt.Errorf("dispatcher: load subscribers: %w", err)
	}

	anySuccess := false
	for _, user := range subs {
		if !passesPreferences(user.Prefs, glitch) {
			continue
		}
		if d.processUser(ctx, user, glitch) {
			anySuccess = true
		}
	}

	if anySuccess && d.anomalyRepo != nil {
		if err := d.anomalyRepo.UpdateStatus(ctx, glitch.AnomalyID, domain.AnomalyNotified); err != nil {
			d.log.Error("failed to mark anomaly notified", slog.String("anomaly_id", glitch.AnomalyID), slog.Any("error", err))
		}
	}
	return nil
}

// processUser sends glitch to every channel user's tier and preferences
// authorize. The per-user dedup key is set only after at least one channel
// succeeds, so a user never ends up suppressed without having been reached.
// Returns whether at least one channel succeeded.
func (d *Dispatcher) processUser(ctx context.Context, user domain.Subscriber, glitch domain.ValidatedGlitch) bool {
	userDedupKey := fmt.Sprintf("notify.user.%s.glitch.%s", user.UserID, glitch.ID)
	if already, err := d.kv.Exists(ctx, userDedupKey); err == nil && already {
		return false
	}

	day := time.Now().UTC().Format("2006-01-02")
	anySuccess := false

	for channel, enabled := range user.Prefs.EnabledChannels {
		if !enabled || !d.policy.Allows(user.Tier, channel) {
			continue
		}
		provider, ok := d.channels[channel]
		if !ok {
			continue
		}

		if cap := d.policy.DailyCap(channel); cap > 0 {
			allowed, err := d.limiter.Reserve(ctx, channel, user.UserID, day, int(cap))
			if err != nil {
				d.log.Error("rate limiter error", slog.String("channel", channel), slog.String("user", user.UserID), slog.Any("error", err))
			} else if !allowed {
				d.countSend(ctx, channel, "rate_limited")
				continue
			}
		}

		target := user.ContactAddress[channel]
		res, err := provider.Send(ctx, glitch, target)
		d.countSend(ctx, channel, outcomeLabel(res, err))
		if err != nil {
			d.log.Warn("channel send failed", slog.String("channel", channel), slog.String("user", user.UserID), slog.Any("error", err))
			continue
		}
		if res.Success {
			anySuccess = true
		} else {
			d.log.Warn("channel reported failure", slog.String("channel", channel), slog.String("user", user.UserID), slog.String("error", res.Error))
		}
	}

	if anySuccess {
		if _, err := d.kv.SetNX(ctx, userDedupKey, "1", userDedupTTL); err != nil {
			d.log.Error("failed to set per-user dedup key", slog.String("key", userDedupKey), slog.Any("error", err))
		}
	}
	return anySuccess
}

// passesPreferences applies the user's notification filter to a glitch.
func passesPreferences(p domain.UserPreferences, g domain.ValidatedGlitch) bool {
	if g.ProfitMargin < p.MinProfitMargin {
		return false
	}
	if len(p.Categories) > 0 && !containsFold(p.Categories, g.Product.Category) {
		return false
	}
	if len(p.Retailers) > 0 && !equalsAnyFold(p.Retailers, g.Product.RetailerID) {
		return false
	}
	price := g.Product.CurrentPrice
	if p.MinPrice > 0 && price < p.MinPrice {
		return false
	}
	if p.MaxPrice > 0 && price > p.MaxPrice {
		return false
	}
	return true
}

func containsFold(candidates []string, value string) bool {
	value = strings.ToLower(value)
	for _, c := range candidates {
		if strings.Contains(value, strings.ToLower(c)) {
			return true
		}
	}
	return false
}

func equalsAnyFold(candidates []string, value string) bool {
	for _, c := range candidates {
		if strings.EqualFold(c, value) {
			return true
		}
	}
	return false
}
