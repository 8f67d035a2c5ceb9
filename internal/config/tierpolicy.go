package config

import "github.com/glitchwatch/core/internal/domain"

// TierPolicy is the immutable config driving per-tier delay and channel
// authorization. The dispatcher asks Allows(tier, channel) and
// DelayMS(tier); it never enumerates tiers in code.
type TierPolicy struct {
	delay    map[domain.Tier]int64 // milliseconds
	channels map[domain.Tier]map[string]bool
	// dailyCaps is the per-channel daily send cap used by the rate limiter;
	// zero or absent means unlimited.
	dailyCaps map[string]int64
}

// DefaultTierPolicy returns the built-in tier-policy table.
func DefaultTierPolicy() TierPolicy {
	free := map[string]bool{domain.ChannelEmail: true}
	starter := merge(free, map[string]bool{domain.ChannelChat: true})
	pro := merge(starter, map[string]bool{
		domain.ChannelSMS:         true,
		domain.ChannelIM:          true,
		domain.ChannelRichMessage: true,
	})
	elite := merge(pro, map[string]bool{
		domain.ChannelWebhook:  true,
		domain.ChannelPriority: true,
	})

	return TierPolicy{
		delay: map[domain.Tier]int64{
			domain.TierPro:     0,
			domain.TierElite:   0,
			domain.TierStarter: 24 * 3600 * 1000,
			domain.TierFree:    72 * 3600 * 1000,
		},
		channels: map[domain.Tier]map[string]bool{
			domain.TierFree:    free,
			domain.TierStarter: starter,
			domain.TierPro:     pro,
			domain.TierElite:   elite,
		},
		dailyCaps: map[string]int64{
			domain.ChannelIM:  20,
			domain.ChannelSMS: 5,
		},
	}
}

func merge(base map[string]bool, extra map[string]bool) map[string]bool {
	out := make(map[string]bool, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// Allows reports whether tier may use channel.
func (p TierPolicy) Allows(tier domain.Tier, channel string) bool {
	chans, ok := p.channels[tier]
	if !ok {
		return false
	}
	return chans[channel]
}

// DelayMS returns the scheduling delay in milliseconds for a tier, or -1 if unknown.
func (p TierPolicy) DelayMS(tier domain.Tier) int64 {
	d, ok := p.delay[tier]
	if !ok {
		return -1
	}
	return d
}

// GroupByDelay partitions a set of tiers into groups sharing the same delay,
// the shape the dispatcher uses to schedule one job per tier group.
func (p TierPolicy) GroupByDelay(tiers []domain.Tier) map[int64][]domain.Tier {
	groups := map[int64][]domain.Tier{}
	for _, t := range tiers {
		d := p.DelayMS(t)
		if d < 0 {
			continue
		}
		groups[d] = append(groups[d], t)
	}
	return groups
}

// DailyCap returns the channel's per-user daily send cap, or 0 if unlimited.
func (p TierPolicy) DailyCap(channel string) int64 {
	return p.dailyCaps[channel]
}

// AllTiers returns every tier named by the policy table, stable order.
func (p TierPolicy) AllTiers() []domain.Tier {
	return []domain.Tier{domain.TierFree, domain.TierStarter, domain.TierPro, domain.TierElite}
}
