// Package kvrepo provides minimal KV-backed implementations of the
// SubscriberRepository and AnomalyRepository ports. Real deployments are
// expected to back these with whatever billing/dashboard database owns
// subscriber and anomaly records; this package gives the core a working
// default for local runs and tests on the KV store it already depends on.
package kvrepo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/glitchwatch/core/internal/domain"
)

const subscribersKey = "subscribers.all"

// SubscriberStore is a domain.SubscriberRepository backed by a single JSON
// array in KV. Adequate for the subscriber counts this system's tiers
// imply; a production deployment would swap this for a real database
// without touching the dispatcher.
type SubscriberStore struct {
	kv domain.KV
}

var _ domain.SubscriberRepository = (*SubscriberStore)(nil)

// NewSubscriberStore constructs a SubscriberStore over kv.
func NewSubscriberStore(kv domain.KV) *SubscriberStore {
	return &SubscriberStore{kv: kv}
}

// Put upserts the full subscriber roster, replacing whatever was stored.
// Intended for seeding in local/dev runs and tests.
func (s *SubscriberStore) Put(ctx context.Context, subs []domain.Subscriber) error {
	b, err := json.Marshal(subs)
	if err != nil {
		return fmt.Errorf("kvrepo: marshal subscribers: %w", err)
	}
	return s.kv.Set(ctx, subscribersKey, string(b), 0)
}

// ActiveByTiers returns every stored subscriber whose tier is in tiers.
func (s *SubscriberStore) ActiveByTiers(ctx context.Context, tiers []domain.Tier) ([]domain.Subscriber, error) {
	raw, ok, err := s.kv.Get(ctx, subscribersKey)
	if err != nil {
		return nil, fmt.Errorf("kvrepo: load subscribers: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var all []domain.Subscriber
	if err := json.Unmarshal([]byte(raw), &all); err != nil {
		return nil, fmt.Errorf("kvrepo: unmarshal subscribers: %w", err)
	}

	want := make(map[domain.Tier]bool, len(tiers))
	for _, t := range tiers {
		want[t] = true
	}
	out := make([]domain.Subscriber, 0, len(all))
	for _, u := range all {
		if want[u.Tier] {
			out = append(out, u)
		}
	}
	return out, nil
}
