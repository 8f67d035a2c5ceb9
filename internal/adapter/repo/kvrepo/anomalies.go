package kvrepo

import (
	"context"
	"fmt"

	"github.com/glitchwatch/core/internal/domain"
)

const anomalyStatusPrefix = "anomaly.status."

// AnomalyStore is a domain.AnomalyRepository backed by a single KV string
// key per anomaly id, holding nothing but its current lifecycle status.
// Full anomaly/glitch bodies already live on the Bus and in the
// dispatcher's glitch.* KV keys; this store only tracks status transitions.
type AnomalyStore struct {
	kv domain.KV
}

var _ domain.AnomalyRepository = (*AnomalyStore)(nil)

// NewAnomalyStore constructs an AnomalyStore over kv.
func NewAnomalyStore(kv domain.KV) *AnomalyStore {
	return &AnomalyStore{kv: kv}
}

// UpdateStatus records the anomaly's current lifecycle status.
func (a *AnomalyStore) UpdateStatus(ctx context.Context, anomalyID string, status domain.AnomalyStatus) error {
	if err := a.kv.Set(ctx, anomalyStatusPrefix+anomalyID, string(status), 0); err != nil {
		return fmt.Errorf("kvrepo: set anomaly status: %w", err)
	}
	return nil
}

// Status returns the last recorded status for anomalyID, if any.
func (a *AnomalyStore) Status(ctx context.Context, anomalyID string) (domain.AnomalyStatus, bool, error) {
	raw, ok, err := a.kv.Get(ctx, anomalyStatusPrefix+anomalyID)
	if err != nil {
		return "", false, fmt.Errorf("kvrepo: get anomaly status: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return domain.AnomalyStatus(raw), true, nil
}
