// Package redisstream implements the domain.Bus contract on Redis Streams.
// XADD/XRANGE/XLEN give exactly the monotonic-id, read-strictly-after-cursor
// shape the Bus contract requires, without a consumer-group layer.
package redisstream

import (
	"context"
	"fmt"

	"github.com/glitchwatch/core/internal/domain"
	"github.com/redis/go-redis/v9"
)

// Bus is a domain.Bus backed by a Redis client.
type Bus struct {
	rdb *redis.Client
}

// New wraps an existing *redis.Client as a domain.Bus.
func New(rdb *redis.Client) *Bus {
	return &Bus{rdb: rdb}
}

// XAdd appends payload to stream and returns the new monotonic entry id.
func (b *Bus) XAdd(ctx context.Context, stream string, payload map[string]string) (string, error) {
	values := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		values[k] = v
	}
	id, err := b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: values,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("bus: xadd %s: %w", stream, err)
	}
	return id, nil
}

// XRead returns up to count entries strictly after afterID, preserving insertion order.
func (b *Bus) XRead(ctx context.Context, stream, afterID string, count int) ([]domain.StreamEntry, error) {
	if afterID == "" {
		afterID = "0-0"
	}
	res, err := b.rdb.XRangeN(ctx, stream, "("+afterID, "+", int64(count)).Result()
	if err != nil {
		return nil, fmt.Errorf("bus: xread %s after %s: %w", stream, afterID, err)
	}
	entries := make([]domain.StreamEntry, 0, len(res))
	for _, m := range res {
		payload := make(map[string]string, len(m.Values))
		for k, v := range m.Values {
			if s, ok := v.(string); ok {
				payload[k] = s
			} else {
				payload[k] = fmt.Sprintf("%v", v)
			}
		}
		entries = append(entries, domain.StreamEntry{ID: m.ID, Payload: payload})
	}
	return entries, nil
}

// XLen returns the entry count of stream.
func (b *Bus) XLen(ctx context.Context, stream string) (int64, error) {
	n, err := b.rdb.XLen(ctx, stream).Result()
	if err != nil {
		return 0, fmt.Errorf("bus: xlen %s: %w", stream, err)
	}
	return n, nil
}

// DLQStreamName returns the dead-letter stream name for an original stream.
func DLQStreamName(stream string) string {
	return "dlq." + stream
}

var _ domain.Bus = (*Bus)(nil)
