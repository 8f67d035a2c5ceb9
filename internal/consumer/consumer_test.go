package consumer_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	busredis "github.com/glitchwatch/core/internal/adapter/bus/redisstream"
	kvredis "github.com/glitchwatch/core/internal/adapter/kv/redis"
	"github.com/glitchwatch/core/internal/consumer"
	"github.com/glitchwatch/core/internal/domain"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type fakeShutdown struct{ down bool }

func (f *fakeShutdown) ShuttingDown() bool { return f.down }

func newHarness(t *testing.T) (*busredis.Bus, *kvredis.Store) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	cli := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	return busredis.New(cli), kvredis.New(cli)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stopAfterN arranges for the shutdown checker to report true once n
// entries have been observed, letting Run return deterministically.
func stopAfterN(sc *fakeShutdown, n *int, limit int) {
	*n++
	if *n >= limit {
		sc.down = true
	}
}

func TestRunAdvancesCursorOnSuccess(t *testing.T) {
	ctx := context.Background()
	bus, kv := newHarness(t)

	_, _ = bus.XAdd(ctx, "anomaly.detected", map[string]string{"id": "a1"})
	_, _ = bus.XAdd(ctx, "anomaly.detected", map[string]string{"id": "a2"})

	sc := &fakeShutdown{}
	processed := 0
	r := consumer.New(bus, kv, sc, consumer.Config{
		Stream:       "anomaly.detected",
		BatchSize:    10,
		PollInterval: 10 * time.Millisecond,
		MaxRetries:   3,
	}, testLogger(), nil, nil, nil)

	err := r.Run(ctx, func(ctx context.Context, e domain.StreamEntry) error {
		stopAfterN(sc, &processed, 2)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, processed)

	cursor, ok, err := kv.Get(ctx, "cursor.stream.anomaly.detected")
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEqual(t, "0-0", cursor)
}

func TestRunRetriesThenDLQs(t *testing.T) {
	ctx := context.Background()
	bus, kv := newHarness(t)

	id, err := bus.XAdd(ctx, "anomaly.detected", map[string]string{"id": "e17"})
	require.NoError(t, err)

	sc := &fakeShutdown{}
	attempts := 0
	dlqHits := 0
	r := consumer.New(bus, kv, sc, consumer.Config{
		Stream:       "anomaly.detected",
		BatchSize:    10,
		PollInterval: time.Millisecond,
		MaxRetries:   5,
	}, testLogger(), nil, nil, func(stream string, e domain.StreamEntry, cause error) {
		dlqHits++
		// The stream holds nothing after the dead-lettered entry; stop the loop.
		sc.down = true
	})

	err = r.Run(ctx, func(ctx context.Context, e domain.StreamEntry) error {
		attempts++
		return errors.New("transient failure")
	})
	require.NoError(t, err)
	require.Equal(t, 5, attempts, "MaxRetries=5 allows five handler calls before the entry is dead-lettered")
	require.Equal(t, 1, dlqHits, "entry should be DLQ'd exactly once after exhausting retries")

	entries, err := bus.XRead(ctx, "dlq.anomaly.detected", "0-0", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, id, entries[0].Payload["entry_id"])
	require.Equal(t, "anomaly.detected", entries[0].Payload["stream"])

	cursor, ok, err := kv.Get(ctx, "cursor.stream.anomaly.detected")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, id, cursor, "cursor must advance past the DLQ'd entry")
}

func TestRunAdvancesPastMalformedWithoutDLQ(t *testing.T) {
	ctx := context.Background()
	bus, kv := newHarness(t)

	id, err := bus.XAdd(ctx, "anomaly.detected", map[string]string{"id": "bad"})
	require.NoError(t, err)

	sc := &fakeShutdown{}
	r := consumer.New(bus, kv, sc, consumer.Config{
		Stream:       "anomaly.detected",
		BatchSize:    10,
		PollInterval: time.Millisecond,
		MaxRetries:   5,
	}, testLogger(), nil, nil, nil)

	calls := 0
	err = r.Run(ctx, func(ctx context.Context, e domain.StreamEntry) error {
		calls++
		sc.down = true
		return fmt.Errorf("bad payload: %w", domain.ErrSchemaInvalid)
	})
	require.NoError(t, err)
	require.Equal(t, 1, calls)

	entries, err := bus.XRead(ctx, "dlq.anomaly.detected", "0-0", 10)
	require.NoError(t, err)
	require.Empty(t, entries, "malformed entries must never reach the DLQ")

	cursor, ok, err := kv.Get(ctx, "cursor.stream.anomaly.detected")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, id, cursor)
}

func TestRunStopsOnFatalWithoutAdvancingCursor(t *testing.T) {
	ctx := context.Background()
	bus, kv := newHarness(t)

	_, err := bus.XAdd(ctx, "anomaly.detected", map[string]string{"id": "a1"})
	require.NoError(t, err)

	sc := &fakeShutdown{}
	r := consumer.New(bus, kv, sc, consumer.Config{
		Stream:       "anomaly.detected",
		BatchSize:    10,
		PollInterval: time.Millisecond,
		MaxRetries:   5,
	}, testLogger(), nil, nil, nil)

	err = r.Run(ctx, func(ctx context.Context, e domain.StreamEntry) error {
		return fmt.Errorf("unrecoverable: %w", consumer.ErrFatal)
	})
	require.Error(t, err)
	require.ErrorIs(t, err, consumer.ErrFatal)

	_, ok, err := kv.Get(ctx, "cursor.stream.anomaly.detected")
	require.NoError(t, err)
	require.False(t, ok, "cursor must not advance past an entry that triggered a fatal error")
}

func TestRunStopsImmediatelyWhenAlreadyShuttingDown(t *testing.T) {
	ctx := context.Background()
	bus, kv := newHarness(t)
	sc := &fakeShutdown{down: true}
	r := consumer.New(bus, kv, sc, consumer.Config{Stream: "anomaly.detected"}, testLogger(), nil, nil, nil)

	called := false
	err := r.Run(ctx, func(ctx context.Context, e domain.StreamEntry) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	require.False(t, called)
}
