package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	kvredis "github.com/glitchwatch/core/internal/adapter/kv/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *kvredis.Store {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	cli := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	return kvredis.New(cli)
}

func TestGetSetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	_, ok, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Set(ctx, "cursor.stream.anomaly.detected", "1700-0", 0))
	v, ok, err := s.Get(ctx, "cursor.stream.anomaly.detected")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1700-0", v)
}

func TestSetNXDedup(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	first, err := s.SetNX(ctx, "notify.glitch.g1", "1", 24*time.Hour)
	require.NoError(t, err)
	require.True(t, first)

	second, err := s.SetNX(ctx, "notify.glitch.g1", "1", 24*time.Hour)
	require.NoError(t, err)
	require.False(t, second, "second SetNX on the same key must report already-present")
}

func TestIncrAndExistsAndDel(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	n, err := s.Incr(ctx, "sms.limit.u1.2026-07-31")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	exists, err := s.Exists(ctx, "sms.limit.u1.2026-07-31")
	require.NoError(t, err)
	require.True(t, exists)

	require.NoError(t, s.Del(ctx, "sms.limit.u1.2026-07-31"))
	exists, err = s.Exists(ctx, "sms.limit.u1.2026-07-31")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestKeysPattern(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.Set(ctx, "metrics.foo", "1", 0))
	require.NoError(t, s.Set(ctx, "metrics.bar", "2", 0))
	require.NoError(t, s.Set(ctx, "other.key", "3", 0))

	keys, err := s.Keys(ctx, "metrics.*")
	require.NoError(t, err)
	require.Len(t, keys, 2)
}
