package ratelimiter_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/glitchwatch/core/internal/adapter/ratelimiter"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newLimiter(t *testing.T) *ratelimiter.Limiter {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	cli := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	return ratelimiter.New(cli, nil)
}

func TestReserveUnlimitedWhenMaxZero(t *testing.T) {
	l := newLimiter(t)
	ok, err := l.Reserve(context.Background(), "sms", "u1", "2026-07-31", 0)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestReserveAllowsUpToMaxThenExceeds(t *testing.T) {
	l := newLimiter(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		ok, err := l.Reserve(ctx, "sms", "u1", "2026-07-31", 3)
		require.NoError(t, err)
		require.True(t, ok, "attempt %d should be within cap", i+1)
	}
	ok, err := l.Reserve(ctx, "sms", "u1", "2026-07-31", 3)
	require.NoError(t, err)
	require.False(t, ok, "4th attempt must exceed the cap of 3")
}

func TestReserveIsPerUserAndPerChannel(t *testing.T) {
	l := newLimiter(t)
	ctx := context.Background()
	ok, err := l.Reserve(ctx, "sms", "u1", "2026-07-31", 1)
	require.NoError(t, err)
	require.True(t, ok)

	// A different user isn't affected by u1's cap.
	ok, err = l.Reserve(ctx, "sms", "u2", "2026-07-31", 1)
	require.NoError(t, err)
	require.True(t, ok)

	// A different channel for the same user isn't affected either.
	ok, err = l.Reserve(ctx, "email", "u1", "2026-07-31", 1)
	require.NoError(t, err)
	require.True(t, ok)
}
