package shutdown_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/glitchwatch/core/internal/shutdown"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestShuttingDownFlag(t *testing.T) {
	c := shutdown.New(time.Second)
	require.False(t, c.ShuttingDown())
	c.Trigger()
	require.True(t, c.ShuttingDown())
}

func TestRunExecutesCleanupsInOrder(t *testing.T) {
	c := shutdown.New(2 * time.Second)

	var order []string
	c.Register("first", func(ctx context.Context) error {
		order = append(order, "first")
		return nil
	})
	c.Register("second", func(ctx context.Context) error {
		order = append(order, "second")
		return errors.New("boom")
	})
	c.Register("third", func(ctx context.Context) error {
		order = append(order, "third")
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	code := c.Run(ctx, testLogger())
	require.Equal(t, 0, code)
	require.Equal(t, []string{"first", "second", "third"}, order)
	require.True(t, c.ShuttingDown())
}

func TestRunForcesExitOnBudgetTimeout(t *testing.T) {
	c := shutdown.New(10 * time.Millisecond)
	c.Register("slow", func(ctx context.Context) error {
		time.Sleep(200 * time.Millisecond)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	code := c.Run(ctx, testLogger())
	require.Equal(t, 1, code)
}
