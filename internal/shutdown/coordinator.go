// Package shutdown coordinates graceful process termination: it traps
// SIGTERM/SIGINT, flips a process-wide flag observed by all polling loops,
// then runs registered cleanup callbacks serially within a total time
// budget before force-exiting.
package shutdown

import (
	"context"
	"log/slog"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// Coordinator tracks the shutdown flag and the ordered cleanup callback list.
type Coordinator struct {
	mu       sync.Mutex
	cleanups []cleanup
	flag     atomic.Bool
	budget   time.Duration
}

type cleanup struct {
	name string
	fn   func(context.Context) error
}

// New creates a Coordinator with the given total cleanup budget.
func New(budget time.Duration) *Coordinator {
	if budget <= 0 {
		budget = 30 * time.Second
	}
	return &Coordinator{budget: budget}
}

// Register appends a named cleanup callback, run in registration order on shutdown.
func (c *Coordinator) Register(name string, fn func(context.Context) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanups = append(c.cleanups, cleanup{name: name, fn: fn})
}

// ShuttingDown reports whether shutdown has been requested. Polling loops
// must check this before starting the next unit of work.
func (c *Coordinator) ShuttingDown() bool {
	return c.flag.Load()
}

// Trigger marks shutdown as requested without waiting for a signal; useful for tests.
func (c *Coordinator) Trigger() {
	c.flag.Store(true)
}

// Run installs the signal trap and blocks until a signal arrives or ctx is
// done, then executes cleanups within the budget. It returns the process
// exit code: 0 on a clean shutdown, 1 if the budget was exceeded.
func (c *Coordinator) Run(ctx context.Context, lg *slog.Logger) int {
	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	<-sigCtx.Done()
	c.flag.Store(true)
	lg.Info("shutdown requested, running cleanups", slog.Duration("budget", c.budget))

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.runCleanups(lg)
	}()

	select {
	case <-done:
		lg.Info("shutdown completed")
		return 0
	case <-time.After(c.budget):
		lg.Error("shutdown budget exceeded, forcing exit", slog.Duration("budget", c.budget))
		return 1
	}
}

func (c *Coordinator) runCleanups(lg *slog.Logger) {
	c.mu.Lock()
	cleanups := append([]cleanup(nil), c.cleanups...)
	c.mu.Unlock()

	ctx := context.Background()
	for _, cu := range cleanups {
		start := time.Now()
		if err := cu.fn(ctx); err != nil {
			lg.Error("cleanup failed", slog.String("name", cu.name), slog.Any("error", err), slog.Duration("elapsed", time.Since(start)))
			continue
		}
		lg.Info("cleanup completed", slog.String("name", cu.name), slog.Duration("elapsed", time.Since(start)))
	}
}
