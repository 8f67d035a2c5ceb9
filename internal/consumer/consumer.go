// Package consumer implements the stream consumer framework: a
// single-stream polling loop that loads its cursor from KV, reads a batch
// from the Bus, dispatches each entry to a handler, and advances the cursor
// only once an entry is durably disposed of (success, DLQ, or a deliberate
// advance-without-retry for malformed input).
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/glitchwatch/core/internal/domain"
)

// ErrFatal, when present anywhere in a handler error's chain, tells the
// runner to stop polling and return immediately so the caller can exit
// non-zero.
var ErrFatal = errors.New("consumer: fatal error")

// HandlerFunc processes one stream entry. Returning an error wrapping
// domain.ErrSchemaInvalid marks the entry malformed (advance, no DLQ, no
// retry). Returning an error wrapping ErrFatal aborts the run loop.
// Any other error is treated as retryable up to Config.MaxRetries, after
// which the entry is written to the DLQ and the cursor advances past it.
type HandlerFunc func(ctx context.Context, entry domain.StreamEntry) error

// ShutdownChecker reports whether a shutdown has been requested. Satisfied
// by *shutdown.Coordinator; kept as a narrow interface so this package does
// not need to import shutdown.
type ShutdownChecker interface {
	ShuttingDown() bool
}

// Config holds one consumer run's tunables.
type Config struct {
	Stream       string
	BatchSize    int
	PollInterval time.Duration
	MaxRetries   int
}

// Runner executes one Config's polling loop against a Bus+KV pair.
type Runner struct {
	bus domain.Bus
	kv  domain.KV
	sc  ShutdownChecker
	cfg Config
	log *slog.Logger

	// retryCounts is in-process only. A restart resets counts to zero; the
	// entry is re-read anyway under at-least-once delivery, so retries stay
	// bounded per process lifetime.
	retryCounts map[string]int

	onBatch func(stream string)
	onRetry func(stream string)
	onDLQ   func(stream string, entry domain.StreamEntry, cause error)
}

// New constructs a Runner. onBatch/onRetry/onDLQ are optional metric hooks;
// pass nil to skip instrumentation.
func New(bus domain.Bus, kv domain.KV, sc ShutdownChecker, cfg Config, log *slog.Logger,
	onBatch func(stream string),
	onRetry func(stream string),
	onDLQ func(stream string, entry domain.StreamEntry, cause error),
) *Runner {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if log == nil {
		log = slog.Default()
	}
	return &Runner{
		bus:         bus,
		kv:          kv,
		sc:          sc,
		cfg:         cfg,
		log:         log,
		retryCounts: make(map[string]int),
		onBatch:     onBatch,
		onRetry:     onRetry,
		onDLQ:       onDLQ,
	}
}

func (r *Runner) cursorKey() string {
	return "cursor.stream." + r.cfg.Stream
}

func (r *Runner) dlqStream() string {
	return "dlq." + r.cfg.Stream
}

func (r *Runner) loadCursor(ctx context.Context) (string, error) {
	v, ok, err := r.kv.Get(ctx, r.cursorKey())
	if err != nil {
		return "", err
	}
	if !ok {
		return "0-0", nil
	}
	return v, nil
}

func (r *Runner) saveCursor(ctx context.Context, id string) error {
	return r.kv.Set(ctx, r.cursorKey(), id, 0)
}

// Run polls r.cfg.Stream until the ShutdownChecker reports shutdown or the
// handler returns a fatal error. Each iteration: load-or-default cursor,
// read a batch, sleep cooperatively when empty, and for each entry either
// advance-on-success, advance-without-DLQ on malformed input, or
// retry-in-place up to MaxRetries before DLQ+advance.
func (r *Runner) Run(ctx context.Context, handler HandlerFunc) error {
	cursor, err := r.loadCursor(ctx)
	if err != nil {
		return fmt.Errorf("consumer[%s]: load cursor: %w", r.cfg.Stream, err)
	}

	for {
		if r.sc != nil && r.sc.ShuttingDown() {
			r.log.Info("consumer stopping on shutdown", slog.String("stream", r.cfg.Stream))
			return nil
		}

		entries, err := r.bus.XRead(ctx, r.cfg.Stream, cursor, r.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("consumer[%s]: xread: %w", r.cfg.Stream, err)
		}
		if r.onBatch != nil {
			r.onBatch(r.cfg.Stream)
		}

		if len(entries) == 0 {
			if !sleepOrShutdown(ctx, r.cfg.PollInterval, r.sc) {
				return nil
			}
			continue
		}

		retryRequested := false
		for _, entry := range entries {
			if r.sc != nil && r.sc.ShuttingDown() {
				// Abandon work without advancing past an unprocessed entry.
				r.log.Info("consumer abandoning batch on shutdown", slog.String("stream", r.cfg.Stream), slog.String("entry_id", entry.ID))
				return nil
			}

			herr := handler(ctx, entry)
			if herr == nil {
				delete(r.retryCounts, entry.ID)
				if err := r.saveCursor(ctx, entry.ID); err != nil {
					return fmt.Errorf("consumer[%s]: save cursor: %w", r.cfg.Stream, err)
				}
				cursor = entry.ID
				continue
			}

			if errors.Is(herr, ErrFatal) {
				r.log.Error("consumer fatal error, exiting", slog.String("stream", r.cfg.Stream), slog.String("entry_id", entry.ID), slog.Any("error", herr))
				return fmt.Errorf("consumer[%s]: fatal: %w", r.cfg.Stream, herr)
			}

			if errors.Is(herr, domain.ErrSchemaInvalid) {
				r.log.Warn("consumer dropping malformed entry", slog.String("stream", r.cfg.Stream), slog.String("entry_id", entry.ID), slog.Any("error", herr))
				delete(r.retryCounts, entry.ID)
				if err := r.saveCursor(ctx, entry.ID); err != nil {
					return fmt.Errorf("consumer[%s]: save cursor: %w", r.cfg.Stream, err)
				}
				cursor = entry.ID
				continue
			}

			r.retryCounts[entry.ID]++
			if r.retryCounts[entry.ID] < r.cfg.MaxRetries {
				if r.onRetry != nil {
					r.onRetry(r.cfg.Stream)
				}
				r.log.Warn("consumer retrying entry in place",
					slog.String("stream", r.cfg.Stream), slog.String("entry_id", entry.ID),
					slog.Int("attempt", r.retryCounts[entry.ID]), slog.Any("error", herr))
				retryRequested = true
				break
			}

			r.log.Error("consumer exhausted retries, routing to dlq",
				slog.String("stream", r.cfg.Stream), slog.String("entry_id", entry.ID), slog.Any("error", herr))
			if _, dlqErr := r.bus.XAdd(ctx, r.dlqStream(), map[string]string{
				"stream":   r.cfg.Stream,
				"entry_id": entry.ID,
				"error":    herr.Error(),
				"payload":  fmt.Sprintf("%v", entry.Payload),
				"ts":       time.Now().UTC().Format(time.RFC3339),
			}); dlqErr != nil {
				return fmt.Errorf("consumer[%s]: dlq write: %w", r.cfg.Stream, dlqErr)
			}
			if r.onDLQ != nil {
				r.onDLQ(r.cfg.Stream, entry, herr)
			}
			delete(r.retryCounts, entry.ID)
			if err := r.saveCursor(ctx, entry.ID); err != nil {
				return fmt.Errorf("consumer[%s]: save cursor: %w", r.cfg.Stream, err)
			}
			cursor = entry.ID
		}

		if retryRequested {
			if !sleepOrShutdown(ctx, r.cfg.PollInterval, r.sc) {
				return nil
			}
		}
	}
}

// sleepOrShutdown sleeps for d, waking early (and returning false) if ctx is
// done or shutdown has been requested.
func sleepOrShutdown(ctx context.Context, d time.Duration, sc ShutdownChecker) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return true
		case <-ticker.C:
			if sc != nil && sc.ShuttingDown() {
				return false
			}
		}
	}
}
