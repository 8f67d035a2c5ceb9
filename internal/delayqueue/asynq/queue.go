// Package asynqadp implements the domain.DelayQueue contract on
// github.com/hibiken/asynq: delayed delivery via ProcessIn, enqueue dedup
// via TaskID, and a long-running asynq server for consumption.
package asynqadp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glitchwatch/core/internal/domain"
	"github.com/hibiken/asynq"
)

var _ domain.DelayQueue = (*Queue)(nil)

// Queue is a domain.DelayQueue backed by an asynq client and (once Consume is
// called) an asynq server consuming the same Redis connection.
type Queue struct {
	client *asynq.Client
	redis  asynq.RedisConnOpt
}

// New parses redisURL and opens a client for enqueuing. Call Consume
// separately to start a consumer server.
func New(redisURL string) (*Queue, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("asynqadp: parse redis uri: %w", err)
	}
	return &Queue{client: asynq.NewClient(opt), redis: opt}, nil
}

// Add enqueues payload under task type name, to be delivered after delay.
// uniqueID, when non-empty, becomes the asynq task ID so a repeat Add with
// the same id is dropped as a duplicate rather than double-enqueued.
func (q *Queue) Add(ctx context.Context, name string, payload []byte, delay time.Duration, uniqueID string) error {
	task := asynq.NewTask(name, payload)
	opts := []asynq.Option{asynq.MaxRetry(3), asynq.Retention(24 * time.Hour)}
	if delay > 0 {
		opts = append(opts, asynq.ProcessIn(delay))
	}
	if uniqueID != "" {
		opts = append(opts, asynq.TaskID(uniqueID))
	}
	_, err := q.client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		if uniqueID != "" && isDuplicateTaskErr(err) {
			return nil
		}
		return fmt.Errorf("asynqadp: enqueue %s: %w", name, err)
	}
	return nil
}

func isDuplicateTaskErr(err error) bool {
	return errors.Is(err, asynq.ErrTaskIDConflict)
}

// Consume starts a long-running asynq server with the given concurrency,
// routing task type name to handler. It blocks until ctx is done.
func (q *Queue) Consume(ctx context.Context, name string, handler func(context.Context, []byte) error, concurrency int) error {
	if concurrency <= 0 {
		concurrency = 1
	}
	srv := asynq.NewServer(q.redis, asynq.Config{Concurrency: concurrency})
	mux := asynq.NewServeMux()
	mux.HandleFunc(name, func(ctx context.Context, t *asynq.Task) error {
		return handler(ctx, t.Payload())
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(mux) }()

	select {
	case <-ctx.Done():
		srv.Shutdown()
		return nil
	case err := <-errCh:
		return fmt.Errorf("asynqadp: server stopped: %w", err)
	}
}

// Close releases the enqueuing client's connection.
func (q *Queue) Close() error {
	return q.client.Close()
}
