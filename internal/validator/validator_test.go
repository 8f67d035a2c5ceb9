package validator_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	kvredis "github.com/glitchwatch/core/internal/adapter/kv/redis"
	"github.com/glitchwatch/core/internal/domain"
	"github.com/glitchwatch/core/internal/router"
	"github.com/glitchwatch/core/internal/validator"
	"github.com/glitchwatch/core/internal/wire"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newKV(t *testing.T) domain.KV {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	cli := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	return kvredis.New(cli)
}

// memBus is a minimal in-process domain.Bus for capturing published entries.
type memBus struct {
	mu      sync.Mutex
	streams map[string][]domain.StreamEntry
	seq     int
}

func newMemBus() *memBus { return &memBus{streams: make(map[string][]domain.StreamEntry)} }

func (b *memBus) XAdd(_ context.Context, stream string, payload map[string]string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	id := fmt.Sprintf("%d-0", b.seq)
	b.streams[stream] = append(b.streams[stream], domain.StreamEntry{ID: id, Payload: payload})
	return id, nil
}

func (b *memBus) XRead(_ context.Context, stream, _ string, _ int) ([]domain.StreamEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.StreamEntry(nil), b.streams[stream]...), nil
}

func (b *memBus) XLen(_ context.Context, stream string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.streams[stream])), nil
}

// fakeEndpoint returns canned responses per call, in order, falling back to
// the last response once exhausted.
type fakeEndpoint struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	calls     []string
}

func (f *fakeEndpoint) Call(_ context.Context, modelID string, _, _ string, _ time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := len(f.calls)
	f.calls = append(f.calls, modelID)
	if idx < len(f.errs) && f.errs[idx] != nil {
		return "", f.errs[idx]
	}
	if idx < len(f.responses) {
		return f.responses[idx], nil
	}
	return f.responses[len(f.responses)-1], nil
}

func standardModels() []domain.ModelConfig {
	return []domain.ModelConfig{
		{ID: "free-a", Enabled: true, IsFree: true, BaseWeight: 50, TimeoutMS: 5000},
		{ID: "free-b", Enabled: true, IsFree: true, BaseWeight: 50, TimeoutMS: 5000},
	}
}

func newRouter(t *testing.T) *router.Router {
	t.Helper()
	return router.New(context.Background(), standardModels(), newKV(t),
		router.Config{EnableSOTAModels: false, CircuitBreakerThreshold: 3, CircuitBreakerWindow: 5 * time.Minute},
		testLogger())
}

func sampleAnomaly() domain.PricingAnomaly {
	return domain.PricingAnomaly{
		ID: "anom-1",
		Product: domain.ProductSnapshot{
			Title: "Blender", RetailerID: "retailer-x", Category: "home",
			CurrentPrice: 0.99,
		},
		AnomalyType:       domain.AnomalyDecimalError,
		InitialConfidence: 70,
		DetectedAt:        time.Now().UTC(),
		Status:            domain.AnomalyPending,
	}
}

func TestHandlePublishesConfirmedGlitchOnHighConfidence(t *testing.T) {
	bus := newMemBus()
	endpoint := &fakeEndpoint{responses: []string{
		`{"is_glitch": true, "confidence": 95, "reasoning": "decimal shift", "glitch_type": "decimal_error"}`,
	}}
	v := validator.New(newRouter(t), endpoint, bus, standardModels(), nil, testLogger())

	payload, err := wire.EncodeAnomaly(sampleAnomaly())
	require.NoError(t, err)

	err = v.Handle(context.Background(), domain.StreamEntry{ID: "1-0", Payload: payload})
	require.NoError(t, err)

	entries, err := bus.XRead(context.Background(), validator.ConfirmedStream, "", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "true", entries[0].Payload["is_glitch"])
}

func TestHandleRejectsLowConfidence(t *testing.T) {
	bus := newMemBus()
	endpoint := &fakeEndpoint{responses: []string{
		`{"is_glitch": true, "confidence": 20, "reasoning": "probably fine", "glitch_type": "unknown"}`,
	}}
	v := validator.New(newRouter(t), endpoint, bus, standardModels(), nil, testLogger())

	payload, err := wire.EncodeAnomaly(sampleAnomaly())
	require.NoError(t, err)

	err = v.Handle(context.Background(), domain.StreamEntry{ID: "1-0", Payload: payload})
	require.NoError(t, err)

	entries, err := bus.XRead(context.Background(), validator.ConfirmedStream, "", 10)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestHandleFallsBackAcrossModelsOnFailure(t *testing.T) {
	bus := newMemBus()
	endpoint := &fakeEndpoint{
		errs:      []error{domain.ErrUpstreamTimeout},
		responses: []string{"", `{"is_glitch": true, "confidence": 80, "reasoning": "ok", "glitch_type": "clearance"}`},
	}
	v := validator.New(newRouter(t), endpoint, bus, standardModels(), nil, testLogger())

	payload, err := wire.EncodeAnomaly(sampleAnomaly())
	require.NoError(t, err)

	err = v.Handle(context.Background(), domain.StreamEntry{ID: "1-0", Payload: payload})
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(endpoint.calls), 2)

	entries, err := bus.XRead(context.Background(), validator.ConfirmedStream, "", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestHandleMalformedPayloadIsSchemaInvalid(t *testing.T) {
	bus := newMemBus()
	endpoint := &fakeEndpoint{}
	v := validator.New(newRouter(t), endpoint, bus, standardModels(), nil, testLogger())

	err := v.Handle(context.Background(), domain.StreamEntry{ID: "1-0", Payload: map[string]string{}})
	require.ErrorIs(t, err, domain.ErrSchemaInvalid)
}
