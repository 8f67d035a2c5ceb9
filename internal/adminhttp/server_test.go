package adminhttp_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/glitchwatch/core/internal/adapter/bus/redisstream"
	kvredis "github.com/glitchwatch/core/internal/adapter/kv/redis"
	"github.com/glitchwatch/core/internal/adminhttp"
	"github.com/glitchwatch/core/internal/domain"
	"github.com/glitchwatch/core/internal/router"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newRedisClient(t *testing.T) *goredis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
}

func TestHealthzReturnsOK(t *testing.T) {
	rdb := newRedisClient(t)
	srv := adminhttp.New(redisstream.New(rdb), kvredis.New(rdb), nil, testLogger())

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "ok", body["status"])
}

func TestDLQPeekReturnsQueuedEntries(t *testing.T) {
	rdb := newRedisClient(t)
	bus := redisstream.New(rdb)
	kv := kvredis.New(rdb)
	srv := adminhttp.New(bus, kv, nil, testLogger())

	_, err := bus.XAdd(context.Background(), "dlq.anomaly.detected", map[string]string{"entry_id": "1-0", "error": "boom"})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/admin/dlq/anomaly.detected")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Stream  string               `json:"stream"`
		Length  int64                `json:"length"`
		Entries []domain.StreamEntry `json:"entries"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "dlq.anomaly.detected", body.Stream)
	require.EqualValues(t, 1, body.Length)
	require.Len(t, body.Entries, 1)
}

func TestRouterStatsReturnsModelList(t *testing.T) {
	rdb := newRedisClient(t)
	kv := kvredis.New(rdb)
	models := []domain.ModelConfig{{ID: "free-a", Enabled: true, IsFree: true, BaseWeight: 50, TimeoutMS: 5000}}
	r := router.New(context.Background(), models, kv, router.Config{CircuitBreakerThreshold: 3, CircuitBreakerWindow: time.Minute}, testLogger())

	srv := adminhttp.New(redisstream.New(rdb), kv, r, testLogger())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/admin/router/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Models []router.ModelStats `json:"models"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Models, 1)
	require.Equal(t, "free-a", body.Models[0].ModelID)
}
