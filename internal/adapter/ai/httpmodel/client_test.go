package httpmodel_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/glitchwatch/core/internal/adapter/ai/httpmodel"
	"github.com/glitchwatch/core/internal/config"
	"github.com/stretchr/testify/require"
)

func testConfig(url string) config.Config {
	return config.Config{
		ModelEndpointURL:         url,
		ModelAPIKey:              "test-key",
		AIBackoffMaxElapsedTime:  500 * time.Millisecond,
		AIBackoffInitialInterval: 10 * time.Millisecond,
		AIBackoffMaxInterval:     50 * time.Millisecond,
		AIBackoffMultiplier:      1.5,
	}
}

func TestCallReturnsContentOnSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": `{"is_glitch": true}`}},
			},
		})
	}))
	defer srv.Close()

	c := httpmodel.New(testConfig(srv.URL))
	content, err := c.Call(context.Background(), "model-a", "sys", "user", time.Second)
	require.NoError(t, err)
	require.Equal(t, `{"is_glitch": true}`, content)
}

func TestCallFallsBackToToolCallsWhenContentEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "", "tool_calls": []json.RawMessage{[]byte(`{"is_glitch": false}`)}}},
			},
		})
	}))
	defer srv.Close()

	c := httpmodel.New(testConfig(srv.URL))
	content, err := c.Call(context.Background(), "model-a", "sys", "user", time.Second)
	require.NoError(t, err)
	require.JSONEq(t, `{"is_glitch": false}`, content)
}

func TestCallReturnsErrorOn4xxWithoutRetrying(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("bad request"))
	}))
	defer srv.Close()

	c := httpmodel.New(testConfig(srv.URL))
	_, err := c.Call(context.Background(), "model-a", "sys", "user", time.Second)
	require.Error(t, err)
	require.Equal(t, 1, hits, "a 4xx response must not be retried")
}

func TestCallRetriesOn429ThenSucceeds(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "ok"}},
			},
		})
	}))
	defer srv.Close()

	c := httpmodel.New(testConfig(srv.URL))
	content, err := c.Call(context.Background(), "model-a", "sys", "user", 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, "ok", content)
	require.GreaterOrEqual(t, hits, 2)
}

func TestCallReturnsErrorOnEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"choices": []map[string]any{}})
	}))
	defer srv.Close()

	c := httpmodel.New(testConfig(srv.URL))
	_, err := c.Call(context.Background(), "model-a", "sys", "user", time.Second)
	require.Error(t, err)
}
