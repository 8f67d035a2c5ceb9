package adminhttp

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/glitchwatch/core/internal/adapter/observability"
	"github.com/glitchwatch/core/internal/domain"
	"github.com/glitchwatch/core/internal/router"
)

// Server exposes the admin/inspection HTTP surface.
type Server struct {
	bus    domain.Bus
	kv     domain.KV
	router *router.Router
	log    *slog.Logger
}

// New constructs a Server. router may be nil if this process doesn't run
// the Weighted Model Router (e.g. a dispatcher-only deployment).
func New(bus domain.Bus, kv domain.KV, r *router.Router, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{bus: bus, kv: kv, router: r, log: log}
}

// Handler builds the chi router with the middleware chain and routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(Recoverer(s.log))
	r.Use(RequestID(s.log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET"},
	}))
	r.Use(AccessLog(s.log))

	r.Get("/healthz", s.healthz)
	r.Get("/metrics", s.metrics)
	r.Get("/admin/dlq/{stream}", s.dlqPeek)
	r.Get("/admin/router/stats", s.routerStats)
	return r
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// metrics serves this process's Prometheus registry followed by the
// fleet-wide metrics.* lines mirrored into KV by the worker processes, so
// one scrape shows both. Compression is disabled so the mirrored lines can
// be appended to the encoded registry output.
func (s *Server) metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
		DisableCompression: true,
	}).ServeHTTP(w, r)

	lines, err := observability.TextLines(r.Context(), s.kv)
	if err != nil {
		s.log.Warn("failed to read kv-mirrored metrics", slog.Any("error", err))
		return
	}
	for _, line := range lines {
		fmt.Fprintln(w, line)
	}
}

// dlqPeek returns the DLQ length and a bounded peek of entries for
// dlq.{stream}, paged with ?limit= and ?after=.
func (s *Server) dlqPeek(w http.ResponseWriter, r *http.Request) {
	stream := chi.URLParam(r, "stream")
	dlqStream := "dlq." + stream

	limit := queryInt(r, "limit", 50)
	afterID := r.URL.Query().Get("after")
	if afterID == "" {
		afterID = "0-0"
	}

	ctx := r.Context()
	n, err := s.bus.XLen(ctx, dlqStream)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	entries, err := s.bus.XRead(ctx, dlqStream, afterID, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"stream":  dlqStream,
		"length":  n,
		"entries": entries,
	})
}

// routerStats exposes per-model effective weight, counters, average
// latency, circuit state, and last-use timestamp.
func (s *Server) routerStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.router == nil {
		_ = json.NewEncoder(w).Encode(map[string]any{"models": []router.ModelStats{}})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"models": s.router.Stats()})
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// InitMetrics registers the package-level Prometheus collectors; exposed
// here so cmd/ entry points have one call to make before serving /metrics.
func InitMetrics() { observability.InitMetrics() }
