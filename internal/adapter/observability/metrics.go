// Package observability provides logging, metrics, and tracing adapters.
package observability

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/glitchwatch/core/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// AnomaliesDetectedTotal counts PricingAnomaly entries consumed from anomaly.detected.
	AnomaliesDetectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "anomalies_detected_total",
		Help: "Total number of pricing anomalies consumed from the detection stream",
	})
	// AnomaliesValidatedTotal counts anomalies confirmed as glitches by the AI Validator.
	AnomaliesValidatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "anomalies_validated_total",
		Help: "Total number of anomalies confirmed as glitches",
	})
	// AnomaliesRejectedTotal counts anomalies the validator rejected.
	AnomaliesRejectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "anomalies_rejected_total",
		Help: "Total number of anomalies rejected by the validator",
	})

	// RouterSelectionsTotal counts model selections by model id.
	RouterSelectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "router_selections_total",
		Help: "Total number of model selections by model id",
	}, []string{"model"})
	// RouterCircuitState is a gauge of per-model breaker state (0=closed,1=open,2=half_open).
	RouterCircuitState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "router_circuit_state",
		Help: "Per-model circuit breaker state (0=closed,1=open,2=half_open)",
	}, []string{"model"})
	// ModelCallDuration records latency of model endpoint calls by model id.
	ModelCallDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "model_call_duration_seconds",
		Help:    "Model endpoint call duration in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
	}, []string{"model"})

	// DispatchJobsScheduledTotal counts delay-queue jobs scheduled by tier group.
	DispatchJobsScheduledTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_jobs_scheduled_total",
		Help: "Total number of per-tier dispatch jobs scheduled",
	}, []string{"tier_group"})
	// DispatchSendsTotal counts channel send attempts by channel and outcome.
	DispatchSendsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_sends_total",
		Help: "Total channel send attempts by channel and result",
	}, []string{"channel", "result"})

	// ConsumerBatchesTotal counts polled batches by stream.
	ConsumerBatchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "consumer_batches_total",
		Help: "Total number of batches polled per stream",
	}, []string{"stream"})
	// ConsumerRetriesTotal counts handler retries by stream.
	ConsumerRetriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "consumer_retries_total",
		Help: "Total number of handler retries by stream",
	}, []string{"stream"})
	// DLQEntriesTotal counts entries routed to a stream's DLQ.
	DLQEntriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dlq_entries_total",
		Help: "Total number of entries routed to the dead-letter stream",
	}, []string{"stream"})
)

// InitMetrics registers all Prometheus metrics with the default registry.
func InitMetrics() {
	prometheus.MustRegister(
		AnomaliesDetectedTotal,
		AnomaliesValidatedTotal,
		AnomaliesRejectedTotal,
		RouterSelectionsTotal,
		RouterCircuitState,
		ModelCallDuration,
		DispatchJobsScheduledTotal,
		DispatchSendsTotal,
		ConsumerBatchesTotal,
		ConsumerRetriesTotal,
		DLQEntriesTotal,
	)
}

// MirrorCounter writes a counter/gauge value into KV as metrics.{name}[.tag=value],
// the form the admin metrics endpoint reads back as text lines.
func MirrorCounter(ctx context.Context, kv domain.KV, name string, tags map[string]string, value float64) {
	if kv == nil {
		return
	}
	key := metricKey(name, tags)
	_ = kv.Set(ctx, key, fmt.Sprintf("%v", value), 0)
}

// MirrorIncr atomically increments the KV-mirrored counter for
// metrics.{name}[.tag=value]; the counter variant of MirrorCounter for
// call sites that count events rather than snapshot a value.
func MirrorIncr(ctx context.Context, kv domain.KV, name string, tags map[string]string) {
	if kv == nil {
		return
	}
	_, _ = kv.Incr(ctx, metricKey(name, tags))
}

func metricKey(name string, tags map[string]string) string {
	if len(tags) == 0 {
		return "metrics." + name
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString("metrics.")
	b.WriteString(name)
	for _, k := range keys {
		b.WriteString(".")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(tags[k])
	}
	return b.String()
}

// TextLines renders every metrics.* KV entry as "name{tag=\"v\",...} value" lines.
func TextLines(ctx context.Context, kv domain.KV) ([]string, error) {
	if kv == nil {
		return nil, nil
	}
	keys, err := kv.Keys(ctx, "metrics.*")
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		v, ok, err := kv.Get(ctx, k)
		if err != nil || !ok {
			continue
		}
		lines = append(lines, renderLine(k, v))
	}
	return lines, nil
}

func renderLine(key, value string) string {
	rest := strings.TrimPrefix(key, "metrics.")
	parts := strings.Split(rest, ".")
	name := parts[0]
	if len(parts) == 1 {
		return fmt.Sprintf("%s %s", name, value)
	}
	var tags []string
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		tags = append(tags, fmt.Sprintf("%s=%q", kv[0], kv[1]))
	}
	return fmt.Sprintf("%s{%s} %s", name, strings.Join(tags, ","), value)
}

// RecordModelCall observes a model endpoint call's duration.
func RecordModelCall(model string, d time.Duration) {
	ModelCallDuration.WithLabelValues(model).Observe(d.Seconds())
}
