package core

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetricsRecorder exports operation latencies, outcomes and
// activation counts as Prometheus collectors. It implements both
// MetricsRecorder and ActivationObserver.
type PrometheusMetricsRecorder struct {
	durations    *prometheus.HistogramVec
	results      *prometheus.CounterVec
	participants *prometheus.CounterVec
	deactivated  prometheus.Counter
}

// NewPrometheusMetricsRecorder creates the collectors and registers them with
// reg. A nil registerer leaves them unregistered.
func NewPrometheusMetricsRecorder(reg prometheus.Registerer) (*PrometheusMetricsRecorder, error) {
	rec := &PrometheusMetricsRecorder{
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "campfees",
			Subsystem: "service",
			Name:      "operation_duration_seconds",
			Help:      "Duration of service operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "campfees",
			Subsystem: "service",
			Name:      "operations_total",
			Help:      "Service operations by outcome.",
		}, []string{"operation", "status"}),
		participants: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "campfees",
			Subsystem: "activation",
			Name:      "participants_total",
			Help:      "Participants handled by recalculation runs, by outcome.",
		}, []string{"operation", "outcome"}),
		deactivated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "campfees",
			Subsystem: "activation",
			Name:      "rulesets_deactivated_total",
			Help:      "Rulesets deactivated by activating a sibling ruleset.",
		}),
	}
	if reg != nil {
		for _, c := range rec.Collectors() {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return rec, nil
}

// Collectors returns every collector owned by the recorder.
func (r *PrometheusMetricsRecorder) Collectors() []prometheus.Collector {
	return []prometheus.Collector{r.durations, r.results, r.participants, r.deactivated}
}

// Observe implements MetricsRecorder.
func (r *PrometheusMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	status := "error"
	if success {
		status = "success"
	}
	r.durations.WithLabelValues(operation).Observe(duration.Seconds())
	r.results.WithLabelValues(operation, status).Inc()
}

// ObserveActivation implements ActivationObserver.
func (r *PrometheusMetricsRecorder) ObserveActivation(_ context.Context, operation string, result ActivationResult) {
	r.deactivated.Add(float64(result.Deactivated))
	r.participants.WithLabelValues(operation, "recalculated").Add(float64(result.Recalculated))
	r.participants.WithLabelValues(operation, "skipped").Add(float64(result.Skipped))
	r.participants.WithLabelValues(operation, "failed").Add(float64(result.Failed))
	r.participants.WithLabelValues(operation, "unmatched").Add(float64(len(result.Unmatched)))
}

// JSONTraceEntry represents a serialized trace span emitted by JSONTraceTracer.
type JSONTraceEntry struct {
	Operation  string    `json:"operation"`
	Status     string    `json:"status"`
	DurationMS float64   `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
}

// JSONTraceTracer writes spans as JSON lines and keeps them for inspection.
type JSONTraceTracer struct {
	mu      sync.Mutex
	entries []JSONTraceEntry
	enc     *json.Encoder
	now     func() time.Time
}

// NewJSONTracer constructs a tracer writing to w. A nil writer only retains
// spans in memory.
func NewJSONTracer(w io.Writer) *JSONTraceTracer {
	var enc *json.Encoder
	if w != nil {
		enc = json.NewEncoder(w)
	}
	return &JSONTraceTracer{
		enc: enc,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Entries returns a copy of all recorded spans.
func (t *JSONTraceTracer) Entries() []JSONTraceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]JSONTraceEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Start implements Tracer.
func (t *JSONTraceTracer) Start(ctx context.Context, operation string) (context.Context, TraceSpan) {
	return ctx, &jsonTraceSpan{tracer: t, operation: operation, started: t.now()}
}

type jsonTraceSpan struct {
	tracer    *JSONTraceTracer
	operation string
	started   time.Time
}

func (s *jsonTraceSpan) End(err error) {
	entry := JSONTraceEntry{
		Operation: s.operation,
		Status:    "success",
		StartedAt: s.started,
		EndedAt:   s.tracer.now(),
	}
	if err != nil {
		entry.Status = "error"
		entry.Error = err.Error()
	}
	entry.DurationMS = float64(entry.EndedAt.Sub(s.started)) / float64(time.Millisecond)

	s.tracer.mu.Lock()
	defer s.tracer.mu.Unlock()
	s.tracer.entries = append(s.tracer.entries, entry)
	if s.tracer.enc != nil {
		_ = s.tracer.enc.Encode(entry)
	}
}
