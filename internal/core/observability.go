package core

import (
	"context"
	"expvar"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Logger is the minimal structured logging contract the core emits through.
// Args are alternating key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// NopLogger returns a logger that discards everything.
func NopLogger() Logger { return noopLogger{} }

type slogLogger struct {
	l *slog.Logger
}

// NewSlogLogger adapts a *slog.Logger. A nil logger adapts slog.Default.
func NewSlogLogger(l *slog.Logger) Logger {
	if l == nil {
		l = slog.Default()
	}
	return slogLogger{l: l}
}

func (s slogLogger) Debug(msg string, args ...any) { s.l.Debug(msg, args...) }
func (s slogLogger) Info(msg string, args ...any)  { s.l.Info(msg, args...) }
func (s slogLogger) Warn(msg string, args ...any)  { s.l.Warn(msg, args...) }
func (s slogLogger) Error(msg string, args ...any) { s.l.Error(msg, args...) }

// MetricsRecorder observes service operation outcomes.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) Observe(context.Context, string, bool, time.Duration) {}

// NopMetrics returns a recorder that discards everything.
func NopMetrics() MetricsRecorder { return noopMetrics{} }

// ExpvarMetricsRecorder publishes per-operation counters and cumulative
// durations under an expvar map.
type ExpvarMetricsRecorder struct {
	mu   sync.Mutex
	vars *expvar.Map
}

var _ MetricsRecorder = (*ExpvarMetricsRecorder)(nil)

// NewExpvarMetricsRecorder publishes (or reuses) the named expvar map.
func NewExpvarMetricsRecorder(name string) *ExpvarMetricsRecorder {
	if name == "" {
		name = "tapcore_operations"
	}
	var m *expvar.Map
	if existing := expvar.Get(name); existing != nil {
		if cast, ok := existing.(*expvar.Map); ok {
			m = cast
		}
	}
	if m == nil {
		m = expvar.NewMap(name)
	}
	return &ExpvarMetricsRecorder{vars: m}
}

func (r *ExpvarMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	status := "success"
	if !success {
		status = "error"
	}
	r.vars.Add(fmt.Sprintf("%s_%s_total", operation, status), 1)
	r.vars.Add(operation+"_duration_ms", duration.Milliseconds())
}

// PrometheusMetricsRecorder exports an operations counter and a duration
// histogram, both labeled by operation and status.
type PrometheusMetricsRecorder struct {
	ops       *prometheus.CounterVec
	durations *prometheus.HistogramVec
}

var _ MetricsRecorder = (*PrometheusMetricsRecorder)(nil)

// NewPrometheusMetricsRecorder registers the collectors with reg. A nil reg
// uses the default registerer.
func NewPrometheusMetricsRecorder(reg prometheus.Registerer) (*PrometheusMetricsRecorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	r := &PrometheusMetricsRecorder{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tapcore_operations_total",
			Help: "Service operations by operation and outcome.",
		}, []string{"operation", "status"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tapcore_operation_duration_seconds",
			Help:    "Service operation latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "status"}),
	}
	if err := reg.Register(r.ops); err != nil {
		return nil, fmt.Errorf("register operations counter: %w", err)
	}
	if err := reg.Register(r.durations); err != nil {
		return nil, fmt.Errorf("register duration histogram: %w", err)
	}
	return r, nil
}

func (r *PrometheusMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	r.ops.WithLabelValues(operation, status).Inc()
	r.durations.WithLabelValues(operation, status).Observe(duration.Seconds())
}
