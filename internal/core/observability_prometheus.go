package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsDriver names a metrics backend.
type MetricsDriver string

// Supported metrics drivers.
const (
	MetricsNone       MetricsDriver = "none"
	MetricsPrometheus MetricsDriver = "prometheus"
	MetricsExpvar     MetricsDriver = "expvar"
)

// FileMetricsRecorder is a MetricsRecorder that can dump what it recorded,
// for processes too short-lived to be scraped.
type FileMetricsRecorder interface {
	MetricsRecorder
	WriteFile(path string) error
}

// NewFileMetricsRecorder builds the recorder for driver. Prometheus
// collectors go to a private registry.
func NewFileMetricsRecorder(driver MetricsDriver) (FileMetricsRecorder, error) {
	switch driver {
	case MetricsPrometheus:
		return NewPrometheusMetricsRecorder(prometheus.NewRegistry())
	case MetricsExpvar:
		return NewExpvarMetricsRecorder(""), nil
	}
	return nil, fmt.Errorf("metrics driver %q cannot write files", driver)
}

// PrometheusMetricsRecorder exports operation counters and latency histograms.
type PrometheusMetricsRecorder struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	gatherer   prometheus.Gatherer
}

// NewPrometheusMetricsRecorder registers the wildtrack collectors with reg.
// A nil registerer uses prometheus.DefaultRegisterer.
func NewPrometheusMetricsRecorder(reg prometheus.Registerer) (*PrometheusMetricsRecorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	r := &PrometheusMetricsRecorder{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wildtrack",
			Subsystem: "service",
			Name:      "operations_total",
			Help:      "Service operations by name and outcome.",
		}, []string{"operation", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "wildtrack",
			Subsystem: "service",
			Name:      "operation_duration_seconds",
			Help:      "Latency of service operations.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"operation"}),
	}
	for _, c := range []prometheus.Collector{r.operations, r.latency} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	if g, ok := reg.(prometheus.Gatherer); ok {
		r.gatherer = g
	}
	return r, nil
}

// WriteFile writes the gathered metrics in the text exposition format, ready
// for a node_exporter textfile collector.
func (r *PrometheusMetricsRecorder) WriteFile(path string) error {
	if r.gatherer == nil {
		return errors.New("prometheus registerer cannot be gathered")
	}
	return prometheus.WriteToTextfile(path, r.gatherer)
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
	r.operations.WithLabelValues(operation, status).Inc()
	r.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

// Collectors exposes the registered collectors, mainly for tests.
func (r *PrometheusMetricsRecorder) Collectors() (*prometheus.CounterVec, *prometheus.HistogramVec) {
	return r.operations, r.latency
}
